package users

import (
	"strings"
	"time"
)

// User is a registered account. Email is stored lower-cased and is unique.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex:idx_users_email"`
	DisplayName  string    `gorm:"column:display_name;size:100;not null"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// RegisterInput describes a new account.
type RegisterInput struct {
	Email       string
	DisplayName string
	Password    string
}

// UpdateProfileInput carries the mutable account fields; nil leaves a field unchanged.
type UpdateProfileInput struct {
	DisplayName *string
	Password    *string
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(normalize(value))
}
