package users

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrEmailTaken indicates another account already uses the email address.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates the email is unknown or the password does not match.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrNotFound indicates the account does not exist.
	ErrNotFound = errors.New("users: not found")
	// ErrInvalidInput indicates malformed registration or profile data.
	ErrInvalidInput = errors.New("users: invalid input")
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "users.service.new"
	opRegister      = "users.register"
	opAuthenticate  = "users.authenticate"
	opUpdateProfile = "users.update_profile"
	opGet           = "users.get"
)

const (
	reasonMissingDatabase    = "missing_database"
	reasonMissingIDProvider  = "missing_id_provider"
	reasonInvalidInput       = "invalid_input"
	reasonEmailTaken         = "email_taken"
	reasonInvalidCredentials = "invalid_credentials"
	reasonUserNotFound       = "user_not_found"
	reasonHashFailed         = "hash_failed"
	reasonIDGenerationFailed = "id_generation_failed"
	reasonInsertFailed       = "insert_failed"
	reasonQueryFailed        = "query_failed"
	reasonUpdateFailed       = "update_failed"
)

func newServiceError(operation, reason string, kind, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	var wrapped error
	switch {
	case kind != nil && cause != nil:
		wrapped = fmt.Errorf("%w: %w", kind, cause)
	case kind != nil:
		wrapped = kind
	default:
		wrapped = cause
	}
	return &ServiceError{code: code, err: wrapped}
}

func invalidInput(operation, message string) error {
	return newServiceError(operation, reasonInvalidInput, ErrInvalidInput, errors.New(message))
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate entry")
}
