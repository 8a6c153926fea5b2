package users

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testPasswordParams = Argon2idParams{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return "user-" + string(rune('a'+p.next-1)), nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "users.db")), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		t.Fatalf("failed to migrate user schema: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	service, err := NewService(ServiceConfig{
		Database:       db,
		Clock:          func() time.Time { return time.Unix(1_700_000_000, 0) },
		IDProvider:     &sequenceIDProvider{},
		PasswordParams: &testPasswordParams,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func codeOf(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}

func TestRegisterNormalizesEmailAndHashesPassword(t *testing.T) {
	service := newTestService(t)

	user, err := service.Register(context.Background(), RegisterInput{
		Email:       "  Alice@Example.COM ",
		DisplayName: " Alice ",
		Password:    "correct horse",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if user.ID != "user-a" {
		t.Fatalf("expected sequential id, got %q", user.ID)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("expected lower-cased email, got %q", user.Email)
	}
	if user.DisplayName != "Alice" {
		t.Fatalf("expected trimmed display name, got %q", user.DisplayName)
	}
	if user.PasswordHash == "correct horse" || user.PasswordHash == "" {
		t.Fatalf("expected encoded password hash, got %q", user.PasswordHash)
	}
	if err := VerifyPassword(user.PasswordHash, "correct horse"); err != nil {
		t.Fatalf("stored hash did not verify: %v", err)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	service := newTestService(t)
	input := RegisterInput{Email: "bob@example.com", DisplayName: "Bob", Password: "password1"}
	if _, err := service.Register(context.Background(), input); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	input.Email = "BOB@example.com"
	_, err := service.Register(context.Background(), input)
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if code := codeOf(err); code != "users.register.email_taken" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	service := newTestService(t)
	testCases := []struct {
		name  string
		input RegisterInput
	}{
		{name: "missing at", input: RegisterInput{Email: "nobody", DisplayName: "N", Password: "password1"}},
		{name: "short password", input: RegisterInput{Email: "a@b.c", DisplayName: "N", Password: "short"}},
		{name: "blank name", input: RegisterInput{Email: "a@b.c", DisplayName: "  ", Password: "password1"}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.Register(context.Background(), testCase.input)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if code := codeOf(err); code != "users.register.invalid_input" {
				t.Fatalf("unexpected error code %q", code)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	service := newTestService(t)
	registered, err := service.Register(context.Background(), RegisterInput{
		Email:       "carol@example.com",
		DisplayName: "Carol",
		Password:    "open sesame",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	user, err := service.Authenticate(context.Background(), "Carol@example.com", "open sesame")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if user.ID != registered.ID {
		t.Fatalf("expected %q, got %q", registered.ID, user.ID)
	}

	if _, err := service.Authenticate(context.Background(), "carol@example.com", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for bad password, got %v", err)
	}
	if _, err := service.Authenticate(context.Background(), "dave@example.com", "open sesame"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	service := newTestService(t)
	registered, err := service.Register(context.Background(), RegisterInput{
		Email:       "erin@example.com",
		DisplayName: "Erin",
		Password:    "first password",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	name := "Erin B."
	password := "second password"
	updated, err := service.UpdateProfile(context.Background(), registered.ID, UpdateProfileInput{
		DisplayName: &name,
		Password:    &password,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.DisplayName != name {
		t.Fatalf("expected display name %q, got %q", name, updated.DisplayName)
	}
	if _, err := service.Authenticate(context.Background(), "erin@example.com", "first password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should no longer authenticate, got %v", err)
	}
	if _, err := service.Authenticate(context.Background(), "erin@example.com", password); err != nil {
		t.Fatalf("new password should authenticate: %v", err)
	}

	if _, err := service.UpdateProfile(context.Background(), "missing", UpdateProfileInput{DisplayName: &name}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetMissingDatabase(t *testing.T) {
	service := &Service{}
	_, err := service.Get(context.Background(), "user-a")
	if code := codeOf(err); code != "users.get.missing_database" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	if err := VerifyPassword("not-a-hash", "anything"); !errors.Is(err, errInvalidPasswordHash) {
		t.Fatalf("expected errInvalidPasswordHash, got %v", err)
	}
	encoded, err := HashPassword("secret-value", testPasswordParams)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if err := VerifyPassword(encoded, "other-value"); !errors.Is(err, errPasswordMismatch) {
		t.Fatalf("expected errPasswordMismatch, got %v", err)
	}
}
