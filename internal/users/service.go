package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	minPasswordLength    = 8
	maxDisplayNameLength = 100
	maxEmailLength       = 320
)

var noOpLogger = zap.NewNop()

// dummyHash equalises the work done for unknown emails during Authenticate.
var dummyHash = sync.OnceValue(func() string {
	hash, err := HashPassword("pollster-dummy-password", DefaultArgon2idParams)
	if err != nil {
		return ""
	}
	return hash
})

type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider issues time-ordered UUIDv7 account identifiers.
func NewUUIDProvider() IDProvider {
	return uuidProvider{}
}

func (uuidProvider) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database       *gorm.DB
	Clock          func() time.Time
	IDProvider     IDProvider
	Logger         *zap.Logger
	PasswordParams *Argon2idParams
}

// Service registers, authenticates and updates user accounts.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	params     Argon2idParams
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, nil, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	params := DefaultArgon2idParams
	if cfg.PasswordParams != nil {
		params = *cfg.PasswordParams
	}
	return &Service{
		db:         cfg.Database,
		now:        clock,
		idProvider: idProvider,
		logger:     logger,
		params:     params,
	}, nil
}

// Register creates an account. The email is matched case-insensitively.
func (s *Service) Register(ctx context.Context, input RegisterInput) (User, error) {
	if s.db == nil {
		s.logError(opRegister, reasonMissingDatabase, errMissingDatabase)
		return User{}, newServiceError(opRegister, reasonMissingDatabase, nil, errMissingDatabase)
	}
	if s.idProvider == nil {
		s.logError(opRegister, reasonMissingIDProvider, errMissingIDProvider)
		return User{}, newServiceError(opRegister, reasonMissingIDProvider, nil, errMissingIDProvider)
	}

	email := normalizeEmail(input.Email)
	if err := validateEmail(opRegister, email); err != nil {
		return User{}, err
	}
	displayName := normalize(input.DisplayName)
	if err := validateDisplayName(opRegister, displayName); err != nil {
		return User{}, err
	}
	if err := validatePassword(opRegister, input.Password); err != nil {
		return User{}, err
	}

	hash, err := HashPassword(input.Password, s.params)
	if err != nil {
		s.logError(opRegister, reasonHashFailed, err)
		return User{}, newServiceError(opRegister, reasonHashFailed, nil, err)
	}
	userID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opRegister, reasonIDGenerationFailed, err)
		return User{}, newServiceError(opRegister, reasonIDGenerationFailed, nil, err)
	}

	now := s.now().UTC()
	user := User{
		ID:           userID,
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isDuplicateKey(err) {
			return User{}, newServiceError(opRegister, reasonEmailTaken, ErrEmailTaken, nil)
		}
		s.logError(opRegister, reasonInsertFailed, err)
		return User{}, newServiceError(opRegister, reasonInsertFailed, nil, err)
	}

	s.loggerOrDefault().Info("user registered", zap.String("user_id", user.ID))
	return user, nil
}

// Authenticate returns the account whose credentials match.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	if s.db == nil {
		s.logError(opAuthenticate, reasonMissingDatabase, errMissingDatabase)
		return User{}, newServiceError(opAuthenticate, reasonMissingDatabase, nil, errMissingDatabase)
	}

	var user User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		_ = VerifyPassword(dummyHash(), password)
		return User{}, newServiceError(opAuthenticate, reasonInvalidCredentials, ErrInvalidCredentials, nil)
	}
	if err != nil {
		s.logError(opAuthenticate, reasonQueryFailed, err)
		return User{}, newServiceError(opAuthenticate, reasonQueryFailed, nil, err)
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return User{}, newServiceError(opAuthenticate, reasonInvalidCredentials, ErrInvalidCredentials, nil)
	}
	return user, nil
}

// UpdateProfile changes the display name and/or password of an existing account.
func (s *Service) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (User, error) {
	if s.db == nil {
		s.logError(opUpdateProfile, reasonMissingDatabase, errMissingDatabase)
		return User{}, newServiceError(opUpdateProfile, reasonMissingDatabase, nil, errMissingDatabase)
	}
	userID = normalize(userID)

	updates := map[string]any{}
	if input.DisplayName != nil {
		displayName := normalize(*input.DisplayName)
		if err := validateDisplayName(opUpdateProfile, displayName); err != nil {
			return User{}, err
		}
		updates["display_name"] = displayName
	}
	if input.Password != nil {
		if err := validatePassword(opUpdateProfile, *input.Password); err != nil {
			return User{}, err
		}
		hash, err := HashPassword(*input.Password, s.params)
		if err != nil {
			s.logError(opUpdateProfile, reasonHashFailed, err)
			return User{}, newServiceError(opUpdateProfile, reasonHashFailed, nil, err)
		}
		updates["password_hash"] = hash
	}

	user, err := s.load(ctx, opUpdateProfile, userID)
	if err != nil {
		return User{}, err
	}
	if len(updates) == 0 {
		return user, nil
	}
	updates["updated_at"] = s.now().UTC()
	if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
		s.logError(opUpdateProfile, reasonUpdateFailed, err, zap.String("user_id", userID))
		return User{}, newServiceError(opUpdateProfile, reasonUpdateFailed, nil, err)
	}
	return s.load(ctx, opUpdateProfile, userID)
}

// Get returns the account by id.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	if s.db == nil {
		s.logError(opGet, reasonMissingDatabase, errMissingDatabase)
		return User{}, newServiceError(opGet, reasonMissingDatabase, nil, errMissingDatabase)
	}
	return s.load(ctx, opGet, normalize(userID))
}

func (s *Service) load(ctx context.Context, operation, userID string) (User, error) {
	if userID == "" {
		return User{}, newServiceError(operation, reasonUserNotFound, ErrNotFound, nil)
	}
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, newServiceError(operation, reasonUserNotFound, ErrNotFound, nil)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.String("user_id", userID))
		return User{}, newServiceError(operation, reasonQueryFailed, nil, err)
	}
	return user, nil
}

func validateEmail(operation, email string) error {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return invalidInput(operation, "email address is invalid")
	}
	if len(email) > maxEmailLength {
		return invalidInput(operation, fmt.Sprintf("email exceeds %d characters", maxEmailLength))
	}
	return nil
}

func validateDisplayName(operation, displayName string) error {
	length := utf8.RuneCountInString(displayName)
	if length == 0 || length > maxDisplayNameLength {
		return invalidInput(operation, fmt.Sprintf("display name must be between 1 and %d characters", maxDisplayNameLength))
	}
	return nil
}

func validatePassword(operation, password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return invalidInput(operation, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("users service error", attrs...)
}
