package users

import (
	"context"
	"errors"
	"time"

	"github.com/collabboard/backend/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const minPasswordLength = 6

var (
	// ErrInvalidRegistration indicates missing or malformed registration fields.
	ErrInvalidRegistration = errors.New("users: username, email, and password are required")
	// ErrPasswordTooShort indicates the password fails the minimum-length rule.
	ErrPasswordTooShort = errors.New("users: password must be at least 6 characters long")
	// ErrUserExists indicates the username or email is already taken.
	ErrUserExists = errors.New("users: username or email already exists")
	// ErrInvalidCredentials indicates an unknown account or a password mismatch.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrAccountDisabled indicates the account exists but has been deactivated.
	ErrAccountDisabled = errors.New("users: account is deactivated")
	// ErrUserNotFound indicates no account exists for the identifier.
	ErrUserNotFound = errors.New("users: user not found")

	errMissingDatabase   = errors.New("users: database handle is required")
	errMissingIDProvider = errors.New("users: id provider is required")
)

// IDProvider issues identifiers for new accounts.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies for the account service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages account registration and credential verification. It is
// the identity collaborator consumed by both the REST surface and the
// websocket handshake.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// RegisterParams carries the fields supplied at sign-up.
type RegisterParams struct {
	Username string
	Email    string
	Password string
}

// Register creates a new active account after validating the supplied fields.
func (s *Service) Register(ctx context.Context, params RegisterParams) (User, error) {
	username := normalize(params.Username)
	email := normalize(params.Email)
	if username == "" || email == "" || params.Password == "" {
		return User{}, ErrInvalidRegistration
	}
	if len(params.Password) < minPasswordLength {
		return User{}, ErrPasswordTooShort
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).
		Where("username = ? OR email = ?", username, email).
		Count(&count).Error; err != nil {
		s.logger.Error("users service error", zap.String("operation", "users.register"), zap.Error(err))
		return User{}, err
	}
	if count > 0 {
		return User{}, ErrUserExists
	}

	hash, err := auth.HashPassword(params.Password)
	if err != nil {
		s.logger.Error("users service error", zap.String("operation", "users.register"), zap.Error(err))
		return User{}, err
	}

	userID, err := s.idProvider.NewID()
	if err != nil {
		return User{}, err
	}

	now := s.clock().UTC()
	account := User{
		ID:           userID,
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		LastActiveAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		s.logger.Error("users service error", zap.String("operation", "users.register"), zap.Error(err))
		return User{}, err
	}
	return account, nil
}

// Authenticate verifies a username-or-email plus password pair and refreshes
// the account's last-active timestamp on success.
func (s *Service) Authenticate(ctx context.Context, login, password string) (User, error) {
	login = normalize(login)
	if login == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	var account User
	err := s.db.WithContext(ctx).
		Where("username = ? OR email = ?", login, login).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		s.logger.Error("users service error", zap.String("operation", "users.authenticate"), zap.Error(err))
		return User{}, err
	}
	if !account.IsActive {
		return User{}, ErrAccountDisabled
	}
	if !auth.ComparePassword(password, account.PasswordHash) {
		return User{}, ErrInvalidCredentials
	}

	account.LastActiveAt = s.clock().UTC()
	if err := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", account.ID).
		Update("last_active_at", account.LastActiveAt).Error; err != nil {
		s.logger.Warn("failed to refresh last active timestamp",
			zap.String("user_id", account.ID), zap.Error(err))
	}
	return account, nil
}

// GetByID loads an account by identifier.
func (s *Service) GetByID(ctx context.Context, userID string) (User, error) {
	var account User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		s.logger.Error("users service error", zap.String("operation", "users.get_by_id"), zap.Error(err))
		return User{}, err
	}
	return account, nil
}

// VerifyIdentity resolves a user identifier to an active account. Tokens for
// deleted or deactivated accounts are refused even when the signature is
// still valid.
func (s *Service) VerifyIdentity(ctx context.Context, userID string) (User, error) {
	account, err := s.GetByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if !account.IsActive {
		return User{}, ErrAccountDisabled
	}
	return account, nil
}
