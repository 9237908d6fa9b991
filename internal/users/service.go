package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/bookshelf/backend/internal/serviceerr"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	// ErrUserNotFound indicates no account matched the lookup.
	ErrUserNotFound = errors.New("users: user not found")
	// ErrDuplicateEmail indicates the email is already registered.
	ErrDuplicateEmail = errors.New("users: email already registered")
	// ErrInvalidUser indicates a missing name or email.
	ErrInvalidUser = errors.New("users: invalid user")
	// ErrInvalidPassword indicates a password bcrypt cannot hash.
	ErrInvalidPassword = errors.New("users: invalid password")

	errMissingDatabase = errors.New("database handle is required")
)

const (
	opServiceNew = "users.service.new"
	opCreate     = "users.create"
	opFind       = "users.find"
	opList       = "users.list"
	opDelete     = "users.delete"
)

// ServiceConfig describes the dependencies required by the credential store.
type ServiceConfig struct {
	Database     *gorm.DB
	Clock        func() time.Time
	Logger       *zap.Logger
	PasswordCost int
}

// Service persists accounts and their password hashes.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cost   int

	decoyOnce sync.Once
	decoyHash []byte
}

// NewService constructs the credential store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cost := cfg.PasswordCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
		cost:   cost,
	}, nil
}

// Create registers a new account. Duplicate emails are detected from the
// unique index violation, not from a prior lookup.
func (s *Service) Create(ctx context.Context, name, email, rawPassword string) (User, error) {
	name = normalize(name)
	email = NormalizeEmail(email)
	if name == "" || email == "" {
		return User{}, serviceerr.New(opCreate, "invalid_user", ErrInvalidUser)
	}

	hash, err := HashPassword(rawPassword, s.cost)
	if err != nil {
		if errors.Is(err, ErrInvalidPassword) {
			return User{}, serviceerr.New(opCreate, "invalid_password", err)
		}
		s.logError(opCreate, "hash_failed", err)
		return User{}, serviceerr.New(opCreate, "hash_failed", err)
	}

	user := User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&user).Error
	})
	if err != nil {
		if serviceerr.IsUniqueViolation(err) {
			return User{}, serviceerr.New(opCreate, "duplicate_email", fmt.Errorf("%w: %v", ErrDuplicateEmail, err))
		}
		s.logError(opCreate, "insert_failed", err)
		return User{}, serviceerr.New(opCreate, "insert_failed", err)
	}
	return user, nil
}

// FindByEmail returns the account registered under email.
func (s *Service) FindByEmail(ctx context.Context, email string) (User, error) {
	return s.findOne(ctx, "email = ?", NormalizeEmail(email))
}

// FindByID returns the account with the given identifier.
func (s *Service) FindByID(ctx context.Context, id int64) (User, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *Service) findOne(ctx context.Context, query string, arg interface{}) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where(query, arg).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, serviceerr.New(opFind, "not_found", ErrUserNotFound)
	}
	if err != nil {
		s.logError(opFind, "query_failed", err)
		return User{}, serviceerr.New(opFind, "query_failed", err)
	}
	return user, nil
}

// List returns every account ordered by id.
func (s *Service) List(ctx context.Context) ([]User, error) {
	var accounts []User
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&accounts).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return nil, serviceerr.New(opList, "query_failed", err)
	}
	return accounts, nil
}

// Delete removes an account; owned books and cast votes cascade in storage.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id).Delete(&User{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
	if errors.Is(err, ErrUserNotFound) {
		return serviceerr.New(opDelete, "not_found", err)
	}
	if err != nil {
		s.logError(opDelete, "delete_failed", err, zap.Int64("user_id", id))
		return serviceerr.New(opDelete, "delete_failed", err)
	}
	return nil
}

// RejectPassword runs one bcrypt comparison against a decoy hash at the
// configured cost and always fails, so a login for an unknown email takes as
// long as one with a wrong password.
func (s *Service) RejectPassword(raw string) error {
	s.decoyOnce.Do(func() {
		s.decoyHash, _ = bcrypt.GenerateFromPassword([]byte(decoyPassword), s.cost)
	})
	_ = bcrypt.CompareHashAndPassword(s.decoyHash, []byte(raw))
	return ErrPasswordMismatch
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	serviceerr.Log(s.logger, "users", operation, reason, err, fields...)
}
