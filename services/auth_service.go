package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/auth-gateway/models"
	"github.com/upb/auth-gateway/repositories"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// RegisterInput is a validated registration request.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// AuthService owns account creation and lookup for the password strategy.
type AuthService struct {
	users      repositories.UserRepository
	txMgr      repositories.TransactionManager
	bcryptCost int
	timeout    time.Duration
	logger     *zap.Logger
}

// NewAuthService creates an AuthService. A cost outside bcrypt's range
// falls back to bcrypt.DefaultCost. A positive timeout bounds every
// repository call; zero leaves calls on the caller's context.
func NewAuthService(users repositories.UserRepository, txMgr repositories.TransactionManager, bcryptCost int, timeout time.Duration, logger *zap.Logger) *AuthService {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AuthService{
		users:      users,
		txMgr:      txMgr,
		bcryptCost: bcryptCost,
		timeout:    timeout,
		logger:     logger,
	}
}

func (s *AuthService) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Register creates an account. The existence check and insert share one
// transaction; a concurrent insert that wins the race still surfaces as
// ErrDuplicateEmail through the unique constraint.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, WrapInternal("failed to hash password", err)
	}

	user := models.NewUser(in.Email, in.Name, string(hash))

	ctx, cancel := s.bound(ctx)
	defer cancel()

	err = WithTransaction(ctx, s.txMgr, func(ctx context.Context) error {
		exists, err := s.users.ExistsByEmail(ctx, user.Email)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateEmail
		}
		return s.users.Create(ctx, user)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) || errors.Is(err, repositories.ErrDuplicate) {
			return nil, ErrDuplicateEmail
		}
		return nil, WrapInternal("failed to register user", err)
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID.String()))
	return user, nil
}

// GetUser loads the account behind an identity subject.
func (s *AuthService) GetUser(ctx context.Context, subject string) (*models.User, error) {
	id, err := uuid.Parse(subject)
	if err != nil {
		return nil, ErrUserNotFound
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, WrapInternal("failed to load user", fmt.Errorf("user %s: %w", id, err))
	}
	return user, nil
}
