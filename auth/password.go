package auth

import (
	"context"
	"errors"
	"time"

	"github.com/upb/auth-gateway/repositories"
	"github.com/upb/auth-gateway/services"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// PasswordStrategyName is the registry name of the bundled password strategy.
const PasswordStrategyName = "password"

var errInvalidPassword = errors.New("email or password mismatch")

// PasswordStrategy checks email/password against stored bcrypt hashes.
type PasswordStrategy struct {
	users     repositories.UserRepository
	timeout   time.Duration
	dummyHash []byte
	logger    *zap.Logger
}

// NewPasswordStrategy creates the password strategy. cost should match the
// cost used at registration so unknown-user lookups take as long as real ones.
func NewPasswordStrategy(users repositories.UserRepository, cost int, timeout time.Duration, logger *zap.Logger) (*PasswordStrategy, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("timing-equalizer"), cost)
	if err != nil {
		return nil, err
	}
	return &PasswordStrategy{
		users:     users,
		timeout:   timeout,
		dummyHash: dummy,
		logger:    logger,
	}, nil
}

// Name implements Strategy
func (s *PasswordStrategy) Name() string {
	return PasswordStrategyName
}

// Authenticate implements CredentialValidator. Unknown users and wrong
// passwords are indistinguishable to the caller.
func (s *PasswordStrategy) Authenticate(ctx context.Context, creds Credentials) (*Identity, error) {
	if creds.Email == "" || creds.Password == "" {
		return nil, fail(PasswordStrategyName, services.ReasonInvalidCredentials, errors.New("email and password are required"))
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	user, err := s.users.GetByEmail(ctx, creds.Email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(creds.Password))
			return nil, fail(PasswordStrategyName, services.ReasonInvalidCredentials, errInvalidPassword)
		}
		s.logger.Error("password lookup failed", zap.Error(err))
		return nil, services.WrapInternal("identity backend unavailable", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		return nil, fail(PasswordStrategyName, services.ReasonInvalidCredentials, errInvalidPassword)
	}

	return &Identity{
		Subject:  user.ID.String(),
		Strategy: PasswordStrategyName,
		Email:    user.Email,
	}, nil
}
