package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/auth-gateway/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a unique constraint rejects an insert
	ErrDuplicate = errors.New("duplicate record")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// UserRepository handles user data operations
type UserRepository interface {
	// Create creates a new user. Returns ErrDuplicate when the email is taken.
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// GetByEmail retrieves a user by normalized email
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// ExistsByEmail reports whether the email is registered
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// AuthEventRepository is the append-only authentication log.
type AuthEventRepository interface {
	// Create appends an event
	Create(ctx context.Context, event *models.AuthEvent) error

	// DeleteOlderThan removes events before the cutoff and returns the number removed
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repositories is a container for all repository interfaces
type Repositories struct {
	Users      UserRepository
	AuthEvents AuthEventRepository
}
