package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/auth-gateway/models"
	"github.com/upb/auth-gateway/repositories"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// MockUserRepository is a mock implementation of UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if u := args.Get(0); u != nil {
		return u.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if u := args.Get(0); u != nil {
		return u.(*models.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func newTestAuthService(users *MockUserRepository, txMgr *MockTransactionManager) *AuthService {
	return NewAuthService(users, txMgr, bcrypt.MinCost, time.Second, zap.NewNop())
}

func TestNewAuthService_CostFallback(t *testing.T) {
	s := NewAuthService(nil, nil, 0, 0, zap.NewNop())
	assert.Equal(t, bcrypt.DefaultCost, s.bcryptCost)

	s = NewAuthService(nil, nil, 12, 0, zap.NewNop())
	assert.Equal(t, 12, s.bcryptCost)
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()
	input := RegisterInput{Email: "New@Example.com", Password: "correct horse", Name: "New"}

	t.Run("creates user with hashed password", func(t *testing.T) {
		users := new(MockUserRepository)
		txMgr := newMockTxManager()
		users.On("ExistsByEmail", mock.Anything, "new@example.com").Return(false, nil)
		users.On("Create", mock.Anything, mock.AnythingOfType("*models.User")).Return(nil)

		user, err := newTestAuthService(users, txMgr).Register(ctx, input)
		require.NoError(t, err)

		assert.Equal(t, "new@example.com", user.Email)
		assert.NotEqual(t, input.Password, user.PasswordHash)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)))
		assert.True(t, txMgr.tx.committed)
		users.AssertExpectations(t)
	})

	t.Run("existing email is a conflict", func(t *testing.T) {
		users := new(MockUserRepository)
		txMgr := newMockTxManager()
		users.On("ExistsByEmail", mock.Anything, "new@example.com").Return(true, nil)

		_, err := newTestAuthService(users, txMgr).Register(ctx, input)
		assert.ErrorIs(t, err, ErrDuplicateEmail)
		assert.True(t, IsConflictError(err))
		assert.True(t, txMgr.tx.rolledback)
		users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("unique violation race is a conflict", func(t *testing.T) {
		users := new(MockUserRepository)
		users.On("ExistsByEmail", mock.Anything, mock.Anything).Return(false, nil)
		users.On("Create", mock.Anything, mock.Anything).Return(fmt.Errorf("email: %w", repositories.ErrDuplicate))

		_, err := newTestAuthService(users, newMockTxManager()).Register(ctx, input)
		assert.True(t, IsConflictError(err))
	})

	t.Run("backend failure is internal", func(t *testing.T) {
		users := new(MockUserRepository)
		users.On("ExistsByEmail", mock.Anything, mock.Anything).Return(false, errors.New("connection reset"))

		_, err := newTestAuthService(users, newMockTxManager()).Register(ctx, input)
		assert.True(t, IsInternalError(err))
		assert.NotContains(t, GetErrorMessage(err), "connection reset")
	})
}

func TestAuthService_GetUser(t *testing.T) {
	ctx := context.Background()
	user := models.NewUser("a@example.com", "A", "hash")

	t.Run("found", func(t *testing.T) {
		users := new(MockUserRepository)
		users.On("GetByID", mock.Anything, user.ID).Return(user, nil)

		got, err := newTestAuthService(users, nil).GetUser(ctx, user.ID.String())
		require.NoError(t, err)
		assert.Equal(t, user.Email, got.Email)
	})

	t.Run("non uuid subject", func(t *testing.T) {
		_, err := newTestAuthService(new(MockUserRepository), nil).GetUser(ctx, "google-oauth2|123")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("missing", func(t *testing.T) {
		users := new(MockUserRepository)
		users.On("GetByID", mock.Anything, user.ID).Return(nil, fmt.Errorf("user: %w", repositories.ErrNotFound))

		_, err := newTestAuthService(users, nil).GetUser(ctx, user.ID.String())
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("backend error", func(t *testing.T) {
		users := new(MockUserRepository)
		users.On("GetByID", mock.Anything, user.ID).Return(nil, errors.New("timeout"))

		_, err := newTestAuthService(users, nil).GetUser(ctx, user.ID.String())
		assert.True(t, IsInternalError(err))
	})
}

// waitForDeadline makes a repository call block until its context ends,
// the way a stalled database does.
func waitForDeadline(args mock.Arguments) {
	<-args.Get(0).(context.Context).Done()
}

func TestAuthService_BackendCallsAreBounded(t *testing.T) {
	ctx := context.Background()
	user := models.NewUser("a@example.com", "A", "hash")

	newBounded := func(users *MockUserRepository) *AuthService {
		return NewAuthService(users, newMockTxManager(), bcrypt.MinCost, 20*time.Millisecond, zap.NewNop())
	}

	t.Run("get user", func(t *testing.T) {
		users := new(MockUserRepository)
		users.On("GetByID", mock.Anything, user.ID).Return(nil, context.DeadlineExceeded).Run(waitForDeadline)

		start := time.Now()
		_, err := newBounded(users).GetUser(ctx, user.ID.String())
		assert.True(t, IsInternalError(err))
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("register", func(t *testing.T) {
		users := new(MockUserRepository)
		users.On("ExistsByEmail", mock.Anything, mock.Anything).Return(false, context.DeadlineExceeded).Run(waitForDeadline)

		start := time.Now()
		_, err := newBounded(users).Register(ctx, RegisterInput{Email: "b@example.com", Password: "pw", Name: "B"})
		assert.True(t, IsInternalError(err))
		assert.Less(t, time.Since(start), 2*time.Second)
		users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("call carries a deadline", func(t *testing.T) {
		users := new(MockUserRepository)
		users.On("GetByID", mock.Anything, user.ID).Return(user, nil).Run(func(args mock.Arguments) {
			_, hasDeadline := args.Get(0).(context.Context).Deadline()
			assert.True(t, hasDeadline)
		})

		_, err := newBounded(users).GetUser(ctx, user.ID.String())
		require.NoError(t, err)
	})

	t.Run("zero timeout keeps the caller context", func(t *testing.T) {
		users := new(MockUserRepository)
		users.On("GetByID", mock.Anything, user.ID).Return(user, nil).Run(func(args mock.Arguments) {
			_, hasDeadline := args.Get(0).(context.Context).Deadline()
			assert.False(t, hasDeadline)
		})

		_, err := NewAuthService(users, nil, bcrypt.MinCost, 0, zap.NewNop()).GetUser(ctx, user.ID.String())
		require.NoError(t, err)
	})
}
