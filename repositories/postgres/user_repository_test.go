package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/auth-gateway/models"
	"github.com/upb/auth-gateway/repositories"
	"go.uber.org/zap"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return Wrap(sqlDB, zap.NewNop()), mock
}

var userColumns = []string{"id", "email", "name", "password_hash", "created_at", "updated_at"}

func TestUserRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts user", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())
		user := models.NewUser("a@example.com", "A", "hash")

		mock.ExpectExec("INSERT INTO users").
			WithArgs(user.ID, "a@example.com", "A", "hash", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Create(ctx, user))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to ErrDuplicate", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())

		mock.ExpectExec("INSERT INTO users").
			WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

		err := repo.Create(ctx, models.NewUser("dup@example.com", "D", "hash"))
		require.Error(t, err)
		assert.ErrorIs(t, err, repositories.ErrDuplicate)
	})

	t.Run("other errors are wrapped", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())

		mock.ExpectExec("INSERT INTO users").WillReturnError(sql.ErrConnDone)

		err := repo.Create(ctx, models.NewUser("x@example.com", "X", "hash"))
		require.Error(t, err)
		assert.ErrorIs(t, err, sql.ErrConnDone)
		assert.NotErrorIs(t, err, repositories.ErrDuplicate)
	})
}

func TestUserRepository_GetByEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes and scans", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())
		id := uuid.New()
		now := time.Now().UTC()

		mock.ExpectQuery("SELECT id, email, name, password_hash").
			WithArgs("a@example.com").
			WillReturnRows(sqlmock.NewRows(userColumns).AddRow(id.String(), "a@example.com", "A", "hash", now, now))

		user, err := repo.GetByEmail(ctx, "  A@Example.com")
		require.NoError(t, err)
		assert.Equal(t, id, user.ID)
		assert.Equal(t, "hash", user.PasswordHash)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no rows maps to ErrNotFound", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())

		mock.ExpectQuery("SELECT id, email, name, password_hash").
			WillReturnRows(sqlmock.NewRows(userColumns))

		_, err := repo.GetByEmail(ctx, "missing@example.com")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})
}

func TestUserRepository_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db, zap.NewNop())
	id := uuid.New()

	mock.ExpectQuery("FROM users").
		WithArgs(id).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.GetByID(context.Background(), id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get user")
	assert.NotErrorIs(t, err, repositories.ErrNotFound)
}

func TestUserRepository_ExistsByEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db, zap.NewNop())

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("a@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.ExistsByEmail(context.Background(), "A@example.com")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestTransactionManager_InTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commits and routes queries through the tx", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())
		repo := NewUserRepository(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := tm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
			return repo.Create(ctx, models.NewUser("t@example.com", "T", "hash"))
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())
		boom := errors.New("boom")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := tm.InTransaction(ctx, func(context.Context, repositories.Transaction) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
