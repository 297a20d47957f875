package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/upb/auth-gateway/models"
	"github.com/upb/auth-gateway/repositories"
	"go.uber.org/zap"
)

// AuthEventRepository implements repositories.AuthEventRepository
type AuthEventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuthEventRepository creates a new auth event repository
func NewAuthEventRepository(db *DB, logger *zap.Logger) repositories.AuthEventRepository {
	return &AuthEventRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends an auth event
func (r *AuthEventRepository) Create(ctx context.Context, event *models.AuthEvent) error {
	query := `
		INSERT INTO auth_events (
			id, user_id, email, action, strategy, outcome, reason,
			client_ip, user_agent, request_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		event.ID,
		event.UserID,
		nullString(event.Email),
		event.Action,
		event.Strategy,
		event.Outcome,
		nullString(event.Reason),
		nullString(event.ClientIP),
		nullString(event.UserAgent),
		nullString(event.RequestID),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create auth event: %w", err)
	}

	return nil
}

// DeleteOlderThan removes events created before cutoff
func (r *AuthEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := GetExecutor(ctx, r.db).ExecContext(ctx,
		`DELETE FROM auth_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete auth events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("pruned auth events",
		zap.Int64("rows_deleted", rowsAffected),
		zap.Time("cutoff_time", cutoff))

	return rowsAffected, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
