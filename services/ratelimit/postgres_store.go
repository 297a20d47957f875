package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// incrementQuery is a single-statement upsert. The row lock taken by
// ON CONFLICT makes increment-and-check atomic per client key across replicas.
// $3 is the oldest window start that is still live (now - window).
const incrementQuery = `
	INSERT INTO rate_windows (client_key, window_start, count)
	VALUES ($1, $2, 1)
	ON CONFLICT (client_key) DO UPDATE SET
		window_start = CASE WHEN rate_windows.window_start <= $3 THEN EXCLUDED.window_start ELSE rate_windows.window_start END,
		count = CASE WHEN rate_windows.window_start <= $3 THEN 1 ELSE rate_windows.count + 1 END
	RETURNING window_start, count
`

// PostgresStore shares windows between replicas through the rate_windows table.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore creates a new PostgresStore instance
func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// Increment implements Store
func (s *PostgresStore) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (RateWindow, error) {
	w := RateWindow{ClientKey: key}
	err := s.db.QueryRowContext(ctx, incrementQuery, key, now, now.Add(-window)).Scan(&w.WindowStart, &w.Count)
	if err != nil {
		return RateWindow{}, fmt.Errorf("failed to increment rate window: %w", err)
	}
	return w, nil
}

// CleanupExpired removes windows that ended before now
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, window time.Duration) (int64, error) {
	cutoff := now.Add(-window)

	result, err := s.db.ExecContext(ctx, `DELETE FROM rate_windows WHERE window_start <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup rate windows: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Debug("cleaned up expired rate windows",
		zap.Int64("rows_deleted", rowsAffected),
		zap.Time("cutoff_time", cutoff))

	return rowsAffected, nil
}

// StartCleanupWorker periodically deletes expired windows until ctx is done
func (s *PostgresStore) StartCleanupWorker(ctx context.Context, interval, window time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started rate limit cleanup worker",
		zap.String("store", "postgres"),
		zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx, time.Now(), window); err != nil {
				s.logger.Error("failed to cleanup rate windows", zap.Error(err))
			}
		case <-ctx.Done():
			s.logger.Info("stopping rate limit cleanup worker")
			return
		}
	}
}
