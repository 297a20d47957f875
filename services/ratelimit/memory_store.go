package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryStore keeps windows in process memory. Suitable for a single replica.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*RateWindow
	logger  *zap.Logger
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*RateWindow),
		logger:  logger,
	}
}

// Increment implements Store
func (s *MemoryStore) Increment(_ context.Context, key string, now time.Time, window time.Duration) (RateWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || windowExpired(w.WindowStart, now, window) {
		w = &RateWindow{ClientKey: key, WindowStart: now, Count: 1}
		s.windows[key] = w
		return *w, nil
	}

	w.Count++
	return *w, nil
}

// Len returns the number of tracked clients
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// CleanupExpired drops windows that have fully elapsed and returns how many were removed.
func (s *MemoryStore) CleanupExpired(now time.Time, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		if windowExpired(w.WindowStart, now, window) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker evicts expired windows every interval until ctx is done.
func (s *MemoryStore) StartCleanupWorker(ctx context.Context, interval, window time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started rate limit cleanup worker",
		zap.String("store", "memory"),
		zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			if n := s.CleanupExpired(time.Now(), window); n > 0 {
				s.logger.Debug("evicted expired rate windows", zap.Int("count", n))
			}
		case <-ctx.Done():
			s.logger.Info("stopping rate limit cleanup worker")
			return
		}
	}
}
