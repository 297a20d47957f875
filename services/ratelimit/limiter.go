package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultWindow      = 15 * time.Minute
	DefaultMaxRequests = 100
)

// ErrEmptyKey is returned when Admit is called without a client key.
var ErrEmptyKey = errors.New("client key is required")

// RateWindow is the per-client counter for the current fixed window.
type RateWindow struct {
	ClientKey   string
	WindowStart time.Time
	Count       int
}

// Store performs the atomic per-key increment. Implementations must start a
// fresh window (Count=1, WindowStart=now) when none exists or when
// now >= WindowStart+window, and otherwise increment Count, all under a
// single per-key atomic update.
type Store interface {
	Increment(ctx context.Context, key string, now time.Time, window time.Duration) (RateWindow, error)
}

// Config holds limiter settings. A positive StoreTimeout bounds each
// store increment.
type Config struct {
	Window       time.Duration
	MaxRequests  int
	StoreTimeout time.Duration
}

// Decision is the structured result of Admit. A rejection is a Decision with
// Allowed=false, never an error.
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter is a fixed-window request counter keyed by client.
type Limiter struct {
	store  Store
	cfg    Config
	logger *zap.Logger
}

// NewLimiter creates a Limiter. Zero config values fall back to the defaults.
func NewLimiter(store Store, cfg Config, logger *zap.Logger) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	return &Limiter{store: store, cfg: cfg, logger: logger}
}

// Config returns the effective configuration
func (l *Limiter) Config() Config {
	return l.cfg
}

// Admit counts a request from clientKey at now and decides whether it fits
// in the current window. Store failures are returned as errors; callers
// treat them as fail-closed.
func (l *Limiter) Admit(ctx context.Context, clientKey string, now time.Time) (Decision, error) {
	if clientKey == "" {
		return Decision{}, ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	if l.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.StoreTimeout)
		defer cancel()
	}

	win, err := l.store.Increment(ctx, clientKey, now, l.cfg.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate window increment: %w", err)
	}

	resetAt := win.WindowStart.Add(l.cfg.Window)
	d := Decision{
		Allowed:   win.Count <= l.cfg.MaxRequests,
		Count:     win.Count,
		Limit:     l.cfg.MaxRequests,
		Remaining: max(l.cfg.MaxRequests-win.Count, 0),
		ResetAt:   resetAt,
	}

	if !d.Allowed {
		d.RetryAfter = resetAt.Sub(now)
		// a store clock slightly ahead of ours must not produce a zero or
		// oversized retry hint
		if d.RetryAfter <= 0 {
			d.RetryAfter = time.Millisecond
		}
		if d.RetryAfter > l.cfg.Window {
			d.RetryAfter = l.cfg.Window
		}
		l.logger.Debug("rate limit exceeded",
			zap.String("client_key", clientKey),
			zap.Int("count", win.Count),
			zap.Duration("retry_after", d.RetryAfter))
	}

	return d, nil
}

// windowExpired reports whether a window starting at start no longer covers now.
func windowExpired(start, now time.Time, window time.Duration) bool {
	return !now.Before(start.Add(window))
}
