package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/upb/auth-gateway/internal/pipeline"
	"github.com/upb/auth-gateway/services"
	"github.com/upb/auth-gateway/services/ratelimit"
	"go.uber.org/zap"
)

// RateLimitMetrics is the part of the metrics registry the stage reports to.
type RateLimitMetrics interface {
	IncRateLimited()
	IncRateLimitStoreError()
}

// RateLimit admits requests through the fixed-window limiter, keyed by
// client IP.
type RateLimit struct {
	limiter *ratelimit.Limiter
	metrics RateLimitMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewRateLimit creates the rate limiting stage. metrics may be nil.
func NewRateLimit(limiter *ratelimit.Limiter, metrics RateLimitMetrics, logger *zap.Logger) *RateLimit {
	return &RateLimit{
		limiter: limiter,
		metrics: metrics,
		logger:  logger.Named("ratelimit"),
		now:     time.Now,
	}
}

func (s *RateLimit) Name() string { return pipeline.StageRateLimit }

// Run fails closed: a store error rejects the request as internal.
func (s *RateLimit) Run(w http.ResponseWriter, r *http.Request) pipeline.Outcome {
	key := clientKey(r)
	decision, err := s.limiter.Admit(r.Context(), key, s.now())
	if err != nil {
		if r.Context().Err() == nil {
			if s.metrics != nil {
				s.metrics.IncRateLimitStoreError()
			}
			s.logger.Error("rate limit store failed",
				zap.String("client_key", key),
				zap.String("request_id", GetRequestIDFromContext(r.Context())),
				zap.Error(err))
		}
		return pipeline.Reject(services.WrapInternal("rate limiter unavailable", err))
	}

	header := w.Header()
	header.Set("RateLimit-Limit", strconv.Itoa(decision.Limit))
	header.Set("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	header.Set("RateLimit-Reset", strconv.Itoa(ceilSeconds(decision.ResetAt.Sub(s.now()))))

	if decision.Allowed {
		return pipeline.Continue(r)
	}

	if s.metrics != nil {
		s.metrics.IncRateLimited()
	}
	retryAfter := ceilSeconds(decision.RetryAfter)
	header.Set("Retry-After", strconv.Itoa(retryAfter))

	return pipeline.Reject(services.ErrRateLimitExceeded.
		WithDetail("retry_after_seconds", retryAfter).
		WithDetail("reset_at", decision.ResetAt.UTC().Format(time.RFC3339)))
}

func clientKey(r *http.Request) string {
	if ip := GetClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
