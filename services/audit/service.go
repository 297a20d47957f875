package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/auth-gateway/models"
	"github.com/upb/auth-gateway/repositories"
	"go.uber.org/zap"
)

// AuditService writes auth events to the append-only log off the request path.
type AuditService struct {
	eventRepo   repositories.AuthEventRepository
	logger      *zap.Logger
	eventChan   chan *models.AuthEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.Mutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(eventRepo repositories.AuthEventRepository, logger *zap.Logger, config Config) *AuditService {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}

	return &AuditService{
		eventRepo:   eventRepo,
		logger:      logger,
		eventChan:   make(chan *models.AuthEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting events and waits for queued ones to be written.
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record queues an event without blocking. A full buffer drops the event.
func (s *AuditService) Record(event *models.AuthEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return fmt.Errorf("audit service not running")
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.logger.Warn("auth event channel full, dropping event",
			zap.String("action", string(event.Action)),
			zap.String("strategy", event.Strategy))
		return fmt.Errorf("audit event buffer full")
	}
}

func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to write auth event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(event.Action)),
				zap.String("request_id", event.RequestID))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *AuditService) processEvent(event *models.AuthEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.eventRepo.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to insert auth event: %w", err)
	}
	return nil
}

// StartRetentionWorker deletes events older than retention every interval
// until ctx is done. A zero retention disables pruning.
func (s *AuditService) StartRetentionWorker(ctx context.Context, interval, retention time.Duration) {
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("started auth event retention worker",
		zap.Duration("interval", interval),
		zap.Duration("retention", retention))

	for {
		select {
		case <-ticker.C:
			if _, err := s.eventRepo.DeleteOlderThan(ctx, time.Now().Add(-retention)); err != nil {
				s.logger.Error("failed to prune auth events", zap.Error(err))
			}
		case <-ctx.Done():
			s.logger.Info("stopping auth event retention worker")
			return
		}
	}
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}

// RequestInfo is the caller metadata attached to every event.
type RequestInfo struct {
	ClientIP  string
	UserAgent string
	RequestID string
}

// LogAttempt records the outcome of a strategy invocation. reason is empty on success.
func (s *AuditService) LogAttempt(action models.AuthAction, strategy, subject, email, reason string, info RequestInfo) error {
	outcome := models.AuthOutcomeSuccess
	if reason != "" {
		outcome = models.AuthOutcomeFailure
	}

	event := models.NewAuthEvent(action, strategy, outcome).
		WithReason(reason).
		WithRequestInfo(info.ClientIP, info.UserAgent, info.RequestID)
	event.Email = models.NormalizeEmail(email)
	// external subjects (oidc) are not local user ids and stay unlinked
	if id, err := uuid.Parse(subject); err == nil {
		event.WithUser(id)
	}

	return s.Record(event)
}

// LogRegistration records a new account.
func (s *AuditService) LogRegistration(user *models.User, info RequestInfo) error {
	event := models.NewAuthEvent(models.AuthActionRegister, "password", models.AuthOutcomeSuccess).
		WithUser(user.ID).
		WithRequestInfo(info.ClientIP, info.UserAgent, info.RequestID)
	event.Email = user.Email

	return s.Record(event)
}
