// Package lifecycle owns the HTTP server's startup and shutdown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// State is the supervisor's position in Starting -> Ready -> Draining -> Stopped.
type State int32

const (
	StateStarting State = iota
	StateReady
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	ShutdownGraceful  = "graceful"
	ShutdownImmediate = "immediate"

	defaultShutdownTimeout = 10 * time.Second
)

// Hook runs during startup. A non-nil error aborts Start.
type Hook func(ctx context.Context) error

// Config describes the server the supervisor runs.
type Config struct {
	Addr            string
	Handler         http.Handler
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownMode    string
	ShutdownTimeout time.Duration

	// Connect verifies backing services before the listener opens.
	Connect Hook

	// Listener, when set, is used instead of listening on Addr.
	Listener net.Listener
}

// Supervisor starts the server, waits for a termination signal or a serve
// failure, then drains and runs close hooks.
type Supervisor struct {
	cfg    Config
	logger *zap.Logger

	state    atomic.Int32
	server   *http.Server
	listener net.Listener
	serveErr chan error

	mu      sync.Mutex
	closers []func() error

	stopOnce sync.Once
	stopErr  error
}

// New creates a supervisor in the Starting state.
func New(cfg Config, logger *zap.Logger) *Supervisor {
	if cfg.ShutdownMode == "" {
		cfg.ShutdownMode = ShutdownGraceful
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	return &Supervisor{
		cfg:      cfg,
		logger:   logger.Named("lifecycle"),
		serveErr: make(chan error, 1),
	}
}

// SetHandler installs the handler. It must be called before Start returns
// from Connect; routes that report readiness need the supervisor before
// the handler exists.
func (s *Supervisor) SetHandler(h http.Handler) {
	s.cfg.Handler = h
}

// State returns the current state
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Ready reports whether the server is accepting traffic
func (s *Supervisor) Ready() bool {
	return s.State() == StateReady
}

// Addr is the bound address, nil before Start.
func (s *Supervisor) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// OnClose registers a hook run after the server stops. Hooks run in reverse
// registration order.
func (s *Supervisor) OnClose(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, fn)
}

func (s *Supervisor) transition(to State) {
	from := State(s.state.Swap(int32(to)))
	if from != to {
		s.logger.Info("lifecycle transition",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
}

// Start connects, opens the listener, marks Ready and serves in the
// background. On failure the close hooks run and the error is returned.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.cfg.Connect != nil {
		if err := s.cfg.Connect(ctx); err != nil {
			s.abort()
			return fmt.Errorf("connect: %w", err)
		}
	}

	// Connect may install the handler
	if s.cfg.Handler == nil {
		s.abort()
		return errors.New("lifecycle: handler is required")
	}

	ln := s.cfg.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.cfg.Addr)
		if err != nil {
			s.abort()
			return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
		}
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.cfg.Handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		ErrorLog:          zap.NewStdLog(s.logger),
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serveErr <- err
		}
	}()

	s.transition(StateReady)
	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Run blocks until SIGINT/SIGTERM, ctx cancellation, or a serve failure,
// then stops. A signal-driven stop returns Stop's result; a serve failure
// is returned as is.
func (s *Supervisor) Run(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case serveErr = <-s.serveErr:
		s.logger.Error("server failed", zap.Error(serveErr))
	case <-sigCtx.Done():
		s.logger.Info("shutdown signal received")
	}

	stopErr := s.Stop(context.Background())
	if serveErr != nil {
		return serveErr
	}
	return stopErr
}

// Stop drains (graceful) or drops (immediate) connections, then runs the
// close hooks. Only the first call does anything.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.transition(StateDraining)

		var errs []error
		if s.server != nil {
			if err := s.shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		errs = append(errs, s.runClosers()...)

		s.transition(StateStopped)
		s.stopErr = errors.Join(errs...)
	})
	return s.stopErr
}

func (s *Supervisor) shutdown(ctx context.Context) error {
	if s.cfg.ShutdownMode == ShutdownImmediate {
		s.logger.Info("closing server immediately")
		return s.server.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down gracefully", zap.Duration("timeout", s.cfg.ShutdownTimeout))
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		// a drain that outlives the timeout is still a clean stop
		s.logger.Warn("graceful shutdown incomplete, forcing close", zap.Error(err))
		if cerr := s.server.Close(); cerr != nil {
			s.logger.Debug("forced close", zap.Error(cerr))
		}
	}
	return nil
}

func (s *Supervisor) runClosers() []error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			s.logger.Error("close hook failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errs
}

func (s *Supervisor) abort() {
	s.stopOnce.Do(func() {
		s.stopErr = errors.Join(s.runClosers()...)
		s.transition(StateStopped)
	})
}
