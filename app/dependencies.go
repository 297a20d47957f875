package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/upb/auth-gateway/auth"
	"github.com/upb/auth-gateway/config"
	"github.com/upb/auth-gateway/handlers"
	"github.com/upb/auth-gateway/internal/observability"
	"github.com/upb/auth-gateway/internal/pipeline"
	"github.com/upb/auth-gateway/middleware"
	"github.com/upb/auth-gateway/models"
	"github.com/upb/auth-gateway/oidc"
	"github.com/upb/auth-gateway/repositories"
	"github.com/upb/auth-gateway/repositories/postgres"
	"github.com/upb/auth-gateway/services"
	"github.com/upb/auth-gateway/services/audit"
	"github.com/upb/auth-gateway/services/ratelimit"
	"go.uber.org/zap"
)

const (
	auditStopTimeout = 5 * time.Second

	// recorded for failures that carry no AuthError, such as a backend outage
	reasonInternal = "internal"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	RepoFactory *postgres.RepositoryFactory
	Users       repositories.UserRepository
	AuthEvents  repositories.AuthEventRepository
	TxManager   repositories.TransactionManager

	// Admission
	RateLimitStore ratelimit.Store
	Limiter        *ratelimit.Limiter
	Metrics        *observability.Metrics
	Boundary       *pipeline.Boundary
	Pipeline       *pipeline.Pipeline

	// Authentication
	Registry   *auth.Registry
	Dispatcher *auth.Dispatcher
	Tokens     *auth.JWTStrategy
	Audit      *audit.AuditService

	// Handlers
	AuthService   *services.AuthService
	AuthHandler   *handlers.AuthHandler
	HealthHandler *handlers.HealthHandler

	lifecycle handlers.StateReporter
	tracer    pipeline.Tracer
	cancel    context.CancelFunc
}

// Option customizes NewDependencies.
type Option func(*Dependencies)

// WithLifecycle reports the supervisor state on the readiness route.
func WithLifecycle(lc handlers.StateReporter) Option {
	return func(d *Dependencies) { d.lifecycle = lc }
}

// WithTracer observes every pipeline stage invocation.
func WithTracer(t pipeline.Tracer) Option {
	return func(d *Dependencies) { d.tracer = t }
}

// NewDependencies connects to the database and wires up all application
// dependencies. A failed connection is returned as is; callers treat it as fatal.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := factory.GetDB().InitSchema(ctx); err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps, err := NewDependenciesFromFactory(ctx, cfg, factory, logger, opts...)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return deps, nil
}

// NewDependenciesFromFactory wires everything around an open pool. Tests
// use it with sqlmock.
func NewDependenciesFromFactory(ctx context.Context, cfg *config.Config, factory *postgres.RepositoryFactory, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		RepoFactory: factory,
		DB:          factory.GetDB(),
	}
	for _, opt := range opts {
		opt(deps)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	deps.cancel = cancel

	deps.initRepositories()

	if err := deps.initAudit(workerCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize audit: %w", err)
	}

	if err := deps.initAuth(); err != nil {
		deps.stopWorkers()
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	if err := deps.initPipeline(workerCtx); err != nil {
		deps.stopWorkers()
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	deps.initHandlers()

	logger.Info("all dependencies initialized successfully",
		zap.Strings("strategies", deps.Registry.Names()),
		zap.String("rate_limit_store", cfg.RateLimit.Store))
	return deps, nil
}

func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Users = repos.Users
	d.AuthEvents = repos.AuthEvents
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

func (d *Dependencies) initAudit(ctx context.Context) error {
	d.Audit = audit.NewAuditService(d.AuthEvents, d.Logger.Named("audit"), audit.DefaultConfig())
	if err := d.Audit.Start(); err != nil {
		return err
	}

	if d.Config.Auth.EventRetention > 0 {
		interval := d.Config.Auth.EventRetention / 24
		if interval < time.Minute {
			interval = time.Minute
		}
		go d.Audit.StartRetentionWorker(ctx, interval, d.Config.Auth.EventRetention)
	}
	return nil
}

// initAuth registers the bundled strategies, plus oidc when configured.
func (d *Dependencies) initAuth() error {
	cfg := d.Config

	password, err := auth.NewPasswordStrategy(d.Users, cfg.Auth.BcryptCost, cfg.Auth.BackendTimeout, d.Logger)
	if err != nil {
		return err
	}

	tokens, err := auth.NewJWTStrategy(auth.JWTConfig{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.JWTIssuer,
		TTL:    cfg.Auth.JWTTTL,
	})
	if err != nil {
		return err
	}
	d.Tokens = tokens

	registry := auth.NewRegistry()
	if err := registry.Register(auth.PasswordStrategyName, password); err != nil {
		return err
	}
	if err := registry.Register(auth.JWTStrategyName, tokens); err != nil {
		return err
	}

	if cfg.OIDCEnabled() {
		external, err := oidc.NewStrategy(oidc.Config{
			Issuer:      cfg.OIDC.Issuer,
			JWKSURL:     cfg.OIDC.JWKSURL,
			Audience:    cfg.OIDC.Audience,
			CacheTTL:    cfg.OIDC.CacheTTL,
			HTTPTimeout: cfg.OIDC.HTTPTimeout,
		})
		if err != nil {
			return err
		}
		if err := registry.Register(oidc.StrategyName, external); err != nil {
			return err
		}
	} else {
		d.Logger.Info("oidc not configured, external token strategy disabled")
	}

	d.Registry = registry
	d.Dispatcher = auth.NewDispatcher(registry)
	return nil
}

func (d *Dependencies) initPipeline(ctx context.Context) error {
	cfg := d.Config

	cleanup := cfg.RateLimit.CleanupInterval
	if cleanup <= 0 {
		cleanup = time.Minute
	}

	switch cfg.RateLimit.Store {
	case config.RateLimitStorePostgres:
		store := ratelimit.NewPostgresStore(d.DB.DB, d.Logger.Named("ratelimit_store"))
		go store.StartCleanupWorker(ctx, cleanup, cfg.RateLimit.Window)
		d.RateLimitStore = store
	default:
		store := ratelimit.NewMemoryStore(d.Logger.Named("ratelimit_store"))
		go store.StartCleanupWorker(ctx, cleanup, cfg.RateLimit.Window)
		d.RateLimitStore = store
	}
	d.Limiter = ratelimit.NewLimiter(d.RateLimitStore, ratelimit.Config{
		Window:       cfg.RateLimit.Window,
		MaxRequests:  cfg.RateLimit.MaxRequests,
		StoreTimeout: cfg.Auth.BackendTimeout,
	}, d.Logger)

	origin, err := middleware.NewOriginPolicy(cfg.CORS)
	if err != nil {
		return err
	}

	d.Metrics = observability.NewMetrics()
	d.Boundary = pipeline.NewBoundary(d.Logger, d.Metrics)

	p, err := pipeline.New(pipeline.Config{
		Stages: []pipeline.Stage{
			middleware.NewHardening(),
			origin,
			middleware.NewRateLimit(d.Limiter, d.Metrics, d.Logger),
			middleware.NewBodyDecoder(cfg.Body.LimitBytes),
		},
		Boundary:   d.Boundary,
		Dispatcher: d.Dispatcher,
		Metrics:    d.Metrics,
		Tracer:     d.tracer,
		OnAttempt:  d.recordAttempt,
		Logger:     d.Logger,
	})
	if err != nil {
		return err
	}
	d.Pipeline = p
	return nil
}

func (d *Dependencies) initHandlers() {
	d.AuthService = services.NewAuthService(d.Users, d.TxManager, d.Config.Auth.BcryptCost, d.Config.Auth.BackendTimeout, d.Logger)
	d.AuthHandler = handlers.NewAuthHandler(d.AuthService, d.Tokens, d.Audit, d.Logger)

	// a nil *postgres.DB must not become a non-nil interface
	var db handlers.DBChecker
	if d.DB != nil {
		db = d.DB
	}
	d.HealthHandler = handlers.NewHealthHandler(db, d.lifecycle, d.Config.Environment, d.Logger)
}

// recordAttempt feeds every strategy invocation to the auth log and metrics.
func (d *Dependencies) recordAttempt(r *http.Request, strategy string, identity *auth.Identity, err error) {
	action := models.AuthActionVerify
	if strategy == auth.PasswordStrategyName {
		action = models.AuthActionLogin
	}

	var subject, email, reason string
	outcome := string(models.AuthOutcomeSuccess)
	if identity != nil {
		subject, email = identity.Subject, identity.Email
	}
	if err != nil {
		outcome = string(models.AuthOutcomeFailure)
		reason = reasonInternal
		if authErr, ok := services.AsAuthError(err); ok {
			reason = string(authErr.Reason)
		}
		if body := pipeline.BodyFromContext(r.Context()); body != nil {
			if v, ok := body.Fields()["email"].(string); ok {
				email = v
			}
		}
	}

	d.Metrics.IncAuthAttempt(strategy, outcome)

	if d.Audit == nil {
		return
	}
	if aerr := d.Audit.LogAttempt(action, strategy, subject, email, reason, middleware.RequestInfo(r)); aerr != nil {
		d.Logger.Warn("failed to record auth attempt",
			zap.String("strategy", strategy),
			zap.Error(aerr))
	}
}

func (d *Dependencies) stopWorkers() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Audit != nil {
		if err := d.Audit.Stop(auditStopTimeout); err != nil {
			d.Logger.Warn("audit service did not drain", zap.Error(err))
		}
	}
}

// Close stops background workers and closes the database
func (d *Dependencies) Close() error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.cancel != nil {
		d.cancel()
	}

	// drain pending auth events before the pool goes away
	if d.Audit != nil {
		if err := d.Audit.Stop(auditStopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	return errors.Join(errs...)
}
