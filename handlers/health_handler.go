package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/auth-gateway/internal/lifecycle"
	"github.com/upb/auth-gateway/utils"
	"go.uber.org/zap"
)

const (
	serviceName    = "auth-service"
	serviceVersion = "1.0.0"
)

// DBChecker verifies database connectivity
type DBChecker interface {
	HealthCheck(ctx context.Context) error
}

// StateReporter exposes the server lifecycle state
type StateReporter interface {
	State() lifecycle.State
}

// HealthResponse represents the liveness response
type HealthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Timestamp   string `json:"timestamp"`
	Environment string `json:"env"`
}

// ReadinessResponse represents the readiness response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// BannerResponse is served at the root path
type BannerResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db          DBChecker
	lifecycle   StateReporter
	environment string
	logger      *zap.Logger
	now         func() time.Time
}

// NewHealthHandler creates a new HealthHandler. db and lc may be nil.
func NewHealthHandler(db DBChecker, lc StateReporter, environment string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:          db,
		lifecycle:   lc,
		environment: environment,
		logger:      logger,
		now:         time.Now,
	}
}

// HandleHealth handles GET /health
// Liveness only; always 200 while the process serves.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:      "OK",
		Service:     serviceName,
		Timestamp:   h.now().UTC().Format(time.RFC3339),
		Environment: h.environment,
	}

	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write health response", zap.Error(err))
	}
}

// HandleRoot handles GET /
func (h *HealthHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if err := utils.WriteOK(w, BannerResponse{
		Message: "Auth Service API",
		Version: serviceVersion,
		Status:  "Running",
	}); err != nil {
		h.logger.Error("failed to write banner response", zap.Error(err))
	}
}

// HandleReadiness handles GET /health/ready
// Ready only when the database answers and the supervisor is serving.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	ready := true

	switch {
	case h.db == nil:
		checks["database"] = "not_configured"
		ready = false
	default:
		if err := h.db.HealthCheck(ctx); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			checks["database"] = "unhealthy"
			ready = false
		} else {
			checks["database"] = "healthy"
		}
	}

	if h.lifecycle != nil {
		state := h.lifecycle.State()
		checks["supervisor"] = state.String()
		if state != lifecycle.StateReady {
			ready = false
		}
	}

	status := "ready"
	httpStatus := http.StatusOK
	if !ready {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, response); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
