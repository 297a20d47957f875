package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/auth-gateway/app"
	"github.com/upb/auth-gateway/auth"
	"github.com/upb/auth-gateway/middleware"
	"github.com/upb/auth-gateway/oidc"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	boundary := deps.Boundary
	p := deps.Pipeline

	// Core middleware. The pipeline runs after recovery so a panicking
	// stage still gets an envelope.
	r.Use(chimw.RequestID)
	r.Use(middleware.ClientIP(deps.Config.Server.TrustedProxyHops))
	r.Use(deps.Metrics.Middleware)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(boundary.Recover)
	r.Use(p.Handler)

	// Health check endpoints
	r.Get("/", deps.HealthHandler.HandleRoot)
	r.Get("/health", deps.HealthHandler.HandleHealth)
	r.Get("/health/ready", deps.HealthHandler.HandleReadiness)

	if deps.Config.Observability.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Method(http.MethodPost, "/register", boundary.Wrap(deps.AuthHandler.Register))

		r.With(p.Authenticate(auth.PasswordStrategyName)).
			Method(http.MethodPost, "/login", boundary.Wrap(deps.AuthHandler.Login))

		r.Group(func(r chi.Router) {
			r.Use(p.Authenticate(auth.JWTStrategyName))
			r.Method(http.MethodGet, "/verify", boundary.Wrap(deps.AuthHandler.Verify))
			r.Method(http.MethodGet, "/me", boundary.Wrap(deps.AuthHandler.Me))
		})

		if deps.Config.OIDCEnabled() {
			r.With(p.Authenticate(oidc.StrategyName)).
				Method(http.MethodGet, "/oidc/verify", boundary.Wrap(deps.AuthHandler.Verify))
		}
	})

	r.NotFound(boundary.NotFound)
	r.MethodNotAllowed(boundary.MethodNotAllowed)

	return r
}
