package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/auth-gateway/app"
	"github.com/upb/auth-gateway/auth"
	"github.com/upb/auth-gateway/config"
	"github.com/upb/auth-gateway/repositories/postgres"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "routes-test-secret"

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{Port: 3001, ShutdownMode: config.ShutdownGraceful},
		CORS: config.CORSConfig{
			AllowedOrigins:   config.DefaultAllowedOrigins,
			AllowCredentials: true,
			MaxAge:           300,
		},
		RateLimit: config.RateLimitConfig{
			Window:          15 * time.Minute,
			MaxRequests:     100,
			Store:           config.RateLimitStoreMemory,
			CleanupInterval: time.Minute,
		},
		Body: config.BodyConfig{LimitBytes: 10 << 20},
		Auth: config.AuthConfig{
			JWTSecret:      testSecret,
			JWTIssuer:      "auth-service",
			JWTTTL:         time.Hour,
			BcryptCost:     bcrypt.MinCost,
			BackendTimeout: 5 * time.Second,
		},
		Observability: config.ObservabilityConfig{LogLevel: "error", MetricsEnabled: true},
	}
}

type harness struct {
	handler http.Handler
	deps    *app.Dependencies
	mock    sqlmock.Sqlmock
	trace   []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	h := &harness{mock: mock}
	factory := postgres.NewRepositoryFactoryFromDB(postgres.Wrap(db, zap.NewNop()), zap.NewNop())

	deps, err := app.NewDependenciesFromFactory(context.Background(), testConfig(), factory, zap.NewNop(),
		app.WithTracer(func(stage string) { h.trace = append(h.trace, stage) }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	h.deps = deps
	h.handler = SetupRoutes(deps)
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	h.trace = nil
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, "auth-service", body["service"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "100", rec.Header().Get("RateLimit-Limit"))
}

func TestRoot(t *testing.T) {
	h := newHarness(t)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Auth Service API", decode(t, rec)["message"])
}

func TestDisallowedOriginStopsBeforeRateLimit(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := h.do(req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "origin_rejected", decode(t, rec)["error"])
	assert.Equal(t, []string{"hardening", "origin"}, h.trace)
	assert.Empty(t, rec.Header().Get("RateLimit-Limit"))
}

func TestPreflight(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	rec := h.do(req)

	assert.Less(t, rec.Code, 300)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, []string{"hardening", "origin"}, h.trace)
}

func TestRateLimitCeiling(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 100; i++ {
		rec := h.do(httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := h.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decode(t, rec)["error"])

	// other clients keep their own window
	other := httptest.NewRequest(http.MethodGet, "/health", nil)
	other.RemoteAddr = "198.51.100.7:4000"
	assert.Equal(t, http.StatusOK, h.do(other).Code)
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/does/not/exist", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Endpoint not found", body["error"])
	assert.Equal(t, "/does/not/exist", body["path"])

	rec = h.do(httptest.NewRequest(http.MethodGet, "/does/not/exist?page=2", nil))
	assert.Equal(t, "/does/not/exist?page=2", decode(t, rec)["path"])
}

func TestVerifyToken(t *testing.T) {
	h := newHarness(t)

	t.Run("issued token", func(t *testing.T) {
		token, err := h.deps.Tokens.Issue(context.Background(), &auth.Identity{Subject: "u-1", Email: "u@example.com"})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil)
		req.Header.Set("Authorization", "Bearer "+token.Value)
		rec := h.do(req)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, true, body["valid"])
		assert.Equal(t, []string{"hardening", "origin", "ratelimit", "body", "authenticate"}, h.trace)
	})

	t.Run("expired token", func(t *testing.T) {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "u-1",
			Issuer:    "auth-service",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}).SignedString([]byte(testSecret))
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil)
		req.Header.Set("Authorization", "Bearer "+signed)
		rec := h.do(req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "authentication_failed", body["error"])
		assert.Equal(t, "expired-token", body["details"].(map[string]any)["reason"])
	})

	t.Run("scheme named after the declared strategy", func(t *testing.T) {
		token, err := h.deps.Tokens.Issue(context.Background(), &auth.Identity{Subject: "u-1"})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil)
		req.Header.Set("Authorization", "jwt "+token.Value)
		rec := h.do(req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("registered scheme other than the declared one", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil)
		req.Header.Set("Authorization", "password abc")
		rec := h.do(req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "strategy_not_found", body["error"])
		assert.Equal(t, "password", body["details"].(map[string]any)["strategy"])
	})

	t.Run("unknown scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil)
		req.Header.Set("Authorization", "saml abc")
		rec := h.do(req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "strategy_not_found", decode(t, rec)["error"])
	})
}

func TestLoginUnknownUser(t *testing.T) {
	h := newHarness(t)
	h.mock.ExpectQuery("SELECT id, email, name, password_hash").
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "password_hash", "created_at", "updated_at"}))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"nobody@example.com","password":"whatever-pass"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := h.do(req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "invalid-credentials", body["details"].(map[string]any)["reason"])
	assert.Equal(t, "password", body["details"].(map[string]any)["strategy"])
}

func TestLoginIgnoresStrayBearer(t *testing.T) {
	h := newHarness(t)
	h.mock.ExpectQuery("SELECT id, email, name, password_hash").
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name", "password_hash", "created_at", "updated_at"}))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"nobody@example.com","password":"whatever-pass"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer stale-token")
	rec := h.do(req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "authentication_failed", body["error"])
	assert.Equal(t, "invalid-credentials", body["details"].(map[string]any)["reason"])
}

func TestOversizedBody(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(strings.Repeat("a", 11<<20)))
	req.Header.Set("Content-Type", "application/json")
	rec := h.do(req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := h.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `auth_http_requests_total{method="GET",route="/health",status="200"} 1`)
}
