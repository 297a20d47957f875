package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultAllowedOrigins is used when ALLOWED_ORIGINS is empty or unset.
var DefaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:3005"}

const (
	ShutdownGraceful  = "graceful"
	ShutdownImmediate = "immediate"

	RateLimitStoreMemory   = "memory"
	RateLimitStorePostgres = "postgres"

	devJWTSecret = "dev-only-insecure-secret-change-me"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	CORS          CORSConfig
	RateLimit     RateLimitConfig
	Body          BodyConfig
	Auth          AuthConfig
	OIDC          OIDCConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host             string
	Port             int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ShutdownMode     string
	ShutdownTimeout  time.Duration
	TrustedProxyHops int
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	ConnectTimeout   time.Duration
}

// CORSConfig holds the origin allow-list.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
	MaxAge           int
}

// RateLimitConfig holds the fixed-window limiter settings.
type RateLimitConfig struct {
	Window          time.Duration
	MaxRequests     int
	Store           string
	CleanupInterval time.Duration
}

// BodyConfig bounds request payloads.
type BodyConfig struct {
	LimitBytes int64
}

// AuthConfig holds settings for the bundled password and jwt strategies.
type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTTTL         time.Duration
	BcryptCost     int
	BackendTimeout time.Duration
	EventRetention time.Duration // 0 keeps auth events forever
}

// OIDCConfig configures the optional external token strategy.
// The strategy is only registered when Issuer is set.
type OIDCConfig struct {
	Issuer      string
	JWKSURL     string
	Audience    string
	CacheTTL    time.Duration
	HTTPTimeout time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	issuer := getEnv("OIDC_ISSUER", "")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", getEnv("NODE_ENV", "development")),
		Server: ServerConfig{
			Host:             getEnv("HOST", "0.0.0.0"),
			Port:             getPort(),
			ReadTimeout:      getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:     getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownMode:     strings.ToLower(getEnv("SHUTDOWN_MODE", ShutdownGraceful)),
			ShutdownTimeout:  getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			TrustedProxyHops: getEnvAsInt("TRUSTED_PROXY_HOPS", 0),
		},
		Database: loadDatabaseConfig(),
		CORS: CORSConfig{
			AllowedOrigins:   getEnvAsList("ALLOWED_ORIGINS", DefaultAllowedOrigins),
			AllowCredentials: getEnvAsBool("CORS_ALLOW_CREDENTIALS", true),
			MaxAge:           getEnvAsInt("CORS_MAX_AGE", 300),
		},
		RateLimit: RateLimitConfig{
			Window:          time.Duration(getEnvAsInt("RATE_LIMIT_WINDOW_MS", 900000)) * time.Millisecond,
			MaxRequests:     getEnvAsInt("RATE_LIMIT_MAX_REQUESTS", 100),
			Store:           strings.ToLower(getEnv("RATE_LIMIT_STORE", RateLimitStoreMemory)),
			CleanupInterval: getEnvAsDuration("RATE_LIMIT_CLEANUP_INTERVAL", time.Minute),
		},
		Body: BodyConfig{
			LimitBytes: getEnvAsInt64("BODY_LIMIT_BYTES", 10<<20),
		},
		Auth: AuthConfig{
			JWTSecret:      getEnv("JWT_SECRET", ""),
			JWTIssuer:      getEnv("JWT_ISSUER", "auth-service"),
			JWTTTL:         getEnvAsDuration("JWT_TTL", 24*time.Hour),
			BcryptCost:     getEnvAsInt("BCRYPT_COST", 10),
			BackendTimeout: getEnvAsDuration("BACKEND_TIMEOUT", 5*time.Second),
			EventRetention: getEnvAsDuration("AUTH_EVENT_RETENTION", 30*24*time.Hour),
		},
		OIDC: OIDCConfig{
			Issuer:      issuer,
			JWKSURL:     getEnv("OIDC_JWKS_URL", defaultJWKSURL(issuer)),
			Audience:    getEnv("OIDC_AUDIENCE", ""),
			CacheTTL:    getEnvAsDuration("OIDC_JWKS_CACHE_TTL", time.Hour),
			HTTPTimeout: getEnvAsDuration("OIDC_HTTP_TIMEOUT", 10*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	if cfg.Auth.JWTSecret == "" && !cfg.IsProduction() {
		cfg.Auth.JWTSecret = devJWTSecret
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.ShutdownMode != ShutdownGraceful && c.Server.ShutdownMode != ShutdownImmediate {
		return fmt.Errorf("shutdown mode must be %q or %q, got %q", ShutdownGraceful, ShutdownImmediate, c.Server.ShutdownMode)
	}
	if c.Server.TrustedProxyHops < 0 {
		return fmt.Errorf("trusted proxy hops cannot be negative")
	}

	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate limit max requests must be positive")
	}
	if c.RateLimit.Store != RateLimitStoreMemory && c.RateLimit.Store != RateLimitStorePostgres {
		return fmt.Errorf("rate limit store must be %q or %q, got %q", RateLimitStoreMemory, RateLimitStorePostgres, c.RateLimit.Store)
	}

	if c.Body.LimitBytes <= 0 {
		return fmt.Errorf("body limit must be positive")
	}

	if c.CORS.AllowCredentials {
		for _, origin := range c.CORS.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf("wildcard origin cannot be combined with credentials")
			}
		}
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if c.IsProduction() && c.Auth.JWTSecret == devJWTSecret {
		return fmt.Errorf("JWT_SECRET must be overridden in production")
	}
	if c.Auth.BackendTimeout <= 0 {
		return fmt.Errorf("backend timeout must be positive")
	}
	if c.Auth.EventRetention < 0 {
		return fmt.Errorf("auth event retention cannot be negative")
	}

	if c.OIDC.Issuer != "" && c.OIDC.Audience == "" {
		return fmt.Errorf("OIDC_AUDIENCE is required when OIDC_ISSUER is set")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// OIDCEnabled reports whether the external token strategy should be registered.
func (c *Config) OIDCEnabled() bool {
	return c.OIDC.Issuer != ""
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		ConnectionString: getEnv("DATABASE_URL", ""),
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnectTimeout:   getEnvAsDuration("DB_CONNECT_TIMEOUT", 5*time.Second),
	}
	if cfg.ConnectionString != "" {
		return cfg
	}
	cfg.Host = getEnv("DB_HOST", "localhost")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "auth")
	cfg.Password = getEnv("DB_PASSWORD", "auth")
	cfg.Database = getEnv("DB_NAME", "auth")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

func defaultJWKSURL(issuer string) string {
	if issuer == "" {
		return ""
	}
	return strings.TrimSuffix(issuer, "/") + "/.well-known/jwks.json"
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 3001)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 3001
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated value, dropping blanks.
// An unset or all-blank value yields the default.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultValue...)
	}
	return out
}
