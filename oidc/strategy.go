// Package oidc verifies RS256 tokens minted by an external OpenID Connect
// issuer against its published JWKS.
package oidc

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/auth-gateway/auth"
	"github.com/upb/auth-gateway/services"
)

// StrategyName is the registry name of the oidc strategy.
const StrategyName = "oidc"

// Config holds configuration for Strategy
type Config struct {
	Issuer      string
	JWKSURL     string
	Audience    string
	CacheTTL    time.Duration
	HTTPTimeout time.Duration
}

// Claims are the standard OIDC claims read from the token
type Claims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// Strategy is an auth.TokenVerifier for an external issuer.
type Strategy struct {
	issuer   string
	audience string
	keys     *keySet
	now      func() time.Time
}

// NewStrategy creates an oidc strategy
func NewStrategy(cfg Config) (*Strategy, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("oidc issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("oidc audience is required")
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 1 * time.Hour
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = strings.TrimSuffix(cfg.Issuer, "/") + "/.well-known/jwks.json"
	}

	return &Strategy{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		keys:     newKeySet(cfg.JWKSURL, cfg.CacheTTL, &http.Client{Timeout: cfg.HTTPTimeout}),
		now:      time.Now,
	}, nil
}

// Name implements auth.Strategy
func (s *Strategy) Name() string {
	return StrategyName
}

// Verify implements auth.TokenVerifier. A JWKS outage is an internal
// failure, not a caller error.
func (s *Strategy) Verify(ctx context.Context, tokenString string) (*auth.Identity, error) {
	var keyErr error
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}
		key, err := s.keys.key(ctx, kid)
		if err != nil {
			keyErr = err
			return nil, err
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		switch {
		case keyErr != nil && errors.Is(keyErr, ErrJWKSFetchFailed):
			return nil, services.WrapInternal("identity provider unavailable", keyErr)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, services.NewAuthError(StrategyName, services.ReasonExpiredToken, err)
		default:
			return nil, services.NewAuthError(StrategyName, services.ReasonMalformedToken, err)
		}
	}

	if claims.Subject == "" {
		return nil, services.NewAuthError(StrategyName, services.ReasonMalformedToken, errors.New("token has no subject"))
	}

	return &auth.Identity{
		Subject:  claims.Subject,
		Strategy: StrategyName,
		Email:    claims.Email,
		Claims: map[string]any{
			"iss":            claims.Issuer,
			"aud":            []string(claims.Audience),
			"email_verified": claims.EmailVerified,
			"name":           claims.Name,
		},
	}, nil
}

// CachedKeys reports how many signing keys are cached
func (s *Strategy) CachedKeys() int {
	return s.keys.size()
}
