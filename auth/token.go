package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/upb/auth-gateway/services"
)

// JWTStrategyName is the registry name of the bundled token strategy.
const JWTStrategyName = "jwt"

// jwtClaims are the claims the gateway signs into its own tokens.
type jwtClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig holds settings for JWTStrategy
type JWTConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// JWTStrategy issues and verifies HS256 tokens signed with a shared secret.
type JWTStrategy struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTStrategy creates the jwt strategy
func NewJWTStrategy(cfg JWTConfig) (*JWTStrategy, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &JWTStrategy{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    time.Now,
	}, nil
}

// Name implements Strategy
func (s *JWTStrategy) Name() string {
	return JWTStrategyName
}

// Issue implements TokenIssuer
func (s *JWTStrategy) Issue(_ context.Context, identity *Identity) (Token, error) {
	if identity == nil || identity.Subject == "" {
		return Token{}, errors.New("identity subject is required")
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := jwtClaims{
		Email: identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return Token{Value: signed, Type: "Bearer", ExpiresAt: expiresAt}, nil
}

// Verify implements TokenVerifier
func (s *JWTStrategy) Verify(_ context.Context, tokenString string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &jwtClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fail(JWTStrategyName, services.ReasonExpiredToken, err)
		}
		return nil, fail(JWTStrategyName, services.ReasonMalformedToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fail(JWTStrategyName, services.ReasonMalformedToken, errors.New("token has no subject"))
	}

	extra := map[string]any{
		"iss": claims.Issuer,
		"jti": claims.ID,
		"exp": claims.ExpiresAt.Unix(),
	}
	if claims.IssuedAt != nil {
		extra["iat"] = claims.IssuedAt.Unix()
	}

	return &Identity{
		Subject:  claims.Subject,
		Strategy: JWTStrategyName,
		Email:    claims.Email,
		Claims:   extra,
	}, nil
}
