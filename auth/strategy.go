// Package auth defines the pluggable identity strategy contract, the
// registry that binds strategies to names, and the bundled strategies.
package auth

import (
	"context"
	"time"

	"github.com/upb/auth-gateway/services"
)

// Strategy is anything that can be registered by name. A usable strategy
// also implements CredentialValidator, TokenVerifier, or both.
type Strategy interface {
	Name() string
}

// CredentialValidator authenticates a caller from submitted credentials.
type CredentialValidator interface {
	Strategy
	Authenticate(ctx context.Context, creds Credentials) (*Identity, error)
}

// TokenVerifier authenticates a caller from a presented token.
type TokenVerifier interface {
	Strategy
	Verify(ctx context.Context, token string) (*Identity, error)
}

// TokenIssuer mints tokens for an identity. Optional capability.
type TokenIssuer interface {
	Issue(ctx context.Context, identity *Identity) (Token, error)
}

// Credentials are the fields a CredentialValidator reads from the body.
type Credentials struct {
	Email    string
	Password string
}

// Identity is the authenticated principal produced by a strategy.
type Identity struct {
	Subject  string         `json:"subject"`
	Strategy string         `json:"strategy"`
	Email    string         `json:"email,omitempty"`
	Claims   map[string]any `json:"claims,omitempty"`
}

// Token is an issued bearer token.
type Token struct {
	Value     string    `json:"token"`
	Type      string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

func fail(strategy string, reason services.AuthReason, err error) error {
	return services.NewAuthError(strategy, reason, err)
}
