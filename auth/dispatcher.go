package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/upb/auth-gateway/services"
)

// Scheme is what a request presents: a token for a named strategy, body
// credentials, or both when a stray Authorization header rides along with
// a login body.
type Scheme struct {
	Strategy    string
	Declared    string
	Token       string
	FromHeader  bool
	Credentials *Credentials
}

// ParseScheme selects the scheme for a route that declares strategy.
//
//	Authorization: Bearer <t>  -> declared strategy, token
//	Authorization: <name> <t>  -> strategy <name>, token
//	otherwise                  -> declared strategy, body email/password
//
// With a header present, body credentials are still attached when the body
// carries any, so a credential-only route can ignore the header.
func ParseScheme(declared, authorization string, body map[string]any) Scheme {
	creds := &Credentials{
		Email:    stringField(body, "email"),
		Password: stringField(body, "password"),
	}

	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return Scheme{Strategy: declared, Declared: declared, Credentials: creds}
	}

	scheme, token, _ := strings.Cut(authorization, " ")
	out := Scheme{
		Strategy:   declared,
		Declared:   declared,
		Token:      strings.TrimSpace(token),
		FromHeader: true,
	}
	if !strings.EqualFold(scheme, "Bearer") {
		out.Strategy = strings.ToLower(scheme)
	}
	if creds.Email != "" || creds.Password != "" {
		out.Credentials = creds
	}
	return out
}

func stringField(body map[string]any, key string) string {
	if body == nil {
		return ""
	}
	s, _ := body[key].(string)
	return s
}

// Dispatcher resolves a Scheme against the registry and invokes the
// matching capability.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher creates a dispatcher over registry
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Registry returns the underlying registry
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch authenticates scheme. Unknown names, names other than the
// route's declared strategy, and strategies lacking the needed capability
// fail with reason strategy-not-found.
func (d *Dispatcher) Dispatch(ctx context.Context, scheme Scheme) (*Identity, error) {
	if scheme.Declared != "" && scheme.Strategy != scheme.Declared {
		return nil, fail(scheme.Strategy, services.ReasonStrategyNotFound,
			fmt.Errorf("route requires strategy %q", scheme.Declared))
	}

	s, err := d.registry.Resolve(scheme.Strategy)
	if err != nil {
		return nil, fail(scheme.Strategy, services.ReasonStrategyNotFound, err)
	}

	if scheme.FromHeader || scheme.Credentials == nil {
		if verifier, ok := s.(TokenVerifier); ok {
			if scheme.Token == "" {
				return nil, fail(scheme.Strategy, services.ReasonMalformedToken, errors.New("empty token"))
			}
			return verifier.Verify(ctx, scheme.Token)
		}
		// credential-only strategy: the header is ignored when the body has credentials
		if validator, ok := s.(CredentialValidator); ok && scheme.Credentials != nil {
			return validator.Authenticate(ctx, *scheme.Credentials)
		}
		return nil, fail(scheme.Strategy, services.ReasonStrategyNotFound, errors.New("strategy does not verify tokens"))
	}

	validator, ok := s.(CredentialValidator)
	if !ok {
		// token-only strategy and no Authorization header
		return nil, fail(scheme.Strategy, services.ReasonInvalidCredentials, errors.New("missing bearer token"))
	}
	return validator.Authenticate(ctx, *scheme.Credentials)
}
