package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/cors"
	"github.com/upb/auth-gateway/config"
	"github.com/upb/auth-gateway/internal/pipeline"
	"github.com/upb/auth-gateway/services"
)

const wildcardOrigin = "*"

// OriginSet is an immutable allow-list. "*" only matches when configured
// explicitly.
type OriginSet struct {
	origins  map[string]struct{}
	wildcard bool
}

// NewOriginSet builds a set from trimmed, non-empty entries. An empty list
// yields the default localhost origins.
func NewOriginSet(origins []string) *OriginSet {
	s := &OriginSet{origins: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == wildcardOrigin {
			s.wildcard = true
			continue
		}
		s.origins[o] = struct{}{}
	}
	if len(s.origins) == 0 && !s.wildcard {
		for _, o := range config.DefaultAllowedOrigins {
			s.origins[o] = struct{}{}
		}
	}
	return s
}

// Allows reports whether origin is in the set
func (s *OriginSet) Allows(origin string) bool {
	if s.wildcard {
		return true
	}
	_, ok := s.origins[origin]
	return ok
}

// Len is the number of explicit entries
func (s *OriginSet) Len() int {
	return len(s.origins)
}

// OriginPolicy rejects cross-origin requests from unknown origins and
// writes CORS headers for the rest.
type OriginPolicy struct {
	set  *OriginSet
	cors *cors.Cors
}

// NewOriginPolicy creates the origin stage from CORS config.
func NewOriginPolicy(cfg config.CORSConfig) (*OriginPolicy, error) {
	set := NewOriginSet(cfg.AllowedOrigins)
	if set.wildcard && cfg.AllowCredentials {
		return nil, errors.New("wildcard origin cannot be combined with credentials")
	}

	return &OriginPolicy{
		set: set,
		cors: cors.New(cors.Options{
			AllowOriginFunc: func(_ *http.Request, origin string) bool {
				return set.Allows(origin)
			},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "Retry-After", "RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset"},
			AllowCredentials: cfg.AllowCredentials,
			MaxAge:           cfg.MaxAge,
		}),
	}, nil
}

// Check returns nil for an allowed or absent origin, OriginRejected otherwise.
func (p *OriginPolicy) Check(origin string) error {
	if origin == "" || p.set.Allows(origin) {
		return nil
	}
	return services.ErrOriginRejected.WithDetail("origin", origin)
}

func (p *OriginPolicy) Name() string { return pipeline.StageOrigin }

// Run rejects disallowed origins, then lets the cors handler write headers.
// A preflight is answered by the cors handler and halts the pipeline.
func (p *OriginPolicy) Run(w http.ResponseWriter, r *http.Request) pipeline.Outcome {
	if err := p.Check(r.Header.Get("Origin")); err != nil {
		return pipeline.Reject(err)
	}

	passed := false
	out := r
	p.cors.Handler(http.HandlerFunc(func(_ http.ResponseWriter, next *http.Request) {
		passed = true
		out = next
	})).ServeHTTP(w, r)

	if !passed {
		return pipeline.Halt()
	}
	return pipeline.Continue(out)
}
