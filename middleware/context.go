package middleware

import (
	"context"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/auth-gateway/services/audit"
)

// Context key type to avoid collisions
type contextKey string

const (
	// ClientIPKey is the context key for the resolved client address
	ClientIPKey contextKey = "client_ip"
)

// GetRequestIDFromContext retrieves the request ID set by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}

// GetClientIPFromContext retrieves the client IP from context
func GetClientIPFromContext(ctx context.Context) string {
	if val := ctx.Value(ClientIPKey); val != nil {
		if ip, ok := val.(string); ok {
			return ip
		}
	}
	return ""
}

// WithClientIP adds the client IP to the context
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, ClientIPKey, ip)
}

// RequestInfo collects the caller metadata recorded with auth events
func RequestInfo(r *http.Request) audit.RequestInfo {
	return audit.RequestInfo{
		ClientIP:  GetClientIPFromContext(r.Context()),
		UserAgent: r.UserAgent(),
		RequestID: GetRequestIDFromContext(r.Context()),
	}
}
