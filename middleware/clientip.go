package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the caller's address and stores it in the context.
//
// X-Forwarded-For is only honoured when the direct peer is a private
// address and trustedHops > 0; the entry trustedHops from the right is
// used. In every other case X-Forwarded-For and X-Forwarded-Proto are
// removed so later stages cannot be fooled by them.
func ClientIP(trustedHops int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, trustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

func resolveClientIP(r *http.Request, trustedHops int) string {
	if r.RemoteAddr == "" {
		stripForwarded(r)
		return "0.0.0.0"
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		stripForwarded(r)
		return r.RemoteAddr
	}

	ip := net.ParseIP(host)
	if ip == nil {
		stripForwarded(r)
		return "0.0.0.0"
	}

	if trustedHops <= 0 || !(ip.IsPrivate() || ip.IsLoopback()) {
		stripForwarded(r)
		return host
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return host
	}

	parts := strings.Split(xff, ",")
	idx := len(parts) - trustedHops
	if idx < 0 {
		// fewer entries than proxies: misconfigured or forged
		stripForwarded(r)
		return host
	}
	if candidate := strings.TrimSpace(parts[idx]); net.ParseIP(candidate) != nil {
		return candidate
	}
	return host
}

func stripForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}
