package middleware

import (
	"net/http"
	"strings"

	"github.com/upb/auth-gateway/internal/pipeline"
)

var hardeningHeaders = [][2]string{
	{"Content-Security-Policy", "default-src 'self';base-uri 'self';frame-ancestors 'none';object-src 'none'"},
	{"Cross-Origin-Opener-Policy", "same-origin"},
	{"Cross-Origin-Resource-Policy", "same-origin"},
	{"Origin-Agent-Cluster", "?1"},
	{"Referrer-Policy", "no-referrer"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-DNS-Prefetch-Control", "off"},
	{"X-Download-Options", "noopen"},
	{"X-Frame-Options", "DENY"},
	{"X-Permitted-Cross-Domain-Policies", "none"},
	{"X-XSS-Protection", "0"},
}

const hstsValue = "max-age=31536000; includeSubDomains"

// Hardening sets the security response headers. It never rejects.
type Hardening struct{}

// NewHardening creates the hardening stage
func NewHardening() *Hardening {
	return &Hardening{}
}

func (h *Hardening) Name() string { return pipeline.StageHardening }

// Run sets headers before any other stage can write, so error responses
// carry them too.
func (h *Hardening) Run(w http.ResponseWriter, r *http.Request) pipeline.Outcome {
	header := w.Header()
	for _, kv := range hardeningHeaders {
		header.Set(kv[0], kv[1])
	}
	header.Del("X-Powered-By")

	if isEncrypted(r) {
		header.Set("Strict-Transport-Security", hstsValue)
	}

	return pipeline.Continue(r)
}

// isEncrypted trusts X-Forwarded-Proto only because ClientIP has already
// stripped it from untrusted peers.
func isEncrypted(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}
