package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/auth-gateway/config"
	"github.com/upb/auth-gateway/services"
	"pgregory.net/rapid"
)

func newTestOriginPolicy(t *testing.T, origins ...string) *OriginPolicy {
	t.Helper()
	p, err := NewOriginPolicy(config.CORSConfig{AllowedOrigins: origins, AllowCredentials: true, MaxAge: 300})
	require.NoError(t, err)
	return p
}

func TestOriginSet_Defaults(t *testing.T) {
	s := NewOriginSet([]string{" ", ""})

	assert.True(t, s.Allows("http://localhost:3000"))
	assert.True(t, s.Allows("http://localhost:3005"))
	assert.False(t, s.Allows("http://localhost:3001"))
	assert.Equal(t, 2, s.Len())
}

func TestOriginSet_ExactMatch(t *testing.T) {
	s := NewOriginSet([]string{" https://app.example.com "})

	assert.True(t, s.Allows("https://app.example.com"))
	assert.False(t, s.Allows("https://app.example.com/"))
	assert.False(t, s.Allows("https://evil.app.example.com"))
	assert.False(t, s.Allows("*"))
}

func TestOriginSet_ExplicitWildcard(t *testing.T) {
	s := NewOriginSet([]string{"*"})
	assert.True(t, s.Allows("http://anything.example"))
}

func TestOriginSet_OnlyConfiguredOriginsAllowed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		configured := rapid.SliceOfN(rapid.StringMatching(`https://[a-z]{1,8}\.example`), 1, 5).Draw(t, "configured")
		probe := rapid.StringMatching(`https://[a-z]{1,8}\.(example|test)`).Draw(t, "probe")

		s := NewOriginSet(configured)

		want := false
		for _, c := range configured {
			if c == probe {
				want = true
			}
		}
		if s.Allows(probe) != want {
			t.Fatalf("Allows(%q) = %v with %v", probe, !want, configured)
		}
	})
}

func TestNewOriginPolicy_WildcardWithCredentials(t *testing.T) {
	_, err := NewOriginPolicy(config.CORSConfig{AllowedOrigins: []string{"*"}, AllowCredentials: true})
	assert.Error(t, err)

	_, err = NewOriginPolicy(config.CORSConfig{AllowedOrigins: []string{"*"}})
	assert.NoError(t, err)
}

func TestOriginPolicy_Check(t *testing.T) {
	p := newTestOriginPolicy(t, "http://localhost:3000")

	assert.NoError(t, p.Check(""))
	assert.NoError(t, p.Check("http://localhost:3000"))

	err := p.Check("http://evil.example")
	require.Error(t, err)
	assert.True(t, services.IsOriginRejectedError(err))
}

func TestOriginPolicy_Run(t *testing.T) {
	p := newTestOriginPolicy(t, "http://localhost:3000")

	t.Run("allowed origin gets cors headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()

		out := p.Run(rec, req)

		assert.True(t, out.Continued())
		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("no origin continues without cors headers", func(t *testing.T) {
		rec := httptest.NewRecorder()
		out := p.Run(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.True(t, out.Continued())
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("disallowed origin rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()

		out := p.Run(rec, req)

		require.True(t, out.Rejected())
		assert.True(t, services.IsOriginRejectedError(out.Err()))
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight halts", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "Content-Type, Authorization")
		rec := httptest.NewRecorder()

		out := p.Run(rec, req)

		assert.True(t, out.Halted())
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	})
}
