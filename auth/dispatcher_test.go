package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/auth-gateway/services"
)

func TestParseScheme(t *testing.T) {
	tests := []struct {
		name          string
		declared      string
		authorization string
		body          map[string]any
		want          Scheme
	}{
		{
			name:          "bearer uses declared strategy",
			declared:      "jwt",
			authorization: "Bearer abc.def.ghi",
			want:          Scheme{Strategy: "jwt", Declared: "jwt", Token: "abc.def.ghi", FromHeader: true},
		},
		{
			name:          "bearer is case insensitive",
			declared:      "jwt",
			authorization: "bearer tok",
			want:          Scheme{Strategy: "jwt", Declared: "jwt", Token: "tok", FromHeader: true},
		},
		{
			name:          "named scheme",
			declared:      "jwt",
			authorization: "OIDC tok",
			want:          Scheme{Strategy: "oidc", Declared: "jwt", Token: "tok", FromHeader: true},
		},
		{
			name:          "scheme without token",
			declared:      "jwt",
			authorization: "Bearer",
			want:          Scheme{Strategy: "jwt", Declared: "jwt", Token: "", FromHeader: true},
		},
		{
			name:     "body credentials",
			declared: "password",
			body:     map[string]any{"email": "a@example.com", "password": "pw"},
			want: Scheme{
				Strategy:    "password",
				Declared:    "password",
				Credentials: &Credentials{Email: "a@example.com", Password: "pw"},
			},
		},
		{
			name:          "stray header keeps body credentials",
			declared:      "password",
			authorization: "Bearer leftover",
			body:          map[string]any{"email": "a@example.com", "password": "pw"},
			want: Scheme{
				Strategy:    "password",
				Declared:    "password",
				Token:       "leftover",
				FromHeader:  true,
				Credentials: &Credentials{Email: "a@example.com", Password: "pw"},
			},
		},
		{
			name:     "non string fields are ignored",
			declared: "password",
			body:     map[string]any{"email": 42},
			want:     Scheme{Strategy: "password", Declared: "password", Credentials: &Credentials{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseScheme(tt.declared, tt.authorization, tt.body))
		})
	}
}

func TestDispatcher_Dispatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("jwt", &stubVerifier{name: "jwt", subject: "u1"}))
	require.NoError(t, r.Register("password", &stubValidator{name: "password"}))
	d := NewDispatcher(r)
	ctx := context.Background()

	t.Run("token", func(t *testing.T) {
		id, err := d.Dispatch(ctx, Scheme{Strategy: "jwt", Token: "t"})
		require.NoError(t, err)
		assert.Equal(t, "u1", id.Subject)
	})

	t.Run("credentials", func(t *testing.T) {
		id, err := d.Dispatch(ctx, Scheme{Strategy: "password", Credentials: &Credentials{Email: "a@example.com"}})
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", id.Subject)
	})

	t.Run("unknown strategy", func(t *testing.T) {
		_, err := d.Dispatch(ctx, Scheme{Strategy: "saml", Token: "t"})
		authErr, ok := services.AsAuthError(err)
		require.True(t, ok)
		assert.Equal(t, services.ReasonStrategyNotFound, authErr.Reason)
		assert.Equal(t, "saml", authErr.Strategy)
		assert.True(t, services.IsStrategyNotFoundError(err))
	})

	t.Run("token sent to credential-only strategy", func(t *testing.T) {
		_, err := d.Dispatch(ctx, Scheme{Strategy: "password", Token: "t"})
		assert.True(t, services.IsStrategyNotFoundError(err))
	})

	t.Run("no token for token-only strategy", func(t *testing.T) {
		_, err := d.Dispatch(ctx, Scheme{Strategy: "jwt", Credentials: &Credentials{}})
		authErr, ok := services.AsAuthError(err)
		require.True(t, ok)
		assert.Equal(t, services.ReasonInvalidCredentials, authErr.Reason)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := d.Dispatch(ctx, Scheme{Strategy: "jwt"})
		authErr, ok := services.AsAuthError(err)
		require.True(t, ok)
		assert.Equal(t, services.ReasonMalformedToken, authErr.Reason)
	})

	t.Run("named scheme must match the declared strategy", func(t *testing.T) {
		withOIDC := NewRegistry()
		require.NoError(t, withOIDC.Register("jwt", &stubVerifier{name: "jwt", subject: "u1"}))
		require.NoError(t, withOIDC.Register("oidc", &stubVerifier{name: "oidc", subject: "ext"}))
		d := NewDispatcher(withOIDC)

		_, err := d.Dispatch(ctx, ParseScheme("jwt", "oidc t", nil))
		authErr, ok := services.AsAuthError(err)
		require.True(t, ok)
		assert.Equal(t, services.ReasonStrategyNotFound, authErr.Reason)
		assert.Equal(t, "oidc", authErr.Strategy)

		id, err := d.Dispatch(ctx, ParseScheme("oidc", "oidc t", nil))
		require.NoError(t, err)
		assert.Equal(t, "ext", id.Subject)
	})

	t.Run("stray bearer on credential route uses body", func(t *testing.T) {
		id, err := d.Dispatch(ctx, ParseScheme("password", "Bearer leftover",
			map[string]any{"email": "a@example.com", "password": "pw"}))
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", id.Subject)
	})

	t.Run("bearer on credential route without body", func(t *testing.T) {
		_, err := d.Dispatch(ctx, ParseScheme("password", "Bearer leftover", nil))
		assert.True(t, services.IsStrategyNotFoundError(err))
	})
}
