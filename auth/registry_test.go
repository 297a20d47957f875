package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	name    string
	subject string
}

func (s *stubVerifier) Name() string { return s.name }

func (s *stubVerifier) Verify(_ context.Context, _ string) (*Identity, error) {
	return &Identity{Subject: s.subject, Strategy: s.name}, nil
}

type stubValidator struct {
	name string
}

func (s *stubValidator) Name() string { return s.name }

func (s *stubValidator) Authenticate(_ context.Context, creds Credentials) (*Identity, error) {
	return &Identity{Subject: creds.Email, Strategy: s.name}, nil
}

type nameOnly struct{}

func (nameOnly) Name() string { return "inert" }

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		strategy Strategy
		wantErr  error
		errMsg   string
	}{
		{name: "token verifier", key: "jwt", strategy: &stubVerifier{name: "jwt"}},
		{name: "credential validator", key: "password", strategy: &stubValidator{name: "password"}},
		{name: "no capability", key: "inert", strategy: nameOnly{}, wantErr: ErrNoCapability},
		{name: "empty name", key: "", strategy: &stubVerifier{}, errMsg: "name cannot be empty"},
		{name: "nil strategy", key: "x", strategy: nil, errMsg: "cannot be nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Register(tt.key, tt.strategy)

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 0, r.Len())
			case tt.errMsg != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			default:
				require.NoError(t, err)
				got, err := r.Resolve(tt.key)
				require.NoError(t, err)
				assert.Same(t, tt.strategy, got)
			}
		})
	}
}

func TestRegistry_ReRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	first := &stubVerifier{name: "jwt", subject: "first"}
	second := &stubVerifier{name: "jwt", subject: "second"}

	require.NoError(t, r.Register("jwt", first))
	require.NoError(t, r.Register("jwt", second))

	got, err := r.Resolve("jwt")
	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.Equal(t, 1, r.Len())

	id, err := NewDispatcher(r).Dispatch(context.Background(), Scheme{Strategy: "jwt", Token: "t"})
	require.NoError(t, err)
	assert.Equal(t, "second", id.Subject)
}

func TestRegistry_ResolveMissing(t *testing.T) {
	_, err := NewRegistry().Resolve("saml")
	assert.ErrorIs(t, err, ErrStrategyNotFound)
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("password", &stubValidator{name: "password"}))
	require.NoError(t, r.Register("jwt", &stubVerifier{name: "jwt"}))
	require.NoError(t, r.Register("oidc", &stubVerifier{name: "oidc"}))

	assert.Equal(t, []string{"jwt", "oidc", "password"}, r.Names())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.Register("jwt", &stubVerifier{name: "jwt"})
		}()
		go func() {
			defer wg.Done()
			_, _ = r.Resolve("jwt")
			_ = r.Names()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, r.Len())
}
