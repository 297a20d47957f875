package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrJWKSFetchFailed is returned when JWKS fetching fails
	ErrJWKSFetchFailed = errors.New("failed to fetch JWKS")

	// ErrKeyNotFound is returned when no key in the set matches the token kid
	ErrKeyNotFound = errors.New("signing key not found in JWKS")
)

// JWKS represents the JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// keySet fetches and caches the issuer's signing keys.
type keySet struct {
	url        string
	httpClient *http.Client
	ttl        time.Duration
	now        func() time.Time
	fetches    singleflight.Group

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
	expires time.Time
}

func newKeySet(url string, ttl time.Duration, client *http.Client) *keySet {
	return &keySet{
		url:        url,
		httpClient: client,
		ttl:        ttl,
		now:        time.Now,
		keys:       make(map[string]*rsa.PublicKey),
	}
}

// minRefreshInterval bounds how often an unknown kid can trigger a refetch.
const minRefreshInterval = time.Minute

// key returns the public key for kid. An unknown kid forces a refetch so
// rotated keys are picked up before the cache expires.
func (ks *keySet) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	now := ks.now()

	ks.mu.RLock()
	k, ok := ks.keys[kid]
	fresh := now.Before(ks.expires)
	recent := now.Sub(ks.fetched) < minRefreshInterval
	ks.mu.RUnlock()

	if ok && fresh {
		return k, nil
	}
	if !ok && fresh && recent {
		return nil, fmt.Errorf("%w: kid %s", ErrKeyNotFound, kid)
	}

	// concurrent misses share one fetch
	if _, err, _ := ks.fetches.Do("jwks", func() (any, error) {
		return nil, ks.refresh(ctx)
	}); err != nil {
		return nil, err
	}

	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if k, ok := ks.keys[kid]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("%w: kid %s", ErrKeyNotFound, kid)
}

func (ks *keySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := ks.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status code %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrJWKSFetchFailed, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for i := range jwks.Keys {
		jwk := &jwks.Keys[i]
		if jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		pub, err := jwkToRSAPublicKey(jwk)
		if err != nil {
			continue
		}
		keys[jwk.Kid] = pub
	}

	now := ks.now()

	ks.mu.Lock()
	ks.keys = keys
	ks.fetched = now
	ks.expires = now.Add(ks.ttl)
	ks.mu.Unlock()

	return nil
}

// size reports how many keys are cached
func (ks *keySet) size() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys)
}

func jwkToRSAPublicKey(jwk *JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	if len(eBytes) == 0 || len(eBytes) > 4 {
		return nil, errors.New("invalid exponent length")
	}

	var e int
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
