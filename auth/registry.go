package auth

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrStrategyNotFound is returned when no strategy is bound to a name
	ErrStrategyNotFound = errors.New("strategy not found")

	// ErrNoCapability is returned when registering a strategy that can
	// neither validate credentials nor verify tokens
	ErrNoCapability = errors.New("strategy implements no authentication capability")
)

// Registry maps names to strategies. Registration normally happens at
// startup, but the registry is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register binds s to name, replacing any previous binding.
func (r *Registry) Register(name string, s Strategy) error {
	if name == "" {
		return errors.New("strategy name cannot be empty")
	}
	if s == nil {
		return errors.New("strategy cannot be nil")
	}

	_, validates := s.(CredentialValidator)
	_, verifies := s.(TokenVerifier)
	if !validates && !verifies {
		return fmt.Errorf("%s: %w", name, ErrNoCapability)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.strategies[name] = s
	return nil
}

// Resolve returns the strategy bound to name
func (r *Registry) Resolve(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.strategies[name]
	if !exists {
		return nil, fmt.Errorf("%s: %w", name, ErrStrategyNotFound)
	}
	return s, nil
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered strategies
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strategies)
}
