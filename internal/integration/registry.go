package integration

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// Registry owns every Integration for the life of the process.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*Integration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Integration)}
}

// Register adds i. Names are unique.
func (r *Registry) Register(i *Integration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[i.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrIntegrationExists, i.Name())
	}
	r.items[i.Name()] = i
	return nil
}

// Get looks up an integration by name.
func (r *Registry) Get(name string) (*Integration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.items[name]
	return i, ok
}

// ForFlag returns the integrations gated by flag, sorted by name.
func (r *Registry) ForFlag(flag string) []*Integration {
	return r.filter(func(i *Integration) bool { return i.Flag() == flag })
}

// All returns every integration sorted by name.
func (r *Registry) All() []*Integration {
	return r.filter(func(*Integration) bool { return true })
}

func (r *Registry) filter(keep func(*Integration) bool) []*Integration {
	r.mu.RLock()
	out := make([]*Integration, 0, len(r.items))
	for _, i := range r.items {
		if keep(i) {
			out = append(out, i)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Integration) int { return cmp.Compare(a.Name(), b.Name()) })
	return out
}

// DisconnectAll disconnects every integration, returning the first error.
func (r *Registry) DisconnectAll(ctx context.Context) error {
	var first error
	for _, i := range r.All() {
		if err := i.Disconnect(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
