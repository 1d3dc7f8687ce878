package channel

import (
	"fmt"
	"sync"
)

// Registry holds all registered channel adapters keyed by platform. It is
// created once at startup and passed explicitly to the components that need
// it; there is no package-level registry.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Platform]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: map[Platform]Adapter{},
	}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	platform := adapter.Type()
	if platform == "" {
		return fmt.Errorf("platform is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[platform]; exists {
		return fmt.Errorf("platform already registered: %s", platform)
	}
	r.adapters[platform] = adapter
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

// Get returns the adapter for the platform, or ErrNoAdapter.
func (r *Registry) Get(platform Platform) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, platform)
	}
	return adapter, nil
}

// Platforms lists the registered platforms.
func (r *Registry) Platforms() []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}
