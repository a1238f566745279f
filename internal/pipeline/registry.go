package pipeline

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps implementation keys to pipeline factories. Installation of a
// pipeline into a project resolves the implementation key named by its
// manifest against a registry; there is no runtime code loading.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under the given implementation key.
func (r *Registry) Register(key string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key == "" {
		return fmt.Errorf("registering pipeline factory: empty key")
	}
	if f == nil {
		return fmt.Errorf("registering pipeline factory %q: nil factory", key)
	}
	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("registering pipeline factory %q: already registered", key)
	}

	r.factories[key] = f
	return nil
}

// MustRegister is Register for program-init registration of built-ins.
func (r *Registry) MustRegister(key string, f Factory) {
	if err := r.Register(key, f); err != nil {
		panic(err)
	}
}

// New instantiates a pipeline for the given implementation key.
func (r *Registry) New(key string, opts Options) (Pipeline, error) {
	r.mu.RLock()
	f, ok := r.factories[key]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no pipeline implementation registered for key %q (known: %v)", key, r.Keys())
	}
	return f(opts)
}

// Has reports whether an implementation key is registered.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[key]
	return ok
}

// Keys returns the registered implementation keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
