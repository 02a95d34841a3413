package boundary

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds registered boundaries and resolves one by name.
type Registry struct {
	mu         sync.RWMutex
	boundaries map[string]Boundary
	fallback   string
}

// NewRegistry creates an empty registry. Resolve("") selects the boundary
// registered under fallback.
func NewRegistry(fallback string) *Registry {
	return &Registry{
		boundaries: make(map[string]Boundary),
		fallback:   fallback,
	}
}

// Register adds b under its name, replacing any previous registration.
func (r *Registry) Register(b Boundary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boundaries[b.Name()] = b
}

// Resolve returns the boundary registered under name, or the default when
// name is empty.
func (r *Registry) Resolve(name string) (Boundary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.fallback
	}
	b, ok := r.boundaries[name]
	if !ok {
		return nil, fmt.Errorf("boundary %q is not registered", name)
	}
	return b, nil
}

// Default returns the name Resolve("") selects.
func (r *Registry) Default() string {
	return r.fallback
}

// List returns the registered names, sorted for a stable API response.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.boundaries))
	for name := range r.boundaries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
