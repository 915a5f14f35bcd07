package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New("already registered")

	// ErrNotFound is returned when looking up an unregistered name.
	ErrNotFound = errors.New("not registered")
)

// Registry maps type names from configuration files to implementations.
// It uses sync.RWMutex because lookups happen on every reconfiguration
// while registration happens once at startup.
type Registry[V any] struct {
	kind    string
	mu      sync.RWMutex
	entries map[string]V
}

// New creates an empty registry. kind names what is registered ("port
// type", "router") and appears in error messages.
func New[V any](kind string) *Registry[V] {
	return &Registry[V]{
		kind:    kind,
		entries: make(map[string]V),
	}
}

// Register adds value under name. Names are unique.
func (r *Registry[V]) Register(name string, value V) error {
	if name == "" {
		return fmt.Errorf("%s name must not be empty", r.kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%s %q: %w", r.kind, name, ErrDuplicate)
	}
	r.entries[name] = value
	return nil
}

// MustRegister is Register for package initialisation; it panics on error.
func (r *Registry[V]) MustRegister(name string, value V) {
	if err := r.Register(name, value); err != nil {
		panic(err)
	}
}

// Lookup returns the value registered under name.
func (r *Registry[V]) Lookup(name string) (V, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[name]
	if !ok {
		var zero V
		return zero, fmt.Errorf("%s %q: %w", r.kind, name, ErrNotFound)
	}
	return v, nil
}

// Has returns true if name is registered.
func (r *Registry[V]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Names returns all registered names in sorted order.
func (r *Registry[V]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of entries in the registry.
func (r *Registry[V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
