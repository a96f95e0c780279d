package tracker

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a new, uninitialized Client.
type Factory func() Client

// Registry manages registered tracker adapters. Adapters register
// themselves from init functions.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]Factory
}

var globalRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{trackers: make(map[string]Factory)}
}

// Register adds a tracker factory to the global registry.
// The name should be lowercase (e.g., "github", "jira", "ado").
func Register(name string, factory Factory) {
	globalRegistry.Register(name, factory)
}

// Get retrieves a tracker factory from the global registry.
func Get(name string) Factory {
	return globalRegistry.Get(name)
}

// List returns the names of all registered trackers.
func List() []string {
	return globalRegistry.List()
}

// New creates an uninitialized instance of the named tracker.
func New(name string) (Client, error) {
	return globalRegistry.New(name)
}

// Register adds a tracker factory to this registry.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackers[name] = factory
}

// Get retrieves a tracker factory from this registry.
func (r *Registry) Get(name string) Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trackers[name]
}

// List returns registered names, sorted alphabetically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.trackers))
	for name := range r.trackers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates an uninitialized instance of the named tracker.
func (r *Registry) New(name string) (Client, error) {
	factory := r.Get(name)
	if factory == nil {
		return nil, fmt.Errorf("unknown tracker %q (available: %v)", name, r.List())
	}
	return factory(), nil
}
