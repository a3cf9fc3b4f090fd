package pipeline

import (
	"maps"
	"sync"
)

// Results holds what earlier steps produced, keyed by their produces name.
type Results struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewResults creates an empty store.
func NewResults() *Results {
	return &Results{values: make(map[string]any)}
}

// Get returns the value stored under key.
func (r *Results) Get(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	return v, ok
}

// Set stores value under key.
func (r *Results) Set(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
}

// Clear drops every stored value.
func (r *Results) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.values)
}

// Snapshot returns a copy of the stored values.
func (r *Results) Snapshot() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.values)
}
