package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dacompute/distarray/pkg/localarray"
)

// Registry holds the shards owned by one engine, keyed by array key.
type Registry struct {
	mu     sync.RWMutex
	arrays map[string]*localarray.LocalArray
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{arrays: make(map[string]*localarray.LocalArray)}
}

// Put stores a shard under key. It fails with ErrKeyExists when the key is
// already taken.
func (r *Registry) Put(key string, la *localarray.LocalArray) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.arrays[key]; ok {
		return fmt.Errorf("key %q: %w", key, ErrKeyExists)
	}
	r.arrays[key] = la
	return nil
}

// Replace stores a shard under key, overwriting any previous shard.
func (r *Registry) Replace(key string, la *localarray.LocalArray) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.arrays[key] = la
}

// Get returns the shard stored under key.
func (r *Registry) Get(key string) (*localarray.LocalArray, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	la, ok := r.arrays[key]
	if !ok {
		return nil, fmt.Errorf("key %q: %w", key, ErrKeyNotFound)
	}
	return la, nil
}

// Delete removes the shard stored under key.
func (r *Registry) Delete(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.arrays[key]; !ok {
		return fmt.Errorf("key %q: %w", key, ErrKeyNotFound)
	}
	delete(r.arrays, key)
	return nil
}

// DeletePrefix removes every shard whose key starts with prefix and returns
// the number removed. Contexts use this to clean up all their keys at once.
func (r *Registry) DeletePrefix(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key := range r.arrays {
		if strings.HasPrefix(key, prefix) {
			delete(r.arrays, key)
			removed++
		}
	}
	return removed
}

// Keys lists the stored keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.arrays))
	for key := range r.arrays {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Elements returns the total number of elements across all stored shards.
func (r *Registry) Elements() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, la := range r.arrays {
		total += la.LocalSize()
	}
	return total
}

// Len returns the number of stored shards.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.arrays)
}
