// Package cache provides generic presence caches shared by the pipeline components.
package cache

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryPresenceCache keeps values in a mutex-guarded map. Entries live until deleted, which
// is what a single egress process needs for the key contexts of its in-flight chunks.
type InMemoryPresenceCache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
}

// NewInMemoryPresenceCache returns an empty cache.
func NewInMemoryPresenceCache[K comparable, V any]() *InMemoryPresenceCache[K, V] {
	return &InMemoryPresenceCache[K, V]{entries: make(map[K]V)}
}

func (c *InMemoryPresenceCache[K, V]) Set(_ context.Context, key K, value V) error {
	c.mu.Lock()
	c.entries[key] = value
	c.mu.Unlock()
	return nil
}

// SetIfAbsent holds the write lock across the check and the store, so concurrent callers for
// the same key all observe the first value.
func (c *InMemoryPresenceCache[K, V]) SetIfAbsent(_ context.Context, key K, value V) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if held, ok := c.entries[key]; ok {
		return held, nil
	}
	c.entries[key] = value
	return value, nil
}

func (c *InMemoryPresenceCache[K, V]) Fetch(_ context.Context, key K) (V, error) {
	c.mu.RLock()
	held, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return held, fmt.Errorf("%w: %v", ErrNotFound, key)
	}
	return held, nil
}

func (c *InMemoryPresenceCache[K, V]) Delete(_ context.Context, key K) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Len reports how many keys are held. Egress uses it to check that written chunks released
// their contexts.
func (c *InMemoryPresenceCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *InMemoryPresenceCache[K, V]) Close() error { return nil }
