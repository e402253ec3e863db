package cache

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryCache is an unbounded, thread-safe map with an optional fallback. With
// no fallback and values loaded through Put it serves as a static source.
type InMemoryCache[K comparable, V any] struct {
	fallback Fetcher[K, V]

	mu   sync.RWMutex
	data map[K]V
}

// NewInMemoryCache creates a new in-memory cache. fallback may be nil.
func NewInMemoryCache[K comparable, V any](fallback Fetcher[K, V]) *InMemoryCache[K, V] {
	return &InMemoryCache[K, V]{
		fallback: fallback,
		data:     make(map[K]V),
	}
}

// Fetch returns the stored value, or loads and stores it from the fallback.
func (c *InMemoryCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	c.mu.RLock()
	value, ok := c.data[key]
	c.mu.RUnlock()
	if ok {
		return value, nil
	}

	var zero V
	if c.fallback == nil {
		return zero, fmt.Errorf("key '%v' not found in cache and no fallback is configured: %w", key, ErrNotFound)
	}
	value, err := c.fallback.Fetch(ctx, key)
	if err != nil {
		return zero, err
	}
	c.Put(key, value)
	return value, nil
}

// Put stores a value.
func (c *InMemoryCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

// Len reports the number of stored values.
func (c *InMemoryCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

func (c *InMemoryCache[K, V]) Invalidate(_ context.Context, key K) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Close is a no-op; the fallback is owned by the caller.
func (c *InMemoryCache[K, V]) Close() error {
	return nil
}
