package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// lruCacheItem is the internal structure stored in the linked list.
type lruCacheItem[K comparable, V any] struct {
	key      K
	value    V
	storedAt time.Time
}

// InMemoryLRUCache is a thread-safe, size-limited cache with least recently used
// eviction and an optional entry lifetime. Misses go to the fallback.
type InMemoryLRUCache[K comparable, V any] struct {
	maxSize  int
	ttl      time.Duration
	fallback Fetcher[K, V]
	now      func() time.Time

	mu    sync.Mutex
	ll    *list.List
	cache map[K]*list.Element
}

// NewInMemoryLRUCache creates a new size-limited, in-memory LRU cache.
// - maxSize: The maximum number of items to store in the cache. Must be > 0.
// - ttl: How long an entry is served before it is refetched. Zero keeps entries until evicted.
// - fallback: An optional Fetcher to use to populate the cache on a miss.
func NewInMemoryLRUCache[K comparable, V any](maxSize int, ttl time.Duration, fallback Fetcher[K, V]) (*InMemoryLRUCache[K, V], error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("maxSize must be greater than 0")
	}
	return &InMemoryLRUCache[K, V]{
		maxSize:  maxSize,
		ttl:      ttl,
		fallback: fallback,
		now:      time.Now,
		ll:       list.New(),
		cache:    make(map[K]*list.Element),
	}, nil
}

// Fetch returns a live cached value, or loads one from the fallback and stores
// it at the front of the recency list.
func (c *InMemoryLRUCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	if value, ok := c.lookup(key); ok {
		return value, nil
	}

	var zero V
	if c.fallback == nil {
		return zero, fmt.Errorf("key '%v' not found in LRU cache and no fallback is configured: %w", key, ErrNotFound)
	}
	sourceValue, err := c.fallback.Fetch(ctx, key)
	if err != nil {
		return zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		item := elem.Value.(*lruCacheItem[K, V])
		item.value = sourceValue
		item.storedAt = c.now()
		c.ll.MoveToFront(elem)
		return sourceValue, nil
	}
	c.cache[key] = c.ll.PushFront(&lruCacheItem[K, V]{key: key, value: sourceValue, storedAt: c.now()})
	if c.ll.Len() > c.maxSize {
		c.evict()
	}
	return sourceValue, nil
}

func (c *InMemoryLRUCache[K, V]) lookup(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	elem, ok := c.cache[key]
	if !ok {
		return zero, false
	}
	item := elem.Value.(*lruCacheItem[K, V])
	if c.ttl > 0 && c.now().Sub(item.storedAt) >= c.ttl {
		c.ll.Remove(elem)
		delete(c.cache, key)
		return zero, false
	}
	c.ll.MoveToFront(elem)
	return item.value, true
}

func (c *InMemoryLRUCache[K, V]) Invalidate(_ context.Context, key K) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		c.ll.Remove(elem)
		delete(c.cache, key)
	}
	return nil
}

// Len reports the number of cached entries, expired or not.
func (c *InMemoryLRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// evict removes the least recently used item. Callers hold mu.
func (c *InMemoryLRUCache[K, V]) evict() {
	elementToRemove := c.ll.Back()
	if elementToRemove != nil {
		itemToRemove := c.ll.Remove(elementToRemove).(*lruCacheItem[K, V])
		delete(c.cache, itemToRemove.key)
	}
}

// Close is a no-op for the in-memory cache.
func (c *InMemoryLRUCache[K, V]) Close() error {
	return nil
}
