// Package cache provides read-through lookups that layer an in-process cache,
// Redis and a Firestore source of truth.
package cache

import (
	"context"
	"errors"
)

// ErrNotFound is wrapped by every Fetcher when the key has no value at any layer.
var ErrNotFound = errors.New("cache: key not found")

// Fetcher retrieves a value by key.
type Fetcher[K any, V any] interface {
	Fetch(ctx context.Context, key K) (V, error)
	Close() error
}

// Cache is a Fetcher that holds values locally and can drop them.
type Cache[K any, V any] interface {
	Fetcher[K, V]
	// Invalidate drops the key from this layer only.
	Invalidate(ctx context.Context, key K) error
}
