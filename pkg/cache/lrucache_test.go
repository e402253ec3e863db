package cache_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-cnxstream/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryLRUCache_Fetch(t *testing.T) {
	ctx := context.Background()

	t.Run("Eviction policy works correctly", func(t *testing.T) {
		// Arrange
		var fetcherCallCount atomic.Int32
		mockSource := &mockFetcher[string, int]{
			FetchFunc: func(ctx context.Context, key string) (int, error) {
				fetcherCallCount.Add(1)
				switch key {
				case "key1":
					return 1, nil
				case "key2":
					return 2, nil
				case "key3":
					return 3, nil
				default:
					return 0, errors.New("not found")
				}
			},
		}

		lru, err := cache.NewInMemoryLRUCache[string, int](2, 0, mockSource)
		require.NoError(t, err)

		// Act 1: Fill the cache.
		val1, _ := lru.Fetch(ctx, "key1")
		val2, _ := lru.Fetch(ctx, "key2")

		// Assert 1
		assert.Equal(t, 1, val1)
		assert.Equal(t, 2, val2)
		assert.Equal(t, int32(2), fetcherCallCount.Load(), "Fallback should be called twice to fill the cache")

		// Act 2: key1 becomes the most recently used.
		_, _ = lru.Fetch(ctx, "key1")
		assert.Equal(t, int32(2), fetcherCallCount.Load(), "Fallback should NOT be called for a cache hit")

		// Act 3: key3 evicts key2.
		val3, _ := lru.Fetch(ctx, "key3")
		assert.Equal(t, 3, val3)
		assert.Equal(t, int32(3), fetcherCallCount.Load())
		assert.Equal(t, 2, lru.Len())

		// Act 4: key2 was evicted.
		_, _ = lru.Fetch(ctx, "key2")
		assert.Equal(t, int32(4), fetcherCallCount.Load(), "Fallback should be called for the evicted key2")
	})

	t.Run("Miss with no fallback", func(t *testing.T) {
		lru, err := cache.NewInMemoryLRUCache[string, int](5, 0, nil)
		require.NoError(t, err)

		_, err = lru.Fetch(ctx, "miss")

		require.Error(t, err)
		assert.ErrorIs(t, err, cache.ErrNotFound)
		assert.Contains(t, err.Error(), "not found in LRU cache and no fallback is configured")
	})

	t.Run("Entries expire after the ttl", func(t *testing.T) {
		var calls atomic.Int32
		source := &mockFetcher[string, int]{
			FetchFunc: func(context.Context, string) (int, error) {
				return int(calls.Add(1)), nil
			},
		}
		lru, err := cache.NewInMemoryLRUCache[string, int](5, 20*time.Millisecond, source)
		require.NoError(t, err)

		first, _ := lru.Fetch(ctx, "k")
		again, _ := lru.Fetch(ctx, "k")
		assert.Equal(t, first, again)

		require.Eventually(t, func() bool {
			v, _ := lru.Fetch(ctx, "k")
			return v != first
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("Invalidate", func(t *testing.T) {
		var calls atomic.Int32
		source := &mockFetcher[string, int]{
			FetchFunc: func(context.Context, string) (int, error) { return int(calls.Add(1)), nil },
		}
		lru, err := cache.NewInMemoryLRUCache[string, int](5, 0, source)
		require.NoError(t, err)

		_, _ = lru.Fetch(ctx, "k")
		require.NoError(t, lru.Invalidate(ctx, "k"))
		_, _ = lru.Fetch(ctx, "k")

		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("Invalid size", func(t *testing.T) {
		_, err := cache.NewInMemoryLRUCache[string, int](0, 0, nil)
		assert.Error(t, err)
	})
}
