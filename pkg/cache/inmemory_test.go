package cache_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/illmade-knight/go-cnxstream/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockFetcher is a test double for the cache.Fetcher interface.
type mockFetcher[K comparable, V any] struct {
	FetchFunc func(ctx context.Context, key K) (V, error)
	CloseFunc func() error
}

func (m *mockFetcher[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, key)
	}
	var zero V
	return zero, fmt.Errorf("mock fetcher not implemented")
}

func (m *mockFetcher[K, V]) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// countingSource serves fixed profiles and counts lookups.
func countingSource(calls *atomic.Int32, values map[string]string) *mockFetcher[string, string] {
	return &mockFetcher[string, string]{
		FetchFunc: func(_ context.Context, key string) (string, error) {
			calls.Add(1)
			if v, ok := values[key]; ok {
				return v, nil
			}
			return "", fmt.Errorf("customer %s: %w", key, cache.ErrNotFound)
		},
	}
}

func TestInMemoryCache_Misses(t *testing.T) {
	ctx := context.Background()
	sourceDown := errors.New("source is down")

	testCases := []struct {
		name     string
		fallback cache.Fetcher[string, string]
		wantErr  error
	}{
		{name: "no fallback", fallback: nil, wantErr: cache.ErrNotFound},
		{name: "fallback not found", fallback: countingSource(new(atomic.Int32), nil), wantErr: cache.ErrNotFound},
		{name: "fallback failure", fallback: &mockFetcher[string, string]{
			FetchFunc: func(context.Context, string) (string, error) { return "", sourceDown },
		}, wantErr: sourceDown},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := cache.NewInMemoryCache[string, string](tc.fallback)

			_, err := c.Fetch(ctx, "customer-7")

			assert.ErrorIs(t, err, tc.wantErr)
			assert.Zero(t, c.Len(), "a miss is never stored")
		})
	}
}

func TestInMemoryCache_LoadsOnceUntilInvalidated(t *testing.T) {
	// Arrange
	ctx := context.Background()
	var calls atomic.Int32
	c := cache.NewInMemoryCache[string, string](countingSource(&calls, map[string]string{"customer-42": "Acme"}))

	// Act
	first, err := c.Fetch(ctx, "customer-42")
	require.NoError(t, err)
	second, err := c.Fetch(ctx, "customer-42")
	require.NoError(t, err)

	// Assert
	assert.Equal(t, "Acme", first)
	assert.Equal(t, "Acme", second)
	assert.Equal(t, int32(1), calls.Load(), "the second fetch is served locally")
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Invalidate(ctx, "customer-42"))
	assert.Zero(t, c.Len())
	_, err = c.Fetch(ctx, "customer-42")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInMemoryCache_StaticProfiles(t *testing.T) {
	c := cache.NewInMemoryCache[string, string](nil)
	c.Put("customer-42", "Acme")
	c.Put("customer-43", "Globex")
	c.Put("customer-42", "Acme Corp")

	v, err := c.Fetch(context.Background(), "customer-42")

	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", v, "Put overwrites")
	assert.Equal(t, 2, c.Len())
	assert.NoError(t, c.Close())
}
