package enrichment

import (
	"context"
	"time"

	"github.com/illmade-knight/go-cnxstream/pkg/cache"
)

// FetcherConfig bounds a single enrichment lookup.
type FetcherConfig struct {
	FetchTimeout time.Duration
}

// FromCache adapts a cache chain to a Fetcher. Each lookup gets its own
// timeout so a slow layer delays one record rather than the stream.
func FromCache[K comparable, V any](cfg FetcherConfig, c cache.Fetcher[K, V]) Fetcher[K, V] {
	return func(ctx context.Context, key K) (V, error) {
		if cfg.FetchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.FetchTimeout)
			defer cancel()
		}
		return c.Fetch(ctx, key)
	}
}
