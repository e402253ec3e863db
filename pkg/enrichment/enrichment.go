// Package enrichment attaches externally held data to event records before they
// reach the sinks.
package enrichment

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-cnxstream/pkg/cache"
	"github.com/illmade-knight/go-cnxstream/pkg/messagepipeline"
	"github.com/rs/zerolog"
)

// Fetcher is a generic function type for fetching data by a key.
type Fetcher[K any, V any] func(ctx context.Context, key K) (V, error)

// KeyExtractor gets the enrichment key from a record.
type KeyExtractor[K comparable] func(rec *messagepipeline.EventRecord) (K, bool)

// Applier writes fetched data into a record's EnrichmentData.
type Applier[V any] func(rec *messagepipeline.EventRecord, data V)

// NewEnricherFunc builds a transformer that looks up the record's key and
// applies the result. A record without a key, or whose lookup fails, passes
// through un-enriched; enrichment never drops an event.
func NewEnricherFunc[K comparable, V any](
	fetcher Fetcher[K, V],
	keyEx KeyExtractor[K],
	applier Applier[V],
	logger zerolog.Logger,
) (messagepipeline.EventTransformer, error) {
	if fetcher == nil || keyEx == nil || applier == nil {
		return nil, fmt.Errorf("fetcher, keyExtractor, and applier cannot be nil")
	}

	enrichLogger := logger.With().Str("component", "EnricherFunc").Logger()

	return func(ctx context.Context, rec *messagepipeline.EventRecord) (bool, error) {
		key, ok := keyEx(rec)
		if !ok {
			enrichLogger.Debug().Str("record_id", rec.ID).Msg("Key not found in record, skipping enrichment.")
			return false, nil
		}

		data, err := fetcher(ctx, key)
		if err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				enrichLogger.Debug().Str("record_id", rec.ID).Msgf("No enrichment data for key '%v'.", key)
			} else {
				enrichLogger.Error().Err(err).Str("record_id", rec.ID).Msgf("Failed to fetch enrichment data for key '%v'.", key)
			}
			return false, nil
		}

		if rec.EnrichmentData == nil {
			rec.EnrichmentData = make(map[string]interface{})
		}
		applier(rec, data)
		enrichLogger.Debug().Str("record_id", rec.ID).Msg("Record enriched successfully.")
		return false, nil
	}, nil
}
