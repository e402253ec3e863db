package cache

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig names the collection holding one document per key.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// LoadFirestoreConfigFromEnv reads GCP_PROJECT_ID and FIRESTORE_COLLECTION.
func LoadFirestoreConfigFromEnv() *FirestoreConfig {
	cfg := &FirestoreConfig{
		ProjectID:      os.Getenv("GCP_PROJECT_ID"),
		CollectionName: "customers",
	}
	if v := os.Getenv("FIRESTORE_COLLECTION"); v != "" {
		cfg.CollectionName = v
	}
	return cfg
}

// FirestoreSource is the source of truth behind the cache layers. The key,
// formatted with %v, is the document ID and the document decodes into V.
type FirestoreSource[K comparable, V any] struct {
	docs   *firestore.CollectionRef
	logger zerolog.Logger
}

func NewFirestoreSource[K comparable, V any](
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreSource[K, V], error) {
	switch {
	case client == nil:
		return nil, errors.New("firestore client cannot be nil")
	case cfg == nil || cfg.CollectionName == "":
		return nil, errors.New("firestore collection name is required")
	}

	l := logger.With().Str("component", "FirestoreSource").Str("collection", cfg.CollectionName).Logger()
	l.Info().Str("project_id", cfg.ProjectID).Msg("FirestoreSource initialized.")
	return &FirestoreSource[K, V]{
		docs:   client.Collection(cfg.CollectionName),
		logger: l,
	}, nil
}

// Fetch reads the document for key. A missing document wraps ErrNotFound.
func (s *FirestoreSource[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var value V
	id := fmt.Sprint(key)

	snap, err := s.docs.Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		s.logger.Debug().Str("key", id).Msg("No document for key.")
		return value, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return value, fmt.Errorf("firestore get %s: %w", id, err)
	}
	if err := snap.DataTo(&value); err != nil {
		return value, fmt.Errorf("decode document %s: %w", id, err)
	}
	return value, nil
}

// Close does nothing; the client belongs to the caller.
func (s *FirestoreSource[K, V]) Close() error {
	return nil
}
