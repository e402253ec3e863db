package icestore

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Custom metadata written on every archive object.
const (
	MetadataBatchKey    = "batch-key"
	MetadataRecordCount = "record-count"
)

// GCSBatchUploaderConfig holds configuration specific to the GCS uploader.
type GCSBatchUploaderConfig struct {
	BucketName   string
	ObjectPrefix string
	// MaxConcurrentUploads bounds the objects written at once. Defaults to 4.
	MaxConcurrentUploads int
}

// LoadGCSBatchUploaderConfigFromEnv reads ICESTORE_BUCKET and ICESTORE_PREFIX.
func LoadGCSBatchUploaderConfigFromEnv() GCSBatchUploaderConfig {
	cfg := GCSBatchUploaderConfig{ObjectPrefix: "envelopes"}
	if v := os.Getenv("ICESTORE_BUCKET"); v != "" {
		cfg.BucketName = v
	}
	if v := os.Getenv("ICESTORE_PREFIX"); v != "" {
		cfg.ObjectPrefix = v
	}
	return cfg
}

// GCSBatchUploader implements DataUploader. Each batch key of an upload
// becomes its own object, <prefix>/<batch key>/<uuid>.jsonl.gz.
type GCSBatchUploader struct {
	bucket GCSBucketHandle
	prefix string
	slots  chan struct{}
	logger zerolog.Logger

	inflight sync.WaitGroup
}

// NewGCSBatchUploader creates a new uploader configured for Google Cloud Storage.
func NewGCSBatchUploader(
	gcsClient GCSClient,
	config GCSBatchUploaderConfig,
	logger zerolog.Logger,
) (*GCSBatchUploader, error) {
	if gcsClient == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	if config.MaxConcurrentUploads <= 0 {
		config.MaxConcurrentUploads = 4
	}
	return &GCSBatchUploader{
		bucket: gcsClient.Bucket(config.BucketName),
		prefix: config.ObjectPrefix,
		slots:  make(chan struct{}, config.MaxConcurrentUploads),
		logger: logger.With().Str("component", "GCSBatchUploader").Str("bucket", config.BucketName).Logger(),
	}, nil
}

// groupByKey drops nil and unkeyed items and returns the groups with their
// keys in sorted order.
func groupByKey(items []*ArchivalData) ([]string, map[string][]*ArchivalData) {
	groups := make(map[string][]*ArchivalData)
	for _, item := range items {
		if item == nil || item.GetBatchKey() == "" {
			continue
		}
		groups[item.GetBatchKey()] = append(groups[item.GetBatchKey()], item)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, groups
}

// UploadBatch writes one object per batch key, at most MaxConcurrentUploads at
// a time, and returns the joined errors of the objects that failed.
func (u *GCSBatchUploader) UploadBatch(ctx context.Context, items []*ArchivalData) error {
	keys, groups := groupByKey(items)
	if len(keys) == 0 {
		return nil
	}

	errs := make([]error, len(keys))
	var wg sync.WaitGroup
	for i, key := range keys {
		u.slots <- struct{}{}
		wg.Add(1)
		u.inflight.Add(1)
		go func(i int, key string) {
			defer func() {
				<-u.slots
				u.inflight.Done()
				wg.Done()
			}()
			errs[i] = u.writeObject(ctx, key, groups[key])
		}(i, key)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (u *GCSBatchUploader) writeObject(ctx context.Context, batchKey string, records []*ArchivalData) error {
	name := path.Join(u.prefix, batchKey, uuid.NewString()+".jsonl.gz")
	w := u.bucket.Object(name).NewWriter(ctx, map[string]string{
		MetadataBatchKey:    batchKey,
		MetadataRecordCount: strconv.Itoa(len(records)),
	})

	gz := gzip.NewWriter(w)
	enc := json.NewEncoder(gz)
	var err error
	for _, rec := range records {
		if err = enc.Encode(rec); err != nil {
			err = fmt.Errorf("encode record %s for %s: %w", rec.ID, name, err)
			break
		}
	}
	if gzErr := gz.Close(); err == nil && gzErr != nil {
		err = fmt.Errorf("compress %s: %w", name, gzErr)
	}
	// The writer must be closed even after a failed write to release it.
	if closeErr := w.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("commit %s: %w", name, closeErr)
	}
	if err != nil {
		u.logger.Error().Err(err).Str("object_name", name).Int("record_count", len(records)).Msg("Archive upload failed.")
		return err
	}

	u.logger.Info().Str("object_name", name).Int("record_count", len(records)).Msg("Archived batch to GCS.")
	return nil
}

// Close waits for any pending uploads.
func (u *GCSBatchUploader) Close() error {
	u.inflight.Wait()
	u.logger.Info().Msg("All GCS uploads completed.")
	return nil
}
