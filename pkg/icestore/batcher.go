package icestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/illmade-knight/go-cnxstream/pkg/messagepipeline"
	"github.com/rs/zerolog"
)

// ErrBatcherStopped is returned by the processor once Stop has been called.
var ErrBatcherStopped = errors.New("icestore batcher is stopped")

// DataUploader writes a batch of archived envelopes to durable storage.
type DataUploader interface {
	UploadBatch(ctx context.Context, items []*ArchivalData) error
	Close() error
}

// BatcherConfig holds configuration for the Batcher.
type BatcherConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	UploadTimeout time.Duration
}

// NewBatcherDefaults returns the batching settings used by the stream client.
func NewBatcherDefaults() *BatcherConfig {
	return &BatcherConfig{
		BatchSize:     100,
		FlushInterval: time.Minute,
		UploadTimeout: 30 * time.Second,
	}
}

// Batcher groups ArchivalData by batch key and hands each full group, or every
// group on the flush interval, to a DataUploader.
type Batcher struct {
	config    *BatcherConfig
	uploader  DataUploader
	logger    zerolog.Logger
	inputChan chan *ArchivalData
	wg        sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewBatcher creates a new Batcher for ArchivalData.
func NewBatcher(
	config *BatcherConfig,
	uploader DataUploader,
	logger zerolog.Logger,
) *Batcher {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Minute
	}
	if config.UploadTimeout <= 0 {
		config.UploadTimeout = 30 * time.Second
	}
	return &Batcher{
		config:    config,
		uploader:  uploader,
		logger:    logger.With().Str("component", "IceStoreBatcher").Logger(),
		inputChan: make(chan *ArchivalData, config.BatchSize*2),
	}
}

// Start begins the batching worker goroutine.
func (b *Batcher) Start(ctx context.Context) {
	b.logger.Info().
		Int("batch_size", b.config.BatchSize).
		Dur("flush_interval", b.config.FlushInterval).
		Msg("Starting icestore Batcher worker...")
	b.wg.Add(1)
	go b.worker(ctx)
}

// Stop gracefully shuts down the Batcher, ensuring any pending items are flushed.
func (b *Batcher) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	close(b.inputChan)
	b.mu.Unlock()

	b.logger.Info().Msg("Stopping icestore Batcher...")
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		if err := b.uploader.Close(); err != nil {
			b.logger.Error().Err(err).Msg("Error closing underlying data uploader")
		}
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info().Msg("IceStore Batcher stopped gracefully.")
		return nil
	case <-ctx.Done():
		b.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for icestore Batcher to stop.")
		return ctx.Err()
	}
}

// Add queues one item, blocking while the input buffer is full.
func (b *Batcher) Add(ctx context.Context, item *ArchivalData) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return ErrBatcherStopped
	}
	select {
	case b.inputChan <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Processor archives every record it is given.
func (b *Batcher) Processor() messagepipeline.EventProcessor {
	return func(ctx context.Context, rec *messagepipeline.EventRecord) error {
		return b.Add(ctx, NewArchivalData(rec))
	}
}

// worker contains the core key-aware batching logic.
func (b *Batcher) worker(ctx context.Context) {
	defer b.wg.Done()
	batches := make(map[string][]*ArchivalData)
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	// Uploads started during shutdown must not inherit the cancelled context.
	flushCtx := context.WithoutCancel(ctx)

	flushAll := func() {
		if len(batches) == 0 {
			return
		}
		b.logger.Info().Int("key_count", len(batches)).Msg("Flushing all pending batches.")
		for key, batchToFlush := range batches {
			b.flush(flushCtx, batchToFlush)
			delete(batches, key)
		}
	}

	for {
		select {
		case <-ctx.Done():
			// Drain what was already accepted before giving up.
			for {
				select {
				case item, ok := <-b.inputChan:
					if !ok {
						flushAll()
						return
					}
					batches[item.GetBatchKey()] = append(batches[item.GetBatchKey()], item)
				default:
					flushAll()
					return
				}
			}
		case item, ok := <-b.inputChan:
			if !ok {
				flushAll()
				return
			}
			key := item.GetBatchKey()
			batches[key] = append(batches[key], item)
			if len(batches[key]) >= b.config.BatchSize {
				b.flush(flushCtx, batches[key])
				delete(batches, key)
				ticker.Reset(b.config.FlushInterval)
			}
		case <-ticker.C:
			flushAll()
		}
	}
}

// flush sends one batch to the uploader. A failed upload is logged and the
// batch dropped; the stream itself carries no redelivery.
func (b *Batcher) flush(ctx context.Context, batch []*ArchivalData) {
	if len(batch) == 0 {
		return
	}
	uploadCtx, cancel := context.WithTimeout(ctx, b.config.UploadTimeout)
	defer cancel()

	if err := b.uploader.UploadBatch(uploadCtx, batch); err != nil {
		b.logger.Error().Err(err).Int("batch_size", len(batch)).Str("batch_key", batch[0].GetBatchKey()).Msg("Failed to upload batch, dropping it.")
		return
	}
	b.logger.Info().Int("batch_size", len(batch)).Str("batch_key", batch[0].GetBatchKey()).Msg("Successfully uploaded batch.")
}
