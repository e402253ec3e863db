package bqstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/illmade-knight/go-cnxstream/pkg/messagepipeline"
	"github.com/rs/zerolog"
)

// ErrInserterStopped is returned when adding to a stopped BatchInserter.
var ErrInserterStopped = errors.New("batch inserter is stopped")

// BatchInserterConfig holds configuration for the BatchInserter.
type BatchInserterConfig struct {
	BatchSize     int
	FlushInterval time.Duration // How often to flush a partial batch.
	InsertTimeout time.Duration // The timeout for a single flush operation.
}

// NewBatchInserterDefaults returns the batching used for event rows.
func NewBatchInserterDefaults() *BatchInserterConfig {
	return &BatchInserterConfig{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
		InsertTimeout: 30 * time.Second,
	}
}

// RowConverter maps a record to a row. A nil row means the record is not stored.
type RowConverter[T any] func(rec *messagepipeline.EventRecord) *T

// BatchInserter manages batching and insertion for items of type T.
type BatchInserter[T any] struct {
	config    *BatchInserterConfig
	inserter  DataBatchInserter[T]
	logger    zerolog.Logger
	inputChan chan *T
	wg        sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewBatcher creates a new generic BatchInserter.
func NewBatcher[T any](
	config *BatchInserterConfig,
	inserter DataBatchInserter[T],
	logger zerolog.Logger,
) *BatchInserter[T] {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.InsertTimeout <= 0 {
		config.InsertTimeout = 30 * time.Second
	}
	return &BatchInserter[T]{
		config:    config,
		inserter:  inserter,
		logger:    logger.With().Str("component", "BatchInserter").Logger(),
		inputChan: make(chan *T, config.BatchSize*2),
	}
}

// Start begins the batching worker.
func (b *BatchInserter[T]) Start(ctx context.Context) {
	b.logger.Info().
		Int("batch_size", b.config.BatchSize).
		Dur("flush_interval", b.config.FlushInterval).
		Msg("Starting BatchInserter worker...")
	b.wg.Add(1)
	go b.worker(ctx)
}

// Stop flushes pending rows and closes the inserter, bounded by ctx.
func (b *BatchInserter[T]) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	close(b.inputChan)
	b.mu.Unlock()

	b.logger.Info().Msg("Stopping BatchInserter...")
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info().Msg("BatchInserter worker stopped gracefully.")
	case <-ctx.Done():
		b.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for BatchInserter worker to stop.")
		return ctx.Err()
	}

	if err := b.inserter.Close(); err != nil {
		b.logger.Error().Err(err).Msg("Error closing underlying data inserter")
	}
	return nil
}

// Add queues one row.
func (b *BatchInserter[T]) Add(ctx context.Context, row *T) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return ErrInserterStopped
	}
	select {
	case b.inputChan <- row:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Processor converts each record with convert and queues the resulting row.
func (b *BatchInserter[T]) Processor(convert RowConverter[T]) messagepipeline.EventProcessor {
	return func(ctx context.Context, rec *messagepipeline.EventRecord) error {
		row := convert(rec)
		if row == nil {
			return nil
		}
		return b.Add(ctx, row)
	}
}

// worker is the core logic that collects items into a batch and flushes it.
func (b *BatchInserter[T]) worker(ctx context.Context) {
	defer b.wg.Done()
	batch := make([]*T, 0, b.config.BatchSize)
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	flushCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			// Rows already accepted by Add are still owed an insert.
			for {
				select {
				case row, ok := <-b.inputChan:
					if !ok {
						b.flush(flushCtx, batch)
						return
					}
					batch = append(batch, row)
					if len(batch) >= b.config.BatchSize {
						b.flush(flushCtx, batch)
						batch = make([]*T, 0, b.config.BatchSize)
					}
				default:
					b.flush(flushCtx, batch)
					return
				}
			}

		case row, ok := <-b.inputChan:
			if !ok {
				b.flush(flushCtx, batch)
				return
			}
			batch = append(batch, row)
			if len(batch) >= b.config.BatchSize {
				b.flush(flushCtx, batch)
				batch = make([]*T, 0, b.config.BatchSize)
				ticker.Reset(b.config.FlushInterval)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(flushCtx, batch)
				batch = make([]*T, 0, b.config.BatchSize)
			}
		}
	}
}

func (b *BatchInserter[T]) flush(ctx context.Context, batch []*T) {
	if len(batch) == 0 {
		return
	}
	insertCtx, cancel := context.WithTimeout(ctx, b.config.InsertTimeout)
	defer cancel()

	if err := b.inserter.InsertBatch(insertCtx, batch); err != nil {
		b.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to insert batch, dropping rows.")
		return
	}
	b.logger.Info().Int("batch_size", len(batch)).Msg("Successfully flushed batch.")
}
