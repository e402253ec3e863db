package messagepipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// ErrProducerStopped is returned when a record is offered to a stopped producer.
var ErrProducerStopped = errors.New("producer is stopped")

// GooglePubsubProducerConfig holds configuration for the Google Pub/Sub producer.
type GooglePubsubProducerConfig struct {
	ProjectID                  string
	TopicID                    string
	BatchSize                  int           // Corresponds to Pub/Sub's CountThreshold.
	BatchDelay                 time.Duration // Corresponds to Pub/Sub's DelayThreshold.
	InputChannelMultiplier     int           // Multiplier for the producer's input buffer size.
	TopicExistsTimeout         time.Duration
	PublishConfirmationTimeout time.Duration
}

// NewGooglePubsubProducerDefaults provides a config with sensible defaults,
// overridable from the environment.
func NewGooglePubsubProducerDefaults() *GooglePubsubProducerConfig {
	cfg := &GooglePubsubProducerConfig{
		BatchSize:                  100,
		BatchDelay:                 100 * time.Millisecond,
		InputChannelMultiplier:     2,
		TopicExistsTimeout:         15 * time.Second,
		PublishConfirmationTimeout: 20 * time.Second,
	}
	if bs := os.Getenv("PUBSUB_PRODUCER_BATCH_SIZE"); bs != "" {
		if val, err := strconv.Atoi(bs); err == nil {
			cfg.BatchSize = val
		}
	}
	if bd := os.Getenv("PUBSUB_PRODUCER_BATCH_DELAY"); bd != "" {
		if val, err := time.ParseDuration(bd); err == nil {
			cfg.BatchDelay = val
		}
	}
	if icm := os.Getenv("PUBSUB_PRODUCER_INPUT_CHAN_MULTIPLIER"); icm != "" {
		if val, err := strconv.Atoi(icm); err == nil {
			cfg.InputChannelMultiplier = val
		}
	}
	return cfg
}

// GooglePubsubProducer publishes EventRecords as JSON to a Pub/Sub topic,
// relying on the client's built-in batching.
type GooglePubsubProducer struct {
	topic                      *pubsub.Topic
	logger                     zerolog.Logger
	inputChan                  chan *EventRecord
	loopDone                   chan struct{}
	wg                         sync.WaitGroup
	publishConfirmationTimeout time.Duration

	mu      sync.RWMutex
	stopped bool
}

// NewGooglePubsubProducer creates a producer after checking that the topic exists.
func NewGooglePubsubProducer(
	ctx context.Context,
	cfg *GooglePubsubProducerConfig,
	client *pubsub.Client,
	logger zerolog.Logger,
) (*GooglePubsubProducer, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil for producer")
	}
	if cfg.InputChannelMultiplier <= 0 {
		logger.Warn().Int("invalid_multiplier", cfg.InputChannelMultiplier).Msg("InputChannelMultiplier is non-positive; defaulting to 1.")
		cfg.InputChannelMultiplier = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}

	topic := client.Topic(cfg.TopicID)
	topic.PublishSettings.DelayThreshold = cfg.BatchDelay
	topic.PublishSettings.CountThreshold = cfg.BatchSize
	topic.PublishSettings.Timeout = 10 * time.Second
	topic.PublishSettings.NumGoroutines = 5

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	logger.Info().Str("topic_id", cfg.TopicID).Msg("GooglePubsubProducer initialized successfully.")
	return &GooglePubsubProducer{
		topic:                      topic,
		logger:                     logger.With().Str("component", "GooglePubsubProducer").Str("topic_id", cfg.TopicID).Logger(),
		inputChan:                  make(chan *EventRecord, cfg.BatchSize*cfg.InputChannelMultiplier),
		loopDone:                   make(chan struct{}),
		publishConfirmationTimeout: cfg.PublishConfirmationTimeout,
	}, nil
}

// Input returns the channel to send records to the producer.
func (p *GooglePubsubProducer) Input() chan<- *EventRecord {
	return p.inputChan
}

// Processor returns an EventProcessor that enqueues records for publishing.
func (p *GooglePubsubProducer) Processor() EventProcessor {
	return func(ctx context.Context, rec *EventRecord) error {
		p.mu.RLock()
		defer p.mu.RUnlock()
		if p.stopped {
			return ErrProducerStopped
		}
		select {
		case p.inputChan <- rec:
			return nil
		case <-p.loopDone:
			return ErrProducerStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Start runs the publishing loop until the input is closed or shutdownCtx is done.
func (p *GooglePubsubProducer) Start(shutdownCtx context.Context) {
	p.logger.Info().Msg("Starting Pub/Sub producer...")
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		defer close(p.loopDone)
		for {
			select {
			case rec, ok := <-p.inputChan:
				if !ok {
					p.logger.Info().Msg("Producer input channel closed, stopping publishing loop.")
					return
				}
				p.publishRecord(shutdownCtx, rec)
			case <-shutdownCtx.Done():
				p.logger.Info().Msg("Producer received shutdown signal, stopping publishing loop.")
				p.drainOnShutdown(context.WithoutCancel(shutdownCtx))
				return
			}
		}
	}()
}

func (p *GooglePubsubProducer) publishRecord(ctx context.Context, rec *EventRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		p.logger.Error().Err(err).Str("record_id", rec.ID).Msg("Failed to marshal record for publishing.")
		return
	}

	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: recordAttributes(rec),
	})
	go p.confirmPublish(res, rec.ID)
}

func recordAttributes(rec *EventRecord) map[string]string {
	attrs := map[string]string{
		"event_type": rec.EventType,
		"tier":       string(rec.Tier),
		"outcome":    rec.Outcome,
	}
	if rec.Subject != "" {
		attrs["subject"] = rec.Subject
	}
	return attrs
}

func (p *GooglePubsubProducer) drainOnShutdown(ctx context.Context) {
	p.logger.Info().Msg("Draining producer input channel on shutdown...")
	for {
		select {
		case rec, ok := <-p.inputChan:
			if !ok {
				p.logger.Info().Msg("Finished draining producer channel.")
				return
			}
			p.publishRecord(ctx, rec)
		default:
			p.logger.Info().Msg("Finished draining producer channel.")
			return
		}
	}
}

func (p *GooglePubsubProducer) confirmPublish(res *pubsub.PublishResult, recordID string) {
	getCtx, cancel := context.WithTimeout(context.Background(), p.publishConfirmationTimeout)
	defer cancel()

	msgID, err := res.Get(getCtx)
	if err != nil {
		p.logger.Error().Err(err).Str("record_id", recordID).Msg("Failed to get publish result.")
		return
	}
	p.logger.Debug().Str("record_id", recordID).Str("pubsub_msg_id", msgID).Msg("Record published successfully.")
}

// Stop stops accepting records, waits for the loop to finish, and flushes the
// topic within the context's deadline. It is safe to call more than once.
func (p *GooglePubsubProducer) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.inputChan)
	p.mu.Unlock()

	p.logger.Info().Msg("Stopping Pub/Sub producer...")
	p.wg.Wait()

	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()
	select {
	case <-stopDone:
		p.logger.Info().Msg("Pub/Sub producer stopped gracefully.")
		return nil
	case <-ctx.Done():
		p.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for Pub/Sub topic to flush and stop.")
		return ctx.Err()
	}
}
