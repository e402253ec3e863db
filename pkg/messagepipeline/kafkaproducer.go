package messagepipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaWriter is the part of *kafka.Writer the producer uses.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducerConfig holds the Kafka sink settings.
type KafkaProducerConfig struct {
	Brokers      []string
	Topic        string
	MaxBatch     int
	FlushTick    time.Duration
	BufferSize   int
	WriteTimeout time.Duration
}

// NewKafkaProducerDefaults returns a config populated from KAFKA_BROKERS
// (comma separated) and KAFKA_TOPIC.
func NewKafkaProducerDefaults() *KafkaProducerConfig {
	cfg := &KafkaProducerConfig{
		Topic:        os.Getenv("KAFKA_TOPIC"),
		MaxBatch:     100,
		FlushTick:    500 * time.Millisecond,
		BufferSize:   1000,
		WriteTimeout: 10 * time.Second,
	}
	if b := os.Getenv("KAFKA_BROKERS"); b != "" {
		cfg.Brokers = strings.Split(b, ",")
	}
	return cfg
}

// NewKafkaWriter builds a writer that partitions by message key.
func NewKafkaWriter(cfg *KafkaProducerConfig) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
	}, nil
}

// KafkaProducer batches records and writes them as JSON, keyed by event type
// so events of one type stay ordered within a partition.
type KafkaProducer struct {
	writer    KafkaWriter
	maxBatch  int
	tick      time.Duration
	timeout   time.Duration
	logger    zerolog.Logger
	inputChan chan *EventRecord
	loopDone  chan struct{}
	wg        sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewKafkaProducer creates a producer around writer.
func NewKafkaProducer(cfg *KafkaProducerConfig, writer KafkaWriter, logger zerolog.Logger) (*KafkaProducer, error) {
	if writer == nil {
		return nil, errors.New("kafka writer cannot be nil")
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1
	}
	tick := cfg.FlushTick
	if tick <= 0 {
		tick = time.Second
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &KafkaProducer{
		writer:    writer,
		maxBatch:  maxBatch,
		tick:      tick,
		timeout:   timeout,
		logger:    logger.With().Str("component", "KafkaProducer").Str("topic", cfg.Topic).Logger(),
		inputChan: make(chan *EventRecord, cfg.BufferSize),
		loopDone:  make(chan struct{}),
	}, nil
}

// Processor returns an EventProcessor that enqueues records.
func (p *KafkaProducer) Processor() EventProcessor {
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

// Start runs the batching loop. Batches are flushed when full, on every tick,
// and once more when the loop ends.
func (p *KafkaProducer) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(p.loopDone)

		batch := make([]kafka.Message, 0, p.maxBatch)
		ticker := time.NewTicker(p.tick)
		defer ticker.Stop()

		flush := func() {
			if len(batch) == 0 {
				return
			}
			writeCtx, cancel := context.WithTimeout(context.Background(), p.timeout)
			defer cancel()
			if err := p.writer.WriteMessages(writeCtx, batch...); err != nil {
				p.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to write batch to Kafka.")
			} else {
				p.logger.Debug().Int("batch_size", len(batch)).Msg("Wrote batch to Kafka.")
			}
			batch = batch[:0]
		}

		for {
			select {
			case rec, ok := <-p.inputChan:
				if !ok {
					flush()
					return
				}
				msg, err := toKafkaMessage(rec)
				if err != nil {
					p.logger.Error().Err(err).Str("record_id", rec.ID).Msg("Failed to marshal record for Kafka.")
					continue
				}
				batch = append(batch, msg)
				if len(batch) >= p.maxBatch {
					flush()
				}
			case <-ticker.C:
				flush()
			case <-ctx.Done():
				for {
					select {
					case rec, ok := <-p.inputChan:
						if !ok {
							flush()
							return
						}
						if msg, err := toKafkaMessage(rec); err == nil {
							batch = append(batch, msg)
						}
					default:
						flush()
						return
					}
				}
			}
		}
	}()
}

func toKafkaMessage(rec *EventRecord) (kafka.Message, error) {
	value, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(rec.EventType),
		Value: value,
		Time:  rec.ReceivedAt,
		Headers: []kafka.Header{
			{Key: "tier", Value: []byte(rec.Tier)},
			{Key: "outcome", Value: []byte(rec.Outcome)},
		},
	}, nil
}

// Stop stops accepting records, flushes the final batch and closes the writer.
func (p *KafkaProducer) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.inputChan)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for kafka producer to flush: %w", ctx.Err())
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	p.logger.Info().Msg("Kafka producer stopped.")
	return nil
}
