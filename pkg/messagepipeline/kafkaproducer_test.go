package messagepipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-cnxstream/pkg/messagepipeline"
	"github.com/illmade-knight/go-cnxstream/pkg/registry"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockKafkaWriter struct {
	mu      sync.Mutex
	batches [][]kafka.Message
	err     error
	closed  bool
}

func (m *mockKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	batch := make([]kafka.Message, len(msgs))
	copy(batch, msgs)
	m.batches = append(m.batches, batch)
	return nil
}

func (m *mockKafkaWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockKafkaWriter) messages() []kafka.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []kafka.Message
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

func TestKafkaProducer_FlushesOnBatchSize(t *testing.T) {
	// Arrange
	writer := &mockKafkaWriter{}
	cfg := &messagepipeline.KafkaProducerConfig{Topic: "events", MaxBatch: 2, FlushTick: time.Hour, BufferSize: 10}
	producer, err := messagepipeline.NewKafkaProducer(cfg, writer, zerolog.Nop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	producer.Start(ctx)

	// Act
	process := producer.Processor()
	require.NoError(t, process(ctx, decodedRecord(t, "r-1")))
	require.NoError(t, process(ctx, unhandledRecord(t, "r-2")))

	// Assert
	require.Eventually(t, func() bool { return len(writer.messages()) == 2 }, time.Second, 10*time.Millisecond)
	msgs := writer.messages()
	assert.Equal(t, registry.WidsRulesDetectionCreated, string(msgs[0].Key))
	assert.Equal(t, "com.example.other", string(msgs[1].Key))

	var rec messagepipeline.EventRecord
	require.NoError(t, json.Unmarshal(msgs[0].Value, &rec))
	assert.Equal(t, "r-1", rec.ID)
	assert.Contains(t, msgs[0].Headers, kafka.Header{Key: "outcome", Value: []byte("decoded")})

	require.NoError(t, producer.Stop(context.Background()))
	assert.True(t, writer.closed)
}

func TestKafkaProducer_StopFlushesPartialBatch(t *testing.T) {
	writer := &mockKafkaWriter{}
	cfg := &messagepipeline.KafkaProducerConfig{Topic: "events", MaxBatch: 100, FlushTick: time.Hour, BufferSize: 10}
	producer, err := messagepipeline.NewKafkaProducer(cfg, writer, zerolog.Nop())
	require.NoError(t, err)
	producer.Start(context.Background())

	require.NoError(t, producer.Processor()(context.Background(), decodedRecord(t, "only")))
	require.NoError(t, producer.Stop(context.Background()))

	require.Len(t, writer.messages(), 1)
	assert.ErrorIs(t, producer.Processor()(context.Background(), decodedRecord(t, "late")), messagepipeline.ErrProducerStopped)
}

func TestKafkaProducer_FlushesOnTick(t *testing.T) {
	writer := &mockKafkaWriter{}
	cfg := &messagepipeline.KafkaProducerConfig{Topic: "events", MaxBatch: 100, FlushTick: 10 * time.Millisecond, BufferSize: 10}
	producer, err := messagepipeline.NewKafkaProducer(cfg, writer, zerolog.Nop())
	require.NoError(t, err)
	producer.Start(context.Background())
	t.Cleanup(func() { _ = producer.Stop(context.Background()) })

	require.NoError(t, producer.Processor()(context.Background(), decodedRecord(t, "ticked")))

	require.Eventually(t, func() bool { return len(writer.messages()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestKafkaProducer_WriteErrorIsLoggedNotFatal(t *testing.T) {
	writer := &mockKafkaWriter{err: errors.New("broker down")}
	cfg := &messagepipeline.KafkaProducerConfig{Topic: "events", MaxBatch: 1, FlushTick: time.Hour, BufferSize: 10}
	producer, err := messagepipeline.NewKafkaProducer(cfg, writer, zerolog.Nop())
	require.NoError(t, err)
	producer.Start(context.Background())

	require.NoError(t, producer.Processor()(context.Background(), decodedRecord(t, "lost")))
	require.NoError(t, producer.Stop(context.Background()))
	assert.Empty(t, writer.messages())
}

func TestNewKafkaWriter_Validation(t *testing.T) {
	_, err := messagepipeline.NewKafkaWriter(&messagepipeline.KafkaProducerConfig{Topic: "events"})
	assert.Error(t, err)
	_, err = messagepipeline.NewKafkaWriter(&messagepipeline.KafkaProducerConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("KAFKA_TOPIC", "cnx-events")
	cfg := messagepipeline.NewKafkaProducerDefaults()
	w, err := messagepipeline.NewKafkaWriter(cfg)
	require.NoError(t, err)
	assert.Equal(t, "cnx-events", w.Topic)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Brokers)
}
