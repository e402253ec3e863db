package icestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/illmade-knight/go-cnxstream/pkg/messagepipeline"
	"github.com/illmade-knight/go-cnxstream/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestIceBatcher is a helper to set up a batcher with a mock for testing.
func newTestIceBatcher(t *testing.T, batchSize int, flushInterval time.Duration) (*Batcher, *mockFinalUploader) {
	t.Helper()

	mockUploader := &mockFinalUploader{}
	config := &BatcherConfig{
		BatchSize:     batchSize,
		FlushInterval: flushInterval,
		UploadTimeout: 2 * time.Second,
	}

	batcher := NewBatcher(config, mockUploader, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	batcher.Start(ctx)

	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		assert.NoError(t, batcher.Stop(stopCtx))
	})
	return batcher, mockUploader
}

func item(key string) *ArchivalData {
	return &ArchivalData{BatchKey: key}
}

func TestBatcher_BatchSizeTrigger(t *testing.T) {
	batcher, mockUploader := newTestIceBatcher(t, 3, 10*time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, batcher.Add(ctx, item("k")))
	}

	require.Eventually(t, func() bool {
		return mockUploader.GetCallCount() == 1
	}, time.Second, 10*time.Millisecond, "UploadBatch should be called once")

	receivedBatches := mockUploader.GetReceivedItems()
	require.Len(t, receivedBatches, 1)
	assert.Len(t, receivedBatches[0], 3, "The batch should contain 3 items")
}

func TestBatcher_BatchesPerKey(t *testing.T) {
	batcher, mockUploader := newTestIceBatcher(t, 2, 10*time.Second)
	ctx := context.Background()

	require.NoError(t, batcher.Add(ctx, item("a")))
	require.NoError(t, batcher.Add(ctx, item("b")))
	require.NoError(t, batcher.Add(ctx, item("a")))

	require.Eventually(t, func() bool {
		return mockUploader.GetCallCount() == 1
	}, time.Second, 10*time.Millisecond)
	batch := mockUploader.GetReceivedItems()[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].BatchKey)
	assert.Equal(t, "a", batch[1].BatchKey)
}

func TestBatcher_FlushIntervalTrigger(t *testing.T) {
	flushInterval := 100 * time.Millisecond
	batcher, mockUploader := newTestIceBatcher(t, 10, flushInterval)

	for i := 0; i < 2; i++ {
		require.NoError(t, batcher.Add(context.Background(), item("k")))
	}

	require.Eventually(t, func() bool {
		return mockUploader.GetCallCount() == 1
	}, flushInterval*5, 10*time.Millisecond, "UploadBatch should be called once due to timeout")

	receivedBatches := mockUploader.GetReceivedItems()
	require.Len(t, receivedBatches, 1)
	assert.Len(t, receivedBatches[0], 2, "The batch should contain 2 items")
}

func TestBatcher_StopFlushesFinalBatch(t *testing.T) {
	mockUploader := &mockFinalUploader{}
	config := &BatcherConfig{
		BatchSize:     10,
		FlushInterval: 5 * time.Second,
		UploadTimeout: 2 * time.Second,
	}

	batcher := NewBatcher(config, mockUploader, zerolog.Nop())
	batcher.Start(context.Background())

	for i := 0; i < 4; i++ {
		require.NoError(t, batcher.Add(context.Background(), item("k")))
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(stopCancel)
	require.NoError(t, batcher.Stop(stopCtx))
	require.NoError(t, batcher.Stop(stopCtx), "a second Stop is a no-op")

	assert.Equal(t, 1, mockUploader.GetCallCount(), "UploadBatch should be called on stop")
	receivedBatches := mockUploader.GetReceivedItems()
	require.Len(t, receivedBatches, 1)
	assert.Len(t, receivedBatches[0], 4, "The final batch should contain 4 items")
	assert.True(t, mockUploader.closed)

	assert.ErrorIs(t, batcher.Add(context.Background(), item("k")), ErrBatcherStopped)
}

func TestBatcher_UploadFailureDoesNotStopWorker(t *testing.T) {
	batcher, mockUploader := newTestIceBatcher(t, 1, time.Second)
	mockUploader.Lock()
	mockUploader.UploadBatchFn = func(context.Context, []*ArchivalData) error {
		return errors.New("gcs upload failed")
	}
	mockUploader.Unlock()

	require.NoError(t, batcher.Add(context.Background(), item("k")))
	require.NoError(t, batcher.Add(context.Background(), item("k")))

	require.Eventually(t, func() bool { return mockUploader.GetCallCount() == 2 }, time.Second, 10*time.Millisecond)
}

func TestBatcher_Processor(t *testing.T) {
	batcher, mockUploader := newTestIceBatcher(t, 1, time.Second)
	rec := &messagepipeline.EventRecord{
		ID:         "r-1",
		ReceivedAt: time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC),
		EventType:  "com.example.wids",
		Tier:       types.TierHeavyweight,
		Outcome:    "decoded",
		Raw:        []byte("raw-envelope"),
		Event:      types.DecodedEvent{Outcome: types.OutcomeDecoded},
	}

	require.NoError(t, batcher.Processor()(context.Background(), rec))

	require.Eventually(t, func() bool { return mockUploader.GetCallCount() == 1 }, time.Second, 10*time.Millisecond)
	got := mockUploader.GetReceivedItems()[0][0]
	assert.Equal(t, "r-1", got.ID)
	assert.Equal(t, "2026/03/09/com.example.wids", got.BatchKey)
	assert.Equal(t, types.TierHeavyweight, got.Tier)
	assert.Equal(t, []byte("raw-envelope"), got.Envelope)
	assert.False(t, got.ArchivedAt.IsZero())
}

func TestBatchKey(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 5*3600))
	testCases := []struct {
		name      string
		eventType string
		outcome   types.Outcome
		want      string
	}{
		{name: "decoded", eventType: "com.example.a", outcome: types.OutcomeDecoded, want: "2026/01/01/com.example.a"},
		{name: "decode error keeps type", eventType: "com.example.a", outcome: types.OutcomeDecodeError, want: "2026/01/01/com.example.a"},
		{name: "unhandled", eventType: "com.example.z", outcome: types.OutcomeUnhandled, want: "2026/01/01/unhandled"},
		{name: "empty type", eventType: "", outcome: types.OutcomeDecoded, want: "2026/01/01/unhandled"},
		{name: "separator", eventType: "a/b", outcome: types.OutcomeDecoded, want: "2026/01/01/a_b"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, BatchKey(ts, tc.eventType, tc.outcome))
		})
	}
}
