package messagepipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/go-cnxstream/pkg/envelope"
	"github.com/illmade-knight/go-cnxstream/pkg/ingest"
	"github.com/illmade-knight/go-cnxstream/pkg/messagepipeline"
	"github.com/illmade-knight/go-cnxstream/pkg/registry"
	"github.com/illmade-knight/go-cnxstream/pkg/schema"
	"github.com/illmade-knight/go-cnxstream/pkg/types"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// setupTestPubsub creates an in-process Pub/Sub server with one topic and
// subscription.
func setupTestPubsub(t *testing.T, projectID, topicID, subID string) (*pubsub.Client, *pubsub.Subscription) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	if topicID == "" {
		return client, nil
	}
	topic, err := client.CreateTopic(ctx, topicID)
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)
	return client, sub
}

// receiveMessages collects n messages from sub or fails after timeout.
func receiveMessages(t *testing.T, ctx context.Context, sub *pubsub.Subscription, n int, timeout time.Duration) []*pubsub.Message {
	t.Helper()
	var mu sync.Mutex
	var received []*pubsub.Message

	receiveCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := sub.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
		mu.Lock()
		defer mu.Unlock()
		msg.Ack()
		received = append(received, msg)
		if len(received) >= n {
			cancel()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Logf("Receive ended with: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, n, "did not receive all messages in time")
	return received
}

func widsPayload(t *testing.T) []byte {
	t.Helper()
	stream := schema.NewMessage(schema.WidsStreamMessage)
	fd := schema.WidsStreamMessage.Fields().ByName("widsRulesEvent")
	rule := stream.NewField(fd).Message()
	rule.Set(schema.WidsRulesEvent.Fields().ByName("rule_name"), protoreflect.ValueOfString("rogue-ap"))
	rule.Set(schema.WidsRulesEvent.Fields().ByName("severity"), protoreflect.ValueOfString("HIGH"))
	stream.Set(fd, protoreflect.ValueOfMessage(rule))
	b, err := proto.Marshal(stream.Interface())
	require.NoError(t, err)
	return b
}

// newDelivery decodes an envelope of eventType carrying payload, as the ingest
// loop would.
func newDelivery(t *testing.T, id, eventType string, payload []byte) *ingest.Delivery {
	t.Helper()
	raw, err := envelope.Encode(&types.RawEnvelope{
		ID:          "env-" + id,
		Source:      "//network-services",
		SpecVersion: "1.0",
		Type:        eventType,
		Attributes:  map[string]types.AttributeValue{"subject": types.StringAttribute("customer-42")},
		Payload:     payload,
	})
	require.NoError(t, err)

	dec, err := envelope.NewDecoder(registry.MustDefault())
	require.NoError(t, err)
	env, event, err := dec.Decode(raw)
	require.NoError(t, err)

	return &ingest.Delivery{
		ID:         id,
		ReceivedAt: time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC),
		Size:       len(raw),
		Tier:       types.ClassifyTier(len(raw)),
		Raw:        raw,
		Envelope:   env,
		Event:      event,
	}
}

func decodedRecord(t *testing.T, id string) *messagepipeline.EventRecord {
	t.Helper()
	return messagepipeline.NewEventRecord(newDelivery(t, id, registry.WidsRulesDetectionCreated, widsPayload(t)))
}

func unhandledRecord(t *testing.T, id string) *messagepipeline.EventRecord {
	t.Helper()
	return messagepipeline.NewEventRecord(newDelivery(t, id, "com.example.other", []byte("opaque")))
}

// recordingProcessor captures every record it is given.
type recordingProcessor struct {
	mu      sync.Mutex
	records []*messagepipeline.EventRecord
	err     error
}

func (r *recordingProcessor) Process(_ context.Context, rec *messagepipeline.EventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}

func (r *recordingProcessor) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.records))
	for _, rec := range r.records {
		ids = append(ids, rec.ID)
	}
	return ids
}
