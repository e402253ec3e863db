package messagepipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/illmade-knight/go-cnxstream/pkg/ingest"
	"github.com/illmade-knight/go-cnxstream/pkg/types"
	"google.golang.org/protobuf/encoding/protojson"
)

// EventRecord is the sink-facing projection of one delivery. It is what gets
// serialized to Pub/Sub, Kafka, BigQuery and GCS.
type EventRecord struct {
	ID         string     `json:"id"`
	ReceivedAt time.Time  `json:"receivedAt"`
	EnvelopeID string     `json:"envelopeId,omitempty"`
	EventType  string     `json:"eventType"`
	Source     string     `json:"source,omitempty"`
	Subject    string     `json:"subject,omitempty"`
	Tier       types.Tier `json:"tier"`
	SizeBytes  int        `json:"sizeBytes"`
	Outcome    string     `json:"outcome"`
	Field      string     `json:"field,omitempty"`

	// Decoded is the protojson rendering of the decoded sub-message.
	Decoded json.RawMessage `json:"decoded,omitempty"`
	// Error is the decode failure text for decode_error outcomes.
	Error string `json:"error,omitempty"`

	Attributes map[string]string `json:"attributes,omitempty"`

	// EnrichmentData holds data added by enrichers.
	EnrichmentData map[string]interface{} `json:"enrichmentData,omitempty"`

	// Raw is the envelope as received.
	Raw []byte `json:"-"`
	// Event is the decode result the record was built from.
	Event types.DecodedEvent `json:"-"`
}

var jsonOptions = protojson.MarshalOptions{UseProtoNames: true}

// NewEventRecord projects a delivery. A decoded message that cannot be
// rendered as JSON leaves Decoded empty and records the reason in Error.
func NewEventRecord(d *ingest.Delivery) *EventRecord {
	rec := &EventRecord{
		ID:         d.ID,
		ReceivedAt: d.ReceivedAt,
		EventType:  d.Event.EventType,
		Tier:       d.Tier,
		SizeBytes:  d.Size,
		Outcome:    d.Event.Outcome.String(),
		Field:      d.Event.Field,
		Raw:        d.Raw,
		Event:      d.Event,
	}
	if env := d.Envelope; env != nil {
		rec.EnvelopeID = env.ID
		rec.Source = env.Source
		rec.Subject, _ = env.Subject()
		rec.Attributes = env.AttributeStrings()
		if rec.EventType == "" {
			rec.EventType = env.Type
		}
	}

	switch d.Event.Outcome {
	case types.OutcomeDecoded:
		if d.Event.Message != nil {
			b, err := jsonOptions.Marshal(d.Event.Message.Interface())
			if err != nil {
				rec.Error = fmt.Sprintf("render decoded event: %v", err)
			} else {
				rec.Decoded = b
			}
		}
	case types.OutcomeDecodeError:
		if d.Event.Err != nil {
			rec.Error = d.Event.Err.Error()
		}
	}
	return rec
}
