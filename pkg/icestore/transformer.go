package icestore

import (
	"fmt"
	"strings"
	"time"

	"github.com/illmade-knight/go-cnxstream/pkg/messagepipeline"
	"github.com/illmade-knight/go-cnxstream/pkg/types"
)

// UnhandledKey is the final batch key segment for envelopes with no decoding rule.
const UnhandledKey = "unhandled"

// ArchivalData represents one archived envelope as written to a GCS object.
type ArchivalData struct {
	ID         string     `json:"id"`
	BatchKey   string     `json:"batchKey"`
	EventType  string     `json:"eventType"`
	Tier       types.Tier `json:"tier"`
	Outcome    string     `json:"outcome"`
	Envelope   []byte     `json:"envelope"`
	ReceivedAt time.Time  `json:"receivedAt"`
	ArchivedAt time.Time  `json:"archivedAt"`
}

// GetBatchKey returns the key used for grouping data in GCS.
func (d *ArchivalData) GetBatchKey() string {
	return d.BatchKey
}

// BatchKey builds the "YYYY/MM/DD/<event-type>" grouping key. Event types are
// dotted names; any path separator is replaced so the key keeps four segments.
func BatchKey(ts time.Time, eventType string, outcome types.Outcome) string {
	ts = ts.UTC()
	segment := UnhandledKey
	if outcome != types.OutcomeUnhandled && eventType != "" {
		segment = strings.ReplaceAll(eventType, "/", "_")
	}
	return fmt.Sprintf("%d/%02d/%02d/%s", ts.Year(), ts.Month(), ts.Day(), segment)
}

// NewArchivalData converts a record into its archive form. The envelope bytes
// are stored as received.
func NewArchivalData(rec *messagepipeline.EventRecord) *ArchivalData {
	ts := rec.ReceivedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &ArchivalData{
		ID:         rec.ID,
		BatchKey:   BatchKey(ts, rec.EventType, rec.Event.Outcome),
		EventType:  rec.EventType,
		Tier:       rec.Tier,
		Outcome:    rec.Outcome,
		Envelope:   rec.Raw,
		ReceivedAt: rec.ReceivedAt,
		ArchivedAt: time.Now().UTC(),
	}
}
