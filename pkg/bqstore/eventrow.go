// Package bqstore sinks event records into BigQuery in size- and time-bounded
// batches.
package bqstore

import (
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/go-cnxstream/pkg/messagepipeline"
)

// EventRow is the BigQuery row for one event. Its schema is inferred when the
// table is created.
type EventRow struct {
	ID         string              `bigquery:"id"`
	ReceivedAt time.Time           `bigquery:"received_at"`
	EnvelopeID string              `bigquery:"envelope_id"`
	EventType  string              `bigquery:"event_type"`
	Source     string              `bigquery:"source"`
	Subject    string              `bigquery:"subject"`
	Tier       string              `bigquery:"tier"`
	SizeBytes  int64               `bigquery:"size_bytes"`
	Outcome    string              `bigquery:"outcome"`
	Field      string              `bigquery:"field"`
	Decoded    bigquery.NullString `bigquery:"decoded"`
	Error      bigquery.NullString `bigquery:"error"`
	Customer   bigquery.NullString `bigquery:"customer_name"`
}

// NewEventRow is the RowConverter for EventRow. Every record is stored.
func NewEventRow(rec *messagepipeline.EventRecord) *EventRow {
	row := &EventRow{
		ID:         rec.ID,
		ReceivedAt: rec.ReceivedAt,
		EnvelopeID: rec.EnvelopeID,
		EventType:  rec.EventType,
		Source:     rec.Source,
		Subject:    rec.Subject,
		Tier:       string(rec.Tier),
		SizeBytes:  int64(rec.SizeBytes),
		Outcome:    rec.Outcome,
		Field:      rec.Field,
	}
	if len(rec.Decoded) > 0 {
		row.Decoded = bigquery.NullString{StringVal: string(rec.Decoded), Valid: true}
	}
	if rec.Error != "" {
		row.Error = bigquery.NullString{StringVal: rec.Error, Valid: true}
	}
	if name, ok := rec.EnrichmentData["customerName"].(string); ok && name != "" {
		row.Customer = bigquery.NullString{StringVal: name, Valid: true}
	}
	return row
}
