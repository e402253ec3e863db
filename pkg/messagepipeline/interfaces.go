package messagepipeline

import (
	"context"

	"github.com/illmade-knight/go-cnxstream/pkg/ingest"
	"github.com/rs/zerolog"
)

// EventProcessor handles one record. Sinks, filters and fan-outs all share
// this shape so they compose.
type EventProcessor func(ctx context.Context, rec *EventRecord) error

// EventTransformer modifies a record in place before it reaches the
// processor. Returning skip drops the record without error.
type EventTransformer func(ctx context.Context, rec *EventRecord) (skip bool, err error)

// EventSink is a processor with a lifecycle, such as a batching producer.
type EventSink interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) error
	Processor() EventProcessor
}

// NewDeliveryHandler adapts a processor chain to the ingest loop: every
// delivery becomes an EventRecord, runs through the transformers in order, and
// is handed to processor.
func NewDeliveryHandler(processor EventProcessor, logger zerolog.Logger, transformers ...EventTransformer) ingest.DeliveryHandler {
	l := logger.With().Str("component", "DeliveryHandler").Logger()
	return func(ctx context.Context, d *ingest.Delivery) error {
		rec := NewEventRecord(d)
		for _, t := range transformers {
			skip, err := t(ctx, rec)
			if err != nil {
				return err
			}
			if skip {
				l.Debug().Str("record_id", rec.ID).Str("event_type", rec.EventType).Msg("Record skipped by transformer.")
				return nil
			}
		}
		return processor(ctx, rec)
	}
}
