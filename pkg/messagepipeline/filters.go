package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/illmade-knight/go-cnxstream/pkg/types"
	"github.com/rs/zerolog"
)

// WithOutcomeFilter is a decorator. The returned processor passes only
// records whose outcome is one of outcomes to inner and silently drops the
// rest.
func WithOutcomeFilter(inner EventProcessor, outcomes ...types.Outcome) EventProcessor {
	allowed := make(map[string]struct{}, len(outcomes))
	for _, o := range outcomes {
		allowed[o.String()] = struct{}{}
	}
	return func(ctx context.Context, rec *EventRecord) error {
		if _, ok := allowed[rec.Outcome]; !ok {
			return nil
		}
		return inner(ctx, rec)
	}
}

// WithEventTypeFilter passes only records of the listed event types to inner.
func WithEventTypeFilter(inner EventProcessor, eventTypes ...string) EventProcessor {
	allowed := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		allowed[t] = struct{}{}
	}
	return func(ctx context.Context, rec *EventRecord) error {
		if _, ok := allowed[rec.EventType]; !ok {
			return nil
		}
		return inner(ctx, rec)
	}
}

// Fanout calls every processor in order, even after one fails, and returns
// the joined errors.
func Fanout(logger zerolog.Logger, processors ...EventProcessor) EventProcessor {
	l := logger.With().Str("component", "Fanout").Logger()
	return func(ctx context.Context, rec *EventRecord) error {
		var errs []error
		for i, p := range processors {
			if err := p(ctx, rec); err != nil {
				l.Warn().Err(err).Int("processor", i).Str("record_id", rec.ID).Msg("Processor failed.")
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// NewLogProcessor writes the console rendering of every record to w and logs
// a summary line through logger.
func NewLogProcessor(w io.Writer, logger zerolog.Logger) EventProcessor {
	l := logger.With().Str("component", "LogProcessor").Logger()
	return func(_ context.Context, rec *EventRecord) error {
		l.Info().
			Str("event_type", rec.EventType).
			Str("subject", rec.Subject).
			Str("tier", string(rec.Tier)).
			Str("outcome", rec.Outcome).
			Int("size_bytes", rec.SizeBytes).
			Msg("Event received.")

		var b strings.Builder
		fmt.Fprintf(&b, "Event type: %s\n", rec.EventType)
		fmt.Fprintf(&b, "%s Event and size is %.3f KB\n", rec.Tier, types.SizeKB(rec.SizeBytes))
		b.WriteString("Decoded Event:\n")
		b.WriteString("==============\n")
		b.WriteString(rec.Event.String())
		if !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
		_, err := io.WriteString(w, b.String())
		return err
	}
}
