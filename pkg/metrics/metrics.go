// Package metrics holds the Prometheus instruments of the stream client.
package metrics

import (
	"context"
	"sync/atomic"

	"github.com/illmade-knight/go-cnxstream/pkg/ingest"
	"github.com/illmade-knight/go-cnxstream/pkg/messagepipeline"
	"github.com/illmade-knight/go-cnxstream/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Stream metrics
	EnvelopesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cnxstream_envelopes_total",
			Help: "Total number of envelopes received, by transport tier",
		},
		[]string{"tier"},
	)

	EnvelopeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cnxstream_envelope_bytes",
			Help:    "Serialized size of received envelopes",
			Buckets: prometheus.ExponentialBuckets(256, 2, 12),
		},
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cnxstream_events_total",
			Help: "Total number of decode results, by outcome",
		},
		[]string{"outcome", "event_type"},
	)

	// Connection metrics
	Connected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cnxstream_connected",
			Help: "1 while a stream connection is open",
		},
	)

	TerminationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cnxstream_terminations_total",
			Help: "Total number of loop terminations, by reason",
		},
		[]string{"reason"},
	)

	// Sink metrics
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cnxstream_sink_errors_total",
			Help: "Total number of records a sink failed to accept",
		},
		[]string{"sink"},
	)
)

var connected atomic.Bool

// ObserveTier is an ingest.TierHandler.
func ObserveTier(tier types.Tier, sizeKB float64) {
	EnvelopesTotal.WithLabelValues(string(tier)).Inc()
	EnvelopeBytes.Observe(sizeKB * 1024)
}

// ObserveConnected marks the connection up.
func ObserveConnected() {
	connected.Store(true)
	Connected.Set(1)
}

// ObserveTermination marks the connection down and counts the reason.
func ObserveTermination(t ingest.Termination) {
	connected.Store(false)
	Connected.Set(0)
	TerminationsTotal.WithLabelValues(t.Reason.String()).Inc()
}

// IsConnected reports whether a stream connection is open.
func IsConnected() bool {
	return connected.Load()
}

// CountEvents counts each record's outcome before passing it on.
func CountEvents(next messagepipeline.EventProcessor) messagepipeline.EventProcessor {
	return func(ctx context.Context, rec *messagepipeline.EventRecord) error {
		eventType := rec.EventType
		if rec.Event.Outcome == types.OutcomeUnhandled {
			// Unknown types are unbounded; keep the label set small.
			eventType = "unhandled"
		}
		EventsTotal.WithLabelValues(rec.Outcome, eventType).Inc()
		return next(ctx, rec)
	}
}

// CountSinkErrors counts the errors returned by a named sink.
func CountSinkErrors(name string, p messagepipeline.EventProcessor) messagepipeline.EventProcessor {
	return func(ctx context.Context, rec *messagepipeline.EventRecord) error {
		err := p(ctx, rec)
		if err != nil {
			SinkErrorsTotal.WithLabelValues(name).Inc()
		}
		return err
	}
}
