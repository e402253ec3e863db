package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-cnxstream/pkg/types"
	"github.com/rs/zerolog"
)

// EnvelopeDecoder is the decoding step of the loop. An error means the message
// was not a valid envelope.
type EnvelopeDecoder interface {
	Decode(raw []byte) (*types.RawEnvelope, types.DecodedEvent, error)
}

// DeliveryHandler receives every well-formed message in arrival order.
type DeliveryHandler func(ctx context.Context, d *Delivery) error

// TierHandler is told the size class of every message before it is decoded.
type TierHandler func(tier types.Tier, sizeKB float64)

// LoopConfig holds the loop's handlers. Both are optional.
type LoopConfig struct {
	OnDecoded        DeliveryHandler
	OnTierClassified TierHandler
}

// Loop drives a single connection until it ends. Handlers are called
// synchronously, so one message is fully handled before the next Receive.
type Loop struct {
	decoder EnvelopeDecoder
	cfg     LoopConfig
	logger  zerolog.Logger
}

// NewLoop creates a Loop.
func NewLoop(decoder EnvelopeDecoder, cfg LoopConfig, logger zerolog.Logger) (*Loop, error) {
	if decoder == nil {
		return nil, errors.New("ingest: decoder is required")
	}
	return &Loop{
		decoder: decoder,
		cfg:     cfg,
		logger:  logger.With().Str("component", "IngestLoop").Logger(),
	}, nil
}

// Run reads from conn until ctx is cancelled, the peer closes, the transport
// fails, or a message is not a valid envelope. conn is closed exactly once
// before Run returns, whatever the reason.
func (l *Loop) Run(ctx context.Context, conn Connection) Termination {
	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			if err := conn.Close(); err != nil {
				l.logger.Warn().Err(err).Msg("Error closing stream connection.")
			}
		})
	}
	defer closeConn()
	// Cancellation closes the connection, which unblocks a pending Receive.
	stop := context.AfterFunc(ctx, closeConn)
	defer stop()

	l.logger.Info().Msg("Stream ingestion started.")
	term := l.receive(ctx, conn)
	l.logger.Info().
		Str("reason", term.Reason.String()).
		Int("received", term.Received).
		AnErr("cause", term.Err).
		Msg("Stream ingestion stopped.")
	return term
}

func (l *Loop) receive(ctx context.Context, conn Connection) Termination {
	received := 0
	for {
		if ctx.Err() != nil {
			return Termination{Reason: Cancelled, Received: received}
		}

		raw, err := conn.Receive(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return Termination{Reason: Cancelled, Received: received}
			case errors.Is(err, ErrPeerClosed):
				return Termination{Reason: PeerClosed, Received: received}
			default:
				return Termination{Reason: ConnectionFailed, Err: err, Received: received}
			}
		}
		received++

		size := len(raw)
		tier := types.ClassifyTier(size)
		l.logger.Debug().Str("tier", string(tier)).Float64("size_kb", types.SizeKB(size)).Msg("Received message.")
		if l.cfg.OnTierClassified != nil {
			l.cfg.OnTierClassified(tier, types.SizeKB(size))
		}

		env, event, err := l.decoder.Decode(raw)
		if err != nil {
			l.logger.Error().Err(err).Int("size", size).Msg("Received message is not a valid envelope.")
			return Termination{Reason: FatalProtocolError, Err: err, Received: received}
		}

		if l.cfg.OnDecoded == nil {
			continue
		}
		d := &Delivery{
			ID:         uuid.NewString(),
			ReceivedAt: time.Now().UTC(),
			Size:       size,
			Tier:       tier,
			Raw:        raw,
			Envelope:   env,
			Event:      event,
		}
		if err := l.cfg.OnDecoded(ctx, d); err != nil {
			l.logger.Error().Err(err).
				Str("delivery_id", d.ID).
				Str("event_type", event.EventType).
				Msg("Delivery handler failed.")
		}
	}
}
