package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// SupervisorConfig sets the reconnect policy.
type SupervisorConfig struct {
	// Reconnect opens a new connection after a non-cancelled termination. When
	// false the supervisor returns after the first run.
	Reconnect bool
	// MaxAttempts is the number of consecutive attempts that end without
	// receiving a message before the supervisor gives up. Zero means no limit.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// OnConnected is called after each successful connect.
	OnConnected func()
	// OnTermination is called after each loop run.
	OnTermination func(Termination)
}

// DefaultSupervisorConfig returns the standard reconnect policy.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Reconnect:      true,
		MaxAttempts:    10,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

// Supervisor fetches a token, connects, and runs the loop, reconnecting with
// exponential backoff when the stream ends.
type Supervisor struct {
	tokens  TokenSource
	factory ConnectionFactory
	loop    *Loop
	cfg     SupervisorConfig
	logger  zerolog.Logger
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(cfg SupervisorConfig, tokens TokenSource, factory ConnectionFactory, loop *Loop, logger zerolog.Logger) (*Supervisor, error) {
	if tokens == nil {
		return nil, errors.New("ingest: token source is required")
	}
	if factory == nil {
		return nil, errors.New("ingest: connection factory is required")
	}
	if loop == nil {
		return nil, errors.New("ingest: loop is required")
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return &Supervisor{
		tokens:  tokens,
		factory: factory,
		loop:    loop,
		cfg:     cfg,
		logger:  logger.With().Str("component", "StreamSupervisor").Logger(),
	}, nil
}

// Run blocks until ctx is cancelled or the reconnect policy is exhausted. It
// returns nil on cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialBackoff
	bo.MaxInterval = s.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	failures := 0
	for {
		term, err := s.attempt(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if err == nil {
			if term.Reason == Cancelled {
				return nil
			}
			err = terminationError(term)
		}

		if !s.cfg.Reconnect {
			if term.Reason == PeerClosed {
				return nil
			}
			return err
		}

		if term.Received > 0 {
			failures = 0
			bo.Reset()
		} else {
			failures++
			if s.cfg.MaxAttempts > 0 && failures >= s.cfg.MaxAttempts {
				return fmt.Errorf("giving up after %d attempts: %w", failures, err)
			}
		}

		wait := bo.NextBackOff()
		s.logger.Warn().Err(err).Int("attempt", failures).Dur("backoff", wait).Msg("Stream ended, reconnecting.")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// attempt runs one connect-and-receive cycle. A non-nil error means no
// connection was established.
func (s *Supervisor) attempt(ctx context.Context) (Termination, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return Termination{}, fmt.Errorf("fetch token: %w", err)
	}

	conn, err := s.factory.Connect(ctx, token)
	if err != nil {
		var auth interface{ Unauthorized() bool }
		if errors.As(err, &auth) && auth.Unauthorized() {
			s.logger.Warn().Msg("Stream rejected the token, invalidating it.")
			s.tokens.Invalidate()
		}
		return Termination{}, fmt.Errorf("connect: %w", err)
	}
	if s.cfg.OnConnected != nil {
		s.cfg.OnConnected()
	}

	term := s.loop.Run(ctx, conn)
	if s.cfg.OnTermination != nil {
		s.cfg.OnTermination(term)
	}
	return term, nil
}

func terminationError(t Termination) error {
	if t.Err != nil {
		return fmt.Errorf("%s: %w", t.Reason, t.Err)
	}
	if t.Reason == PeerClosed {
		return ErrPeerClosed
	}
	return errors.New(t.Reason.String())
}
