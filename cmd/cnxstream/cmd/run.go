package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-cnxstream/pkg/credential"
	"github.com/illmade-knight/go-cnxstream/pkg/envelope"
	"github.com/illmade-knight/go-cnxstream/pkg/ingest"
	"github.com/illmade-knight/go-cnxstream/pkg/messagepipeline"
	"github.com/illmade-knight/go-cnxstream/pkg/metrics"
	"github.com/illmade-knight/go-cnxstream/pkg/microservice"
	"github.com/illmade-knight/go-cnxstream/pkg/registry"
	"github.com/illmade-knight/go-cnxstream/pkg/wsconnect"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds the final flush of every sink.
const shutdownTimeout = 30 * time.Second

func runStream(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	decoder, err := envelope.NewDecoder(registry.MustDefault())
	if err != nil {
		return err
	}

	pipe, err := buildPipeline(ctx, cfg, cmd.OutOrStdout(), logger)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer pipe.shutdown(shutdownTimeout)

	loop, err := ingest.NewLoop(decoder, ingest.LoopConfig{
		OnDecoded:        messagepipeline.NewDeliveryHandler(pipe.processor(), logger, pipe.transformers...),
		OnTierClassified: metrics.ObserveTier,
	}, logger)
	if err != nil {
		return err
	}

	tokens, err := credential.NewFetcher(cfg.Credential(), logger)
	if err != nil {
		return err
	}
	dialer, err := wsconnect.NewDialer(cfg.Websocket(), logger)
	if err != nil {
		return err
	}

	policy := cfg.SupervisorPolicy()
	policy.OnConnected = metrics.ObserveConnected
	policy.OnTermination = func(t ingest.Termination) {
		metrics.ObserveTermination(t)
		logger.Info().Str("reason", t.Reason.String()).Int("received", t.Received).Msg("Stream connection ended.")
	}
	supervisor, err := ingest.NewSupervisor(policy, tokens, dialer.Factory(), loop, logger)
	if err != nil {
		return err
	}

	if cfg.HTTP.Enabled {
		server := microservice.NewBaseServer(logger, cfg.HTTP.Port, metrics.IsConnected)
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().Str("url", cfg.Websocket().StreamURL()).Msg("Starting event stream.")
	if err := supervisor.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Event stream stopped.")
		return err
	}
	logger.Info().Msg("Event stream stopped.")
	return nil
}
