// Package cmd holds the cnxstream command line.
package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/illmade-knight/go-cnxstream/pkg/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cnxstream",
	Short: "Cloud event stream client",
	Long: `cnxstream connects to the event streaming service, decodes every
cloud event it receives and forwards the results to the configured sinks.

Settings come from config.yaml, CNX_ environment variables and flags.`,
	Version:      "0.1.0",
	SilenceUsage: true,
	RunE:         runStream,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/cnxstream/config.yaml)")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(eventTypesCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. An unknown level falls back to info.
func newLogger(cfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "cnxstream").Logger()
}
