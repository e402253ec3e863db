package cmd

import (
	"fmt"

	"github.com/illmade-knight/go-cnxstream/pkg/credential"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Fetch and print a bearer token",
	Long:  "Run the client-credentials exchange once and print the access token, for checking credentials.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Logging, cmd.ErrOrStderr())

		fetcher, err := credential.NewFetcher(cfg.Credential(), logger)
		if err != nil {
			return err
		}
		token, err := fetcher.Token(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to fetch token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
