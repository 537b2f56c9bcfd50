package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcdev12/numguess/go/clients/game_api_client"
)

func newHealthCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the game server is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg)

			if timeout <= 0 {
				timeout = cfg.Engine.Timeouts.Full
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client := game_api_client.NewGameApiClient(cfg.BaseURL)
			start := time.Now()
			if err := client.Health(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is up (%s)\n", cfg.BaseURL, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "request timeout (default: the full sync timeout)")
	return cmd
}
