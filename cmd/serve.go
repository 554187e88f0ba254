package cmd

import (
	"context"
	"fmt"

	"harvester/bootstrap"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the harvester service",
		Long:  "Start the ingest listener and publish every accepted event to the configured indexer until SIGINT or SIGTERM.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			app, err := bootstrap.NewApp(ctx, configFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			if err := app.Start(ctx); err != nil {
				app.Shutdown()
				return fmt.Errorf("failed to start application: %w", err)
			}

			app.WaitForShutdown(ctx)
			app.Shutdown()
			return nil
		},
	}
}
