package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"harvester/bootstrap"
	"harvester/storage"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// checkResult is the health of one component's connector
type checkResult struct {
	Component string `json:"component"`
	Index     string `json:"index"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
}

func newCheckCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check connectivity to the configured indexer",
		Long:  "Connect to the configured indexer, create the connectors for every index and ping them.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			cfg, sugar, err := loadCLIConfig()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if !outputJSON && !quiet {
				infoColor.Fprintf(w, "Checking %s indexer...\n", cfg.Indexer.Connector)
			}

			var s *spinner.Spinner
			if !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
				s.Suffix = " Connecting..."
				s.Start()
			}

			sc, err := bootstrap.InitStorage(ctx, cfg, sugar)
			if err != nil {
				if s != nil {
					s.Stop()
				}
				return fmt.Errorf("indexer check failed: %w", err)
			}
			defer sc.Close()

			pings := sc.Ping(ctx)
			if s != nil {
				s.Stop()
			}

			var results []checkResult
			failed := 0
			for _, component := range sc.Registry.Components() {
				r := checkResult{
					Component: component.String(),
					Index:     storage.IndexName(cfg.Indexer.IndexPrefix, component, cfg.Cluster.Name),
					Healthy:   pings[component] == nil,
				}
				if err := pings[component]; err != nil {
					r.Error = err.Error()
					failed++
				}
				results = append(results, r)
			}

			if outputJSON {
				if err := outputAsJSON(w, results); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					if r.Healthy {
						successColor.Fprintf(w, "  ✓ %-10s %s\n", r.Component, r.Index)
					} else {
						errorColor.Fprintf(w, "  ✗ %-10s %s: %s\n", r.Component, r.Index, r.Error)
					}
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d connectors are unhealthy", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Overall timeout")
	return cmd
}
