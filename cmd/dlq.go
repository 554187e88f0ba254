package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"harvester/bootstrap"
	"harvester/core"
	"harvester/fim"
	"harvester/ingest"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDLQCmd() *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay the dead letter queue",
		Long: `Inspect and replay events that failed to decode, classify or publish.

Replaying runs pending events through the handler chains again against the
configured indexer.`,
	}

	dlqCmd.AddCommand(newDLQListCmd())
	dlqCmd.AddCommand(newDLQShowCmd())
	dlqCmd.AddCommand(newDLQReplayCmd())
	dlqCmd.AddCommand(newDLQDiscardCmd())

	return dlqCmd
}

// openDLQ opens the configured dead letter queue. Returns the queue, the logger
// and a cleanup function.
func openDLQ() (*ingest.DLQ, *zap.SugaredLogger, func(), error) {
	cfg, sugar, err := loadCLIConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if !cfg.DLQ.Enabled {
		return nil, nil, nil, fmt.Errorf("the dead letter queue is disabled (dlq.enabled=false)")
	}

	dlq, err := ingest.OpenDLQ(cfg.DLQ.Path, sugar)
	if err != nil {
		fmt.Fprintln(os.Stderr, bootstrap.ClassifyDLQError(err, cfg.DLQ.Path))
		return nil, nil, nil, err
	}
	return dlq, sugar, func() { _ = dlq.Close() }, nil
}

func newDLQListCmd() *cobra.Command {
	var (
		reason string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List pending events",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			dlq, _, cleanup, err := openDLQ()
			if err != nil {
				return err
			}
			defer cleanup()

			events, err := dlq.List(ctx, reason, limit, offset)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if outputJSON {
				return outputAsJSON(w, events)
			}
			renderDLQTable(w, events)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Filter by reason: decode_failure, classification_failure or publish_failure")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of events")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of events to skip")
	return cmd
}

func newDLQShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one event and its decoded payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid event id %q", args[0])
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			dlq, _, cleanup, err := openDLQ()
			if err != nil {
				return err
			}
			defer cleanup()

			event, err := dlq.Get(ctx, id)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if outputJSON {
				return outputAsJSON(w, event)
			}
			renderDLQEvent(w, event)
			return nil
		},
	}
}

func newDLQReplayCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run pending events through the handler chains again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			cfg, sugar, err := loadCLIConfig()
			if err != nil {
				return err
			}
			dlq, err := ingest.OpenDLQ(cfg.DLQ.Path, sugar)
			if err != nil {
				return err
			}
			defer dlq.Close()

			sc, err := bootstrap.InitStorage(ctx, cfg, sugar)
			if err != nil {
				return err
			}
			// flushes buffered connectors before the stats are printed
			defer sc.Close()

			orchestrator, err := fim.NewOrchestrator(sc.Registry, fim.ClusterInfo{
				Name: cfg.Cluster.Name,
				Node: cfg.Cluster.NodeName,
			}, sugar)
			if err != nil {
				return err
			}

			var s *spinner.Spinner
			if !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
				s.Suffix = " Replaying dead letters..."
				s.Start()
			}

			stats, err := ingest.Replay(ctx, dlq, orchestrator, limit, sugar)
			if s != nil {
				s.Stop()
			}
			if err != nil {
				return fmt.Errorf("replay aborted: %w", err)
			}

			w := cmd.OutOrStdout()
			if outputJSON {
				return outputAsJSON(w, stats)
			}
			successColor.Fprintf(w, "Replayed:  %d\n", stats.Replayed)
			if stats.Failed > 0 {
				errorColor.Fprintf(w, "Failed:    %d\n", stats.Failed)
			} else {
				fmt.Fprintf(w, "Failed:    %d\n", stats.Failed)
			}
			warningColor.Fprintf(w, "Discarded: %d\n", stats.Discarded)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 1000, "Maximum number of events to replay")
	return cmd
}

func newDLQDiscardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <id>...",
		Short: "Mark events as discarded",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			dlq, _, cleanup, err := openDLQ()
			if err != nil {
				return err
			}
			defer cleanup()

			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid event id %q", arg)
				}
				if _, err := dlq.Get(ctx, id); err != nil {
					return err
				}
				if err := dlq.UpdateStatus(ctx, id, ingest.StatusDiscarded); err != nil {
					return err
				}
				if !quiet {
					successColor.Fprintf(cmd.OutOrStdout(), "Discarded event %d\n", id)
				}
			}
			return nil
		},
	}
}

func renderDLQTable(w io.Writer, events []*ingest.DLQEvent) {
	if len(events) == 0 {
		successColor.Fprintln(w, "No pending events")
		return
	}

	headerColor.Fprintln(w, "DEAD LETTERS")
	headerColor.Fprintln(w, strings.Repeat("=", 110))
	fmt.Fprintf(w, "%-8s %-8s %-24s %-10s %-8s %-10s %s\n",
		"ID", "Kind", "Reason", "Agent", "Retries", "Age", "Details")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for _, e := range events {
		fmt.Fprintf(w, "%-8d %-8s %-24s %-10s %-8d %-10s %s\n",
			e.ID, e.Kind, e.ErrorReason, truncate(e.AgentID, 10), e.Retries,
			formatTimeSince(e.CreatedAt), truncate(e.ErrorDetails, 40))
	}
	fmt.Fprintln(w, strings.Repeat("=", 110))
}

func renderDLQEvent(w io.Writer, e *ingest.DLQEvent) {
	printSection(w, fmt.Sprintf("Dead letter %d", e.ID))
	printField(w, "Request ID", e.RequestID)
	printField(w, "Kind", e.Kind)
	printField(w, "Agent", e.AgentID)
	printField(w, "Reason", e.ErrorReason)
	printField(w, "Details", e.ErrorDetails)
	printField(w, "Source", e.SourceIP)
	printField(w, "Status", e.Status)
	printField(w, "Retries", strconv.Itoa(e.Retries))
	printField(w, "Created", e.CreatedAt.Format(time.RFC3339)+" ("+formatTimeSince(e.CreatedAt)+")")
	fmt.Fprintln(w)

	printSection(w, "Payload")
	fmt.Fprintf(w, "  %s\n", payloadAsText(e.Kind, e.Payload))
}

// payloadAsText renders a stored payload readably: binary payloads are decoded
// and shown as JSON when possible
func payloadAsText(kind string, payload []byte) string {
	if kind == ingest.KindControl {
		return string(payload)
	}

	decode, ok := ingest.DecoderFor(kind)
	if !ok {
		return fmt.Sprintf("%d bytes of unknown kind", len(payload))
	}
	raw, err := decode(payload)
	if err != nil {
		return fmt.Sprintf("%d undecodable bytes: %v", len(payload), err)
	}

	var v interface{}
	switch raw.Type() {
	case core.VariantDelta:
		v = raw.Delta()
	case core.VariantSyncMsg:
		v = raw.SyncMsg()
	}
	out, err := json.MarshalIndent(v, "  ", "  ")
	if err != nil {
		return err.Error()
	}
	return string(out)
}
