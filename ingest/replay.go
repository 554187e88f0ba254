package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// DLQ statuses
const (
	StatusPending   = "pending"
	StatusReplayed  = "replayed"
	StatusDiscarded = "discarded"
)

// ReplayStats summarizes a Replay run
type ReplayStats struct {
	Replayed  int
	Failed    int
	Discarded int
}

// Replay runs up to limit pending events through processor again. Events that
// still cannot be decoded are discarded; events that fail again stay pending with
// their retry count incremented.
func Replay(ctx context.Context, dlq *DLQ, processor Processor, limit int, logger *zap.SugaredLogger) (ReplayStats, error) {
	var stats ReplayStats

	events, err := dlq.List(ctx, "", limit, 0)
	if err != nil {
		return stats, err
	}

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		decode, ok := DecoderFor(event.Kind)
		if !ok {
			return stats, fmt.Errorf("DLQ event %d has unknown kind %q", event.ID, event.Kind)
		}
		raw, err := decode(event.Payload)
		if err != nil {
			stats.Discarded++
			if err := dlq.UpdateStatus(ctx, event.ID, StatusDiscarded); err != nil {
				return stats, err
			}
			continue
		}

		if _, err := processor.Run(ctx, raw); err != nil {
			logger.Debugw("Replay failed", "dlq_id", event.ID, "request_id", event.RequestID, "error", err)
			if isClassificationFailure(err) {
				stats.Discarded++
				if err := dlq.UpdateStatus(ctx, event.ID, StatusDiscarded); err != nil {
					return stats, err
				}
				continue
			}
			stats.Failed++
			if err := dlq.IncrementRetries(ctx, event.ID); err != nil {
				return stats, err
			}
			continue
		}

		stats.Replayed++
		if err := dlq.UpdateStatus(ctx, event.ID, StatusReplayed); err != nil {
			return stats, err
		}
	}

	logger.Infow("DLQ replay finished",
		"replayed", stats.Replayed,
		"failed", stats.Failed,
		"discarded", stats.Discarded)
	return stats, nil
}
