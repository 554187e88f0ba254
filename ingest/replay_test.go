package ingest

import (
	"context"
	"errors"
	"testing"

	"harvester/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// flakyProcessor fails until healthy is set
type flakyProcessor struct {
	healthy bool
	calls   int
}

func (p *flakyProcessor) Run(ctx context.Context, raw core.RawEvent) (*core.FimContext, error) {
	p.calls++
	data, err := core.NewFimContext(raw)
	if err != nil {
		return nil, err
	}
	if !p.healthy {
		return data, errors.New("indexer unavailable")
	}
	return data, nil
}

func TestReplay(t *testing.T) {
	dlq := setupTestDLQ(t)
	ctx := context.Background()
	logger := zap.NewNop().Sugar()

	add := func(kind string, payload []byte, reason string) {
		require.NoError(t, dlq.Add(ctx, &FailedEvent{RequestID: "r", Kind: kind, Payload: payload, ErrorReason: reason}))
	}
	add(KindDelta, deltaPayload(t, core.DeltaAdded, core.AttributeFile, "/etc/passwd"), ReasonPublishFailure)
	add(KindControl, []byte(`{"action":"deleteAgent","agent_info":{"agent_id":"001"}}`), ReasonPublishFailure)
	add(KindControl, []byte(`not json`), ReasonDecodeFailure)
	add(KindDelta, deltaPayload(t, "renamed", core.AttributeFile, "/etc/passwd"), ReasonClassificationFailure)

	proc := &flakyProcessor{}
	stats, err := Replay(ctx, dlq, proc, 100, logger)
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Replayed: 0, Failed: 2, Discarded: 2}, stats)

	pending, err := dlq.List(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, ev := range pending {
		assert.Equal(t, 1, ev.Retries)
	}

	proc.healthy = true
	stats, err = Replay(ctx, dlq, proc, 100, logger)
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Replayed: 2}, stats)

	n, err := dlq.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReplay_Limit(t *testing.T) {
	dlq := setupTestDLQ(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, dlq.Add(ctx, &FailedEvent{
			RequestID:   "r",
			Kind:        KindControl,
			Payload:     []byte(`{"action":"deleteAgent","agent_info":{"agent_id":"001"}}`),
			ErrorReason: ReasonPublishFailure,
		}))
	}

	stats, err := Replay(ctx, dlq, &flakyProcessor{healthy: true}, 2, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Replayed)

	n, err := dlq.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
