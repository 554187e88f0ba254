package fim

import (
	"context"
	"fmt"
	"time"

	"harvester/core"
	"harvester/metrics"
	"harvester/storage"

	"go.uber.org/zap"
)

// Orchestrator classifies raw events and runs the chain of their operation
type Orchestrator struct {
	chains map[core.Operation]*Chain
	logger *zap.SugaredLogger
}

// NewOrchestrator builds the chain of every operation on top of registry
func NewOrchestrator(registry *storage.Registry, cluster ClusterInfo, logger *zap.SugaredLogger) (*Orchestrator, error) {
	publish := NewPublishElement(registry)
	clearAgent := NewClearAgent(registry)

	builders := map[core.Operation]*ChainBuilder{
		core.OperationUpsert: NewChainBuilder("upsert").
			Then(NewBuildElement(cluster)).
			Then(publish),
		core.OperationDelete: NewChainBuilder("delete").
			Then(BuildDeletedElement{}).
			Then(publish),
		core.OperationDeleteAllEntries: NewChainBuilder("delete_all_entries").
			Then(NewClearElements(registry)),
		core.OperationDeleteAgent: NewChainBuilder("delete_agent").
			Then(clearAgent),
		core.OperationIndexSync: NewChainBuilder("index_sync").
			Then(NewIndexSync(registry, logger)),
		// the agent rebuilt its database and resends its state
		core.OperationUpgradeAgentDB: NewChainBuilder("upgrade_agent_db").
			Then(clearAgent),
	}

	chains := make(map[core.Operation]*Chain, len(builders))
	for op, b := range builders {
		chain, err := b.Build()
		if err != nil {
			return nil, err
		}
		chains[op] = chain
	}
	return &Orchestrator{chains: chains, logger: logger}, nil
}

// Chain returns the chain run for op
func (o *Orchestrator) Chain(op core.Operation) (*Chain, bool) {
	c, ok := o.chains[op]
	return c, ok
}

// Run classifies raw and runs its chain. The returned context is nil when
// classification failed and unclassified when the event was skipped.
func (o *Orchestrator) Run(ctx context.Context, raw core.RawEvent) (*core.FimContext, error) {
	data, err := core.NewFimContext(raw)
	if err != nil {
		metrics.ClassificationFailures.WithLabelValues(raw.Type().String()).Inc()
		return nil, err
	}
	if !data.Classified() {
		metrics.EventsSkipped.Inc()
		o.logger.Debugw("Skipping event for untracked component",
			"agent_id", data.AgentID(),
			"variant", raw.Type())
		return data, nil
	}

	op := data.Operation()
	chain, ok := o.chains[op]
	if !ok {
		return data, fmt.Errorf("%w: %s", ErrNoChain, op)
	}

	start := time.Now()
	err = chain.Handle(ctx, data)
	metrics.ChainDuration.WithLabelValues(op.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		o.logger.Warnw("Handler chain failed",
			"agent_id", data.AgentID(),
			"operation", op,
			"component", data.AffectedComponentType(),
			"error", err)
		return data, err
	}

	metrics.EventsProcessed.WithLabelValues(op.String(), data.AffectedComponentType().String()).Inc()
	o.logger.Debugw("Event processed",
		"agent_id", data.AgentID(),
		"operation", op,
		"component", data.AffectedComponentType(),
		"origin", data.OriginTable())
	return data, nil
}
