package storage

import "time"

// ConnectorOptions tunes buffered connectors. Zero values fall back to defaults.
type ConnectorOptions struct {
	BatchSize      int
	FlushInterval  time.Duration
	QueueSize      int
	DedupCacheSize int
}

const (
	defaultBatchSize      = 1000
	defaultFlushInterval  = 5 * time.Second
	defaultQueueSize      = 10000
	defaultDedupCacheSize = 10000

	// finalFlushTimeout bounds the flush performed by Close
	finalFlushTimeout = 30 * time.Second
)

func (o ConnectorOptions) withDefaults() ConnectorOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = defaultFlushInterval
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.DedupCacheSize <= 0 {
		o.DedupCacheSize = defaultDedupCacheSize
	}
	return o
}
