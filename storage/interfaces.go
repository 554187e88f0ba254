package storage

import (
	"context"
)

// IndexerConnector is the sink for one index. Publish accepts one serialized
// index message (INSERTED, DELETED or DELETED_BY_QUERY). Batching, retries and
// backpressure are the connector's business.
type IndexerConnector interface {
	Publish(ctx context.Context, message string) error
	Close() error
}

// Syncer is implemented by connectors that can resynchronize the documents of one
// agent, typically by flushing buffered writes.
type Syncer interface {
	Sync(ctx context.Context, agentID string) error
}

// Pinger is implemented by connectors backed by a remote service
type Pinger interface {
	Ping(ctx context.Context) error
}
