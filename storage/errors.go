package storage

import "errors"

var (
	// ErrInvalidComponent is returned when a sink is requested for the invalid component type
	ErrInvalidComponent = errors.New("no index for invalid component type")

	// ErrConnectorNotFound is returned when no sink was registered for a component type
	ErrConnectorNotFound = errors.New("indexer connector not found")

	// ErrDuplicateConnector is returned when a component type is registered twice
	ErrDuplicateConnector = errors.New("indexer connector already registered")

	// ErrInvalidMessage is returned for documents that are not valid index messages
	ErrInvalidMessage = errors.New("invalid index message")

	// ErrConnectorClosed is returned by Publish after Close
	ErrConnectorClosed = errors.New("indexer connector is closed")

	// ErrQueueFull is returned when a buffered connector cannot accept more work
	ErrQueueFull = errors.New("indexer connector queue is full")

	// ErrRowsDropped is reported by Sync when rows were discarded after repeated failed flushes
	ErrRowsDropped = errors.New("indexer connector dropped unflushed rows")

	// ErrCircuitBreakerOpen is returned while a guarded connector is failing fast
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when the half-open probe budget is spent
	ErrTooManyRequests = errors.New("too many requests")
)
