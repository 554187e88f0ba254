package fim

import "errors"

var (
	// ErrEmptyChain is returned when a chain is built without stages
	ErrEmptyChain = errors.New("handler chain has no stages")

	// ErrNoChain is returned when no chain handles the event's operation
	ErrNoChain = errors.New("no handler chain for operation")

	// ErrNoElement is returned when a publish stage runs before any build stage
	ErrNoElement = errors.New("no serialized element to publish")
)
