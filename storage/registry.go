package storage

import (
	"errors"
	"fmt"

	"harvester/core"
)

// Registry maps component types to their connector. It is built once and only
// read afterwards, so lookups need no locking.
type Registry struct {
	connectors map[core.AffectedComponentType]IndexerConnector
	order      []core.AffectedComponentType
}

// Lookup returns the connector for component. Looking up the invalid component
// type is a caller bug and fails with ErrInvalidComponent.
func (r *Registry) Lookup(component core.AffectedComponentType) (IndexerConnector, error) {
	if !component.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidComponent, component)
	}
	c, ok := r.connectors[component]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConnectorNotFound, component)
	}
	return c, nil
}

// Components returns the registered component types in registration order
func (r *Registry) Components() []core.AffectedComponentType {
	out := make([]core.AffectedComponentType, len(r.order))
	copy(out, r.order)
	return out
}

// Close closes every connector, returning all close errors joined
func (r *Registry) Close() error {
	var errs []error
	for _, component := range r.order {
		if err := r.connectors[component].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s connector: %w", component, err))
		}
	}
	return errors.Join(errs...)
}

// RegistryBuilder collects connectors before the Registry is frozen
type RegistryBuilder struct {
	connectors map[core.AffectedComponentType]IndexerConnector
	order      []core.AffectedComponentType
	errs       []error
}

// NewRegistryBuilder returns an empty builder
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{connectors: make(map[core.AffectedComponentType]IndexerConnector)}
}

// Register adds the connector for component. Errors are reported by Build.
func (b *RegistryBuilder) Register(component core.AffectedComponentType, connector IndexerConnector) *RegistryBuilder {
	switch {
	case !component.IsValid():
		b.errs = append(b.errs, fmt.Errorf("%w: %q", ErrInvalidComponent, component))
	case connector == nil:
		b.errs = append(b.errs, fmt.Errorf("nil connector for %s", component))
	case b.connectors[component] != nil:
		b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrDuplicateConnector, component))
	default:
		b.connectors[component] = connector
		b.order = append(b.order, component)
	}
	return b
}

// Build freezes the registry. The builder must not be reused.
func (b *RegistryBuilder) Build() (*Registry, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	connectors := make(map[core.AffectedComponentType]IndexerConnector, len(b.connectors))
	for k, v := range b.connectors {
		connectors[k] = v
	}
	order := make([]core.AffectedComponentType, len(b.order))
	copy(order, b.order)
	return &Registry{connectors: connectors, order: order}, nil
}
