package fim

import (
	"context"
	"fmt"

	"harvester/core"
)

// Handler is one stage of a chain
type Handler interface {
	Handle(ctx context.Context, data *core.FimContext) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, data *core.FimContext) error

// Handle calls f(ctx, data)
func (f HandlerFunc) Handle(ctx context.Context, data *core.FimContext) error {
	return f(ctx, data)
}

// Named is implemented by stages that report a name in errors and logs
type Named interface {
	Name() string
}

func stageName(h Handler) string {
	if n, ok := h.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}

// Chain runs its stages in order. The first error stops the chain and is returned.
type Chain struct {
	name     string
	handlers []Handler
}

// Handle runs every stage on data
func (c *Chain) Handle(ctx context.Context, data *core.FimContext) error {
	for _, h := range c.handlers {
		if err := h.Handle(ctx, data); err != nil {
			return fmt.Errorf("%s: %s: %w", c.name, stageName(h), err)
		}
	}
	return nil
}

// Name returns the chain name
func (c *Chain) Name() string { return c.name }

// Stages returns the stage names in order
func (c *Chain) Stages() []string {
	names := make([]string, len(c.handlers))
	for i, h := range c.handlers {
		names[i] = stageName(h)
	}
	return names
}

// ChainBuilder assembles a Chain
type ChainBuilder struct {
	name     string
	handlers []Handler
	err      error
}

// NewChainBuilder starts a chain called name
func NewChainBuilder(name string) *ChainBuilder {
	return &ChainBuilder{name: name}
}

// Then appends h
func (b *ChainBuilder) Then(h Handler) *ChainBuilder {
	if h == nil {
		if b.err == nil {
			b.err = fmt.Errorf("%s: nil handler at position %d", b.name, len(b.handlers))
		}
		return b
	}
	b.handlers = append(b.handlers, h)
	return b
}

// Build returns the chain
func (b *ChainBuilder) Build() (*Chain, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.handlers) == 0 {
		return nil, fmt.Errorf("%s: %w", b.name, ErrEmptyChain)
	}
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	return &Chain{name: b.name, handlers: handlers}, nil
}
