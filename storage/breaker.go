package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"harvester/metrics"

	"go.uber.org/zap"
)

// BreakerState is the state of a CircuitBreaker
type BreakerState string

const (
	// BreakerClosed lets requests through
	BreakerClosed BreakerState = "closed"
	// BreakerOpen fails requests immediately
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen lets a limited number of probes through
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes a CircuitBreaker
type BreakerConfig struct {
	MaxFailures         uint32
	Timeout             time.Duration
	MaxHalfOpenRequests uint32
}

// Validate checks the configuration
func (c BreakerConfig) Validate() error {
	if c.MaxFailures == 0 {
		return errors.New("MaxFailures must be greater than 0")
	}
	if c.Timeout <= 0 {
		return errors.New("Timeout must be greater than 0")
	}
	if c.MaxHalfOpenRequests == 0 {
		return errors.New("MaxHalfOpenRequests must be greater than 0")
	}
	return nil
}

// CircuitBreaker trips after MaxFailures consecutive failures and stays open for Timeout
type CircuitBreaker struct {
	config       BreakerConfig
	state        BreakerState
	failures     uint32
	lastFailTime time.Time
	halfOpenReqs uint32
	now          func() time.Time
	mu           sync.Mutex
}

// NewCircuitBreaker validates config and returns a closed breaker
func NewCircuitBreaker(config BreakerConfig) (*CircuitBreaker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker configuration: %w", err)
	}
	return &CircuitBreaker{config: config, state: BreakerClosed, now: time.Now}, nil
}

// Allow reports whether a request may proceed
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		if cb.now().Sub(cb.lastFailTime) <= cb.config.Timeout {
			return ErrCircuitBreakerOpen
		}
		cb.state = BreakerHalfOpen
		cb.halfOpenReqs = 1
		return nil
	case BreakerHalfOpen:
		if cb.halfOpenReqs >= cb.config.MaxHalfOpenRequests {
			return ErrTooManyRequests
		}
		cb.halfOpenReqs++
		return nil
	default:
		return nil
	}
}

// RecordSuccess closes a half-open breaker and resets the failure count
func (cb *CircuitBreaker) RecordSuccess() (oldState, newState BreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState = cb.state
	cb.state = BreakerClosed
	cb.failures = 0
	cb.halfOpenReqs = 0
	return oldState, cb.state
}

// RecordFailure counts a failure, opening the breaker when the limit is hit
// or when a half-open probe fails
func (cb *CircuitBreaker) RecordFailure() (oldState, newState BreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState = cb.state
	cb.lastFailTime = cb.now()
	cb.failures++

	switch cb.state {
	case BreakerClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.state = BreakerOpen
		}
	case BreakerHalfOpen:
		cb.state = BreakerOpen
		cb.halfOpenReqs = 0
	}
	return oldState, cb.state
}

// release returns a half-open probe slot without judging the backend
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerHalfOpen && cb.halfOpenReqs > 0 {
		cb.halfOpenReqs--
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GuardedConnector fails fast while its backend keeps failing
type GuardedConnector struct {
	name    string
	next    IndexerConnector
	breaker *CircuitBreaker
	logger  *zap.SugaredLogger
}

// NewGuardedConnector wraps next with breaker. name labels logs and metrics.
func NewGuardedConnector(name string, next IndexerConnector, breaker *CircuitBreaker, logger *zap.SugaredLogger) *GuardedConnector {
	return &GuardedConnector{name: name, next: next, breaker: breaker, logger: logger}
}

func (g *GuardedConnector) Publish(ctx context.Context, message string) error {
	return g.guard(func() error { return g.next.Publish(ctx, message) })
}

// Sync forwards to the wrapped Syncer through the breaker
func (g *GuardedConnector) Sync(ctx context.Context, agentID string) error {
	s, ok := AsSyncer(g.next)
	if !ok {
		return nil
	}
	return g.guard(func() error { return s.Sync(ctx, agentID) })
}

func (g *GuardedConnector) guard(call func() error) error {
	if err := g.breaker.Allow(); err != nil {
		metrics.PublishErrors.WithLabelValues(g.name).Inc()
		return fmt.Errorf("%s: %w", g.name, err)
	}

	err := call()
	switch {
	case err == nil:
		if old, cur := g.breaker.RecordSuccess(); old != cur {
			metrics.CircuitBreakerOpen.WithLabelValues(g.name).Set(0)
			g.logger.Infow("Circuit breaker closed", "connector", g.name)
		}
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, context.Canceled):
		g.breaker.release()
	default:
		if old, cur := g.breaker.RecordFailure(); old != cur && cur == BreakerOpen {
			metrics.CircuitBreakerOpen.WithLabelValues(g.name).Set(1)
			g.logger.Warnw("Circuit breaker opened", "connector", g.name, "error", err)
		}
	}
	return err
}

func (g *GuardedConnector) Close() error {
	return g.next.Close()
}

// Unwrap returns the guarded connector
func (g *GuardedConnector) Unwrap() IndexerConnector {
	return g.next
}

type unwrapper interface {
	Unwrap() IndexerConnector
}

// AsSyncer finds a Syncer in c or the connectors it wraps. A guarded Syncer is
// returned with its guard so calls still go through the breaker.
func AsSyncer(c IndexerConnector) (Syncer, bool) {
	for c != nil {
		if g, ok := c.(*GuardedConnector); ok {
			if _, ok := AsSyncer(g.next); ok {
				return g, true
			}
			return nil, false
		}
		if s, ok := c.(Syncer); ok {
			return s, true
		}
		u, ok := c.(unwrapper)
		if !ok {
			break
		}
		c = u.Unwrap()
	}
	return nil, false
}

// AsPinger finds a Pinger in c or the connectors it wraps
func AsPinger(c IndexerConnector) (Pinger, bool) {
	for c != nil {
		if p, ok := c.(Pinger); ok {
			return p, true
		}
		u, ok := c.(unwrapper)
		if !ok {
			break
		}
		c = u.Unwrap()
	}
	return nil, false
}
