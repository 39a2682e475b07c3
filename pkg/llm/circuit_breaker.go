package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed means requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the provider has failed repeatedly and requests are rejected.
	CircuitOpen
	// CircuitHalfOpen means one probe request is in flight.
	CircuitHalfOpen
)

// String returns a human-readable string for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Threshold is the number of consecutive failures before the circuit trips.
	Threshold int
	// ResetAfter is how long the circuit stays open before a probe is allowed.
	ResetAfter time.Duration
}

// DefaultCircuitBreakerConfig returns the defaults used when config is zero.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:  5,
		ResetAfter: 30 * time.Second,
	}
}

// CircuitBreaker trips open after N consecutive provider failures.
type CircuitBreaker struct {
	mu               sync.Mutex
	consecutiveFails int
	threshold        int
	resetAfter       time.Duration
	lastFailure      time.Time
	state            CircuitState
	now              func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	defaults := DefaultCircuitBreakerConfig()
	if config.Threshold <= 0 {
		config.Threshold = defaults.Threshold
	}
	if config.ResetAfter <= 0 {
		config.ResetAfter = defaults.ResetAfter
	}
	return &CircuitBreaker{
		threshold:  config.Threshold,
		resetAfter: config.ResetAfter,
		state:      CircuitClosed,
		now:        time.Now,
	}
}

// Allow reports whether a request may proceed. After ResetAfter an open
// circuit lets exactly one probe through.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) > cb.resetAfter {
			cb.state = CircuitHalfOpen
			return nil
		}
		return NewError(ErrorTypeCircuit,
			fmt.Sprintf("provider unavailable after %d consecutive failures", cb.consecutiveFails), false, nil)
	case CircuitHalfOpen:
		return NewError(ErrorTypeCircuit, "provider recovery probe in flight", false, nil)
	default:
		return NewError(ErrorTypeCircuit, fmt.Sprintf("unknown circuit state %v", cb.state), false, nil)
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure and trips the circuit at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails++
	cb.lastFailure = cb.now()

	if cb.state == CircuitHalfOpen || cb.consecutiveFails >= cb.threshold {
		cb.state = CircuitOpen
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current count of consecutive failures.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFails
}

// record classifies err and updates the breaker. Caller-side cancellation and
// bad requests say nothing about provider health and are ignored.
func (cb *CircuitBreaker) record(err error) {
	if err == nil {
		cb.RecordSuccess()
		return
	}
	switch GetErrorType(err) {
	case ErrorTypeEndpoint, ErrorTypeTimeout, ErrorTypeRateLimit:
		if IsRetryable(err) {
			cb.RecordFailure()
			return
		}
	}
	cb.mu.Lock()
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.consecutiveFails = 0
	}
	cb.mu.Unlock()
}

// guardedClient wraps an LLMClient with a circuit breaker.
type guardedClient struct {
	LLMClient
	breaker *CircuitBreaker
}

// WithCircuitBreaker returns client guarded by breaker.
func WithCircuitBreaker(client LLMClient, breaker *CircuitBreaker) LLMClient {
	if breaker == nil {
		return client
	}
	return &guardedClient{LLMClient: client, breaker: breaker}
}

func (g *guardedClient) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	if err := g.breaker.Allow(); err != nil {
		return "", err
	}
	out, err := g.LLMClient.Complete(ctx, req)
	g.breaker.record(err)
	return out, err
}

func (g *guardedClient) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamEvent, error) {
	if err := g.breaker.Allow(); err != nil {
		return nil, err
	}
	upstream, err := g.LLMClient.Stream(ctx, req)
	if err != nil {
		g.breaker.record(err)
		return nil, err
	}

	events := make(chan StreamEvent, streamBuffer)
	go func() {
		defer close(events)
		for ev := range upstream {
			switch ev.Type {
			case StreamEventDone:
				g.breaker.record(nil)
			case StreamEventError:
				g.breaker.record(ev.Err)
			}
			if !emit(ctx, events, ev) {
				// Drain so the upstream producer can exit.
				for range upstream {
				}
				return
			}
		}
	}()
	return events, nil
}
