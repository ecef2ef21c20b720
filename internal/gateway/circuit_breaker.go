package gateway

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState represents the current state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed allows all calls through. Consecutive failures are counted.
	BreakerClosed BreakerState = iota
	// BreakerHalfOpen lets probe calls through after the open timeout.
	BreakerHalfOpen
	// BreakerOpen rejects all calls immediately.
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips after a run of consecutive backend failures and stays
// open for a timeout before probing again. It is safe for concurrent use.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	openedAt         time.Time

	now      func() time.Time
	onChange func(BreakerState)
}

// NewCircuitBreaker creates a circuit breaker.
// failureThreshold: consecutive failures to trip from Closed to Open.
// successThreshold: consecutive successes in HalfOpen to return to Closed.
// timeout: duration to stay Open before transitioning to HalfOpen.
func NewCircuitBreaker(failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 2
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		now:              time.Now,
	}
}

// OnStateChange registers a callback invoked with the new state on every
// transition. The callback runs with the breaker lock held and must not call
// back into the breaker.
func (cb *CircuitBreaker) OnStateChange(fn func(BreakerState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onChange = fn
}

// Allow returns nil if a call may proceed, or ErrCircuitOpen.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen()
	if cb.state == BreakerOpen {
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.failures = 0
			cb.successes = 0
			cb.transition(BreakerClosed)
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.trip()
		}
	case BreakerHalfOpen:
		// Any failure while probing reopens.
		cb.trip()
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen()
	return cb.state
}

// Counts returns the current failure and success counts.
func (cb *CircuitBreaker) Counts() (failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures, cb.successes
}

// trip opens the breaker. Must be called with lock held.
func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.now()
	cb.successes = 0
	cb.transition(BreakerOpen)
}

// maybeHalfOpen moves an expired open breaker to half-open. Must be called
// with lock held.
func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) > cb.timeout {
		cb.successes = 0
		cb.transition(BreakerHalfOpen)
	}
}

// transition sets the state and notifies the listener. Must be called with
// lock held.
func (cb *CircuitBreaker) transition(to BreakerState) {
	if cb.state == to {
		return
	}
	cb.state = to
	if cb.onChange != nil {
		cb.onChange(to)
	}
}
