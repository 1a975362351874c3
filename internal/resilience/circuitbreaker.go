// Package resilience provides the circuit breaker that sits between the
// client and the nutrition backend.
//
// Photo recognition and style listing both go through [CircuitBreaker], a
// three-state breaker (closed, open, half-open). When the backend starts
// failing every call, the breaker opens and callers get [ErrCircuitOpen]
// immediately instead of waiting out another doomed HTTP round trip. After
// a cool-down a small probe budget decides whether the backend recovered.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls: either the cool-down has not elapsed yet, or the
// half-open probe budget is spent.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call. Normal operation.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen]. Entered after a
	// streak of failures, left when the reset timeout elapses.
	StateOpen

	// StateHalfOpen forwards a bounded number of probe calls. All probes
	// succeeding closes the breaker; a single failure re-opens it.
	StateHalfOpen
)

// String returns the state name used in logs and error messages.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values fall back to
// the defaults documented on each field.
type CircuitBreakerConfig struct {
	// Name labels this breaker in log output.
	Name string

	// MaxFailures is the failure streak that opens a closed breaker.
	// Default 5.
	MaxFailures int

	// ResetTimeout is the cool-down before an open breaker lets probe
	// calls through again. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget in the half-open state. Default 3.
	HalfOpenMax int
}

// CircuitBreaker guards a downstream dependency against sustained failure.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu          sync.Mutex
	state       State
	failStreak  int
	lastFailure time.Time
	probeCalls  int
	probeFails  int
}

// NewCircuitBreaker creates a breaker in the closed state, filling unset
// config fields with their defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		state:        StateClosed,
	}
}

// Execute runs fn when the breaker allows it and feeds the result back
// into the failure accounting. In the open state fn is never called and
// Execute returns [ErrCircuitOpen].
func (cb *CircuitBreaker) Execute(fn func() error) error {
	inProbe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	if err != nil {
		cb.onFailure(inProbe)
	} else {
		cb.onSuccess(inProbe)
	}
	cb.mu.Unlock()
	return err
}

// admit decides whether a call may proceed, moving an open breaker to
// half-open once the cool-down elapsed. inProbe reports whether the call
// counts against the half-open probe budget.
func (cb *CircuitBreaker) admit() (inProbe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probeCalls = 0
		cb.probeFails = 0
		slog.Info("circuit breaker half-open, probing backend", "name", cb.name)

	case StateHalfOpen:
		if cb.probeCalls >= cb.halfOpenMax {
			// Probe budget spent; the pending probes decide the outcome.
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probeCalls++
		return true, nil
	}
	return false, nil
}

// onFailure updates the accounting after a failed call. Caller holds cb.mu.
func (cb *CircuitBreaker) onFailure(inProbe bool) {
	cb.lastFailure = time.Now()

	if inProbe {
		// One failed probe is enough evidence the backend is still down.
		cb.probeFails++
		cb.state = StateOpen
		cb.failStreak = cb.maxFailures
		slog.Warn("circuit breaker re-opened, probe failed", "name", cb.name)
		return
	}

	cb.failStreak++
	if cb.failStreak >= cb.maxFailures {
		cb.state = StateOpen
		slog.Warn("circuit breaker opened",
			"name", cb.name,
			"consecutive_failures", cb.failStreak)
	}
}

// onSuccess updates the accounting after a successful call. Caller holds
// cb.mu.
func (cb *CircuitBreaker) onSuccess(inProbe bool) {
	if !inProbe {
		cb.failStreak = 0
		return
	}

	if cb.probeCalls-cb.probeFails >= cb.halfOpenMax {
		cb.state = StateClosed
		cb.failStreak = 0
		cb.probeCalls = 0
		cb.probeFails = 0
		slog.Info("circuit breaker closed, backend recovered", "name", cb.name)
	}
}

// State reports the breaker's current state. An open breaker whose
// cool-down elapsed reports [StateHalfOpen] even though the transition is
// committed on the next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failStreak = 0
	cb.probeCalls = 0
	cb.probeFails = 0
	slog.Info("circuit breaker manually reset", "name", cb.name)
}
