// Package resilience provides the circuit breaker that guards outbound
// relay deliveries.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open). A
// broker that keeps failing is skipped quickly instead of stalling the
// relay queue on every event, and it is tried again after a cool-down.
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
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of trial calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before letting trial
	// calls through. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful trials needed to close again,
	// and the cap on concurrent trials. Default: 3.
	HalfOpenMax int

	// OnStateChange, when set, is called after every transition with the
	// breaker's lock released.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(string, State, State)
	now           func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	trials          int
	trialSuccesses  int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
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
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
		state:         StateClosed,
	}
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn if the breaker allows it and records the outcome. While
// open it returns [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	halfOpened := false
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.trials = 0
		cb.trialSuccesses = 0
		halfOpened = true
	}
	trialing := cb.state == StateHalfOpen
	if trialing && cb.trials >= cb.halfOpenMax {
		cb.mu.Unlock()
		return ErrCircuitOpen
	}
	if trialing {
		cb.trials++
	}
	cb.mu.Unlock()
	if halfOpened {
		slog.Info("circuit breaker transitioning to half-open", "name", cb.name)
		cb.notify(StateOpen, StateHalfOpen)
	}

	err := fn()

	cb.mu.Lock()
	before := cb.state
	if err != nil {
		cb.recordFailure(trialing)
	} else {
		cb.recordSuccess(trialing)
	}
	after := cb.state
	cb.mu.Unlock()
	cb.notify(before, after)
	return err
}

// recordFailure must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(trialing bool) {
	if trialing {
		cb.trip()
		slog.Warn("circuit breaker re-opened by failed trial call", "name", cb.name)
		return
	}
	cb.consecutiveFail++
	if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
		cb.trip()
		slog.Warn("circuit breaker opened",
			"name", cb.name,
			"consecutive_failures", cb.consecutiveFail)
	}
}

// recordSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(trialing bool) {
	if !trialing {
		cb.consecutiveFail = 0
		return
	}
	if cb.state != StateHalfOpen {
		// A concurrent trial call already failed.
		return
	}
	cb.trialSuccesses++
	if cb.trialSuccesses >= cb.halfOpenMax {
		cb.state = StateClosed
		cb.consecutiveFail = 0
		cb.trials = 0
		cb.trialSuccesses = 0
		slog.Info("circuit breaker closed after successful trials", "name", cb.name)
	}
}

// trip must be called with cb.mu held.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.consecutiveFail = cb.maxFailures
	cb.trials = 0
	cb.trialSuccesses = 0
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from == to || cb.onStateChange == nil {
		return
	}
	cb.onStateChange(cb.name, from, to)
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the
// next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed] and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.trials = 0
	cb.trialSuccesses = 0
	cb.mu.Unlock()

	slog.Info("circuit breaker manually reset", "name", cb.name)
	cb.notify(from, StateClosed)
}
