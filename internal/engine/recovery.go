package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/mindscope/internal/bus"
)

// Default recovery parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// RecoveryConfig configures a [Recoverer].
type RecoveryConfig struct {
	// MaxRetries is the maximum number of restart attempts per failure.
	// Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the wait before the first restart attempt. Doubles each
	// attempt up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnRecover is called after analysis was restarted. May be nil.
	OnRecover func(attempt int)
}

// Recoverer restarts analysis after the engine enters the errored state.
//
// It listens for analysisError on the engine's bus. After each failure it
// waits, then calls [Engine.Start] again with exponential backoff until the
// engine analyzes again or the retries run out. An explicit [Engine.Stop]
// or a start from elsewhere ends the cycle: only an engine still errored is
// restarted.
//
// All methods are safe for concurrent use.
type Recoverer struct {
	engine     *Engine
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	onRecover  func(int)

	sub      *bus.Subscription
	done     chan struct{}
	stopOnce sync.Once
	failed   chan struct{} // signalled on analysisError
}

// NewRecoverer creates a [Recoverer] for e and subscribes it to the
// engine's failures. Restarts begin once Run is called.
func NewRecoverer(e *Engine, cfg RecoveryConfig) *Recoverer {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	r := &Recoverer{
		engine:     e,
		maxRetries: maxRetries,
		backoff:    backoff,
		maxBackoff: maxBackoff,
		onRecover:  cfg.OnRecover,
		done:       make(chan struct{}),
		failed:     make(chan struct{}, 1),
	}
	r.sub = e.Bus().OnAnalysisError(func(error) { r.notifyFailure() })
	return r
}

// Run watches the engine until ctx ends or Stop is called. It always
// returns nil.
func (r *Recoverer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.done:
			return nil
		case <-r.failed:
			if r.restart(ctx) {
				// A failure after the restart may have been swallowed with
				// the notifications of our own attempts.
				r.drain()
				if r.engine.State() == Errored {
					r.notifyFailure()
				}
			} else {
				r.drain()
			}
		}
	}
}

// Stop halts recovery and detaches from the bus. Safe to call multiple
// times.
func (r *Recoverer) Stop() {
	r.stopOnce.Do(func() {
		r.sub.Unsubscribe()
		close(r.done)
	})
}

// notifyFailure never blocks the bus.
func (r *Recoverer) notifyFailure() {
	select {
	case r.failed <- struct{}{}:
	default:
	}
}

func (r *Recoverer) drain() {
	select {
	case <-r.failed:
	default:
	}
}

// restart tries to restart analysis with exponential backoff. It reports
// whether the engine was restarted by this cycle.
func (r *Recoverer) restart(ctx context.Context) bool {
	currentBackoff := r.backoff

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-r.done:
			return false
		case <-time.After(currentBackoff):
		}

		if st := r.engine.State(); st != Errored {
			slog.Info("analysis recovery abandoned", "state", st)
			return false
		}

		slog.Info("restarting analysis",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
		)

		err := r.engine.Start(ctx)
		if err == nil {
			slog.Info("analysis restarted", "attempt", attempt, "session_id", r.engine.SessionID())
			if r.onRecover != nil {
				r.onRecover(attempt)
			}
			return true
		}
		if errors.Is(err, ErrAlreadyAcquired) {
			return false
		}

		slog.Warn("analysis restart failed", "attempt", attempt, "err", err)

		currentBackoff *= 2
		if currentBackoff > r.maxBackoff {
			currentBackoff = r.maxBackoff
		}
	}

	slog.Error("analysis recovery failed after max retries", "max_retries", r.maxRetries)
	return false
}
