// Package engine runs the sampling loop that turns a live capture session
// into a stream of classified emotion samples.
//
// An [Engine] owns one [SessionManager]. [Engine.Start] acquires the
// capture device and launches a loop that, every tick, reads one analysis
// frame, extracts features, classifies them, stores confident samples in
// the history buffer and publishes every sample on the notification bus.
// Ticks run back to back: the next one is scheduled a fixed interval after
// the previous one completes, so a slow tick delays rather than overlaps.
//
// Lifecycle:
//
//	Idle ──Start──▶ Acquiring ──ok──▶ Analyzing ──Stop──▶ Stopped
//	                    │                 │
//	                    └──fail──▶ Errored ◀──device failure
//
// Start from Stopped or Errored begins a fresh session. Stop is idempotent
// and only announces analysisStopped when it actually ends a running
// session.
//
// This package lives under internal/ because the loop is application
// machinery; embedders talk to it through [Engine].
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/mindscope/internal/bus"
	"github.com/MrWong99/mindscope/internal/classify"
	"github.com/MrWong99/mindscope/internal/features"
	"github.com/MrWong99/mindscope/internal/history"
	"github.com/MrWong99/mindscope/internal/observe"
	"github.com/MrWong99/mindscope/pkg/audio"
	"github.com/MrWong99/mindscope/pkg/types"
)

// DefaultInterval is the pause between the end of one tick and the start of
// the next.
const DefaultInterval = 100 * time.Millisecond

// Option configures an [Engine].
type Option func(*Engine)

// WithInterval sets the tick interval. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithConstraints sets the capture constraints passed to the device.
func WithConstraints(c audio.Constraints) Option {
	return func(e *Engine) {
		e.constraints = c
	}
}

// WithHistory configures the history buffer.
func WithHistory(cfg history.Config) Option {
	return func(e *Engine) {
		e.historyCfg = cfg
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithBus publishes notifications on b instead of a private bus.
func WithBus(b *bus.Bus) Option {
	return func(e *Engine) {
		e.bus = b
	}
}

// WithTracerProvider records acquire and tick spans on tp instead of the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracer = observe.TracerFrom(tp)
	}
}

// WithClock overrides the clock used to timestamp samples.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Status is a point-in-time view of the engine. SessionID names the
// current or most recent session; Device and StartedAt are only set while
// a session is live.
type Status struct {
	State      State
	SessionID  string
	Device     string
	StartedAt  time.Time
	LastError  error
	Current    types.Emotion
	HasCurrent bool
	Retained   int
}

// Engine is the sampling loop controller. All methods are safe for
// concurrent use, including from bus handlers.
type Engine struct {
	sessions    *SessionManager
	bus         *bus.Bus
	history     *history.Buffer
	metrics     *observe.Metrics
	tracer      trace.Tracer
	interval    time.Duration
	constraints audio.Constraints
	historyCfg  history.Config
	now         func() time.Time

	mu      sync.Mutex
	state   State
	gen     uint64 // bumped by every Start; stale loops compare against it
	cancel  context.CancelFunc
	handle  *Handle
	session string
	done    chan struct{}
	lastErr error
}

// New creates an idle engine that captures from device.
func New(device audio.Device, opts ...Option) *Engine {
	e := &Engine{
		interval:    DefaultInterval,
		constraints: audio.DefaultConstraints(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	if e.tracer == nil {
		e.tracer = observe.TracerFrom(nil)
	}
	if e.bus == nil {
		m := e.metrics
		e.bus = bus.New(bus.WithPanicHook(func(ev bus.Event, _ any) {
			m.RecordSubscriberPanic(context.Background(), ev.String())
		}))
	}
	e.history = history.New(e.historyCfg)
	e.sessions = NewSessionManager(device, e.metrics)
	e.sessions.tracer = e.tracer
	return e
}

// Bus returns the notification bus.
func (e *Engine) Bus() *bus.Bus {
	return e.bus
}

// History returns the history buffer.
func (e *Engine) History() *history.Buffer {
	return e.history
}

// Sessions returns the engine's session manager.
func (e *Engine) Sessions() *SessionManager {
	return e.sessions
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentEmotionalState returns the most recent emotion among the last few
// history entries whose confidence exceeds the floor. ok is false when no
// such entry exists.
func (e *Engine) CurrentEmotionalState() (emotion types.Emotion, ok bool) {
	return e.history.CurrentState()
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{State: e.state, SessionID: e.session, LastError: e.lastErr}
	if e.handle != nil {
		st.Device = e.handle.Device
		st.StartedAt = e.handle.AcquiredAt
	}
	e.mu.Unlock()

	st.Current, st.HasCurrent = e.history.CurrentState()
	st.Retained = e.history.Len()
	return st
}

// SessionID returns the ID of the current or most recent session, or ""
// before the first successful Start.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Start acquires the capture device and begins analysis.
//
// It returns [ErrAlreadyAcquired] without side effects while a session is
// acquiring or running. When the device cannot be opened the engine moves
// to [Errored], analysisError is published and the wrapped
// [ErrDeviceUnavailable] is returned. If [Engine.Stop] is called while the
// device is being opened, Start releases whatever it obtained and returns
// an error wrapping [context.Canceled]. On success analysisStarted is
// published before the first sample.
//
// ctx bounds only the acquisition; the loop runs until Stop or a device
// failure.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state.Running() {
		e.mu.Unlock()
		return ErrAlreadyAcquired
	}
	if e.state == Errored {
		slog.Info("engine: restarting after error", "last_err", e.lastErr)
		e.state = Stopped
	}
	e.gen++
	gen := e.gen
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.state = Acquiring
	e.mu.Unlock()

	// Acquisition ends on either the caller's ctx or Stop.
	acqCtx, acqCancel := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(runCtx, acqCancel)
	h, err := e.sessions.Acquire(acqCtx, e.constraints)
	stopAfter()
	acqCancel()

	e.mu.Lock()
	if e.gen != gen || e.state != Acquiring {
		e.mu.Unlock()
		e.sessions.Release(h)
		cancel()
		return fmt.Errorf("engine: start interrupted by stop: %w", context.Canceled)
	}
	if err != nil {
		cancel()
		e.cancel = nil
		if !errors.Is(err, ErrDeviceUnavailable) {
			// Caller gave up; nothing was acquired and nothing failed.
			e.state = Stopped
			e.mu.Unlock()
			return err
		}
		e.state = Errored
		e.lastErr = err
		e.mu.Unlock()

		slog.Error("engine: acquisition failed", "err", err)
		e.metrics.RecordEngineError(ctx, "device_unavailable")
		e.bus.EmitAnalysisError(err)
		return err
	}

	done := make(chan struct{})
	e.state = Analyzing
	e.handle = h
	e.session = h.ID
	e.done = done
	e.lastErr = nil
	e.mu.Unlock()

	slog.Info("engine: analysis started",
		"session_id", h.ID,
		"device", h.Device,
		"interval", e.interval,
	)
	e.bus.EmitAnalysisStarted()
	go e.run(runCtx, gen, h, done)
	return nil
}

// Stop ends the running session. It is idempotent: stopping an idle,
// stopped or errored engine does nothing and publishes nothing. Stopping a
// running session cancels the loop, releases the device and publishes
// analysisStopped exactly once. At most one tick that was already in
// flight may still complete; no new tick starts afterwards.
func (e *Engine) Stop() {
	e.mu.Lock()
	switch e.state {
	case Idle, Stopped:
		e.mu.Unlock()
		return
	case Errored:
		// The failure path already released the session.
		e.state = Stopped
		e.mu.Unlock()
		return
	case Acquiring:
		// Start observes the generation change and releases.
		e.state = Stopped
		cancel := e.cancel
		e.cancel = nil
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return
	}

	e.state = Stopped
	cancel, h := e.cancel, e.handle
	e.cancel, e.handle = nil, nil
	e.mu.Unlock()

	cancel()
	e.sessions.Release(h)
	slog.Info("engine: analysis stopped", "session_id", h.ID)
	e.bus.EmitAnalysisStopped()
}

// Wait blocks until the loop of the current or most recent session has
// exited, or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the sampling loop of one session.
func (e *Engine) run(ctx context.Context, gen uint64, h *Handle, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(e.interval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := e.tick(ctx, h); err != nil {
			e.fail(gen, err)
			return
		}
		timer.Reset(e.interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// tick performs one read, extract, classify, publish cycle. Read errors
// after cancellation are not failures.
func (e *Engine) tick(ctx context.Context, h *Handle) error {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, observe.SpanTick,
		trace.WithAttributes(observe.AttrSessionID.String(h.ID)),
	)
	defer span.End()

	frame, err := h.ReadFrame()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		span.RecordError(err)
		return err
	}

	f := features.Extract(frame)
	res := classify.Classify(f)
	s := types.Sample{
		Timestamp:  e.now(),
		Emotion:    res.Emotion,
		Confidence: res.Confidence,
		Features:   f,
	}
	span.SetAttributes(
		observe.AttrEmotion.String(string(s.Emotion)),
		observe.AttrConfidence.Float64(s.Confidence),
		observe.AttrRule.String(res.Rule),
	)

	if ctx.Err() != nil {
		return nil
	}
	retained := e.history.Push(s)
	e.metrics.RecordSample(ctx, string(s.Emotion), retained)
	e.bus.EmitSampleClassified(s)
	e.metrics.TickDuration.Record(ctx, time.Since(start).Seconds())
	return nil
}

// fail moves a running session of generation gen to Errored.
func (e *Engine) fail(gen uint64, cause error) {
	e.mu.Lock()
	if e.gen != gen || e.state != Analyzing {
		e.mu.Unlock()
		return
	}
	err := fmt.Errorf("%w: %w", ErrDeviceUnavailable, cause)
	e.state = Errored
	e.lastErr = err
	cancel, h := e.cancel, e.handle
	e.cancel, e.handle = nil, nil
	e.mu.Unlock()

	cancel()
	e.sessions.Release(h)
	slog.Error("engine: capture failed", "session_id", h.ID, "err", cause)
	e.metrics.RecordEngineError(context.Background(), "device_unavailable")
	e.bus.EmitAnalysisError(err)
}
