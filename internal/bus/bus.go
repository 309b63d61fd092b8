// Package bus implements the engine's typed notification bus.
//
// The event set is closed: analysis started, analysis stopped, sample
// classified and analysis error. Each event kind has its own strongly typed
// subscribe method, so a handler can never receive a payload of the wrong
// shape. Handlers run synchronously on the emitting goroutine in
// registration order. A panicking handler is recovered and logged; it never
// prevents delivery to later handlers and never reaches the emitter.
package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/mindscope/pkg/types"
)

// Event identifies one kind of notification.
type Event int

const (
	// EventAnalysisStarted fires once a capture session is running.
	EventAnalysisStarted Event = iota

	// EventAnalysisStopped fires once per explicit stop of a running session.
	EventAnalysisStopped

	// EventSampleClassified fires for every completed analysis tick.
	EventSampleClassified

	// EventAnalysisError fires when the capture device fails.
	EventAnalysisError
)

// String returns the wire name of the event.
func (e Event) String() string {
	switch e {
	case EventAnalysisStarted:
		return "analysisStarted"
	case EventAnalysisStopped:
		return "analysisStopped"
	case EventSampleClassified:
		return "sampleClassified"
	case EventAnalysisError:
		return "analysisError"
	default:
		return "unknown"
	}
}

// Option configures a [Bus].
type Option func(*Bus)

// WithPanicHook registers fn to be called after a handler panic has been
// recovered, for example to count panics in metrics.
func WithPanicHook(fn func(ev Event, recovered any)) Option {
	return func(b *Bus) {
		b.onPanic = fn
	}
}

// Bus fans engine notifications out to subscribers. The zero value is not
// usable; create one with [New]. All methods are safe for concurrent use,
// including subscribing and unsubscribing from inside a handler.
type Bus struct {
	onPanic func(Event, any)

	started    topic[struct{}]
	stopped    topic[struct{}]
	classified topic[types.Sample]
	errored    topic[error]
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{}
	b.started.ev = EventAnalysisStarted
	b.stopped.ev = EventAnalysisStopped
	b.classified.ev = EventSampleClassified
	b.errored.ev = EventAnalysisError
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription is the handle returned by every subscribe method.
type Subscription struct {
	active   atomic.Bool
	ev       Event
	detach   func()
	stopOnce sync.Once
}

// Event returns the event kind the subscription listens to.
func (s *Subscription) Event() Event {
	return s.ev
}

// Unsubscribe detaches the handler. It takes effect immediately, even for
// an emission already in progress, and is idempotent.
func (s *Subscription) Unsubscribe() {
	s.stopOnce.Do(func() {
		s.active.Store(false)
		s.detach()
	})
}

// OnAnalysisStarted registers fn for [EventAnalysisStarted].
func (b *Bus) OnAnalysisStarted(fn func()) *Subscription {
	return b.started.subscribe(func(struct{}) { fn() })
}

// OnAnalysisStopped registers fn for [EventAnalysisStopped].
func (b *Bus) OnAnalysisStopped(fn func()) *Subscription {
	return b.stopped.subscribe(func(struct{}) { fn() })
}

// OnSampleClassified registers fn for [EventSampleClassified].
func (b *Bus) OnSampleClassified(fn func(types.Sample)) *Subscription {
	return b.classified.subscribe(fn)
}

// OnAnalysisError registers fn for [EventAnalysisError].
func (b *Bus) OnAnalysisError(fn func(error)) *Subscription {
	return b.errored.subscribe(fn)
}

// EmitAnalysisStarted delivers [EventAnalysisStarted].
func (b *Bus) EmitAnalysisStarted() { b.started.emit(b, struct{}{}) }

// EmitAnalysisStopped delivers [EventAnalysisStopped].
func (b *Bus) EmitAnalysisStopped() { b.stopped.emit(b, struct{}{}) }

// EmitSampleClassified delivers [EventSampleClassified] with s.
func (b *Bus) EmitSampleClassified(s types.Sample) { b.classified.emit(b, s) }

// EmitAnalysisError delivers [EventAnalysisError] with err.
func (b *Bus) EmitAnalysisError(err error) { b.errored.emit(b, err) }

// Subscribers returns the number of live handlers for ev.
func (b *Bus) Subscribers(ev Event) int {
	switch ev {
	case EventAnalysisStarted:
		return b.started.count()
	case EventAnalysisStopped:
		return b.stopped.count()
	case EventSampleClassified:
		return b.classified.count()
	case EventAnalysisError:
		return b.errored.count()
	default:
		return 0
	}
}

// ─── topic ────────────────────────────────────────────────────────────────────

type subscriber[T any] struct {
	sub *Subscription
	fn  func(T)
}

// topic is the subscriber list for one event kind.
type topic[T any] struct {
	ev   Event
	mu   sync.Mutex
	subs []subscriber[T]
}

func (t *topic[T]) subscribe(fn func(T)) *Subscription {
	s := &Subscription{ev: t.ev}
	s.active.Store(true)
	s.detach = func() { t.remove(s) }

	t.mu.Lock()
	t.subs = append(t.subs, subscriber[T]{sub: s, fn: fn})
	t.mu.Unlock()
	return s
}

func (t *topic[T]) remove(s *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.subs {
		if t.subs[i].sub == s {
			// Build a new slice so snapshots held by in-flight emissions
			// are left untouched.
			next := make([]subscriber[T], 0, len(t.subs)-1)
			next = append(next, t.subs[:i]...)
			t.subs = append(next, t.subs[i+1:]...)
			return
		}
	}
}

func (t *topic[T]) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (t *topic[T]) emit(b *Bus, payload T) {
	t.mu.Lock()
	snapshot := t.subs
	t.mu.Unlock()

	for _, s := range snapshot {
		if !s.sub.active.Load() {
			continue
		}
		deliver(b, t.ev, s.fn, payload)
	}
}

// deliver runs one handler, containing any panic it raises.
func deliver[T any](b *Bus, ev Event, fn func(T), payload T) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus: subscriber panicked",
				"event", ev.String(),
				"panic", fmt.Sprint(r),
			)
			if b.onPanic != nil {
				b.onPanic(ev, r)
			}
		}
	}()
	fn(payload)
}
