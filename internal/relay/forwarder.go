package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/mindscope/internal/bus"
	"github.com/MrWong99/mindscope/internal/observe"
	"github.com/MrWong99/mindscope/internal/resilience"
	"github.com/MrWong99/mindscope/pkg/types"
)

const (
	// DefaultQueueSize is the number of envelopes buffered between the bus
	// and the publishers.
	DefaultQueueSize = 256

	// DefaultPublishTimeout bounds a single Publish call.
	DefaultPublishTimeout = 2 * time.Second
)

// Option configures a [Forwarder].
type Option func(*Forwarder)

// WithQueueSize sets the queue capacity. Non-positive values are ignored.
func WithQueueSize(n int) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.queueSize = n
		}
	}
}

// WithPublishTimeout bounds each Publish call. Non-positive values are
// ignored.
func WithPublishTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(f *Forwarder) {
		f.metrics = m
	}
}

// WithSessionID sets the function that stamps envelopes with the current
// session ID.
func WithSessionID(fn func() string) Option {
	return func(f *Forwarder) {
		f.sessionID = fn
	}
}

// WithBreaker sets the template for each publisher's circuit breaker.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(f *Forwarder) {
		f.breakerCfg = cfg
	}
}

// WithClock overrides the envelope clock.
func WithClock(now func() time.Time) Option {
	return func(f *Forwarder) {
		f.now = now
	}
}

type guarded struct {
	pub     Publisher
	breaker *resilience.CircuitBreaker
}

// Forwarder relays bus notifications to a set of publishers.
type Forwarder struct {
	queueSize  int
	timeout    time.Duration
	metrics    *observe.Metrics
	sessionID  func() string
	breakerCfg resilience.CircuitBreakerConfig
	now        func() time.Time

	pubs  []guarded
	queue chan Envelope

	mu   sync.Mutex
	subs []*bus.Subscription
}

// NewForwarder creates a forwarder for pubs. Call [Forwarder.Attach] to
// start receiving events and [Forwarder.Run] to deliver them.
func NewForwarder(pubs []Publisher, opts ...Option) *Forwarder {
	f := &Forwarder{
		queueSize: DefaultQueueSize,
		timeout:   DefaultPublishTimeout,
		sessionID: func() string { return "" },
		now:       time.Now,
		breakerCfg: resilience.CircuitBreakerConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  1,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	f.queue = make(chan Envelope, f.queueSize)
	for _, p := range pubs {
		cfg := f.breakerCfg
		cfg.Name = "relay:" + p.Name()
		f.pubs = append(f.pubs, guarded{pub: p, breaker: resilience.NewCircuitBreaker(cfg)})
	}
	return f
}

// Attach subscribes the forwarder to every event on b. Detach with
// [Forwarder.Detach] or [Forwarder.Close].
func (f *Forwarder) Attach(b *bus.Bus) {
	subs := []*bus.Subscription{
		b.OnAnalysisStarted(func() { f.enqueue(bus.EventAnalysisStarted, nil) }),
		b.OnAnalysisStopped(func() { f.enqueue(bus.EventAnalysisStopped, nil) }),
		b.OnSampleClassified(func(s types.Sample) { f.enqueue(bus.EventSampleClassified, s) }),
		b.OnAnalysisError(func(err error) { f.enqueue(bus.EventAnalysisError, err) }),
	}
	f.mu.Lock()
	f.subs = append(f.subs, subs...)
	f.mu.Unlock()
}

// Detach removes every bus subscription made by Attach.
func (f *Forwarder) Detach() {
	f.mu.Lock()
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}

// enqueue never blocks; a full queue drops the event.
func (f *Forwarder) enqueue(ev bus.Event, payload any) {
	env := NewEnvelope(ev, f.sessionID(), f.now(), payload)
	select {
	case f.queue <- env:
	default:
		f.metrics.RelayDrops.Add(context.Background(), 1)
		slog.Warn("relay: queue full, dropping event", "event", env.Event)
	}
}

// Pending returns the number of queued envelopes.
func (f *Forwarder) Pending() int {
	return len(f.queue)
}

// Publishers returns the publisher names in delivery order.
func (f *Forwarder) Publishers() []string {
	names := make([]string, len(f.pubs))
	for i, g := range f.pubs {
		names[i] = g.pub.Name()
	}
	return names
}

// ErrRelayUnhealthy is returned by [Forwarder.Check] while a publisher's
// circuit breaker is open.
var ErrRelayUnhealthy = errors.New("relay: publisher circuit open")

// Check reports whether the publisher called name is currently accepting
// deliveries. An unknown name is an error.
func (f *Forwarder) Check(name string) error {
	for _, g := range f.pubs {
		if g.pub.Name() != name {
			continue
		}
		if st := g.breaker.State(); st == resilience.StateOpen {
			return fmt.Errorf("%w: %s", ErrRelayUnhealthy, name)
		}
		return nil
	}
	return fmt.Errorf("relay: unknown publisher %q", name)
}

// Run delivers queued envelopes until ctx ends. It then tries to flush what
// is still queued within the publish timeout and returns nil.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			f.flush()
			return nil
		case env := <-f.queue:
			f.deliver(ctx, env)
		}
	}
}

func (f *Forwarder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	for {
		select {
		case env := <-f.queue:
			f.deliver(ctx, env)
		default:
			return
		}
	}
}

func (f *Forwarder) deliver(ctx context.Context, env Envelope) {
	for _, g := range f.pubs {
		pctx, cancel := context.WithTimeout(ctx, f.timeout)
		err := g.breaker.Execute(func() error {
			return g.pub.Publish(pctx, env)
		})
		cancel()

		switch {
		case err == nil:
			f.metrics.RecordRelayPublish(ctx, g.pub.Name(), "ok")
		case errors.Is(err, resilience.ErrCircuitOpen):
			f.metrics.RecordRelayPublish(ctx, g.pub.Name(), "skipped")
		default:
			f.metrics.RecordRelayPublish(ctx, g.pub.Name(), "error")
			slog.Warn("relay: publish failed",
				"publisher", g.pub.Name(),
				"event", env.Event,
				"err", err,
			)
		}
	}
}

// Close detaches from the bus, delivers what was queued after Run returned
// and closes every publisher. Call it after Run has returned.
func (f *Forwarder) Close() error {
	f.Detach()
	f.flush()
	var errs []error
	for _, g := range f.pubs {
		if err := g.pub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("relay: close %s: %w", g.pub.Name(), err))
		}
	}
	return errors.Join(errs...)
}
