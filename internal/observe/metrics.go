// Package observe provides application-wide observability primitives for
// MindScope: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all MindScope metrics.
const meterName = "github.com/MrWong99/mindscope"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TickDuration tracks how long one analysis tick (read, extract,
	// classify, publish) takes.
	TickDuration metric.Float64Histogram

	// AcquireDuration tracks how long opening the capture device takes.
	AcquireDuration metric.Float64Histogram

	// --- Counters ---

	// SamplesClassified counts classified samples. Use with attribute:
	//   attribute.String("emotion", ...)
	SamplesClassified metric.Int64Counter

	// SamplesRetained counts samples accepted into the history buffer.
	SamplesRetained metric.Int64Counter

	// RelayPublishes counts relay deliveries. Use with attributes:
	//   attribute.String("relay", ...), attribute.String("status", ...)
	RelayPublishes metric.Int64Counter

	// RelayDrops counts events dropped because a relay queue was full.
	RelayDrops metric.Int64Counter

	// --- Error counters ---

	// EngineErrors counts engine failures. Use with attribute:
	//   attribute.String("kind", ...)
	EngineErrors metric.Int64Counter

	// SubscriberPanics counts recovered bus handler panics. Use with attribute:
	//   attribute.String("event", ...)
	SubscriberPanics metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of open capture sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// StreamClients tracks the number of connected WebSocket stream clients.
	StreamClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// tickBuckets defines histogram bucket boundaries (in seconds) for work
// that must finish well inside one 100 ms tick.
var tickBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// device acquisition, which may wait on the host.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TickDuration, err = m.Float64Histogram("mindscope.tick.duration",
		metric.WithDescription("Duration of one analysis tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AcquireDuration, err = m.Float64Histogram("mindscope.acquire.duration",
		metric.WithDescription("Latency of capture device acquisition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SamplesClassified, err = m.Int64Counter("mindscope.samples.classified",
		metric.WithDescription("Total classified samples by emotion."),
	); err != nil {
		return nil, err
	}
	if met.SamplesRetained, err = m.Int64Counter("mindscope.samples.retained",
		metric.WithDescription("Total samples retained in the history buffer."),
	); err != nil {
		return nil, err
	}
	if met.RelayPublishes, err = m.Int64Counter("mindscope.relay.publishes",
		metric.WithDescription("Total relay publishes by relay and status."),
	); err != nil {
		return nil, err
	}
	if met.RelayDrops, err = m.Int64Counter("mindscope.relay.drops",
		metric.WithDescription("Total events dropped by a full relay queue."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.EngineErrors, err = m.Int64Counter("mindscope.engine.errors",
		metric.WithDescription("Total engine errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.SubscriberPanics, err = m.Int64Counter("mindscope.bus.subscriber_panics",
		metric.WithDescription("Total recovered subscriber panics by event."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("mindscope.active_sessions",
		metric.WithDescription("Number of open capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.StreamClients, err = m.Int64UpDownCounter("mindscope.stream.clients",
		metric.WithDescription("Number of connected event stream clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("mindscope.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSample records one classified sample and, when retained, its
// acceptance into history.
func (m *Metrics) RecordSample(ctx context.Context, emotion string, retained bool) {
	m.SamplesClassified.Add(ctx, 1,
		metric.WithAttributes(attribute.String("emotion", emotion)),
	)
	if retained {
		m.SamplesRetained.Add(ctx, 1)
	}
}

// RecordEngineError records an engine error of the given kind.
func (m *Metrics) RecordEngineError(ctx context.Context, kind string) {
	m.EngineErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordRelayPublish records a relay delivery attempt with its outcome.
func (m *Metrics) RecordRelayPublish(ctx context.Context, relay, status string) {
	m.RelayPublishes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("relay", relay),
			attribute.String("status", status),
		),
	)
}

// RecordSubscriberPanic records a recovered bus handler panic.
func (m *Metrics) RecordSubscriberPanic(ctx context.Context, event string) {
	m.SubscriberPanics.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event)),
	)
}
