package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every MindScope span.
const tracerName = "github.com/MrWong99/mindscope"

// Span names of the analysis pipeline.
const (
	// SpanAcquire covers opening the capture device for a session.
	SpanAcquire = "engine.acquire"

	// SpanTick covers one read, extract and classify cycle.
	SpanTick = "engine.tick"
)

// Attribute keys set on analysis spans.
const (
	AttrDevice     attribute.Key = "device"
	AttrSessionID  attribute.Key = "session_id"
	AttrEmotion    attribute.Key = "emotion"
	AttrConfidence attribute.Key = "confidence"
	AttrRule       attribute.Key = "rule"
)

// TracerFrom returns the MindScope tracer of tp. A nil tp selects the
// globally registered provider, which [InitProvider] installs.
func TracerFrom(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(tracerName)
}

// CorrelationID returns the trace ID of the span in ctx as hex, or "" when
// ctx carries no valid span context. HTTP responses expose it as
// X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger with trace_id and span_id of the span
// in ctx attached. Without a span the default logger is returned as is.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
