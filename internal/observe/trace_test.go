package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func spanRecorder(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, sr
}

func TestTracerFrom_RecordsOnGivenProvider(t *testing.T) {
	t.Parallel()

	tp, sr := spanRecorder(t)
	_, span := TracerFrom(tp).Start(context.Background(), SpanTick)
	span.SetAttributes(AttrEmotion.String("calm"), AttrConfidence.Float64(0.8))
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	got := ended[0]
	if got.Name() != SpanTick {
		t.Errorf("span name = %q, want %q", got.Name(), SpanTick)
	}
	if scope := got.InstrumentationScope().Name; scope != tracerName {
		t.Errorf("instrumentation scope = %q, want %q", scope, tracerName)
	}
	attrs := map[string]string{}
	for _, kv := range got.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["emotion"] != "calm" || attrs["confidence"] != "0.8" {
		t.Errorf("attributes = %v, want emotion=calm confidence=0.8", attrs)
	}
}

func TestTracerFrom_NilUsesGlobal(t *testing.T) {
	t.Parallel()

	if TracerFrom(nil) == nil {
		t.Fatal("TracerFrom(nil) returned nil")
	}
}

func TestCorrelationID(t *testing.T) {
	t.Parallel()

	tp, _ := spanRecorder(t)
	spanCtx, span := TracerFrom(tp).Start(context.Background(), SpanAcquire)
	defer span.End()

	remote := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{0x0a, 0x0b},
		SpanID:  trace.SpanID{0x01},
		Remote:  true,
	})

	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{name: "no span", ctx: context.Background(), want: ""},
		{name: "recording span", ctx: spanCtx, want: span.SpanContext().TraceID().String()},
		{name: "remote parent", ctx: trace.ContextWithRemoteSpanContext(context.Background(), remote), want: "0a0b0000000000000000000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := CorrelationID(tt.ctx); got != tt.want {
				t.Errorf("CorrelationID() = %q, want %q", got, tt.want)
			}
		})
	}
}

// Not parallel: swaps the default slog logger.
func TestLogger_AttachesTraceContext(t *testing.T) {
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	tp, _ := spanRecorder(t)
	ctx, span := TracerFrom(tp).Start(context.Background(), SpanAcquire)
	defer span.End()

	Logger(ctx).Info("acquired")
	Logger(context.Background()).Info("idle")

	dec := json.NewDecoder(&buf)
	var withSpan, without map[string]any
	if err := dec.Decode(&withSpan); err != nil {
		t.Fatalf("decode first record: %v", err)
	}
	if err := dec.Decode(&without); err != nil {
		t.Fatalf("decode second record: %v", err)
	}

	sc := span.SpanContext()
	if withSpan["trace_id"] != sc.TraceID().String() {
		t.Errorf("trace_id = %v, want %s", withSpan["trace_id"], sc.TraceID())
	}
	if withSpan["span_id"] != sc.SpanID().String() {
		t.Errorf("span_id = %v, want %s", withSpan["span_id"], sc.SpanID())
	}
	if _, ok := without["trace_id"]; ok {
		t.Errorf("record without span carries trace_id: %v", without)
	}
}
