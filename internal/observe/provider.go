package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is reported as service.name. Default: "mindscope".
	ServiceName string

	// ServiceVersion is reported as service.version.
	ServiceVersion string

	// TraceExporter receives finished spans in batches. When nil, spans are
	// recorded for log correlation but never exported.
	TraceExporter sdktrace.SpanExporter

	// TraceSampleRatio is the share of root traces kept, in (0, 1]. The
	// engine starts a tick span ten times a second, so long sessions are
	// usually sampled. Zero or values above 1 keep every trace. Spans whose
	// parent was sampled upstream follow the parent's decision.
	TraceSampleRatio float64

	// Registerer receives the Prometheus collectors. When nil, the
	// process-wide [prometheus.DefaultRegisterer] is used, which is what
	// promhttp.Handler serves.
	Registerer prometheus.Registerer
}

// InitProvider installs a meter provider backed by the Prometheus exporter
// and a tracer provider as the global OTel providers.
//
// The returned shutdown flushes pending spans before closing the meter
// provider. Call it in a defer from main().
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mindscope"
	}
	if cfg.TraceSampleRatio < 0 {
		return nil, fmt.Errorf("observe: trace sample ratio %v is negative", cfg.TraceSampleRatio)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	mp, err := newMeterProvider(res, cfg.Registerer)
	if err != nil {
		return nil, err
	}
	tp := newTracerProvider(res, cfg.TraceExporter, cfg.TraceSampleRatio)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func newMeterProvider(res *resource.Resource, reg prometheus.Registerer) (*sdkmetric.MeterProvider, error) {
	var opts []promexporter.Option
	if reg != nil {
		opts = append(opts, promexporter.WithRegisterer(reg))
	}
	exp, err := promexporter.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	), nil
}

func newTracerProvider(res *resource.Resource, exp sdktrace.SpanExporter, ratio float64) *sdktrace.TracerProvider {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(traceSampler(ratio)),
	}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...)
}

func traceSampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}
