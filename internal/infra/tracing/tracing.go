// Package tracing installs the process-wide OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

type Options struct {
	// Endpoint is an OTLP/HTTP traces URL. Empty keeps spans in-process.
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	// SampleRatio is the fraction of root spans kept, clamped to [0, 1].
	SampleRatio float64
}

// Setup builds a tracer provider for opts, registers it globally and
// returns it so the caller can flush it on shutdown.
func Setup(ctx context.Context, opts Options, extra ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	if opts.ServiceVersion == "" {
		opts.ServiceVersion = "dev"
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampRatio(opts.SampleRatio)))),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(opts.ServiceName),
			semconv.ServiceVersionKey.String(opts.ServiceVersion),
		)),
	}

	if opts.Endpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(opts.Endpoint))
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(append(tpOpts, extra...)...)
	otel.SetTracerProvider(tp)
	return tp, nil
}

func clampRatio(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}
