package pubsub

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "datahub"

// TracingConfig holds configuration for OpenTelemetry tracing
type TracingConfig struct {
	Enabled     bool   // Whether tracing is enabled
	ServiceName    string // Service name for traces
	ServiceVersion string // Reported as service.version on every span
	ZipkinURL      string // Zipkin exporter URL
}

// DefaultTracingConfig returns a default tracing configuration
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:        false,
		ServiceName:    "datahub",
		ServiceVersion: "dev",
		ZipkinURL:      "http://localhost:9411/api/v2/spans",
	}
}

// SetupOTel initializes OpenTelemetry with a Zipkin exporter so publishes, deliveries and
// handler runs show up as spans. If config.Enabled is false, returns a no-op tracer.
// The returned cleanup flushes pending spans; call it once on shutdown.
func SetupOTel(ctx context.Context, config TracingConfig) (trace.Tracer, func(context.Context), error) {
	if !config.Enabled {
		return noop.NewTracerProvider().Tracer(tracerName), func(context.Context) {}, nil
	}

	exporter, err := zipkin.New(config.ZipkinURL)
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			slog.Error("Failed to shut down tracer provider", "error", err)
		}
	}

	return tp.Tracer(tracerName), cleanup, nil
}
