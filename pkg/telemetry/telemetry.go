// Package telemetry sets up OpenTelemetry tracing for the service.
//
// Spans are created through the global provider, otel.Tracer(name), so
// packages do not depend on this one. Init installs an OTLP exporter when
// tracing is enabled and leaves the no-op provider in place otherwise.
package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// Init installs a global tracer provider for cfg. When cfg is disabled it
// only returns a no-op ShutdownFunc.
func Init(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}
	if cfg.ServiceName == "" {
		return noopShutdown, errors.New("telemetry: service name is required")
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return noopShutdown, err
	}
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return noopShutdown, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(newSampler(cfg.Sampler, cfg.SamplerRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}
