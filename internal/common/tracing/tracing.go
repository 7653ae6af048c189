// Package tracing wraps the C1 unit of work, the C5 relay cycle, and the
// C6 publisher in OpenTelemetry spans, exported via OTLP/gRPC. Tracing is
// optional: when no collector endpoint is configured, InitTracing returns a
// TracerProvider backed by otel's default no-op tracer, so the spans below
// always have somewhere to go but cost nothing to record when nobody is
// listening.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerProvider wraps an OpenTelemetry tracer provider and the single
// tracer the engine's spans are started from.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing dials endpoint over an insecure OTLP/gRPC connection and
// registers the resulting tracer provider as the global one. If endpoint is
// empty, tracing is disabled: InitTracing returns a TracerProvider whose
// Shutdown is a no-op and whose Tracer is otel's default no-op tracer, so
// callers never need to branch on whether tracing is configured.
func InitTracing(ctx context.Context, serviceName, environment, endpoint string) (*TracerProvider, error) {
	if endpoint == "" {
		return &TracerProvider{tracer: otel.Tracer(serviceName)}, nil
	}

	exporter, err := otlptrace.New(
		ctx,
		otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("deployment.environment", environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &TracerProvider{provider: tp, tracer: tp.Tracer(serviceName)}, nil
}

// Shutdown flushes and stops the tracer provider. Safe to call on a
// tracing-disabled TracerProvider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// Tracer returns the tracer spans should start from.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Start starts a span named name as a child of ctx with the given
// attributes, returning the derived context and a func that records err (if
// non-nil) on the span and ends it. Callers defer the end func:
//
//	ctx, end := tracing.Start(ctx, tracer, "outbox.Begin")
//	defer func() { end(err) }()
func Start(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	spanCtx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return spanCtx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
