package telemetry

import (
	"context"

	"go.opentelemetry.io/auto/sdk"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName identifies spans created by this service.
const instrumentationName = "github.com/ai4hf/passport"

// Tracer returns the service tracer from the global provider. Without an SDK
// provider installed by the embedding process this is a no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// SetupTracing installs the auto-instrumentation tracer provider and the W3C
// propagators. Spans are exported only when the process runs under the
// OpenTelemetry Go auto-instrumentation agent. Disabled tracing leaves the
// global no-op provider in place.
func SetupTracing(enabled bool) {
	if !enabled {
		return
	}
	otel.SetTracerProvider(sdk.TracerProvider())
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// StartSpan starts a span with the given attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err (if any) on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
