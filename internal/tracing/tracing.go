// Package tracing wires OpenTelemetry spans around the agent's suspension
// points (bus receive, delta merge, anti-entropy exchange, egress write) and
// exports them to Jaeger.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerProvider is the process-wide span source, registered as the global
// otel tracer provider by InitTracer.
type TracerProvider = sdktrace.TracerProvider

// tracerName identifies this module's spans among others a Jaeger backend
// may receive from the same service.
const tracerName = "github.com/aas-deltasync/agent"

// InitTracer builds a TracerProvider exporting to jaegerEndpoint (a Jaeger
// collector HTTP endpoint) under the given service name, and installs it as
// the global otel tracer provider. The provider is returned even if the
// collector is unreachable; jaeger export failures surface at span-export
// time, not at construction.
func InitTracer(serviceName string, jaegerEndpoint string) (*TracerProvider, error) {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartSpan starts a span named name as a child of ctx, tagged with attrs,
// using the global tracer provider.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
