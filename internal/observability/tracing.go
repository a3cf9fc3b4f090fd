package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used by every jobcore span.
const TracerName = "jobcore"

// Tracer returns the jobcore tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// NewTracerProvider installs a global tracer provider. With an empty endpoint
// spans are sampled but not exported, which still gives trace ids to logs and
// callbacks. The returned function flushes and shuts the provider down.
func NewTracerProvider(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	opts := []sdktrace.TracerProviderOption{}
	if endpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return provider.Shutdown, nil
}
