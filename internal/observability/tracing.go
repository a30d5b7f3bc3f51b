package observability

import (
	"context"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

// InitTracing installs a batching OTLP/HTTP tracer provider and returns its
// shutdown func. With an empty endpoint tracing stays on the global no-op
// provider and the returned func does nothing.
func InitTracing(ctx context.Context, serviceName, endpoint string, logger *zap.Logger) func(context.Context) {
	noop := func(context.Context) {}
	if endpoint == "" {
		return noop
	}
	endpoint = otlpHostPort(endpoint)

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("tracing disabled", zap.String("endpoint", endpoint), zap.Error(err))
		return noop
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(serviceName)))
	if err != nil {
		res = resource.Default()
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("tracer shutdown", zap.Error(err))
		}
	}
}

// otlpHostPort accepts either host:port or a URL and returns host:port.
func otlpHostPort(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	port := u.Port()
	if port == "" {
		port = "4318"
	}
	return u.Hostname() + ":" + port
}
