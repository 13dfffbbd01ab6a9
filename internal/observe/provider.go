package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TelemetryConfig describes the service identity reported in telemetry
// and, optionally, where spans go.
type TelemetryConfig struct {
	// ServiceName defaults to "resona".
	ServiceName string

	// ServiceVersion is stamped on every metric and span resource.
	ServiceVersion string

	// SpanExporter receives finished spans. Left nil, spans are recorded
	// in-process but never exported; metrics still flow to /metrics.
	SpanExporter sdktrace.SpanExporter
}

// SetupTelemetry registers the global OTel meter and tracer providers for
// the process. Metrics are bridged to the default Prometheus registry so
// promhttp can scrape them. The returned function flushes and shuts both
// providers down; call it before exit.
func SetupTelemetry(ctx context.Context, cfg TelemetryConfig) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "resona"
	}

	res, err := serviceResource(cfg)
	if err != nil {
		return nil, err
	}

	bridge, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(bridge),
	)

	tp := sdktrace.NewTracerProvider(tracerOptions(res, cfg.SpanExporter)...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	shutdown := func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}
	return shutdown, nil
}

func serviceResource(cfg TelemetryConfig) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
}

func tracerOptions(res *resource.Resource, exp sdktrace.SpanExporter) []sdktrace.TracerProviderOption {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return opts
}
