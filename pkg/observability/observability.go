// Package observability installs the OpenTelemetry providers.
package observability

import (
	"context"
	"errors"
	"io"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ShutdownFunc flushes and stops a provider
type ShutdownFunc func(ctx context.Context) error

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
}

// SetupTracing installs a tracer provider that writes spans to w.
// Replace the stdout exporter with OTLP once a collector is available.
func SetupTracing(serviceName string, w io.Writer) (ShutdownFunc, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	res, err := newResource(serviceName)
	if err != nil {
		return nil, err
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// SetupMetrics bridges OpenTelemetry instruments into reg so they are served
// by the same /metrics handler as the native Prometheus collectors.
func SetupMetrics(serviceName string, reg promclient.Registerer) (ShutdownFunc, error) {
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}
	exp, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	res, err := newResource(serviceName)
	if err != nil {
		return nil, err
	}

	mp := metric.NewMeterProvider(metric.WithReader(exp), metric.WithResource(res))
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// Shutdown runs every fn and joins their errors
func Shutdown(ctx context.Context, fns ...ShutdownFunc) error {
	var errs []error
	for _, fn := range fns {
		if fn == nil {
			continue
		}
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}
