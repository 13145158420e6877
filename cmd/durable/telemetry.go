package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-durable/durable/backend/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const serviceName = "durable"

var serviceResource = resource.NewSchemaless(attribute.String("service.name", serviceName))

// newTracerProvider returns the provider for the configured exporter and a function flushing
// pending spans.
func newTracerProvider(ctx context.Context, w io.Writer, exporter, endpoint string) (trace.TracerProvider, func(context.Context) error, error) {
	var exp sdktrace.SpanExporter

	switch exporter {
	case "none", "":
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil

	case "stdout":
		e, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, fmt.Errorf("creating stdout exporter: %w", err)
		}

		exp = e

	case "otlp":
		e, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
		if err != nil {
			return nil, nil, fmt.Errorf("creating otlp exporter: %w", err)
		}

		exp = e

	default:
		return nil, nil, fmt.Errorf("unknown trace exporter %q", exporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(serviceResource),
	)

	return tp, tp.Shutdown, nil
}

// newMetricsClient returns the metrics client for the configured exporter and a function flushing
// pending measurements. Metrics are exported every interval.
func newMetricsClient(w io.Writer, exporter string, interval time.Duration) (metrics.Client, func(context.Context) error, error) {
	switch exporter {
	case "none", "":
		return metrics.NewNoopClient(), func(context.Context) error { return nil }, nil

	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return nil, nil, fmt.Errorf("creating stdout metrics exporter: %w", err)
		}

		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
			sdkmetric.WithResource(serviceResource),
		)

		return metrics.NewOTelClient(mp), mp.Shutdown, nil
	}

	return nil, nil, fmt.Errorf("unknown metrics exporter %q", exporter)
}
