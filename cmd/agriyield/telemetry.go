package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"agriyield/internal/config"
)

// telemetry owns the per-invocation metrics registry and tracer provider.
type telemetry struct {
	registry    *prometheus.Registry
	provider    trace.TracerProvider
	shutdown    func(context.Context) error
	metricsFile string
}

func newTelemetry(cfg config.Config, traceOut io.Writer) (*telemetry, error) {
	t := &telemetry{
		registry:    prometheus.NewRegistry(),
		provider:    noop.NewTracerProvider(),
		metricsFile: cfg.MetricsFile,
	}
	if !cfg.TraceStdout {
		return t, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(traceOut), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("stdout trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(resource.NewSchemaless(semconv.ServiceNameKey.String("agriyield"))),
	)
	t.provider = tp
	t.shutdown = tp.Shutdown
	return t, nil
}

// Close writes the metrics textfile, when configured, and flushes spans.
func (t *telemetry) Close(ctx context.Context) error {
	var errs []error
	if t.metricsFile != "" {
		if err := prometheus.WriteToTextfile(t.metricsFile, t.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if t.shutdown != nil {
		errs = append(errs, t.shutdown(ctx))
	}
	return errors.Join(errs...)
}
