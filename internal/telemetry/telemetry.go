// ABOUTME: OpenTelemetry setup plus the coordinator's metric instruments and tracer.
// ABOUTME: With no endpoint configured the global no-op providers are used.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scope = "coven-coordinator"

// Shutdown flushes and stops the providers installed by Init.
type Shutdown func(ctx context.Context) error

// Config selects the OTLP endpoint.
type Config struct {
	Endpoint    string
	Insecure    bool
	ServiceName string
	Version     string
}

// Init configures the global tracer and meter providers.
// If cfg.Endpoint is empty, telemetry is disabled and no-op providers stay in place.
func Init(ctx context.Context, cfg Config) (Shutdown, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		var firstErr error
		if err := tp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := mp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}, nil
}

// Instruments bundles the coordinator's metrics and tracer. A nil
// *Instruments is valid and records nothing.
type Instruments struct {
	tracer        trace.Tracer
	executions    metric.Int64Counter
	duration      metric.Float64Histogram
	retries       metric.Int64Counter
	coordinations metric.Int64Counter
	transitions   metric.Int64Counter
	meter         metric.Meter
}

// New builds Instruments from explicit providers.
func New(mp metric.MeterProvider, tp trace.TracerProvider) (*Instruments, error) {
	meter := mp.Meter(scope)
	executions, err := meter.Int64Counter("coordinator.executions",
		metric.WithDescription("Completed agent dispatches"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: executions counter: %w", err)
	}
	duration, err := meter.Float64Histogram("coordinator.execution.duration",
		metric.WithDescription("Agent dispatch duration (ms)"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: duration histogram: %w", err)
	}
	retries, err := meter.Int64Counter("coordinator.retries",
		metric.WithDescription("Retry attempts scheduled after a failed dispatch"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: retries counter: %w", err)
	}
	coordinations, err := meter.Int64Counter("coordinator.coordinations",
		metric.WithDescription("Multi-agent coordinations by mode and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: coordinations counter: %w", err)
	}
	transitions, err := meter.Int64Counter("coordinator.status.transitions",
		metric.WithDescription("Agent status transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: transitions counter: %w", err)
	}

	return &Instruments{
		tracer:        tp.Tracer(scope),
		executions:    executions,
		duration:      duration,
		retries:       retries,
		coordinations: coordinations,
		transitions:   transitions,
		meter:         meter,
	}, nil
}

// Global builds Instruments on the global providers installed by Init.
func Global() (*Instruments, error) {
	return New(otel.GetMeterProvider(), otel.GetTracerProvider())
}

// StartSpan starts a span; it is a no-op span when i is nil.
func (i *Instruments) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if i == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return i.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordExecution counts one dispatch and its latency.
func (i *Instruments) RecordExecution(ctx context.Context, agentID, status string, elapsed time.Duration) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("status", status),
	)
	i.executions.Add(ctx, 1, attrs)
	i.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

// RecordRetry counts one scheduled retry.
func (i *Instruments) RecordRetry(ctx context.Context, agentID string) {
	if i == nil {
		return
	}
	i.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("agent.id", agentID)))
}

// RecordCoordination counts one multi-agent run.
func (i *Instruments) RecordCoordination(ctx context.Context, mode, status string) {
	if i == nil {
		return
	}
	i.coordinations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	))
}

// RecordTransition counts one status change.
func (i *Instruments) RecordTransition(agentID, from, to string) {
	if i == nil {
		return
	}
	i.transitions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// ObserveGauge registers an int64 gauge read from fn at collection time.
func (i *Instruments) ObserveGauge(name, description string, fn func() int64) error {
	if i == nil {
		return nil
	}
	_, err := i.meter.Int64ObservableGauge(name,
		metric.WithDescription(description),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(fn())
			return nil
		}),
	)
	return err
}
