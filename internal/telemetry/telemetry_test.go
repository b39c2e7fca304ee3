// ABOUTME: Tests for telemetry instruments using an in-memory manual reader.

package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/trace/noop"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	inst, err := New(mp, noop.NewTracerProvider())
	require.NoError(t, err)

	ctx := context.Background()
	inst.RecordExecution(ctx, "a1", "completed", 12*time.Millisecond)
	inst.RecordExecution(ctx, "a1", "failed", 3*time.Millisecond)
	inst.RecordRetry(ctx, "a1")
	inst.RecordCoordination(ctx, "parallel", "partial_failure")
	inst.RecordTransition("a1", "active", "executing")
	require.NoError(t, inst.ObserveGauge("coordinator.agents", "Registered agents", func() int64 { return 7 }))

	metrics := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, metrics["coordinator.executions"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["coordinator.retries"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["coordinator.coordinations"]))
	assert.Equal(t, int64(1), sumOf(t, metrics["coordinator.status.transitions"]))

	hist, ok := metrics["coordinator.execution.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.NotEmpty(t, hist.DataPoints)

	gauge, ok := metrics["coordinator.agents"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(7), gauge.DataPoints[0].Value)
}

func TestNilInstruments(t *testing.T) {
	var inst *Instruments
	ctx := context.Background()

	assert.NotPanics(t, func() {
		inst.RecordExecution(ctx, "a1", "completed", time.Millisecond)
		inst.RecordRetry(ctx, "a1")
		inst.RecordCoordination(ctx, "sequential", "completed")
		inst.RecordTransition("a1", "active", "error")
		_, span := inst.StartSpan(ctx, "noop")
		span.End()
	})
	assert.NoError(t, inst.ObserveGauge("x", "y", func() int64 { return 0 }))
}

func TestInitWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
