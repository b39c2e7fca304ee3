// ABOUTME: Tests for the agent registry: registration, update semantics and atomic removal.
// ABOUTME: Also covers execution bookkeeping and transition hooks.

package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoWorker() WorkerFunc {
	return func(_ context.Context, input any) (any, error) { return input, nil }
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRegister(t *testing.T) {
	t.Run("creates a fresh record", func(t *testing.T) {
		reg := NewRegistry(slog.Default())

		res, err := reg.Register("a1", echoWorker(), map[string]any{"type": "research"})
		require.NoError(t, err)
		assert.Equal(t, RegisterResult{ID: "a1", Outcome: OutcomeRegistered}, res)

		snap, ok := reg.Get("a1")
		require.True(t, ok)
		assert.Equal(t, StatusActive, snap.Status)
		assert.Equal(t, "research", snap.Type)
		assert.Equal(t, "Execute", snap.EntryPoint)
		assert.Equal(t, Metrics{}, snap.Metrics)
	})

	t.Run("rejects empty id", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		_, err := reg.Register("", echoWorker(), nil)
		assert.ErrorIs(t, err, ErrInvalidID)
	})

	t.Run("re-registration preserves registeredAt and metrics", func(t *testing.T) {
		clock := newFakeClock()
		reg := NewRegistry(slog.Default(), WithClock(clock.Now))

		_, err := reg.Register("a1", echoWorker(), map[string]any{"type": "v1"})
		require.NoError(t, err)
		first, _ := reg.Get("a1")

		_, err = reg.BeginExecution("a1")
		require.NoError(t, err)
		require.NoError(t, reg.EndExecution("a1", 200*time.Millisecond, false))
		status, _ := reg.Status("a1")
		require.Equal(t, StatusError, status)

		clock.Advance(time.Hour)
		res, err := reg.Register("a1", echoWorker(), map[string]any{"type": "v2"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeUpdated, res.Outcome)

		snap, _ := reg.Get("a1")
		assert.Equal(t, first.RegisteredAt, snap.RegisteredAt)
		assert.Equal(t, StatusActive, snap.Status)
		assert.Equal(t, "v2", snap.Type)
		assert.Equal(t, int64(1), snap.Metrics.TotalExecutions)
		assert.Equal(t, int64(1), snap.Metrics.FailedExecutions)
		assert.Equal(t, 1, reg.Len())
	})

	t.Run("accepts handle without entry point", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		_, err := reg.Register("odd", struct{}{}, nil)
		require.NoError(t, err)

		_, err = reg.BeginExecution("odd")
		assert.ErrorIs(t, err, ErrNoRecognizedEntryPoint)
		status, _ := reg.Status("odd")
		assert.Equal(t, StatusActive, status)
	})

	t.Run("config is copied", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		cfg := map[string]any{"type": "x"}
		_, err := reg.Register("a1", echoWorker(), cfg)
		require.NoError(t, err)

		cfg["type"] = "mutated"
		snap, _ := reg.Get("a1")
		assert.Equal(t, "x", snap.Type)

		snap.Config["type"] = "mutated"
		again, _ := reg.Get("a1")
		assert.Equal(t, "x", again.Type)
	})
}

func TestUnregister(t *testing.T) {
	t.Run("removes record, status and metrics together", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		_, err := reg.Register("a1", echoWorker(), nil)
		require.NoError(t, err)

		require.NoError(t, reg.Unregister("a1"))

		_, ok := reg.Get("a1")
		assert.False(t, ok)
		_, ok = reg.Status("a1")
		assert.False(t, ok)
		_, ok = reg.Metrics("a1")
		assert.False(t, ok)
		assert.Empty(t, reg.List())
	})

	t.Run("unknown id", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		assert.ErrorIs(t, reg.Unregister("missing"), ErrAgentNotFound)
	})

	t.Run("never observable half removed under concurrency", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		var wg sync.WaitGroup
		stop := make(chan struct{})

		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, snap := range reg.List() {
					// A listed agent always carries a status.
					if snap.Status == "" {
						t.Errorf("agent %s listed without status", snap.ID)
						return
					}
				}
			}
		}()

		for i := 0; i < 200; i++ {
			_, err := reg.Register("a1", echoWorker(), nil)
			require.NoError(t, err)
			require.NoError(t, reg.Unregister("a1"))
		}
		close(stop)
		wg.Wait()
	})
}

func TestListOrder(t *testing.T) {
	reg := NewRegistry(slog.Default())
	for _, id := range []string{"c", "a", "b"} {
		_, err := reg.Register(id, echoWorker(), nil)
		require.NoError(t, err)
	}
	_, err := reg.Register("a", echoWorker(), nil)
	require.NoError(t, err)

	var ids []string
	for _, s := range reg.List() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)

	assert.Equal(t, []string{"c", "a", "b"}, reg.Clear())
	assert.Zero(t, reg.Len())
}

func TestExecutionBookkeeping(t *testing.T) {
	t.Run("begin requires active", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		_, err := reg.Register("a1", echoWorker(), nil)
		require.NoError(t, err)
		require.NoError(t, reg.SetStatus("a1", StatusUnhealthy))

		_, err = reg.BeginExecution("a1")
		assert.ErrorIs(t, err, ErrAgentNotActive)
	})

	t.Run("inactive agent without entry point reports not active", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		_, err := reg.Register("a1", struct{}{}, nil)
		require.NoError(t, err)
		require.NoError(t, reg.SetStatus("a1", StatusUnhealthy))

		_, err = reg.BeginExecution("a1")
		assert.ErrorIs(t, err, ErrAgentNotActive)
		assert.NotErrorIs(t, err, ErrNoRecognizedEntryPoint)

		require.NoError(t, reg.SetStatus("a1", StatusActive))
		_, err = reg.BeginExecution("a1")
		assert.ErrorIs(t, err, ErrNoRecognizedEntryPoint)
	})

	t.Run("begin on unknown agent", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		_, err := reg.BeginExecution("ghost")
		assert.ErrorIs(t, err, ErrAgentNotFound)
	})

	t.Run("success returns to active and updates metrics", func(t *testing.T) {
		clock := newFakeClock()
		reg := NewRegistry(slog.Default(), WithClock(clock.Now))
		_, err := reg.Register("a1", echoWorker(), nil)
		require.NoError(t, err)

		_, err = reg.BeginExecution("a1")
		require.NoError(t, err)
		status, _ := reg.Status("a1")
		assert.Equal(t, StatusExecuting, status)

		require.NoError(t, reg.EndExecution("a1", 100*time.Millisecond, true))
		_, err = reg.BeginExecution("a1")
		require.NoError(t, err)
		require.NoError(t, reg.EndExecution("a1", 300*time.Millisecond, false))

		m, _ := reg.Metrics("a1")
		assert.Equal(t, int64(2), m.TotalExecutions)
		assert.Equal(t, int64(1), m.SuccessfulExecutions)
		assert.Equal(t, int64(1), m.FailedExecutions)
		assert.Equal(t, 400*time.Millisecond, m.TotalExecutionTime)
		assert.Equal(t, 200*time.Millisecond, m.AverageExecutionTime)
		assert.Equal(t, clock.Now(), m.LastExecutionTime)
		assert.InDelta(t, 0.5, m.SuccessRate(), 1e-9)

		status, _ = reg.Status("a1")
		assert.Equal(t, StatusError, status)
	})

	t.Run("inactive survives end of execution", func(t *testing.T) {
		reg := NewRegistry(slog.Default())
		_, err := reg.Register("a1", echoWorker(), nil)
		require.NoError(t, err)
		_, err = reg.BeginExecution("a1")
		require.NoError(t, err)

		reg.MarkAll(StatusInactive)
		require.NoError(t, reg.EndExecution("a1", time.Millisecond, true))

		status, _ := reg.Status("a1")
		assert.Equal(t, StatusInactive, status)
	})
}

func TestCompareAndSetStatus(t *testing.T) {
	reg := NewRegistry(slog.Default())
	_, err := reg.Register("a1", echoWorker(), nil)
	require.NoError(t, err)

	ok, err := reg.CompareAndSetStatus("a1", StatusActive, StatusUnhealthy)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = reg.CompareAndSetStatus("a1", StatusUnhealthy, StatusActive, StatusUnhealthy)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = reg.CompareAndSetStatus("ghost", StatusActive)
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestTransitionHook(t *testing.T) {
	type change struct{ from, to Status }
	var mu sync.Mutex
	var got []change

	reg := NewRegistry(slog.Default(), WithTransitionHook(func(_ string, from, to Status) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, change{from, to})
	}))

	_, err := reg.Register("a1", echoWorker(), nil)
	require.NoError(t, err)
	_, err = reg.BeginExecution("a1")
	require.NoError(t, err)
	require.NoError(t, reg.EndExecution("a1", time.Millisecond, true))
	require.NoError(t, reg.SetStatus("a1", StatusActive))

	assert.Equal(t, []change{
		{"", StatusActive},
		{StatusActive, StatusExecuting},
		{StatusExecuting, StatusActive},
	}, got)
}

func TestRecordOutcomeMonotonic(t *testing.T) {
	reg := NewRegistry(slog.Default())
	_, err := reg.Register("a1", echoWorker(), nil)
	require.NoError(t, err)

	var prev Metrics
	for i := 0; i < 20; i++ {
		require.NoError(t, reg.RecordOutcome("a1", time.Duration(i)*time.Millisecond, i%3 != 0))
		m, _ := reg.Metrics("a1")
		assert.GreaterOrEqual(t, m.TotalExecutions, prev.TotalExecutions)
		assert.GreaterOrEqual(t, m.SuccessfulExecutions, prev.SuccessfulExecutions)
		assert.GreaterOrEqual(t, m.FailedExecutions, prev.FailedExecutions)
		assert.GreaterOrEqual(t, m.TotalExecutionTime, prev.TotalExecutionTime)
		prev = m
	}

	assert.ErrorIs(t, reg.RecordOutcome("ghost", 0, true), ErrAgentNotFound)
}

func TestHeartbeat(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(slog.Default(), WithClock(clock.Now))
	_, err := reg.Register("a1", echoWorker(), nil)
	require.NoError(t, err)

	snap, _ := reg.Get("a1")
	assert.True(t, snap.LastHeartbeat.IsZero())

	clock.Advance(time.Second)
	w, err := reg.Heartbeat("a1", 0.4)
	require.NoError(t, err)
	assert.Equal(t, 0.4, w)
	snap, _ = reg.Get("a1")
	assert.Equal(t, clock.Now(), snap.LastHeartbeat)
	assert.Equal(t, 0.4, snap.Workload)

	tests := []struct {
		in, want float64
	}{
		{1.7, 1},
		{-0.2, 0},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		w, err := reg.Heartbeat("a1", tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, w)
	}

	_, err = reg.Heartbeat("ghost", 0.5)
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestMetricsJSON(t *testing.T) {
	m := Metrics{
		TotalExecutions:      2,
		SuccessfulExecutions: 2,
		TotalExecutionTime:   3 * time.Second,
		AverageExecutionTime: 1500 * time.Millisecond,
	}
	data, err := json.Marshal(Snapshot{ID: "a1", Status: StatusActive, Metrics: m})
	require.NoError(t, err)

	var out struct {
		Metrics map[string]any `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 3000.0, out.Metrics["totalExecutionTimeMs"])
	assert.Equal(t, 1500.0, out.Metrics["averageExecutionTimeMs"])
	assert.Equal(t, 2.0, out.Metrics["totalExecutions"])
	assert.NotContains(t, out.Metrics, "totalExecutionTime")
}
