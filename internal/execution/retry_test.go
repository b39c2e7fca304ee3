// ABOUTME: Tests for the retry controller: attempt bounds, linear backoff and non-retryable errors.

package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-coordinator/internal/agent"
)

// recordingSleeper captures backoff delays without waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func failTimes(n int32, calls *atomic.Int32) agent.WorkerFunc {
	return func(context.Context, any) (any, error) {
		c := calls.Add(1)
		if c <= n {
			return nil, fmt.Errorf("transient failure %d", c)
		}
		return "ok", nil
	}
}

func TestDispatchWithRetry(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, Delay: 100 * time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		var calls atomic.Int32
		reg := newTestRegistry(t, map[string]any{"a1": failTimes(2, &calls)})
		sleeper := &recordingSleeper{}
		r := NewRetrier(NewGuard(reg, time.Second, slog.Default(), nil), WithSleeper(sleeper.Sleep))

		res := r.DispatchWithRetry(context.Background(), "a1", nil, policy)
		require.True(t, res.Succeeded(), res.Error)
		assert.Equal(t, "ok", res.Output)
		assert.Equal(t, 3, res.Attempts)
		assert.Equal(t, 2, res.RetryCount)
		assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeper.Delays())
		assertStatus(t, reg, "a1", agent.StatusActive)

		m, _ := reg.Metrics("a1")
		assert.Equal(t, int64(3), m.TotalExecutions)
		assert.Equal(t, int64(2), m.FailedExecutions)
	})

	t.Run("exhausts retries", func(t *testing.T) {
		var calls atomic.Int32
		reg := newTestRegistry(t, map[string]any{"a1": failTimes(100, &calls)})
		sleeper := &recordingSleeper{}
		r := NewRetrier(NewGuard(reg, time.Second, slog.Default(), nil), WithSleeper(sleeper.Sleep))

		res := r.DispatchWithRetry(context.Background(), "a1", nil, policy)
		assert.False(t, res.Succeeded())
		assert.Equal(t, int32(4), calls.Load())
		assert.Equal(t, 4, res.Attempts)
		assert.Equal(t, 3, res.RetryCount)
		assert.Contains(t, res.Error, "transient failure 4")
		assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}, sleeper.Delays())
		assertStatus(t, reg, "a1", agent.StatusError)
	})

	t.Run("no entry point is attempted once", func(t *testing.T) {
		reg := newTestRegistry(t, map[string]any{"a1": struct{}{}})
		sleeper := &recordingSleeper{}
		r := NewRetrier(NewGuard(reg, time.Second, slog.Default(), nil), WithSleeper(sleeper.Sleep))

		res := r.DispatchWithRetry(context.Background(), "a1", nil, policy)
		assert.False(t, res.Succeeded())
		assert.ErrorIs(t, res.Err, agent.ErrNoRecognizedEntryPoint)
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, 0, res.RetryCount)
		assert.Empty(t, sleeper.Delays())
	})

	t.Run("unknown agent is attempted once", func(t *testing.T) {
		sleeper := &recordingSleeper{}
		r := NewRetrier(NewGuard(newTestRegistry(t, nil), time.Second, slog.Default(), nil), WithSleeper(sleeper.Sleep))

		res := r.DispatchWithRetry(context.Background(), "ghost", nil, policy)
		assert.ErrorIs(t, res.Err, agent.ErrAgentNotFound)
		assert.Equal(t, 1, res.Attempts)
		assert.Empty(t, sleeper.Delays())
	})

	t.Run("timeouts are retried", func(t *testing.T) {
		var calls atomic.Int32
		reg := newTestRegistry(t, map[string]any{"a1": agent.WorkerFunc(func(ctx context.Context, _ any) (any, error) {
			if calls.Add(1) == 1 {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return "second", nil
		})})
		sleeper := &recordingSleeper{}
		r := NewRetrier(NewGuard(reg, time.Second, slog.Default(), nil), WithSleeper(sleeper.Sleep))

		res := r.DispatchWithRetry(context.Background(), "a1", nil, RetryPolicy{MaxRetries: 1, Timeout: 20 * time.Millisecond})
		require.True(t, res.Succeeded(), res.Error)
		assert.Equal(t, "second", res.Output)
		assert.Equal(t, 1, res.RetryCount)
	})

	t.Run("cancelled during backoff", func(t *testing.T) {
		var calls atomic.Int32
		reg := newTestRegistry(t, map[string]any{"a1": failTimes(100, &calls)})
		ctx, cancel := context.WithCancel(context.Background())
		r := NewRetrier(NewGuard(reg, time.Second, slog.Default(), nil), WithSleeper(func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		}))

		res := r.DispatchWithRetry(ctx, "a1", nil, policy)
		assert.False(t, res.Succeeded())
		assert.Equal(t, int32(1), calls.Load())
		require.Error(t, res.Err)
		assert.True(t, errors.As(res.Err, new(*WorkerError)))
		assert.Contains(t, res.Error, "retry abandoned")
	})

	t.Run("zero retries", func(t *testing.T) {
		var calls atomic.Int32
		reg := newTestRegistry(t, map[string]any{"a1": failTimes(100, &calls)})
		r := NewRetrier(NewGuard(reg, time.Second, slog.Default(), nil))

		res := r.DispatchWithRetry(context.Background(), "a1", nil, RetryPolicy{})
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, 0, res.RetryCount)
	})
}

func TestBackoffIsLinear(t *testing.T) {
	p := RetryPolicy{Delay: time.Second}
	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 3*time.Second, p.Backoff(2))
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))
}
