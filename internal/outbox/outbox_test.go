// ABOUTME: Tests for the side-channel outbox: delivery, failure isolation, backpressure and drain.

package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutbox_RunsJobs(t *testing.T) {
	o := New(slog.Default(), Config{Workers: 2})

	var ran atomic.Int32
	for range 10 {
		require.True(t, o.Submit("count", func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}

	require.NoError(t, o.Close(context.Background()))
	assert.Equal(t, int32(10), ran.Load())

	stats := o.Stats()
	assert.Equal(t, int64(10), stats.Processed)
	assert.Equal(t, int64(0), stats.Pending)
}

func TestOutbox_FailuresAreContained(t *testing.T) {
	o := New(slog.Default(), Config{Workers: 1})

	o.Submit("error", func(context.Context) error { return errors.New("disk full") })
	o.Submit("panic", func(context.Context) error { panic("boom") })
	o.Submit("ok", func(context.Context) error { return nil })

	require.NoError(t, o.Close(context.Background()))
	stats := o.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Processed)
}

func TestOutbox_JobsGetDeadline(t *testing.T) {
	o := New(slog.Default(), Config{Workers: 1, Timeout: 10 * time.Millisecond})

	var sawDeadline atomic.Bool
	o.Submit("deadline", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		sawDeadline.Store(ok)
		<-ctx.Done()
		return ctx.Err()
	})

	require.NoError(t, o.Close(context.Background()))
	assert.True(t, sawDeadline.Load())
	assert.Equal(t, int64(1), o.Stats().Failed)
}

func TestOutbox_DropsWhenFull(t *testing.T) {
	o := New(slog.Default(), Config{Workers: 1, QueueSize: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, o.Submit("blocker", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	assert.True(t, o.Submit("queued", func(context.Context) error { return nil }))
	assert.False(t, o.Submit("overflow", func(context.Context) error { return nil }))
	assert.Equal(t, int64(1), o.Stats().Dropped)

	close(release)
	require.NoError(t, o.Close(context.Background()))
	assert.Equal(t, int64(2), o.Stats().Processed)
}

func TestOutbox_SubmitAfterClose(t *testing.T) {
	o := New(slog.Default(), Config{})
	require.NoError(t, o.Close(context.Background()))
	require.NoError(t, o.Close(context.Background()))

	assert.False(t, o.Submit("late", func(context.Context) error { return nil }))
	assert.Equal(t, int64(1), o.Stats().Dropped)
}

func TestOutbox_CloseHonoursContext(t *testing.T) {
	o := New(slog.Default(), Config{Workers: 1})

	release := make(chan struct{})
	defer close(release)
	o.Submit("stuck", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := o.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOutbox_RegisterMetricsNilInstruments(t *testing.T) {
	o := New(slog.Default(), Config{})
	defer o.Close(context.Background())
	assert.NoError(t, o.RegisterMetrics(nil))
}
