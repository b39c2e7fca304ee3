// ABOUTME: Retry controller: bounded re-dispatch with linear backoff.
// ABOUTME: Only timeouts and worker-raised errors are retried.

package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-coordinator/internal/agent"
	"github.com/2389/coven-coordinator/internal/telemetry"
)

// RetryPolicy bounds a retried dispatch.
type RetryPolicy struct {
	MaxRetries int           `json:"maxRetries" yaml:"max_retries"`
	Delay      time.Duration `json:"retryDelay" yaml:"-"`
	Timeout    time.Duration `json:"timeout" yaml:"-"`
}

// DefaultRetryPolicy returns 3 retries with a 1s base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Delay: time.Second}
}

// Backoff returns the wait after the given zero-based failed attempt.
// The growth is linear: delay, 2*delay, 3*delay, ...
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return p.Delay * time.Duration(attempt+1)
}

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retrier wraps a Guard with retries.
type Retrier struct {
	guard       *Guard
	registry    *agent.Registry
	logger      *slog.Logger
	instruments *telemetry.Instruments
	sleep       Sleeper
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithSleeper replaces the backoff wait, mainly for tests.
func WithSleeper(s Sleeper) RetrierOption {
	return func(r *Retrier) { r.sleep = s }
}

// NewRetrier creates a Retrier over guard.
func NewRetrier(guard *Guard, opts ...RetrierOption) *Retrier {
	r := &Retrier{
		guard:       guard,
		registry:    guard.registry,
		logger:      guard.logger,
		instruments: guard.instruments,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DispatchWithRetry makes up to p.MaxRetries+1 attempts and returns the first
// success or a terminal failure carrying the last error. Between attempts the
// agent is moved from error back to active.
func (r *Retrier) DispatchWithRetry(ctx context.Context, agentID string, input any, p RetryPolicy) *Result {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}

	start := time.Now()
	attempts := 0
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		attempts++
		out, err := r.guard.Dispatch(ctx, agentID, input, DispatchOptions{Timeout: p.Timeout})
		if err == nil {
			if attempt > 0 {
				r.logger.Info("agent succeeded after retry", "agent_id", agentID, "attempts", attempts)
			}
			return completed(agentID, out, time.Since(start), attempts)
		}
		lastErr = err

		if !IsRetryable(err) || attempt == p.MaxRetries {
			break
		}

		if _, serr := r.registry.CompareAndSetStatus(agentID, agent.StatusActive, agent.StatusError); serr != nil {
			lastErr = fmt.Errorf("%w (reset before retry failed: %v)", err, serr)
			break
		}

		delay := p.Backoff(attempt)
		r.logger.Info("retrying agent dispatch",
			"agent_id", agentID,
			"attempt", attempts,
			"max_retries", p.MaxRetries,
			"delay", delay,
			"error", err,
		)
		r.instruments.RecordRetry(ctx, agentID)
		if serr := r.sleep(ctx, delay); serr != nil {
			lastErr = fmt.Errorf("%w (retry abandoned: %v)", err, serr)
			break
		}
	}

	r.logger.Warn("agent dispatch failed after retries",
		"agent_id", agentID,
		"attempts", attempts,
		"error", lastErr,
	)
	return failed(agentID, lastErr, time.Since(start), attempts)
}
