// ABOUTME: Execution guard: runs one worker invocation under a hard timeout.
// ABOUTME: Brackets every dispatch with executing/active|error status transitions.

package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/2389/coven-coordinator/internal/agent"
	"github.com/2389/coven-coordinator/internal/telemetry"
)

// DefaultTimeout bounds a dispatch when no timeout is configured.
const DefaultTimeout = 5 * time.Minute

// DispatchOptions tunes a single dispatch.
type DispatchOptions struct {
	// Timeout overrides the guard's default when positive.
	Timeout time.Duration
}

// Guard dispatches input to registered workers.
//
// On timeout the worker's context is cancelled and the caller stops waiting.
// A worker that ignores its context keeps running in a detached goroutine
// until it returns on its own; its result is discarded.
type Guard struct {
	registry    *agent.Registry
	timeout     time.Duration
	logger      *slog.Logger
	instruments *telemetry.Instruments
}

// NewGuard creates a Guard. A non-positive timeout selects DefaultTimeout.
func NewGuard(registry *agent.Registry, timeout time.Duration, logger *slog.Logger, instruments *telemetry.Instruments) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		registry:    registry,
		timeout:     timeout,
		logger:      logger,
		instruments: instruments,
	}
}

// Dispatch invokes the agent's resolved entry point with input.
//
// Errors: agent.ErrAgentNotFound, agent.ErrAgentNotActive and
// agent.ErrNoRecognizedEntryPoint before the worker is called (no status
// change); ErrTimeout or *WorkerError after (status becomes error).
func (g *Guard) Dispatch(ctx context.Context, agentID string, input any, opts DispatchOptions) (any, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = g.timeout
	}

	worker, err := g.registry.BeginExecution(agentID)
	if err != nil {
		return nil, err
	}

	ctx, span := g.instruments.StartSpan(ctx, "agent.dispatch",
		attribute.String("agent.id", agentID),
		attribute.Int64("timeout_ms", timeout.Milliseconds()),
	)
	defer span.End()

	start := time.Now()
	out, err := g.invoke(ctx, agentID, worker, input, timeout)
	elapsed := time.Since(start)

	if endErr := g.registry.EndExecution(agentID, elapsed, err == nil); endErr != nil {
		g.logger.Warn("agent removed while executing", "agent_id", agentID, "error", endErr)
	}

	status := string(StatusCompleted)
	if err != nil {
		status = string(StatusFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Warn("agent dispatch failed",
			"agent_id", agentID,
			"duration", elapsed,
			"error", err,
		)
	} else {
		g.logger.Debug("agent dispatch completed", "agent_id", agentID, "duration", elapsed)
	}
	g.instruments.RecordExecution(ctx, agentID, status, elapsed)

	return out, err
}

type outcome struct {
	out any
	err error
}

// invoke races the worker against the timeout.
func (g *Guard) invoke(ctx context.Context, agentID string, worker agent.Worker, input any, timeout time.Duration) (any, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so an abandoned worker can still deliver and exit.
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		out, err := worker.Execute(runCtx, input)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err == nil {
			return o.out, nil
		}
		if timedOut(ctx, runCtx) {
			return nil, timeoutError(agentID, timeout)
		}
		return nil, &WorkerError{AgentID: agentID, Err: o.err}

	case <-runCtx.Done():
		if timedOut(ctx, runCtx) {
			g.logger.Warn("agent dispatch timed out, worker left running",
				"agent_id", agentID,
				"timeout", timeout,
			)
			return nil, timeoutError(agentID, timeout)
		}
		return nil, fmt.Errorf("dispatch to %q cancelled: %w", agentID, ctx.Err())
	}
}

// timedOut reports whether runCtx expired on its own deadline rather than
// because the caller's ctx ended.
func timedOut(parent, runCtx context.Context) bool {
	return parent.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded)
}

func timeoutError(agentID string, timeout time.Duration) error {
	return fmt.Errorf("agent %q exceeded %s: %w", agentID, timeout, ErrTimeout)
}

// Execute dispatches once and reports the outcome as a Result.
func (g *Guard) Execute(ctx context.Context, agentID string, input any, opts DispatchOptions) *Result {
	start := time.Now()
	out, err := g.Dispatch(ctx, agentID, input, opts)
	if err != nil {
		return failed(agentID, err, time.Since(start), 1)
	}
	return completed(agentID, out, time.Since(start), 1)
}
