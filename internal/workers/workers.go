// ABOUTME: Built-in sample workers for demos, the CLI and end-to-end tests.
// ABOUTME: Each one exposes a different entry point so capability dispatch is exercised.

package workers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/2389/coven-coordinator/internal/config"
)

// ErrInjected is returned by Flaky for its scripted failures.
var ErrInjected = errors.New("injected failure")

// Echo returns its input, optionally prefixed. Entry point: Execute.
type Echo struct {
	Prefix string
}

// Execute echoes input back as a string.
func (e *Echo) Execute(_ context.Context, input any) (any, error) {
	return e.Prefix + fmt.Sprint(input), nil
}

// Delay waits before answering, returning early if ctx ends.
// Entry point: ExecuteResearch.
type Delay struct {
	Delay time.Duration
}

// ExecuteResearch waits d.Delay and reports what it looked at.
func (d *Delay) ExecuteResearch(ctx context.Context, input any) (any, error) {
	t := time.NewTimer(d.Delay)
	defer t.Stop()

	select {
	case <-t.C:
		return map[string]any{
			"topic":  fmt.Sprint(input),
			"waited": d.Delay.String(),
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Flaky fails its first FailTimes calls, then succeeds.
// Entry point: ExecuteDevelopment.
type Flaky struct {
	FailTimes int
	calls     atomic.Int64
}

// ExecuteDevelopment fails with ErrInjected until FailTimes calls have been made.
func (f *Flaky) ExecuteDevelopment(_ context.Context, input any) (any, error) {
	n := f.calls.Add(1)
	if n <= int64(f.FailTimes) {
		return nil, fmt.Errorf("call %d of %d: %w", n, f.FailTimes, ErrInjected)
	}
	return fmt.Sprintf("built %v after %d attempts", input, n), nil
}

// Calls returns how many times the worker has been invoked.
func (f *Flaky) Calls() int64 {
	return f.calls.Load()
}

// Planner splits a goal into numbered steps. Entry point: ExecutePlanning.
type Planner struct{}

// ExecutePlanning splits input on newlines, semicolons and " then ".
func (Planner) ExecutePlanning(_ context.Context, input any) (any, error) {
	goal := strings.TrimSpace(fmt.Sprint(input))
	if goal == "" {
		return nil, errors.New("nothing to plan")
	}

	replacer := strings.NewReplacer("\n", ";", " then ", ";")
	var steps []string
	for _, part := range strings.Split(replacer.Replace(goal), ";") {
		if part = strings.TrimSpace(part); part != "" {
			steps = append(steps, fmt.Sprintf("%d. %s", len(steps)+1, part))
		}
	}
	return steps, nil
}

// Build constructs the worker described by cfg and the agent config map to
// register it with. The map always carries "type" and "kind".
func Build(cfg config.WorkerConfig) (any, map[string]any, error) {
	var handle any
	switch cfg.Kind {
	case "echo":
		handle = &Echo{Prefix: cfg.Prefix}
	case "delay":
		handle = &Delay{Delay: cfg.Delay}
	case "flaky":
		handle = &Flaky{FailTimes: cfg.FailTimes}
	case "planner":
		handle = Planner{}
	default:
		return nil, nil, fmt.Errorf("worker %q: unknown kind %q", cfg.ID, cfg.Kind)
	}

	agentConfig := make(map[string]any, len(cfg.Options)+2)
	for k, v := range cfg.Options {
		agentConfig[k] = v
	}
	agentType := cfg.Type
	if agentType == "" {
		agentType = cfg.Kind
	}
	agentConfig["type"] = agentType
	agentConfig["kind"] = cfg.Kind
	return handle, agentConfig, nil
}
