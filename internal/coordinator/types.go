// ABOUTME: Request and result types for multi-agent coordination.
// ABOUTME: Status is derived purely from the success/failure counts of the per-agent results.

package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/coven-coordinator/internal/execution"
)

var (
	// ErrNoAgents indicates a coordination request named no agents.
	ErrNoAgents = errors.New("no agents specified")

	// ErrUnknownMode indicates a coordination mode other than parallel or sequential.
	ErrUnknownMode = errors.New("unknown coordination mode")

	// ErrShutdown indicates the coordinator has been shut down.
	ErrShutdown = errors.New("coordinator is shut down")
)

// Mode selects how a coordination runs its agents.
type Mode string

const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
)

// Status is the overall outcome of a coordination.
type Status string

const (
	StatusCompleted      Status = "completed"
	StatusPartialFailure Status = "partial_failure"
	StatusFailed         Status = "failed"
)

// Request describes one multi-agent run.
type Request struct {
	AgentIDs []string `json:"agentIds" yaml:"agents"`
	Mode     Mode     `json:"mode" yaml:"mode"`
	Input    any      `json:"input" yaml:"input"`

	// Retry enables retries for every agent in the run.
	Retry *execution.RetryPolicy `json:"retry,omitempty" yaml:"-"`
	// Timeout overrides the per-dispatch timeout when positive.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"-"`
}

// Validate checks the agent list and mode.
func (r Request) Validate() error {
	if len(r.AgentIDs) == 0 {
		return ErrNoAgents
	}
	switch r.Mode {
	case ModeParallel, ModeSequential:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, r.Mode)
	}
}

// Summary counts the results of a coordination.
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Result is the outcome of one coordination.
type Result struct {
	CoordinationID string              `json:"coordinationId"`
	Mode           Mode                `json:"mode"`
	Results        []*execution.Result `json:"results"`
	Status         Status              `json:"status"`
	Summary        Summary             `json:"summary"`
	StartedAt      time.Time           `json:"startedAt"`
	Duration       time.Duration       `json:"-"`
}

// MarshalJSON adds durationMs.
func (r *Result) MarshalJSON() ([]byte, error) {
	type alias Result
	return json.Marshal(struct {
		*alias
		DurationMs int64 `json:"durationMs"`
	}{
		alias:      (*alias)(r),
		DurationMs: r.Duration.Milliseconds(),
	})
}

// summarize counts results and derives the status: completed with no
// failures, failed with no successes, partial_failure otherwise.
func summarize(results []*execution.Result) (Summary, Status) {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Succeeded() {
			s.Successful++
		} else {
			s.Failed++
		}
	}

	switch {
	case s.Failed == 0:
		return s, StatusCompleted
	case s.Successful == 0:
		return s, StatusFailed
	default:
		return s, StatusPartialFailure
	}
}
