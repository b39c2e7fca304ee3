// ABOUTME: Execution result type and the error taxonomy for dispatch failures.
// ABOUTME: Timeouts and worker-raised errors are retryable; everything else is permanent.

package execution

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout indicates a worker did not settle within the dispatch timeout.
var ErrTimeout = errors.New("execution timed out")

// WorkerError wraps a failure raised by a worker's own logic.
type WorkerError struct {
	AgentID string
	Err     error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("agent %q failed: %v", e.AgentID, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var we *WorkerError
	return errors.As(err, &we)
}

// ResultStatus is the outcome of one dispatch (or one retry round-trip).
type ResultStatus string

const (
	StatusCompleted ResultStatus = "completed"
	StatusFailed    ResultStatus = "failed"
)

// Result describes the outcome of running one agent.
type Result struct {
	AgentID       string        `json:"agentId"`
	Status        ResultStatus  `json:"status"`
	Output        any           `json:"result,omitempty"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"-"`
	Attempts      int           `json:"attempts"`
	RetryCount    int           `json:"retryCount"`

	// Err is the underlying error for failed results.
	Err error `json:"-"`
}

// Succeeded reports whether the result is completed.
func (r *Result) Succeeded() bool {
	return r != nil && r.Status == StatusCompleted
}

// MarshalJSON adds executionTimeMs.
func (r *Result) MarshalJSON() ([]byte, error) {
	type alias Result
	return json.Marshal(struct {
		*alias
		ExecutionTimeMs int64 `json:"executionTimeMs"`
	}{
		alias:           (*alias)(r),
		ExecutionTimeMs: r.ExecutionTime.Milliseconds(),
	})
}

func completed(agentID string, out any, elapsed time.Duration, attempts int) *Result {
	return &Result{
		AgentID:       agentID,
		Status:        StatusCompleted,
		Output:        out,
		ExecutionTime: elapsed,
		Attempts:      attempts,
		RetryCount:    attempts - 1,
	}
}

func failed(agentID string, err error, elapsed time.Duration, attempts int) *Result {
	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}
	return &Result{
		AgentID:       agentID,
		Status:        StatusFailed,
		Error:         err.Error(),
		Err:           err,
		ExecutionTime: elapsed,
		Attempts:      attempts,
		RetryCount:    retries,
	}
}
