// ABOUTME: Fact log interface and record types for coordination history.
// ABOUTME: Rows are written best-effort by the coordinator and read back only for reporting.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Agent fact events.
const (
	EventRegistered   = "registered"
	EventUpdated      = "updated"
	EventUnregistered = "unregistered"
	EventDeactivated  = "deactivated"
)

// AgentFact records one lifecycle event for an agent.
type AgentFact struct {
	ID         string
	AgentID    string
	Event      string
	AgentType  string
	Config     map[string]any
	RecordedAt time.Time
}

// ExecutionRecord records the outcome of one dispatch, including its retries.
type ExecutionRecord struct {
	ID             string
	AgentID        string
	CoordinationID string // empty for single-agent runs
	Status         string
	Error          string
	Attempts       int
	RetryCount     int
	Duration       time.Duration
	RecordedAt     time.Time
}

// CoordinationRecord records one multi-agent run.
type CoordinationRecord struct {
	ID         string
	Mode       string
	Status     string
	AgentIDs   []string
	Total      int
	Successful int
	Failed     int
	StartedAt  time.Time
	Duration   time.Duration
}

// FactStore persists coordination history.
type FactStore interface {
	RecordAgentFact(ctx context.Context, fact *AgentFact) error
	RecordExecution(ctx context.Context, rec *ExecutionRecord) error
	RecordCoordination(ctx context.Context, rec *CoordinationRecord) error

	// List methods return newest first. An empty agentID matches every agent.
	ListAgentFacts(ctx context.Context, agentID string, limit int) ([]*AgentFact, error)
	ListExecutions(ctx context.Context, agentID string, limit int) ([]*ExecutionRecord, error)
	ListCoordinations(ctx context.Context, limit int) ([]*CoordinationRecord, error)
	GetCoordination(ctx context.Context, id string) (*CoordinationRecord, error)
	// ListCoordinationExecutions returns one coordination's executions oldest first.
	ListCoordinationExecutions(ctx context.Context, coordinationID string) ([]*ExecutionRecord, error)

	Close() error
}

// clampLimit applies the default of 100 and the ceiling of 1000.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
