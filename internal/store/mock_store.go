// ABOUTME: In-memory FactStore for tests and for running without a database.
// ABOUTME: Mirrors SQLiteStore ordering: newest first, limit clamped the same way.

package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory FactStore implementation.
type MockStore struct {
	mu            sync.RWMutex
	facts         []*AgentFact
	executions    []*ExecutionRecord
	coordinations []*CoordinationRecord
}

var _ FactStore = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// RecordAgentFact stores a copy of fact.
func (m *MockStore) RecordAgentFact(_ context.Context, fact *AgentFact) error {
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	if fact.RecordedAt.IsZero() {
		fact.RecordedAt = time.Now()
	}
	f := *fact
	f.Config = maps.Clone(fact.Config)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts = append(m.facts, &f)
	return nil
}

// RecordExecution stores a copy of rec.
func (m *MockStore) RecordExecution(_ context.Context, rec *ExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	r := *rec

	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, &r)
	return nil
}

// RecordCoordination stores a copy of rec.
func (m *MockStore) RecordCoordination(_ context.Context, rec *CoordinationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	r := *rec
	r.AgentIDs = slices.Clone(rec.AgentIDs)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.coordinations = append(m.coordinations, &r)
	return nil
}

// newestFirst walks items from the back, keeping those that match, up to limit.
func newestFirst[T any](items []*T, limit int, match func(*T) bool) []*T {
	limit = clampLimit(limit)
	var out []*T
	for i := len(items) - 1; i >= 0 && len(out) < limit; i-- {
		if match(items[i]) {
			c := *items[i]
			out = append(out, &c)
		}
	}
	return out
}

// ListAgentFacts returns facts newest first.
func (m *MockStore) ListAgentFacts(_ context.Context, agentID string, limit int) ([]*AgentFact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.facts, limit, func(f *AgentFact) bool {
		return agentID == "" || f.AgentID == agentID
	}), nil
}

// ListExecutions returns execution records newest first.
func (m *MockStore) ListExecutions(_ context.Context, agentID string, limit int) ([]*ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.executions, limit, func(r *ExecutionRecord) bool {
		return agentID == "" || r.AgentID == agentID
	}), nil
}

// ListCoordinations returns coordination records newest first.
func (m *MockStore) ListCoordinations(_ context.Context, limit int) ([]*CoordinationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.coordinations, limit, func(*CoordinationRecord) bool { return true }), nil
}

// GetCoordination returns one coordination record.
func (m *MockStore) GetCoordination(_ context.Context, id string) (*CoordinationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.coordinations {
		if r.ID == id {
			c := *r
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// ListCoordinationExecutions returns one coordination's executions oldest first.
func (m *MockStore) ListCoordinationExecutions(_ context.Context, coordinationID string) ([]*ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ExecutionRecord
	for _, r := range m.executions {
		if coordinationID != "" && r.CoordinationID == coordinationID {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

// Close is a no-op.
func (m *MockStore) Close() error { return nil }
