// ABOUTME: Registry of workers with their lifecycle status and rolling execution metrics.
// ABOUTME: One lock guards records, statuses and metrics so no half-updated triple is observable.

package agent

import (
	"errors"
	"fmt"
	"encoding/json"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sync"
	"time"
)

// ErrAgentNotFound indicates the specified agent was not found.
var ErrAgentNotFound = errors.New("agent not found")

// ErrAgentNotActive indicates a dispatch was attempted on an agent that is not active.
var ErrAgentNotActive = errors.New("agent not active")

// ErrInvalidID indicates an empty agent ID.
var ErrInvalidID = errors.New("invalid agent ID")

// Status is the lifecycle state of a registered agent.
type Status string

const (
	StatusActive    Status = "active"
	StatusExecuting Status = "executing"
	StatusUnhealthy Status = "unhealthy"
	StatusError     Status = "error"
	StatusInactive  Status = "inactive"
)

// Outcome reports whether Register created or replaced a record.
type Outcome string

const (
	OutcomeRegistered Outcome = "registered"
	OutcomeUpdated    Outcome = "updated"
)

// RegisterResult is returned by Register.
type RegisterResult struct {
	ID      string  `json:"id"`
	Outcome Outcome `json:"status"`
}

// Metrics holds rolling execution counters for one agent.
type Metrics struct {
	TotalExecutions      int64         `json:"totalExecutions"`
	SuccessfulExecutions int64         `json:"successfulExecutions"`
	FailedExecutions     int64         `json:"failedExecutions"`
	TotalExecutionTime   time.Duration `json:"-"`
	AverageExecutionTime time.Duration `json:"-"`
	LastExecutionTime    time.Time     `json:"lastExecutionTime"`
}

// MarshalJSON reports the durations in milliseconds.
func (m Metrics) MarshalJSON() ([]byte, error) {
	type alias Metrics
	return json.Marshal(struct {
		alias
		TotalExecutionTimeMs   int64 `json:"totalExecutionTimeMs"`
		AverageExecutionTimeMs int64 `json:"averageExecutionTimeMs"`
	}{
		alias:                  alias(m),
		TotalExecutionTimeMs:   m.TotalExecutionTime.Milliseconds(),
		AverageExecutionTimeMs: m.AverageExecutionTime.Milliseconds(),
	})
}

// SuccessRate returns successful/total, or 1 when there is no history.
func (m Metrics) SuccessRate() float64 {
	if m.TotalExecutions == 0 {
		return 1
	}
	return float64(m.SuccessfulExecutions) / float64(m.TotalExecutions)
}

// record is owned by the Registry and never handed out directly.
type record struct {
	id              string
	handle          any
	worker          Worker
	entryPoint      string
	config          map[string]any
	registeredAt    time.Time
	lastHealthCheck time.Time
	lastHeartbeat   time.Time
	workload        float64
}

// Snapshot is a point-in-time copy of one agent's record, status and metrics.
type Snapshot struct {
	ID              string         `json:"id"`
	Type            string         `json:"type,omitempty"`
	EntryPoint      string         `json:"entryPoint,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
	RegisteredAt    time.Time      `json:"registeredAt"`
	LastHealthCheck time.Time      `json:"lastHealthCheck"`
	// LastHeartbeat is zero until the agent first reports a heartbeat.
	LastHeartbeat time.Time `json:"lastHeartbeat,omitzero"`
	// Workload is the last reported load in [0, 1].
	Workload float64 `json:"workload"`
	Status   Status  `json:"status"`
	Metrics         Metrics        `json:"metrics"`

	// HasHandle is false when the agent was registered with a nil handle.
	HasHandle bool `json:"-"`
}

// TransitionFunc observes status changes. It is called after the registry
// lock is released.
type TransitionFunc func(agentID string, from, to Status)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithTransitionHook registers an observer for status transitions.
func WithTransitionHook(fn TransitionFunc) RegistryOption {
	return func(r *Registry) { r.onTransition = append(r.onTransition, fn) }
}

// Registry tracks every registered agent.
type Registry struct {
	mu       sync.RWMutex
	records  map[string]*record
	statuses map[string]Status
	metrics  map[string]*Metrics
	order    []string

	now          func() time.Time
	onTransition []TransitionFunc
	logger       *slog.Logger
}

type transition struct {
	id       string
	from, to Status
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		records:  make(map[string]*record),
		statuses: make(map[string]Status),
		metrics:  make(map[string]*Metrics),
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an agent or updates an existing one.
// An update keeps RegisteredAt and metrics, replaces handle and config, and
// resets the status to active. A handle without a recognized entry point is
// accepted; dispatching to it fails with ErrNoRecognizedEntryPoint.
func (r *Registry) Register(id string, handle any, config map[string]any) (RegisterResult, error) {
	if id == "" {
		return RegisterResult{}, ErrInvalidID
	}

	worker, entryPoint, err := Adapt(handle)
	if err != nil {
		r.logger.Warn("agent registered without a recognized entry point",
			"agent_id", id,
			"accepted", EntryPoints(),
		)
	}

	r.mu.Lock()
	now := r.now()
	outcome := OutcomeRegistered
	rec, exists := r.records[id]
	if exists {
		outcome = OutcomeUpdated
		rec.handle = handle
		rec.worker = worker
		rec.entryPoint = entryPoint
		rec.config = maps.Clone(config)
	} else {
		r.records[id] = &record{
			id:           id,
			handle:       handle,
			worker:       worker,
			entryPoint:   entryPoint,
			config:       maps.Clone(config),
			registeredAt: now,
		}
		r.metrics[id] = &Metrics{}
		r.order = append(r.order, id)
	}
	t := r.setStatusLocked(id, StatusActive)
	total := len(r.records)
	r.mu.Unlock()

	r.notify(t)
	r.logger.Info("agent registered",
		"agent_id", id,
		"outcome", string(outcome),
		"entry_point", entryPoint,
		"type", configType(config),
		"total_agents", total,
	)
	return RegisterResult{ID: id, Outcome: outcome}, nil
}

// Unregister removes an agent's record, status and metrics together.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	if _, ok := r.records[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("unregister %q: %w", id, ErrAgentNotFound)
	}
	r.removeLocked(id)
	total := len(r.records)
	r.mu.Unlock()

	r.logger.Info("agent unregistered", "agent_id", id, "total_agents", total)
	return nil
}

// Clear removes every agent and returns the removed IDs in registration order.
func (r *Registry) Clear() []string {
	r.mu.Lock()
	removed := slices.Clone(r.order)
	for _, id := range removed {
		r.removeLocked(id)
	}
	r.mu.Unlock()
	return removed
}

func (r *Registry) removeLocked(id string) {
	delete(r.records, id)
	delete(r.statuses, id)
	delete(r.metrics, id)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
}

// Get returns a snapshot of one agent.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.records[id]; !ok {
		return Snapshot{}, false
	}
	return r.snapshotLocked(id), true
}

// List returns snapshots of every agent in registration order.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.snapshotLocked(id))
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func (r *Registry) snapshotLocked(id string) Snapshot {
	rec := r.records[id]
	return Snapshot{
		ID:              rec.id,
		Type:            configType(rec.config),
		EntryPoint:      rec.entryPoint,
		Config:          maps.Clone(rec.config),
		RegisteredAt:    rec.registeredAt,
		LastHealthCheck: rec.lastHealthCheck,
		LastHeartbeat:   rec.lastHeartbeat,
		Workload:        rec.workload,
		Status:          r.statuses[id],
		Metrics:         *r.metrics[id],
		HasHandle:       rec.handle != nil,
	}
}

// Status returns the current status of an agent.
func (r *Registry) Status(id string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.statuses[id]
	return s, ok
}

// Metrics returns a copy of an agent's metrics.
func (r *Registry) Metrics(id string) (Metrics, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.metrics[id]
	if !ok {
		return Metrics{}, false
	}
	return *m, true
}

// SetStatus forces an agent into the given status.
func (r *Registry) SetStatus(id string, s Status) error {
	r.mu.Lock()
	if _, ok := r.records[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("set status %q: %w", id, ErrAgentNotFound)
	}
	t := r.setStatusLocked(id, s)
	r.mu.Unlock()

	r.notify(t)
	return nil
}

// CompareAndSetStatus moves an agent to next only if its current status is one of from.
// It reports whether the transition happened.
func (r *Registry) CompareAndSetStatus(id string, next Status, from ...Status) (bool, error) {
	r.mu.Lock()
	cur, ok := r.statuses[id]
	if !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("set status %q: %w", id, ErrAgentNotFound)
	}
	if !slices.Contains(from, cur) {
		r.mu.Unlock()
		return false, nil
	}
	t := r.setStatusLocked(id, next)
	r.mu.Unlock()

	r.notify(t)
	return true, nil
}

// MarkAll moves every agent to status s.
func (r *Registry) MarkAll(s Status) {
	r.mu.Lock()
	ts := make([]*transition, 0, len(r.order))
	for _, id := range r.order {
		ts = append(ts, r.setStatusLocked(id, s))
	}
	r.mu.Unlock()

	r.notify(ts...)
}

// BeginExecution atomically moves an active agent to executing and returns
// its resolved worker. No transition happens when an error is returned.
func (r *Registry) BeginExecution(id string) (Worker, error) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("agent %q: %w", id, ErrAgentNotFound)
	}
	if cur := r.statuses[id]; cur != StatusActive {
		r.mu.Unlock()
		return nil, fmt.Errorf("agent %q is %s: %w", id, cur, ErrAgentNotActive)
	}
	if rec.worker == nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("agent %q: %w", id, ErrNoRecognizedEntryPoint)
	}
	r.metrics[id].LastExecutionTime = r.now()
	t := r.setStatusLocked(id, StatusExecuting)
	worker := rec.worker
	r.mu.Unlock()

	r.notify(t)
	return worker, nil
}

// EndExecution records the outcome of a dispatch and moves the agent out of
// executing: to active on success, to error otherwise. An agent that was
// marked inactive while the dispatch ran stays inactive.
func (r *Registry) EndExecution(id string, elapsed time.Duration, success bool) error {
	next := StatusActive
	if !success {
		next = StatusError
	}

	r.mu.Lock()
	if _, ok := r.records[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("agent %q: %w", id, ErrAgentNotFound)
	}
	r.recordOutcomeLocked(id, elapsed, success)
	var t *transition
	if r.statuses[id] != StatusInactive {
		t = r.setStatusLocked(id, next)
	}
	r.mu.Unlock()

	r.notify(t)
	return nil
}

// RecordOutcome updates an agent's counters without touching its status.
func (r *Registry) RecordOutcome(id string, elapsed time.Duration, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.metrics[id]; !ok {
		return fmt.Errorf("agent %q: %w", id, ErrAgentNotFound)
	}
	r.recordOutcomeLocked(id, elapsed, success)
	return nil
}

func (r *Registry) recordOutcomeLocked(id string, elapsed time.Duration, success bool) {
	m := r.metrics[id]
	m.TotalExecutions++
	if success {
		m.SuccessfulExecutions++
	} else {
		m.FailedExecutions++
	}
	m.TotalExecutionTime += elapsed
	m.AverageExecutionTime = m.TotalExecutionTime / time.Duration(m.TotalExecutions)
	m.LastExecutionTime = r.now()
}

// TouchHealthCheck stamps the agent's last health check time.
func (r *Registry) TouchHealthCheck(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[id]; ok {
		rec.lastHealthCheck = at
	}
}

// Heartbeat stamps the agent as alive and stores its reported workload,
// clamped to [0, 1]. It returns the stored workload.
func (r *Registry) Heartbeat(id string, workload float64) (float64, error) {
	if math.IsNaN(workload) {
		workload = 0
	}
	workload = min(1, max(0, workload))

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return 0, fmt.Errorf("heartbeat %q: %w", id, ErrAgentNotFound)
	}
	rec.lastHeartbeat = r.now()
	rec.workload = workload
	return workload, nil
}

// setStatusLocked must be called with mu held. It returns nil when the status
// did not change.
func (r *Registry) setStatusLocked(id string, s Status) *transition {
	prev := r.statuses[id]
	r.statuses[id] = s
	if prev == s {
		return nil
	}
	return &transition{id: id, from: prev, to: s}
}

func (r *Registry) notify(ts ...*transition) {
	for _, t := range ts {
		if t == nil {
			continue
		}
		r.logger.Debug("agent status changed",
			"agent_id", t.id,
			"from", string(t.from),
			"to", string(t.to),
		)
		for _, fn := range r.onTransition {
			fn(t.id, t.from, t.to)
		}
	}
}

func configType(config map[string]any) string {
	t, _ := config["type"].(string)
	return t
}
