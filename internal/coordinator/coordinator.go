// ABOUTME: Coordinator: the public API tying registry, guard, retries, health and balancing together.
// ABOUTME: Runs agent batches in parallel or in sequence and records facts through the outbox.

package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-coordinator/internal/agent"
	"github.com/2389/coven-coordinator/internal/config"
	"github.com/2389/coven-coordinator/internal/execution"
	"github.com/2389/coven-coordinator/internal/health"
	"github.com/2389/coven-coordinator/internal/outbox"
	"github.com/2389/coven-coordinator/internal/store"
	"github.com/2389/coven-coordinator/internal/telemetry"
)

// FactRecorder receives best-effort history writes.
type FactRecorder interface {
	RecordAgentFact(ctx context.Context, fact *store.AgentFact) error
	RecordExecution(ctx context.Context, rec *store.ExecutionRecord) error
	RecordCoordination(ctx context.Context, rec *store.CoordinationRecord) error
}

// Config holds the coordinator's tunables.
type Config struct {
	DefaultTimeout time.Duration
	Retry          execution.RetryPolicy
	// MaxParallel bounds concurrent dispatches per parallel run; 0 is unbounded.
	MaxParallel int
	Health      health.Config
	Outbox      outbox.Config
}

// DefaultConfig returns a 5m timeout, 3 retries at 1s and default health timing.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: execution.DefaultTimeout,
		Retry:          execution.DefaultRetryPolicy(),
	}
}

// ConfigFrom maps the file configuration onto a coordinator Config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		DefaultTimeout: cfg.Coordination.DefaultTimeout,
		Retry: execution.RetryPolicy{
			MaxRetries: cfg.Coordination.MaxRetries,
			Delay:      cfg.Coordination.RetryDelay,
		},
		MaxParallel: cfg.Coordination.MaxParallel,
		Health: health.Config{
			Interval:         cfg.Health.Interval,
			StaleAfter:       cfg.Health.StaleAfter,
			AlertSuppression: cfg.Health.AlertSuppression,
			HeartbeatTimeout: cfg.Health.HeartbeatTimeout,
		},
		Outbox: outbox.Config{
			QueueSize: cfg.Outbox.QueueSize,
			Workers:   cfg.Outbox.Workers,
			Timeout:   cfg.Outbox.WriteTimeout,
		},
	}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithInstruments enables metrics and spans.
func WithInstruments(i *telemetry.Instruments) Option {
	return func(c *Coordinator) { c.instruments = i }
}

// WithFactRecorder enables the fact log.
func WithFactRecorder(f FactRecorder) Option {
	return func(c *Coordinator) { c.facts = f }
}

// WithHealthOptions passes options to the health monitor.
func WithHealthOptions(opts ...health.Option) Option {
	return func(c *Coordinator) { c.healthOpts = append(c.healthOpts, opts...) }
}

// WithRetrierOptions passes options to the retry controller.
func WithRetrierOptions(opts ...execution.RetrierOption) Option {
	return func(c *Coordinator) { c.retrierOpts = append(c.retrierOpts, opts...) }
}

// Coordinator owns one registry and everything that operates on it.
type Coordinator struct {
	cfg         Config
	logger      *slog.Logger
	instruments *telemetry.Instruments
	facts       FactRecorder
	healthOpts  []health.Option
	retrierOpts []execution.RetrierOption

	registry *agent.Registry
	guard    *execution.Guard
	retrier  *execution.Retrier
	balancer *agent.Balancer
	monitor  *health.Monitor
	outbox   *outbox.Outbox

	startedAt time.Time

	mu          sync.RWMutex
	shutdown    bool
	shutdownErr error
	once        sync.Once
}

// New builds a Coordinator and starts its health monitor.
func New(cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:       cfg,
		logger:    slog.Default(),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.registry = agent.NewRegistry(c.logger, agent.WithTransitionHook(func(id string, from, to agent.Status) {
		c.instruments.RecordTransition(id, string(from), string(to))
	}))
	c.guard = execution.NewGuard(c.registry, cfg.DefaultTimeout, c.logger, c.instruments)
	c.retrier = execution.NewRetrier(c.guard, c.retrierOpts...)
	c.balancer = agent.NewBalancer(c.registry)
	c.outbox = outbox.New(c.logger.With("component", "outbox"), cfg.Outbox)
	c.monitor = health.NewMonitor(c.registry, cfg.Health, c.logger.With("component", "health"), c.healthOpts...)

	if err := c.outbox.RegisterMetrics(c.instruments); err != nil {
		c.logger.Warn("failed to register outbox metrics", "error", err)
	}
	if err := c.instruments.ObserveGauge("coordinator.agents", "Registered agents", func() int64 {
		return int64(c.registry.Len())
	}); err != nil {
		c.logger.Warn("failed to register agent gauge", "error", err)
	}

	c.monitor.Start(context.Background())
	return c
}

func (c *Coordinator) closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shutdown
}

// recordFact hands a history write to the outbox. It never blocks.
func (c *Coordinator) recordFact(name string, fn func(ctx context.Context, f FactRecorder) error) {
	if c.facts == nil {
		return
	}
	c.outbox.Submit(name, func(ctx context.Context) error {
		return fn(ctx, c.facts)
	})
}

// RegisterAgent adds or updates an agent.
func (c *Coordinator) RegisterAgent(id string, handle any, cfg map[string]any) (agent.RegisterResult, error) {
	if c.closed() {
		return agent.RegisterResult{}, ErrShutdown
	}
	res, err := c.registry.Register(id, handle, cfg)
	if err != nil {
		return res, err
	}

	event := store.EventRegistered
	if res.Outcome == agent.OutcomeUpdated {
		event = store.EventUpdated
	}
	fact := &store.AgentFact{
		AgentID:    id,
		Event:      event,
		AgentType:  agentType(cfg),
		Config:     maps.Clone(cfg),
		RecordedAt: time.Now(),
	}
	c.recordFact("agent_fact", func(ctx context.Context, f FactRecorder) error {
		return f.RecordAgentFact(ctx, fact)
	})
	return res, nil
}

// UnregisterAgent removes an agent with its status and metrics.
func (c *Coordinator) UnregisterAgent(id string) error {
	if err := c.registry.Unregister(id); err != nil {
		return err
	}
	fact := &store.AgentFact{AgentID: id, Event: store.EventUnregistered, RecordedAt: time.Now()}
	c.recordFact("agent_fact", func(ctx context.Context, f FactRecorder) error {
		return f.RecordAgentFact(ctx, fact)
	})
	return nil
}

// RunOptions tunes a single agent run.
type RunOptions struct {
	// Retry enables retries with this policy.
	Retry *execution.RetryPolicy
	// Timeout overrides the default per-dispatch timeout when positive.
	Timeout time.Duration

	coordinationID string
}

// RunOne dispatches to one agent, with retries when opts.Retry is set.
func (c *Coordinator) RunOne(ctx context.Context, agentID string, input any, opts RunOptions) *execution.Result {
	var res *execution.Result
	if opts.Retry != nil {
		p := *opts.Retry
		if p.Timeout <= 0 {
			p.Timeout = opts.Timeout
		}
		res = c.retrier.DispatchWithRetry(ctx, agentID, input, p)
	} else {
		res = c.guard.Execute(ctx, agentID, input, execution.DispatchOptions{Timeout: opts.Timeout})
	}

	rec := &store.ExecutionRecord{
		AgentID:        agentID,
		CoordinationID: opts.coordinationID,
		Status:         string(res.Status),
		Error:          res.Error,
		Attempts:       res.Attempts,
		RetryCount:     res.RetryCount,
		Duration:       res.ExecutionTime,
		RecordedAt:     time.Now(),
	}
	c.recordFact("execution", func(ctx context.Context, f FactRecorder) error {
		return f.RecordExecution(ctx, rec)
	})
	return res
}

// ExecuteAgent dispatches once. A positive timeout overrides the default.
func (c *Coordinator) ExecuteAgent(ctx context.Context, agentID string, input any, timeout time.Duration) *execution.Result {
	return c.RunOne(ctx, agentID, input, RunOptions{Timeout: timeout})
}

// ExecuteAgentWithRetry dispatches with retries. A nil policy uses the
// configured default.
func (c *Coordinator) ExecuteAgentWithRetry(ctx context.Context, agentID string, input any, policy *execution.RetryPolicy) *execution.Result {
	if policy == nil {
		p := c.cfg.Retry
		policy = &p
	}
	return c.RunOne(ctx, agentID, input, RunOptions{Retry: policy})
}

// CoordinateAgents runs req and returns its aggregate result.
func (c *Coordinator) CoordinateAgents(ctx context.Context, req Request) (*Result, error) {
	return c.RunMany(ctx, req)
}

// RunMany runs every agent in req.
//
// Parallel runs start all agents at once (bounded by MaxParallel) and wait
// for every one; a failure never cancels the others. Sequential runs go in
// order and stop after the first failure, so later agents get no result.
func (c *Coordinator) RunMany(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	out := &Result{
		CoordinationID: newCoordinationID(),
		Mode:           req.Mode,
		StartedAt:      time.Now(),
	}
	ctx, span := c.instruments.StartSpan(ctx, "agent.coordinate",
		attribute.String("coordination.id", out.CoordinationID),
		attribute.String("mode", string(req.Mode)),
		attribute.Int("agents", len(req.AgentIDs)),
	)
	defer span.End()

	opts := RunOptions{Retry: req.Retry, Timeout: req.Timeout, coordinationID: out.CoordinationID}

	c.logger.Info("coordination started",
		"coordination_id", out.CoordinationID,
		"mode", string(req.Mode),
		"agents", len(req.AgentIDs),
	)

	switch req.Mode {
	case ModeParallel:
		out.Results = c.runParallel(ctx, req.AgentIDs, req.Input, opts)
	case ModeSequential:
		out.Results = c.runSequential(ctx, req.AgentIDs, req.Input, opts)
	}

	out.Duration = time.Since(out.StartedAt)
	out.Summary, out.Status = summarize(out.Results)
	span.SetAttributes(attribute.String("status", string(out.Status)))

	level := slog.LevelInfo
	if out.Status != StatusCompleted {
		level = slog.LevelWarn
	}
	c.logger.Log(ctx, level, "coordination finished",
		"coordination_id", out.CoordinationID,
		"mode", string(out.Mode),
		"status", string(out.Status),
		"successful", out.Summary.Successful,
		"failed", out.Summary.Failed,
		"duration", out.Duration,
	)
	c.instruments.RecordCoordination(ctx, string(out.Mode), string(out.Status))

	rec := &store.CoordinationRecord{
		ID:         out.CoordinationID,
		Mode:       string(out.Mode),
		Status:     string(out.Status),
		AgentIDs:   append([]string(nil), req.AgentIDs...),
		Total:      out.Summary.Total,
		Successful: out.Summary.Successful,
		Failed:     out.Summary.Failed,
		StartedAt:  out.StartedAt,
		Duration:   out.Duration,
	}
	c.recordFact("coordination", func(ctx context.Context, f FactRecorder) error {
		return f.RecordCoordination(ctx, rec)
	})

	return out, nil
}

func (c *Coordinator) runParallel(ctx context.Context, ids []string, input any, opts RunOptions) []*execution.Result {
	results := make([]*execution.Result, len(ids))

	var g errgroup.Group
	if c.cfg.MaxParallel > 0 {
		g.SetLimit(c.cfg.MaxParallel)
	}
	for i, id := range ids {
		g.Go(func() error {
			results[i] = c.RunOne(ctx, id, input, opts)
			return nil
		})
	}
	// Workers report failure through their Result, never through the group.
	_ = g.Wait()
	return results
}

func (c *Coordinator) runSequential(ctx context.Context, ids []string, input any, opts RunOptions) []*execution.Result {
	results := make([]*execution.Result, 0, len(ids))
	for _, id := range ids {
		res := c.RunOne(ctx, id, input, opts)
		results = append(results, res)
		if !res.Succeeded() {
			c.logger.Warn("sequential coordination stopped",
				"coordination_id", opts.coordinationID,
				"failed_agent", id,
				"skipped", len(ids)-len(results),
			)
			break
		}
	}
	return results
}

// GetAgentMetrics returns one agent's counters.
func (c *Coordinator) GetAgentMetrics(agentID string) (agent.Metrics, error) {
	m, ok := c.registry.Metrics(agentID)
	if !ok {
		return agent.Metrics{}, fmt.Errorf("agent %q: %w", agentID, agent.ErrAgentNotFound)
	}
	return m, nil
}

// GetOptimalAgent picks the best active agent of agentType.
func (c *Coordinator) GetOptimalAgent(agentType string, criteria agent.Criteria) (string, error) {
	return c.balancer.SelectBest(agentType, criteria)
}

// ScoreAgents returns every active agent of agentType with its score.
func (c *Coordinator) ScoreAgents(agentType string, criteria agent.Criteria) []agent.Candidate {
	return c.balancer.Candidates(agentType, criteria)
}

// ListAgents returns every agent in registration order.
func (c *Coordinator) ListAgents() []agent.Snapshot {
	return c.registry.List()
}

// Heartbeat marks an agent alive and records its workload, clamped to [0, 1].
// Once an agent has sent a heartbeat, missing the health heartbeat timeout
// marks it unhealthy on the next sweep.
func (c *Coordinator) Heartbeat(agentID string, workload float64) (float64, error) {
	w, err := c.registry.Heartbeat(agentID, workload)
	if err != nil {
		return 0, err
	}
	c.logger.Debug("agent heartbeat", "agent_id", agentID, "workload", w)
	return w, nil
}

// Rebalance reports overloaded agents and agents with spare capacity.
func (c *Coordinator) Rebalance() agent.RebalancePlan {
	return c.balancer.Rebalance()
}

// SweepHealth runs one health sweep immediately.
func (c *Coordinator) SweepHealth(ctx context.Context) health.SweepReport {
	return c.monitor.Sweep(ctx)
}

// ExecutionTotals aggregates metrics over every registered agent.
type ExecutionTotals struct {
	Total      int64 `json:"total"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
}

// HealthStatus describes the monitor.
type HealthStatus struct {
	Running   bool      `json:"running"`
	LastSweep time.Time `json:"lastSweep"`
}

// WorkloadStatus summarizes heartbeat-reported load.
type WorkloadStatus struct {
	Reporting int                 `json:"reporting"`
	Average   float64             `json:"average"`
	Rebalance agent.RebalancePlan `json:"rebalance"`
}

// SystemStatus is a point-in-time report of the coordinator.
type SystemStatus struct {
	TotalAgents int                  `json:"totalAgents"`
	ByStatus    map[agent.Status]int `json:"byStatus"`
	Executions  ExecutionTotals      `json:"executions"`
	Uptime      time.Duration        `json:"uptime"`
	Health      HealthStatus         `json:"health"`
	Workload    WorkloadStatus       `json:"workload"`
	Outbox      outbox.Stats         `json:"outbox"`
	ShutDown    bool                 `json:"shutDown"`
}

// GetSystemStatus reports agent counts, execution totals and background state.
func (c *Coordinator) GetSystemStatus() SystemStatus {
	agents := c.registry.List()
	st := SystemStatus{
		TotalAgents: len(agents),
		ByStatus:    make(map[agent.Status]int),
		Uptime:      time.Since(c.startedAt),
		Health: HealthStatus{
			Running:   c.monitor.Running(),
			LastSweep: c.monitor.LastSweep(),
		},
		Workload: WorkloadStatus{Rebalance: c.balancer.Rebalance()},
		Outbox:   c.outbox.Stats(),
		ShutDown: c.closed(),
	}
	var load float64
	for _, a := range agents {
		st.ByStatus[a.Status]++
		st.Executions.Total += a.Metrics.TotalExecutions
		st.Executions.Successful += a.Metrics.SuccessfulExecutions
		st.Executions.Failed += a.Metrics.FailedExecutions
		if !a.LastHeartbeat.IsZero() {
			st.Workload.Reporting++
			load += a.Workload
		}
	}
	if st.Workload.Reporting > 0 {
		st.Workload.Average = load / float64(st.Workload.Reporting)
	}
	return st
}

// Shutdown stops the health monitor, marks every agent inactive, clears the
// registry and drains pending fact writes until ctx ends. Later calls return
// the first call's error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.shutdown = true
		c.mu.Unlock()

		c.logger.Info("coordinator shutting down")
		c.monitor.Close()

		c.registry.MarkAll(agent.StatusInactive)
		now := time.Now()
		for _, id := range c.registry.Clear() {
			c.logger.Info("agent deactivated", "agent_id", id)
			fact := &store.AgentFact{AgentID: id, Event: store.EventDeactivated, RecordedAt: now}
			c.recordFact("agent_fact", func(ctx context.Context, f FactRecorder) error {
				return f.RecordAgentFact(ctx, fact)
			})
		}

		c.shutdownErr = c.outbox.Close(ctx)
		c.logger.Info("coordinator stopped", "outbox", c.outbox.Stats())
	})
	return c.shutdownErr
}

func newCoordinationID() string {
	return "coord-" + uuid.NewString()
}

func agentType(cfg map[string]any) string {
	t, _ := cfg["type"].(string)
	return t
}
