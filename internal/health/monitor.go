// ABOUTME: Periodic liveness sweep over every registered agent.
// ABOUTME: Marks stale or handle-less agents unhealthy and recovers them when they pass again.

package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-coordinator/internal/agent"
	"github.com/2389/coven-coordinator/internal/dedupe"
)

const (
	DefaultInterval         = 30 * time.Second
	DefaultStaleAfter       = 10 * time.Minute
	DefaultAlertSuppression = 5 * time.Minute
	DefaultHeartbeatTimeout = 2 * time.Minute
)

var (
	// ErrNoHandle indicates an agent was registered without a worker handle.
	ErrNoHandle = errors.New("agent has no handle")

	// ErrStale indicates an agent has been executing longer than the stale threshold.
	ErrStale = errors.New("agent execution is stale")

	// ErrHeartbeatMissed indicates an agent stopped reporting heartbeats.
	ErrHeartbeatMissed = errors.New("agent heartbeat missed")
)

// Config controls sweep timing.
type Config struct {
	Interval         time.Duration
	StaleAfter       time.Duration
	AlertSuppression time.Duration
	// HeartbeatTimeout applies only to agents that have sent a heartbeat.
	HeartbeatTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.AlertSuppression <= 0 {
		c.AlertSuppression = DefaultAlertSuppression
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	return c
}

// Check decides whether one agent is alive at time now.
type Check func(snap agent.Snapshot, now time.Time) error

// Liveness is the default Check: the agent must have a handle, and an
// executing agent must have started its dispatch within staleAfter.
func Liveness(staleAfter time.Duration) Check {
	return func(snap agent.Snapshot, now time.Time) error {
		if !snap.HasHandle {
			return ErrNoHandle
		}
		if snap.Status == agent.StatusExecuting {
			if age := now.Sub(snap.Metrics.LastExecutionTime); age > staleAfter {
				return fmt.Errorf("%w: executing for %s", ErrStale, age.Round(time.Second))
			}
		}
		return nil
	}
}

// HeartbeatLiveness is Liveness plus a heartbeat deadline: an agent that has
// ever reported a heartbeat must have reported one within heartbeatTimeout.
// Agents that never send heartbeats are judged by Liveness alone.
func HeartbeatLiveness(staleAfter, heartbeatTimeout time.Duration) Check {
	base := Liveness(staleAfter)
	return func(snap agent.Snapshot, now time.Time) error {
		if err := base(snap, now); err != nil {
			return err
		}
		if snap.LastHeartbeat.IsZero() {
			return nil
		}
		if age := now.Sub(snap.LastHeartbeat); age > heartbeatTimeout {
			return fmt.Errorf("%w: last seen %s ago", ErrHeartbeatMissed, age.Round(time.Second))
		}
		return nil
	}
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	At        time.Time `json:"at"`
	Checked   int       `json:"checked"`
	Unhealthy []string  `json:"unhealthy,omitempty"`
	Recovered []string  `json:"recovered,omitempty"`
	Errored   []string  `json:"errored,omitempty"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithCheck replaces the liveness check.
func WithCheck(c Check) Option {
	return func(m *Monitor) { m.check = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// Monitor runs health sweeps against a registry.
type Monitor struct {
	registry *agent.Registry
	cfg      Config
	logger   *slog.Logger
	alerts   *dedupe.Suppressor
	check    Check
	now      func() time.Time

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	lastSweep time.Time
}

// NewMonitor creates a stopped Monitor.
func NewMonitor(registry *agent.Registry, cfg Config, logger *slog.Logger, opts ...Option) *Monitor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.check == nil {
		m.check = HeartbeatLiveness(cfg.StaleAfter, cfg.HeartbeatTimeout)
	}
	m.alerts = dedupe.New(cfg.AlertSuppression, 0, dedupe.WithClock(m.now))
	return m
}

// Start launches the sweep loop. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(ctx, m.done)
	m.logger.Info("health monitor started", "interval", m.cfg.Interval, "stale_after", m.cfg.StaleAfter)
}

// Stop halts the sweep loop and waits for it to exit. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("health monitor stopped")
}

// Close stops the monitor and releases the alert suppressor.
func (m *Monitor) Close() {
	m.Stop()
	m.alerts.Close()
}

// Running reports whether the sweep loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// LastSweep returns the time of the most recent sweep, or zero.
func (m *Monitor) LastSweep() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSweep
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep checks every registered agent once.
func (m *Monitor) Sweep(ctx context.Context) SweepReport {
	now := m.now()
	report := SweepReport{At: now}

	for _, snap := range m.registry.List() {
		if ctx.Err() != nil {
			break
		}
		report.Checked++

		switch m.checkOne(snap, now) {
		case verdictUnhealthy:
			report.Unhealthy = append(report.Unhealthy, snap.ID)
		case verdictRecovered:
			report.Recovered = append(report.Recovered, snap.ID)
		case verdictErrored:
			report.Errored = append(report.Errored, snap.ID)
		}
		m.registry.TouchHealthCheck(snap.ID, now)
	}

	m.mu.Lock()
	m.lastSweep = now
	m.mu.Unlock()

	if len(report.Unhealthy)+len(report.Recovered)+len(report.Errored) > 0 {
		m.logger.Info("health sweep completed",
			"checked", report.Checked,
			"unhealthy", len(report.Unhealthy),
			"recovered", len(report.Recovered),
			"errored", len(report.Errored),
		)
	}
	return report
}

type verdict int

const (
	verdictHealthy verdict = iota
	verdictUnhealthy
	verdictRecovered
	verdictErrored
)

func (m *Monitor) checkOne(snap agent.Snapshot, now time.Time) verdict {
	err := m.runCheck(snap, now)
	var pe *panicError
	if errors.As(err, &pe) {
		m.logger.Error("health check panicked", "agent_id", snap.ID, "error", err)
		// The agent may have been unregistered since List.
		if serr := m.registry.SetStatus(snap.ID, agent.StatusError); serr != nil {
			return verdictHealthy
		}
		return verdictErrored
	}

	if err != nil {
		moved, serr := m.registry.CompareAndSetStatus(snap.ID, agent.StatusUnhealthy,
			agent.StatusActive, agent.StatusExecuting, agent.StatusUnhealthy)
		if serr != nil || !moved {
			return verdictHealthy
		}
		if m.alerts.Suppress(snap.ID) {
			m.logger.Debug("agent still unhealthy", "agent_id", snap.ID, "error", err)
		} else {
			m.logger.Warn("agent unhealthy", "agent_id", snap.ID, "status", string(snap.Status), "error", err)
		}
		return verdictUnhealthy
	}

	recovered, serr := m.registry.CompareAndSetStatus(snap.ID, agent.StatusActive, agent.StatusUnhealthy)
	if serr != nil || !recovered {
		return verdictHealthy
	}
	m.alerts.Forget(snap.ID)
	m.logger.Info("agent recovered", "agent_id", snap.ID)
	return verdictRecovered
}

type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

func (m *Monitor) runCheck(snap agent.Snapshot, now time.Time) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &panicError{value: p}
		}
	}()
	return m.check(snap, now)
}
