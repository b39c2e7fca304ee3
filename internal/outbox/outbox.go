// ABOUTME: Bounded fire-and-forget queue for side-channel writes (fact log, audit rows).
// ABOUTME: Submit never blocks; failures and panics are logged and counted, never returned.

package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-coordinator/internal/telemetry"
)

const (
	DefaultQueueSize = 1024
	DefaultWorkers   = 2
	DefaultTimeout   = 5 * time.Second
)

// Job is one side-channel write.
type Job func(ctx context.Context) error

// Config sizes the outbox.
type Config struct {
	QueueSize int
	Workers   int
	// Timeout bounds each job.
	Timeout time.Duration
}

// Stats are cumulative counters since New.
type Stats struct {
	Pending   int64 `json:"pending"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

type task struct {
	name string
	fn   Job
}

// Outbox runs submitted jobs on a fixed worker pool.
type Outbox struct {
	logger  *slog.Logger
	timeout time.Duration
	queue   chan task
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	once   sync.Once

	pending   atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// New creates an Outbox and starts its workers.
func New(logger *slog.Logger, cfg Config) *Outbox {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &Outbox{
		logger:  logger,
		timeout: cfg.Timeout,
		queue:   make(chan task, cfg.QueueSize),
	}
	o.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go o.work()
	}
	return o
}

// Submit enqueues fn. It returns false when the queue is full or the outbox
// is closed; the job is then dropped.
func (o *Outbox) Submit(name string, fn Job) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed {
		o.dropped.Add(1)
		o.logger.Debug("outbox closed, dropping job", "job", name)
		return false
	}

	select {
	case o.queue <- task{name: name, fn: fn}:
		o.pending.Add(1)
		return true
	default:
		o.dropped.Add(1)
		o.logger.Warn("outbox full, dropping job", "job", name, "queue_size", cap(o.queue))
		return false
	}
}

func (o *Outbox) work() {
	defer o.wg.Done()
	for t := range o.queue {
		o.run(t)
		o.pending.Add(-1)
	}
}

func (o *Outbox) run(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			o.failed.Add(1)
			o.logger.Error("outbox job panicked", "job", t.name, "error", fmt.Sprint(p))
		}
	}()

	if err := t.fn(ctx); err != nil {
		o.failed.Add(1)
		o.logger.Warn("outbox job failed", "job", t.name, "error", err)
		return
	}
	o.processed.Add(1)
}

// Stats returns the current counters.
func (o *Outbox) Stats() Stats {
	return Stats{
		Pending:   o.pending.Load(),
		Processed: o.processed.Load(),
		Failed:    o.failed.Load(),
		Dropped:   o.dropped.Load(),
	}
}

// Close stops accepting jobs and waits for queued ones to finish or for ctx
// to end. Safe to call more than once.
func (o *Outbox) Close(ctx context.Context) error {
	o.once.Do(func() {
		o.mu.Lock()
		o.closed = true
		close(o.queue)
		o.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		o.logger.Warn("outbox drain timed out", "pending", o.pending.Load())
		return fmt.Errorf("drain outbox: %w", ctx.Err())
	}
}

// RegisterMetrics exports queue depth and drop counts as gauges.
func (o *Outbox) RegisterMetrics(inst *telemetry.Instruments) error {
	if err := inst.ObserveGauge("coordinator.outbox.pending", "Side-channel jobs waiting to run", o.pending.Load); err != nil {
		return err
	}
	return inst.ObserveGauge("coordinator.outbox.dropped", "Side-channel jobs dropped", o.dropped.Load)
}
