// Package dispatcher drives the scheduling loop: every tick it finds the
// schedules whose next run time has passed and pushes each one through the
// delivery pipeline.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"reportflow/internal/delivery"
	"reportflow/internal/schedule"
	"reportflow/internal/types"
)

// ScheduleStore is the slice of the schedule repository the dispatcher
// needs.
type ScheduleStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*types.Schedule, error)
	AdvanceRun(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error
}

// DeliveryRunner executes one delivery pass for a due schedule.
type DeliveryRunner interface {
	Deliver(ctx context.Context, sched *types.Schedule, triggeredBy string) (*types.DeliveryLog, error)
}

// Config tunes the dispatch loop.
type Config struct {
	// TickInterval is how often due schedules are polled.
	TickInterval time.Duration

	// BatchLimit caps how many due schedules one tick picks up.
	BatchLimit int

	// Concurrency bounds how many schedules are processed in parallel
	// within a tick.
	Concurrency int
}

// Dispatcher polls for due schedules and processes them through a bounded
// worker pool. One schedule is never processed concurrently with itself:
// within a tick the due query yields it once, across ticks the in-flight
// guard holds it until its nextRunAt advance lands.
type Dispatcher struct {
	cfg       Config
	schedules ScheduleStore
	runner    DeliveryRunner
	metrics   delivery.Metrics
	clock     types.Clock
	logger    types.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a Dispatcher. Nil clock and metrics fall back to real UTC
// time and the no-op recorder.
func New(cfg Config, schedules ScheduleStore, runner DeliveryRunner, metrics delivery.Metrics, clock types.Clock, logger types.Logger) *Dispatcher {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if metrics == nil {
		metrics = delivery.NoopMetrics{}
	}
	return &Dispatcher{
		cfg:       cfg,
		schedules: schedules,
		runner:    runner,
		metrics:   metrics,
		clock:     clock,
		logger:    logger,
		inflight:  make(map[string]struct{}),
	}
}

// Run ticks until the context ends. Tick errors are logged, never fatal.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", "tick_interval", d.cfg.TickInterval.String())

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.RunOnce(ctx, d.clock.Now()); err != nil {
				d.logger.Error("dispatch tick failed", "error", err.Error())
			}
		}
	}
}

// RunOnce performs a single dispatch pass as of now and returns how many
// schedules it processed. Per-schedule failures are logged and recorded on
// their delivery logs; they never abort the pass.
func (d *Dispatcher) RunOnce(ctx context.Context, now time.Time) (int, error) {
	due, err := d.schedules.ListDue(ctx, now, d.cfg.BatchLimit)
	if err != nil {
		return 0, err
	}

	d.metrics.RecordSchedulesDue(ctx, len(due))
	if len(due) == 0 {
		return 0, nil
	}
	if lag := dispatchLag(due, now); lag > 0 {
		d.metrics.RecordDispatchLag(ctx, lag)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)

	processed := 0
	for _, sched := range due {
		if !d.claim(sched.ID) {
			// Still in flight from a previous tick.
			continue
		}
		processed++
		sched := sched
		g.Go(func() error {
			defer d.release(sched.ID)
			d.Process(gctx, sched, now, "dispatcher")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return processed, err
	}
	return processed, nil
}

// Process runs one schedule through the pipeline and advances its run
// times. The advance is unconditional: whether the delivery was sent,
// skipped or failed, the schedule moves to its next occurrence so one bad
// pass cannot wedge the loop into reprocessing it forever. The delivery
// log is returned when one was opened.
func (d *Dispatcher) Process(ctx context.Context, sched *types.Schedule, now time.Time, triggeredBy string) *types.DeliveryLog {
	ctx = types.WithRequestID(ctx, "req_"+uuid.New().String())

	next, degraded := schedule.NextRun(sched.Frequency, sched.CronExpression, sched.Timezone, now)
	if degraded {
		d.logger.Warn("schedule cadence degraded to daily",
			"schedule_id", sched.ID,
			"frequency", string(sched.Frequency),
			"cron_expression", sched.CronExpression,
			"timezone", sched.Timezone,
		)
	}

	log, err := d.runner.Deliver(ctx, sched, triggeredBy)
	if err != nil {
		d.logger.Error("delivery pass failed",
			"schedule_id", sched.ID,
			"request_id", types.GetRequestID(ctx),
			"error", err.Error(),
		)
	}

	if err := d.schedules.AdvanceRun(ctx, sched.ID, now, next); err != nil {
		d.logger.Error("failed to advance schedule run times",
			"schedule_id", sched.ID,
			"error", err.Error(),
		)
	}
	return log
}

func (d *Dispatcher) claim(scheduleID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[scheduleID]; busy {
		return false
	}
	d.inflight[scheduleID] = struct{}{}
	return true
}

func (d *Dispatcher) release(scheduleID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, scheduleID)
}

// dispatchLag is how far behind its nextRunAt the most overdue schedule is.
func dispatchLag(due []*types.Schedule, now time.Time) time.Duration {
	var lag time.Duration
	for _, s := range due {
		if s.NextRunAt == nil {
			continue
		}
		if l := now.Sub(*s.NextRunAt); l > lag {
			lag = l
		}
	}
	return lag
}
