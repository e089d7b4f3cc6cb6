package delivery

import (
	"context"
	"fmt"
	"time"

	"reportflow/internal/condition"
	"reportflow/internal/mail"
	"reportflow/internal/types"
)

// ScheduleLoader is the slice of the schedule repository the runner needs
// to resume retries after a restart.
type ScheduleLoader interface {
	GetByID(ctx context.Context, id string) (*types.Schedule, error)
}

// HashLoader looks up the content hash of the last successful send for
// change detection.
type HashLoader interface {
	LastContentHash(ctx context.Context, scheduleID string) (string, error)
}

// RunnerConfig wires the runner's collaborators.
type RunnerConfig struct {
	Generator  types.ReportGenerator
	Sender     types.MailSender
	Evaluator  *condition.Evaluator
	Tracker    *Tracker
	Scheduler  *RetryScheduler
	Schedules  ScheduleLoader
	Deliveries LogRepository
	Hashes     HashLoader
	Metrics    Metrics
	Clock      types.Clock
	Logger     types.Logger

	// SendTimeout bounds one generate-and-send attempt. A timeout counts as
	// a transient failure.
	SendTimeout time.Duration
}

// Runner executes delivery attempts end to end: render the report, decide
// whether it should go out, hand it to the mail sender, and record the
// outcome through the tracker. Failed attempts arm their retry through the
// scheduler, which calls back into Retry when the timer fires.
type Runner struct {
	cfg RunnerConfig
}

// NewRunner creates a Runner. Nil Clock and Metrics fall back to real time
// and a no-op recorder.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Clock == nil {
		cfg.Clock = types.RealClock{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetrics{}
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Minute
	}
	return &Runner{cfg: cfg}
}

// Deliver runs one full dispatch pass for a due schedule: open the log,
// render, evaluate the distribution condition, then send or skip. The
// returned log reflects the row as created, not the final status.
func (r *Runner) Deliver(ctx context.Context, sched *types.Schedule, triggeredBy string) (*types.DeliveryLog, error) {
	d, err := r.cfg.Tracker.Create(ctx, sched, triggeredBy)
	if err != nil {
		return nil, err
	}

	// Outcome recording must survive the send deadline: a timed-out attempt
	// still has to land its FAILED row and arm the retry.
	recCtx := context.WithoutCancel(ctx)
	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()

	payload, err := r.cfg.Generator.Generate(sendCtx, types.GenerateRequest{
		ReportID:   sched.ReportID,
		ReportType: sched.ReportType,
		Format:     sched.Format,
	})
	if err != nil {
		r.cfg.Metrics.RecordGeneratorFailure(recCtx, sched.ReportType)
		r.recordFailure(recCtx, d.ID, fmt.Errorf("generate report: %w", err))
		return d, nil
	}

	proceed, err := r.evaluate(sendCtx, recCtx, d.ID, sched, payload)
	if err != nil {
		return d, err
	}
	if !proceed {
		return d, nil
	}

	r.send(sendCtx, recCtx, d.ID, sched, payload)
	return d, nil
}

// evaluate runs the distribution condition, stamps the content hash on the
// log row, and records a skip when the condition holds the send back.
// Returns whether the delivery should proceed to the sender.
func (r *Runner) evaluate(sendCtx, recCtx context.Context, deliveryID string, sched *types.Schedule, payload *types.ReportPayload) (bool, error) {
	previousHash := ""
	if sched.Condition != nil && sched.Condition.Type == types.ConditionChangeDetection {
		var err error
		previousHash, err = r.cfg.Hashes.LastContentHash(sendCtx, sched.ID)
		if err != nil {
			// Fail open: treat as first send rather than blocking delivery.
			r.cfg.Logger.Warn("failed to load previous content hash",
				"schedule_id", sched.ID, "error", err.Error())
			previousHash = ""
		}
	}

	decision := r.cfg.Evaluator.ShouldSend(sendCtx, sched.Condition, payload, previousHash)
	if err := r.cfg.Tracker.StampContentHash(recCtx, deliveryID, decision.ContentHash); err != nil {
		r.cfg.Logger.Warn("failed to stamp content hash",
			"delivery_id", deliveryID, "error", err.Error())
	}

	if decision.Send {
		return true, nil
	}
	if err := r.cfg.Tracker.MarkSkipped(recCtx, deliveryID, decision.Reason); err != nil {
		return false, err
	}
	r.cfg.Metrics.RecordDeliveryOutcome(recCtx, sched.ReportType, sched.Format, ResultSkipped)
	return false, nil
}

// Retry re-attempts a failed delivery when its timer fires. A decision the
// original pass already recorded stands; when the first attempt died before
// the condition was evaluated, the decision is made here.
func (r *Runner) Retry(ctx context.Context, deliveryID string) {
	d, err := r.cfg.Deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		r.cfg.Logger.Error("retry: failed to load delivery", "delivery_id", deliveryID, "error", err.Error())
		return
	}
	if d.Status != types.DeliveryStatusFailed {
		// Another path already resolved this delivery.
		return
	}
	if d.ScheduleID == nil {
		r.cfg.Logger.Warn("retry: delivery has no schedule, abandoning", "delivery_id", deliveryID)
		return
	}

	sched, err := r.cfg.Schedules.GetByID(ctx, *d.ScheduleID)
	if err != nil {
		r.cfg.Logger.Error("retry: failed to load schedule",
			"delivery_id", deliveryID, "schedule_id", *d.ScheduleID, "error", err.Error())
		return
	}

	recCtx := context.WithoutCancel(ctx)
	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
	defer cancel()

	payload, err := r.cfg.Generator.Generate(sendCtx, types.GenerateRequest{
		ReportID:   d.ReportID,
		ReportType: sched.ReportType,
		Format:     d.Format,
	})
	if err != nil {
		r.cfg.Metrics.RecordGeneratorFailure(recCtx, sched.ReportType)
		r.recordFailure(recCtx, deliveryID, fmt.Errorf("generate report: %w", err))
		return
	}

	// An empty content hash means the first attempt failed before the
	// condition was evaluated, so no decision exists yet for this delivery.
	if d.Metadata.ContentHash == "" {
		proceed, evalErr := r.evaluate(sendCtx, recCtx, deliveryID, sched, payload)
		if evalErr != nil {
			r.cfg.Logger.Error("retry: failed to record skipped delivery",
				"delivery_id", deliveryID, "error", evalErr.Error())
			return
		}
		if !proceed {
			return
		}
	}

	r.send(sendCtx, recCtx, deliveryID, sched, payload)
}

// send performs one SMTP attempt and records the outcome. The attempt runs
// under sendCtx; the outcome is recorded under recCtx so an expired send
// deadline cannot lose the row's status transition.
func (r *Runner) send(sendCtx, recCtx context.Context, deliveryID string, sched *types.Schedule, payload *types.ReportPayload) {
	attachment := types.MailAttachment{
		Filename:    attachmentFilename(payload, sched.Format, r.cfg.Clock.Now()),
		ContentType: sched.Format.ContentType(),
		Data:        payload.Artifact,
	}
	metadata := map[string]string{
		"schedule_name": sched.Name,
		"report_type":   sched.ReportType,
	}

	start := time.Now()
	err := r.cfg.Sender.Send(sendCtx, sched.Recipients, attachment, metadata)
	r.cfg.Metrics.RecordSendLatency(recCtx, sched.ReportType, time.Since(start))

	if err == nil {
		if mErr := r.cfg.Tracker.MarkSent(recCtx, deliveryID); mErr != nil {
			r.cfg.Logger.Error("failed to record sent delivery",
				"delivery_id", deliveryID, "error", mErr.Error())
			return
		}
		r.cfg.Metrics.RecordDeliveryOutcome(recCtx, sched.ReportType, sched.Format, ResultSuccess)
		return
	}

	if mail.IsPermanent(err) {
		if mErr := r.cfg.Tracker.MarkPermanentlyFailed(recCtx, deliveryID, err.Error()); mErr != nil {
			r.cfg.Logger.Error("failed to record permanent failure",
				"delivery_id", deliveryID, "error", mErr.Error())
			return
		}
		r.cfg.Metrics.RecordDeliveryOutcome(recCtx, sched.ReportType, sched.Format, ResultPermanent)
		return
	}

	r.recordFailure(recCtx, deliveryID, err)
	r.cfg.Metrics.RecordDeliveryOutcome(recCtx, sched.ReportType, sched.Format, ResultFailure)
}

// recordFailure records a transient failure and arms the retry timer when
// the tracker says another attempt is allowed.
func (r *Runner) recordFailure(ctx context.Context, deliveryID string, cause error) {
	shouldRetry, retryAt, err := r.cfg.Tracker.MarkFailed(ctx, deliveryID, cause.Error())
	if err != nil {
		r.cfg.Logger.Error("failed to record delivery failure",
			"delivery_id", deliveryID, "error", err.Error())
		return
	}
	if shouldRetry {
		r.cfg.Scheduler.Schedule(deliveryID, retryAt)
	}
}

// attachmentFilename prefers the generator-provided name and otherwise
// derives report_<id>_<timestamp>.<ext>.
func attachmentFilename(payload *types.ReportPayload, format types.ReportFormat, now time.Time) string {
	if payload.Filename != "" {
		return payload.Filename
	}
	return fmt.Sprintf("report_%s_%s.%s", payload.ReportID, now.UTC().Format("20060102T150405"), format.Extension())
}
