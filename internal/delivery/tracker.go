// Package delivery owns the lifecycle of individual report deliveries: the
// status state machine, the durable retry timers, bounce feedback, metrics
// and log retention. One delivery log row tracks one dispatch pass from
// PENDING to a terminal status.
package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"reportflow/internal/types"
)

// LogRepository abstracts the delivery_logs persistence used by the
// tracker, the retry scheduler and the retention sweeper.
type LogRepository interface {
	Create(ctx context.Context, d *types.DeliveryLog) error
	GetByID(ctx context.Context, id string) (*types.DeliveryLog, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string, nextRetryAt *time.Time) (int, error)
	MarkPermanentlyFailed(ctx context.Context, id string, errMsg string) error
	MarkSkipped(ctx context.Context, id string, reason string) error
	MarkBounced(ctx context.Context, id string, meta types.DeliveryMetadata) error
	MergeMetadata(ctx context.Context, id string, meta types.DeliveryMetadata) error
	ListRetryable(ctx context.Context, limit int) ([]*types.DeliveryLog, error)
	RequeueStalePending(ctx context.Context, cutoff time.Time) (int, error)
	ListPurgeable(ctx context.Context, cutoff time.Time, limit int) ([]*types.DeliveryLog, error)
	DeleteByIDs(ctx context.Context, ids []string) (int, error)
}

// Tracker drives the delivery status state machine and enforces the retry
// ceiling. It never talks to the generator or the SMTP relay; the runner
// reports outcomes and the tracker records them.
type Tracker struct {
	repo   LogRepository
	policy RetryPolicy
	clock  types.Clock
	logger types.Logger
}

// NewTracker creates a Tracker. A nil clock falls back to real UTC time.
func NewTracker(repo LogRepository, policy RetryPolicy, clock types.Clock, logger types.Logger) *Tracker {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Tracker{
		repo:   repo,
		policy: policy,
		clock:  clock,
		logger: logger,
	}
}

// Create opens a PENDING delivery log for one dispatch pass over a
// schedule. The recipient set and format are snapshot from the schedule so
// later edits do not rewrite history. The attempt counter starts at 1: the
// row exists because an attempt is beginning.
func (t *Tracker) Create(ctx context.Context, sched *types.Schedule, triggeredBy string) (*types.DeliveryLog, error) {
	scheduleID := sched.ID
	d := &types.DeliveryLog{
		ID:           "dlv_" + uuid.New().String(),
		ScheduleID:   &scheduleID,
		ReportID:     sched.ReportID,
		Recipients:   sched.Recipients,
		Format:       sched.Format,
		Status:       types.DeliveryStatusPending,
		AttemptCount: 1,
		Metadata:     types.DeliveryMetadata{TriggeredBy: triggeredBy},
		CreatedAt:    t.clock.Now(),
	}
	if err := t.repo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create delivery log: %w", err)
	}
	return d, nil
}

// MarkSent records a successful send.
func (t *Tracker) MarkSent(ctx context.Context, deliveryID string) error {
	if err := t.repo.MarkSent(ctx, deliveryID, t.clock.Now()); err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	t.logger.Info("report delivery sent", "delivery_id", deliveryID)
	return nil
}

// MarkFailed records a transient failure. If the attempt that just failed
// was below the retry ceiling, the next retry is armed at now + the backoff
// tier for that attempt and shouldRetry is true with the retry time. The
// failure that would push the count past the ceiling is recorded as
// PERMANENTLY_FAILED instead and shouldRetry is false.
func (t *Tracker) MarkFailed(ctx context.Context, deliveryID string, reason string) (bool, time.Time, error) {
	d, err := t.repo.GetByID(ctx, deliveryID)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("mark failed: load delivery: %w", err)
	}

	if d.AttemptCount >= t.policy.MaxAttempts {
		if err := t.repo.MarkPermanentlyFailed(ctx, deliveryID, reason); err != nil {
			return false, time.Time{}, fmt.Errorf("mark failed: record exhausted delivery: %w", err)
		}
		t.logger.Error("delivery exhausted retry attempts",
			"delivery_id", deliveryID,
			"attempts", d.AttemptCount,
			"reason", reason,
		)
		return false, time.Time{}, nil
	}

	retryAt := t.clock.Now().Add(t.policy.Delay(d.AttemptCount))
	attempts, err := t.repo.MarkFailed(ctx, deliveryID, reason, &retryAt)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("mark failed: %w", err)
	}

	t.logger.Warn("delivery failed, retry armed",
		"delivery_id", deliveryID,
		"attempt", attempts,
		"max_attempts", t.policy.MaxAttempts,
		"retry_at", retryAt,
		"reason", reason,
	)
	return true, retryAt, nil
}

// MarkPermanentlyFailed records a failure class that retrying cannot fix.
// The attempt counter stays where it is; for a first-attempt permanent
// error that leaves it at 1.
func (t *Tracker) MarkPermanentlyFailed(ctx context.Context, deliveryID string, reason string) error {
	if err := t.repo.MarkPermanentlyFailed(ctx, deliveryID, reason); err != nil {
		return fmt.Errorf("mark permanently failed: %w", err)
	}
	t.logger.Error("delivery permanently failed",
		"delivery_id", deliveryID,
		"reason", reason,
	)
	return nil
}

// MarkSkipped records a pass the distribution condition held back. The
// sender is never involved, so no sentAt and no attempt consumed.
func (t *Tracker) MarkSkipped(ctx context.Context, deliveryID string, reason string) error {
	if err := t.repo.MarkSkipped(ctx, deliveryID, reason); err != nil {
		return fmt.Errorf("mark skipped: %w", err)
	}
	t.logger.Info("report delivery skipped",
		"delivery_id", deliveryID,
		"reason", reason,
	)
	return nil
}

// StampContentHash persists the content hash computed during condition
// evaluation so the next CHANGE_DETECTION pass has something to compare
// against.
func (t *Tracker) StampContentHash(ctx context.Context, deliveryID string, hash string) error {
	if hash == "" {
		return nil
	}
	if err := t.repo.MergeMetadata(ctx, deliveryID, types.DeliveryMetadata{ContentHash: hash}); err != nil {
		return fmt.Errorf("stamp content hash: %w", err)
	}
	return nil
}
