// Package service holds the administrative operations on schedules and
// their delivery history. It is the write path for configuration; the
// dispatcher only ever reads what this package has validated.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"reportflow/internal/schedule"
	"reportflow/internal/types"
)

// ScheduleStore is the slice of the schedule repository the service uses.
type ScheduleStore interface {
	Create(ctx context.Context, s *types.Schedule) error
	GetByID(ctx context.Context, id string) (*types.Schedule, error)
	Update(ctx context.Context, s *types.Schedule) error
	SetStatus(ctx context.Context, id string, status types.ScheduleStatus) error
	ListByUser(ctx context.Context, userID string) ([]*types.Schedule, error)
}

// DeliveryStore reads delivery history for a schedule.
type DeliveryStore interface {
	ListBySchedule(ctx context.Context, scheduleID string, limit int) ([]*types.DeliveryLog, error)
	Stats(ctx context.Context, scheduleID string) (*types.DeliveryStats, error)
}

// Executor runs a schedule through the delivery pipeline and advances its
// run times, exactly as a dispatch tick would.
type Executor interface {
	Process(ctx context.Context, sched *types.Schedule, now time.Time, triggeredBy string) *types.DeliveryLog
}

// TestMailer sends an operator verification email.
type TestMailer interface {
	SendTest(ctx context.Context, recipient string) error
}

// ScheduleService implements schedule lifecycle management on top of the
// repositories and the dispatch pipeline.
type ScheduleService struct {
	schedules  ScheduleStore
	deliveries DeliveryStore
	executor   Executor
	mailer     TestMailer
	clock      types.Clock
	logger     types.Logger
}

// NewScheduleService creates a ScheduleService. A nil clock falls back to
// real UTC time.
func NewScheduleService(schedules ScheduleStore, deliveries DeliveryStore, executor Executor, mailer TestMailer, clock types.Clock, logger types.Logger) *ScheduleService {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &ScheduleService{
		schedules:  schedules,
		deliveries: deliveries,
		executor:   executor,
		mailer:     mailer,
		clock:      clock,
		logger:     logger,
	}
}

// CreateSchedule validates and persists a new schedule. The schedule is
// created ACTIVE with its first run time computed from now in the
// schedule's timezone.
func (s *ScheduleService) CreateSchedule(ctx context.Context, sched *types.Schedule) (*types.Schedule, error) {
	if err := sched.Validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	next, degraded := schedule.NextRun(sched.Frequency, sched.CronExpression, sched.Timezone, now)
	if degraded {
		s.logger.Warn("schedule created with degraded cadence, falling back to daily",
			"frequency", string(sched.Frequency),
			"cron_expression", sched.CronExpression,
		)
	}

	sched.ID = "sch_" + uuid.New().String()
	sched.Status = types.ScheduleStatusActive
	sched.LastRunAt = nil
	sched.NextRunAt = &next
	sched.CreatedAt = now
	sched.UpdatedAt = now

	if err := s.schedules.Create(ctx, sched); err != nil {
		return nil, err
	}

	s.logger.Info("schedule created",
		"schedule_id", sched.ID,
		"report_id", sched.ReportID,
		"frequency", string(sched.Frequency),
		"next_run_at", next.Format(time.RFC3339),
	)
	return sched, nil
}

// UpdateSchedule revalidates and persists changes to an existing
// schedule. When any cadence field changed, the next run time is
// recomputed from now; otherwise the existing one is kept.
func (s *ScheduleService) UpdateSchedule(ctx context.Context, sched *types.Schedule) (*types.Schedule, error) {
	if err := sched.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.schedules.GetByID(ctx, sched.ID)
	if err != nil {
		return nil, err
	}

	sched.NextRunAt = existing.NextRunAt
	if cadenceChanged(existing, sched) {
		next, degraded := schedule.NextRun(sched.Frequency, sched.CronExpression, sched.Timezone, s.clock.Now())
		if degraded {
			s.logger.Warn("schedule updated with degraded cadence, falling back to daily",
				"schedule_id", sched.ID,
				"frequency", string(sched.Frequency),
				"cron_expression", sched.CronExpression,
			)
		}
		sched.NextRunAt = &next
	}

	if err := s.schedules.Update(ctx, sched); err != nil {
		return nil, err
	}

	sched.Status = existing.Status
	sched.LastRunAt = existing.LastRunAt
	sched.CreatedAt = existing.CreatedAt
	sched.UpdatedAt = s.clock.Now()
	return sched, nil
}

// DeleteSchedule cancels a schedule. The row and its delivery history
// stay queryable; a cancelled schedule is never dispatched again.
func (s *ScheduleService) DeleteSchedule(ctx context.Context, id string) error {
	return s.schedules.SetStatus(ctx, id, types.ScheduleStatusCancelled)
}

// PauseSchedule suspends dispatching without losing the schedule. The
// stored nextRunAt is retained but ignored while paused.
func (s *ScheduleService) PauseSchedule(ctx context.Context, id string) error {
	existing, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.Status == types.ScheduleStatusCancelled {
		return types.NewAppError(types.ErrCodeConflictCancelled, "schedule is cancelled", nil)
	}
	return s.schedules.SetStatus(ctx, id, types.ScheduleStatusPaused)
}

// ResumeSchedule reactivates a paused schedule. The next run time is
// recomputed from now rather than kept from before the pause, so a
// schedule paused for a week does not fire a burst of stale runs.
func (s *ScheduleService) ResumeSchedule(ctx context.Context, id string) error {
	existing, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.Status == types.ScheduleStatusCancelled {
		return types.NewAppError(types.ErrCodeConflictCancelled, "schedule is cancelled", nil)
	}

	next, degraded := schedule.NextRun(existing.Frequency, existing.CronExpression, existing.Timezone, s.clock.Now())
	if degraded {
		s.logger.Warn("resumed schedule has degraded cadence, falling back to daily",
			"schedule_id", id,
		)
	}
	existing.NextRunAt = &next

	// The recomputed next run time lands before the schedule turns ACTIVE;
	// the other order opens a window where a dispatcher tick fires the stale
	// pre-pause run time.
	if err := s.schedules.Update(ctx, existing); err != nil {
		return err
	}
	return s.schedules.SetStatus(ctx, id, types.ScheduleStatusActive)
}

// ExecuteNow runs a schedule immediately through the same
// evaluate-deliver-reschedule path the dispatcher uses. Paused and
// cancelled schedules are rejected without touching anything.
func (s *ScheduleService) ExecuteNow(ctx context.Context, id string) (*types.DeliveryLog, error) {
	sched, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch sched.Status {
	case types.ScheduleStatusPaused:
		return nil, types.NewAppError(types.ErrCodeConflictPaused, "schedule is paused", nil)
	case types.ScheduleStatusCancelled:
		return nil, types.NewAppError(types.ErrCodeConflictCancelled, "schedule is cancelled", nil)
	}

	return s.executor.Process(ctx, sched, s.clock.Now(), "manual"), nil
}

// ListSchedules returns all schedules owned by a user, newest first.
func (s *ScheduleService) ListSchedules(ctx context.Context, userID string) ([]*types.Schedule, error) {
	return s.schedules.ListByUser(ctx, userID)
}

// GetDeliveryHistory returns delivery logs for a schedule, newest first.
// A non-positive limit falls back to the default page size.
func (s *ScheduleService) GetDeliveryHistory(ctx context.Context, scheduleID string, limit int) ([]*types.DeliveryLog, error) {
	if _, err := s.schedules.GetByID(ctx, scheduleID); err != nil {
		return nil, err
	}
	return s.deliveries.ListBySchedule(ctx, scheduleID, limit)
}

// GetDeliveryStats aggregates delivery outcomes for a schedule.
func (s *ScheduleService) GetDeliveryStats(ctx context.Context, scheduleID string) (*types.DeliveryStats, error) {
	if _, err := s.schedules.GetByID(ctx, scheduleID); err != nil {
		return nil, err
	}
	return s.deliveries.Stats(ctx, scheduleID)
}

// SendTest sends a verification email to a single recipient through the
// configured relay.
func (s *ScheduleService) SendTest(ctx context.Context, recipient string) error {
	return s.mailer.SendTest(ctx, recipient)
}

func cadenceChanged(old, updated *types.Schedule) bool {
	return old.Frequency != updated.Frequency ||
		old.CronExpression != updated.CronExpression ||
		old.Timezone != updated.Timezone
}
