package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"reportflow/internal/types"
)

// ScheduleRepository provides data access for the report_schedules table.
type ScheduleRepository struct {
	db DBTX
}

// NewScheduleRepository creates a new ScheduleRepository backed by the given
// database connection (pool or transaction).
func NewScheduleRepository(db DBTX) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

const scheduleColumns = `id, report_id, report_type, user_id, name,
	        frequency, cron_expression, timezone, format,
	        recipients, distribution_condition, status,
	        last_run_at, next_run_at, created_at, updated_at`

// Create inserts a new schedule record. The caller must set the ID (prefixed
// UUID, e.g. "sch_...") and all required fields before calling; validation
// happens in the service layer, not here.
func (r *ScheduleRepository) Create(ctx context.Context, s *types.Schedule) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO report_schedules
		 (id, report_id, report_type, user_id, name,
		  frequency, cron_expression, timezone, format,
		  recipients, distribution_condition, status,
		  last_run_at, next_run_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		         $13, $14, COALESCE($15, NOW()), COALESCE($15, NOW()))`,
		s.ID,
		s.ReportID,
		s.ReportType,
		s.UserID,
		nilIfEmpty(s.Name),
		string(s.Frequency),
		nilIfEmpty(s.CronExpression),
		s.Timezone,
		string(s.Format),
		s.Recipients,
		s.Condition,
		string(s.Status),
		s.LastRunAt,
		s.NextRunAt,
		nilIfZeroTime(s.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create schedule", err)
	}
	return nil
}

// GetByID retrieves a single schedule by its ID.
func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*types.Schedule, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+scheduleColumns+`
		 FROM report_schedules
		 WHERE id = $1`,
		id,
	)
	s, err := scanSchedule(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, types.NewAppError(types.ErrCodeNotFoundSchedule, "schedule not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get schedule", err)
	}
	return s, nil
}

// Update persists the mutable fields of a schedule: cadence, format,
// recipients, condition, name and next_run_at. Status transitions go through
// SetStatus so they stay auditable in one place.
func (r *ScheduleRepository) Update(ctx context.Context, s *types.Schedule) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE report_schedules SET
			name = $1,
			frequency = $2,
			cron_expression = $3,
			timezone = $4,
			format = $5,
			recipients = $6,
			distribution_condition = $7,
			next_run_at = $8,
			updated_at = NOW()
		 WHERE id = $9`,
		nilIfEmpty(s.Name),
		string(s.Frequency),
		nilIfEmpty(s.CronExpression),
		s.Timezone,
		string(s.Format),
		s.Recipients,
		s.Condition,
		s.NextRunAt,
		s.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update schedule", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSchedule, "schedule not found", nil)
	}
	return nil
}

// SetStatus updates the lifecycle status of a schedule. Used for pause,
// resume and cancel; cancellation is a soft delete, the row and its delivery
// history stay queryable.
func (r *ScheduleRepository) SetStatus(ctx context.Context, id string, status types.ScheduleStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE report_schedules SET
			status = $1,
			updated_at = NOW()
		 WHERE id = $2`,
		string(status),
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update schedule status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSchedule, "schedule not found", nil)
	}
	return nil
}

// ListByUser retrieves all schedules owned by a user, newest first.
func (r *ScheduleRepository) ListByUser(ctx context.Context, userID string) ([]*types.Schedule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+scheduleColumns+`
		 FROM report_schedules
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list schedules", err)
	}
	defer rows.Close()

	var results []*types.Schedule
	for rows.Next() {
		s, scanErr := scanSchedule(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan schedule row", scanErr)
		}
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating schedule rows", err)
	}
	return results, nil
}

// ListDue retrieves active schedules whose next_run_at has passed, oldest
// first so the most overdue schedules dispatch first. Paused and cancelled
// schedules never match regardless of next_run_at.
func (r *ScheduleRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*types.Schedule, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+scheduleColumns+`
		 FROM report_schedules
		 WHERE status = 'ACTIVE'
		   AND next_run_at IS NOT NULL
		   AND next_run_at <= $1
		 ORDER BY next_run_at
		 LIMIT $2`,
		now,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list due schedules", err)
	}
	defer rows.Close()

	var results []*types.Schedule
	for rows.Next() {
		s, scanErr := scanSchedule(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan schedule row", scanErr)
		}
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating schedule rows", err)
	}
	return results, nil
}

// AdvanceRun records a completed dispatch pass over a schedule: last_run_at
// is set to the tick that processed it and next_run_at to the following
// occurrence. Called after every pass, whether the delivery was sent,
// skipped or failed, so a broken schedule cannot wedge the dispatcher into
// reprocessing it every tick.
func (r *ScheduleRepository) AdvanceRun(ctx context.Context, id string, lastRunAt, nextRunAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE report_schedules SET
			last_run_at = $1,
			next_run_at = $2,
			updated_at = NOW()
		 WHERE id = $3`,
		lastRunAt,
		nextRunAt,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to advance schedule run", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSchedule, "schedule not found", nil)
	}
	return nil
}

// scanSchedule reads one schedule row from either a pgx.Row or pgx.Rows.
func scanSchedule(row pgx.Row) (*types.Schedule, error) {
	var (
		s          types.Schedule
		name       *string
		frequency  string
		cronExpr   *string
		format     string
		status     string
		recipients []byte
		condition  []byte
	)

	err := row.Scan(
		&s.ID,
		&s.ReportID,
		&s.ReportType,
		&s.UserID,
		&name,
		&frequency,
		&cronExpr,
		&s.Timezone,
		&format,
		&recipients,
		&condition,
		&status,
		&s.LastRunAt,
		&s.NextRunAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if name != nil {
		s.Name = *name
	}
	if cronExpr != nil {
		s.CronExpression = *cronExpr
	}
	s.Frequency = types.Frequency(frequency)
	s.Format = types.ReportFormat(format)
	s.Status = types.ScheduleStatus(status)
	if recipients != nil {
		if err := json.Unmarshal(recipients, &s.Recipients); err != nil {
			return nil, err
		}
	}
	if condition != nil {
		var c types.DistributionCondition
		if err := json.Unmarshal(condition, &c); err != nil {
			return nil, err
		}
		s.Condition = &c
	}
	return &s, nil
}
