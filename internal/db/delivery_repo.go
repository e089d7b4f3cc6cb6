package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"reportflow/internal/types"
)

// DeliveryLogRepository provides data access for the delivery_logs table.
// Every dispatch pass writes exactly one row here, whatever the outcome, so
// the table doubles as the audit trail and the durable retry queue:
// rows in FAILED with a next_retry_at are re-armed on process start.
type DeliveryLogRepository struct {
	db DBTX
}

// NewDeliveryLogRepository creates a new DeliveryLogRepository backed by the
// given database connection (pool or transaction).
func NewDeliveryLogRepository(db DBTX) *DeliveryLogRepository {
	return &DeliveryLogRepository{db: db}
}

const deliveryColumns = `id, schedule_id, report_id, recipients, format,
	        status, attempt_count, next_retry_at, error_message, sent_at,
	        metadata, created_at`

// Create inserts a new delivery log row. The caller must set the ID
// (prefixed UUID, e.g. "dlv_...") and the recipient snapshot; status
// defaults to PENDING when left unset.
func (r *DeliveryLogRepository) Create(ctx context.Context, d *types.DeliveryLog) error {
	status := d.Status
	if status == "" {
		status = types.DeliveryStatusPending
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO delivery_logs
		 (id, schedule_id, report_id, recipients, format,
		  status, attempt_count, next_retry_at, error_message, sent_at,
		  metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, NOW()))`,
		d.ID,
		d.ScheduleID,
		d.ReportID,
		d.Recipients,
		string(d.Format),
		string(status),
		d.AttemptCount,
		d.NextRetryAt,
		nilIfEmpty(d.ErrorMessage),
		d.SentAt,
		d.Metadata,
		nilIfZeroTime(d.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create delivery log", err)
	}
	return nil
}

// GetByID retrieves a single delivery log by its ID.
func (r *DeliveryLogRepository) GetByID(ctx context.Context, id string) (*types.DeliveryLog, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+deliveryColumns+`
		 FROM delivery_logs
		 WHERE id = $1`,
		id,
	)
	d, err := scanDeliveryLog(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, types.NewAppError(types.ErrCodeNotFoundDelivery, "delivery log not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get delivery log", err)
	}
	return d, nil
}

// MarkSent records a successful send. The attempt counter is left alone: it
// tracks which attempt is in flight and only a failure moves it. Any pending
// retry state is cleared.
func (r *DeliveryLogRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_logs SET
			status = 'SENT',
			sent_at = $1,
			next_retry_at = NULL,
			error_message = NULL
		 WHERE id = $2`,
		sentAt,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark delivery sent", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundDelivery, "delivery log not found", nil)
	}
	return nil
}

// MarkFailed records a transient send failure and arms the next retry.
// The attempt counter is incremented in SQL so the stored count survives
// process restarts between retries; the new count is returned so the caller
// can compare it against the retry ceiling. Pass a nil nextRetryAt when no
// further retry is scheduled.
func (r *DeliveryLogRepository) MarkFailed(ctx context.Context, id string, errMsg string, nextRetryAt *time.Time) (int, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE delivery_logs SET
			status = 'FAILED',
			attempt_count = attempt_count + 1,
			error_message = $1,
			next_retry_at = $2
		 WHERE id = $3
		 RETURNING attempt_count`,
		nilIfEmpty(errMsg),
		nextRetryAt,
		id,
	)
	var attempts int
	if err := row.Scan(&attempts); err != nil {
		if err == pgx.ErrNoRows {
			return 0, types.NewAppError(types.ErrCodeNotFoundDelivery, "delivery log not found", nil)
		}
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to mark delivery failed", err)
	}
	return attempts, nil
}

// MarkPermanentlyFailed records a terminal failure: either the retry ceiling
// was reached or the error class never succeeds on retry (invalid recipient,
// authentication rejection). The attempt counter is left where the last
// failure put it, so it never runs past the ceiling. No further retry is
// armed.
func (r *DeliveryLogRepository) MarkPermanentlyFailed(ctx context.Context, id string, errMsg string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_logs SET
			status = 'PERMANENTLY_FAILED',
			error_message = $1,
			next_retry_at = NULL
		 WHERE id = $2`,
		nilIfEmpty(errMsg),
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark delivery permanently failed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundDelivery, "delivery log not found", nil)
	}
	return nil
}

// MarkSkipped records a pass where the distribution condition held the
// report back. No send was attempted, so the attempt counter is untouched.
func (r *DeliveryLogRepository) MarkSkipped(ctx context.Context, id string, reason string) error {
	meta := types.DeliveryMetadata{SkipReason: reason}
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_logs SET
			status = 'SKIPPED',
			metadata = COALESCE(metadata, '{}'::jsonb) || $1
		 WHERE id = $2`,
		meta,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark delivery skipped", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundDelivery, "delivery log not found", nil)
	}
	return nil
}

// MarkBounced transitions a SENT delivery to BOUNCED after provider
// feedback arrives. The guard on the current status keeps late or duplicate
// bounce events from rewriting rows that were never sent.
func (r *DeliveryLogRepository) MarkBounced(ctx context.Context, id string, meta types.DeliveryMetadata) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_logs SET
			status = 'BOUNCED',
			metadata = COALESCE(metadata, '{}'::jsonb) || $1
		 WHERE id = $2 AND status = 'SENT'`,
		meta,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark delivery bounced", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictState, "delivery is not in a sent state", nil)
	}
	return nil
}

// MergeMetadata merges fields into the metadata JSONB without touching the
// delivery status. Used to stamp the content hash after generation.
func (r *DeliveryLogRepository) MergeMetadata(ctx context.Context, id string, meta types.DeliveryMetadata) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_logs SET
			metadata = COALESCE(metadata, '{}'::jsonb) || $1
		 WHERE id = $2`,
		meta,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to merge delivery metadata", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundDelivery, "delivery log not found", nil)
	}
	return nil
}

// LastContentHash returns the content hash stamped on the most recent SENT
// delivery for a schedule, or empty when the schedule has never sent.
// CHANGE_DETECTION conditions compare the fresh report against this.
func (r *DeliveryLogRepository) LastContentHash(ctx context.Context, scheduleID string) (string, error) {
	row := r.db.QueryRow(ctx,
		`SELECT COALESCE(metadata->>'content_hash', '')
		 FROM delivery_logs
		 WHERE schedule_id = $1 AND status = 'SENT'
		 ORDER BY created_at DESC
		 LIMIT 1`,
		scheduleID,
	)
	var hash string
	if err := row.Scan(&hash); err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to load last content hash", err)
	}
	return hash, nil
}

// ListRetryable retrieves failed deliveries that still have a retry
// scheduled. Consumed on process start to re-arm timers that were lost with
// the previous process, so in-flight retries survive restarts. A limit of
// zero or less returns every retryable row; boot recovery must see all of
// them or the overflow would never retry.
func (r *DeliveryLogRepository) ListRetryable(ctx context.Context, limit int) ([]*types.DeliveryLog, error) {
	query := `SELECT ` + deliveryColumns + `
		 FROM delivery_logs
		 WHERE status = 'FAILED'
		   AND next_retry_at IS NOT NULL
		 ORDER BY next_retry_at`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list retryable deliveries", err)
	}
	defer rows.Close()

	var results []*types.DeliveryLog
	for rows.Next() {
		d, scanErr := scanDeliveryLog(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan delivery row", scanErr)
		}
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating delivery rows", err)
	}
	return results, nil
}

// RequeueStalePending converts PENDING rows older than the cutoff into
// FAILED rows due for immediate retry. A PENDING row that old means a
// process died mid-attempt; whether the send went out is unknown, so the
// row is retried rather than dropped. The attempt counter is left alone:
// the interrupted attempt never got a recorded outcome.
func (r *DeliveryLogRepository) RequeueStalePending(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_logs
		 SET status = 'FAILED',
			error_message = 'attempt interrupted by process shutdown',
			next_retry_at = NOW()
		 WHERE status = 'PENDING'
		   AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to requeue stale pending deliveries", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListBySchedule retrieves the delivery history for a schedule, newest
// first. The default page size is applied when limit is unset.
func (r *DeliveryLogRepository) ListBySchedule(ctx context.Context, scheduleID string, limit int) ([]*types.DeliveryLog, error) {
	if limit <= 0 {
		limit = types.DefaultHistoryPage
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+deliveryColumns+`
		 FROM delivery_logs
		 WHERE schedule_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		scheduleID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list delivery history", err)
	}
	defer rows.Close()

	var results []*types.DeliveryLog
	for rows.Next() {
		d, scanErr := scanDeliveryLog(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan delivery row", scanErr)
		}
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating delivery rows", err)
	}
	return results, nil
}

// Stats aggregates delivery outcomes for a schedule. BOUNCED and
// PERMANENTLY_FAILED count toward Failed; the success rate is a percentage
// of sent over total and exactly zero for a schedule with no history.
func (r *DeliveryLogRepository) Stats(ctx context.Context, scheduleID string) (*types.DeliveryStats, error) {
	row := r.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'SENT'),
		        COUNT(*) FILTER (WHERE status IN ('FAILED', 'PERMANENTLY_FAILED', 'BOUNCED')),
		        COUNT(*) FILTER (WHERE status = 'PENDING'),
		        COUNT(*) FILTER (WHERE status = 'SKIPPED')
		 FROM delivery_logs
		 WHERE schedule_id = $1`,
		scheduleID,
	)

	var stats types.DeliveryStats
	if err := row.Scan(&stats.Total, &stats.Sent, &stats.Failed, &stats.Pending, &stats.Skipped); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to aggregate delivery stats", err)
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Sent) / float64(stats.Total) * 100
	}
	return &stats, nil
}

// ListPurgeable retrieves terminal delivery logs created before the cutoff,
// oldest first. Rows still PENDING or awaiting retry are never candidates
// regardless of age.
func (r *DeliveryLogRepository) ListPurgeable(ctx context.Context, cutoff time.Time, limit int) ([]*types.DeliveryLog, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+deliveryColumns+`
		 FROM delivery_logs
		 WHERE created_at < $1
		   AND status IN ('SENT', 'PERMANENTLY_FAILED', 'BOUNCED', 'SKIPPED')
		 ORDER BY created_at
		 LIMIT $2`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list purgeable delivery logs", err)
	}
	defer rows.Close()

	var results []*types.DeliveryLog
	for rows.Next() {
		d, scanErr := scanDeliveryLog(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan delivery row", scanErr)
		}
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating delivery rows", err)
	}
	return results, nil
}

// DeleteByIDs removes the given delivery logs. Called by the retention
// sweep only after the rows were archived.
func (r *DeliveryLogRepository) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM delivery_logs WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete delivery logs", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanDeliveryLog reads one delivery log row from either a pgx.Row or pgx.Rows.
func scanDeliveryLog(row pgx.Row) (*types.DeliveryLog, error) {
	var (
		d          types.DeliveryLog
		format     string
		status     string
		errMsg     *string
		recipients []byte
		metadata   []byte
	)

	err := row.Scan(
		&d.ID,
		&d.ScheduleID,
		&d.ReportID,
		&recipients,
		&format,
		&status,
		&d.AttemptCount,
		&d.NextRetryAt,
		&errMsg,
		&d.SentAt,
		&metadata,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Format = types.ReportFormat(format)
	d.Status = types.DeliveryStatus(status)
	if errMsg != nil {
		d.ErrorMessage = *errMsg
	}
	if recipients != nil {
		if err := json.Unmarshal(recipients, &d.Recipients); err != nil {
			return nil, err
		}
	}
	if metadata != nil {
		if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
			return nil, err
		}
	}
	return &d, nil
}
