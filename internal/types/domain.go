package types

import (
	"time"
)

// RecipientSet holds the to/cc/bcc address lists for a schedule. Stored as
// a JSONB column on both schedules and delivery_logs (the log keeps a
// snapshot taken at dispatch time, so later schedule edits do not rewrite
// history).
type RecipientSet struct {
	To  []string `json:"to" validate:"required,min=1,dive,email"`
	CC  []string `json:"cc,omitempty" validate:"omitempty,dive,email"`
	BCC []string `json:"bcc,omitempty" validate:"omitempty,dive,email"`
}

// All returns every address in the set, to first, then cc, then bcc.
func (r RecipientSet) All() []string {
	out := make([]string, 0, len(r.To)+len(r.CC)+len(r.BCC))
	out = append(out, r.To...)
	out = append(out, r.CC...)
	out = append(out, r.BCC...)
	return out
}

// Schedule is the core domain entity representing a recurring report
// delivery configuration.
type Schedule struct {
	ID         string `json:"id" db:"id"`
	ReportID   string `json:"report_id" db:"report_id"`
	ReportType string `json:"report_type" db:"report_type"`
	UserID     string `json:"user_id" db:"user_id"`
	Name       string `json:"name,omitempty" db:"name"`

	// Cadence
	Frequency      Frequency `json:"frequency" db:"frequency"`
	CronExpression string    `json:"cron_expression,omitempty" db:"cron_expression"`
	Timezone       string    `json:"timezone" db:"timezone"`

	// Delivery
	Format     ReportFormat           `json:"format" db:"format"`
	Recipients RecipientSet           `json:"recipients" db:"recipients"`
	Condition  *DistributionCondition `json:"distribution_condition,omitempty" db:"distribution_condition"`

	// Meta
	Status    ScheduleStatus `json:"status" db:"status"`
	LastRunAt *time.Time     `json:"last_run_date,omitempty" db:"last_run_at"`
	NextRunAt *time.Time     `json:"next_run_date,omitempty" db:"next_run_at"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// DeliveryMetadata is the free-form metadata JSONB attached to a delivery
// log: bounce classification, suppressed recipients, content hash used for
// change detection, and the reason a delivery was skipped.
type DeliveryMetadata struct {
	ContentHash       string   `json:"content_hash,omitempty"`
	SkipReason        string   `json:"skip_reason,omitempty"`
	BounceType        string   `json:"bounce_type,omitempty"`
	BounceMessage     string   `json:"bounce_message,omitempty"`
	InvalidRecipients []string `json:"invalid_recipients,omitempty"`
	TriggeredBy       string   `json:"triggered_by,omitempty"`
}

// DeliveryLog records one concrete attempt to generate and send a report.
// One row per attempted send, not one per schedule tick: a tick that skips
// on condition still writes a SKIPPED row so operators see every outcome.
type DeliveryLog struct {
	ID         string  `json:"id" db:"id"`
	ScheduleID *string `json:"schedule_id,omitempty" db:"schedule_id"`
	ReportID   string  `json:"report_id" db:"report_id"`

	Recipients RecipientSet `json:"recipients" db:"recipients"`
	Format     ReportFormat `json:"format" db:"format"`

	Status       DeliveryStatus `json:"status" db:"status"`
	AttemptCount int            `json:"attempt_count" db:"attempt_count"`
	NextRetryAt  *time.Time     `json:"next_retry_at,omitempty" db:"next_retry_at"`
	ErrorMessage string         `json:"error_message,omitempty" db:"error_message"`
	SentAt       *time.Time     `json:"sent_at,omitempty" db:"sent_at"`

	Metadata  DeliveryMetadata `json:"metadata" db:"metadata"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

// DeliveryStats aggregates a schedule's delivery logs for operator views.
// SuccessRate is sent/total*100 and exactly 0 when total is 0.
type DeliveryStats struct {
	Total       int     `json:"total"`
	Sent        int     `json:"sent"`
	Failed      int     `json:"failed"`
	Pending     int     `json:"pending"`
	Skipped     int     `json:"skipped"`
	SuccessRate float64 `json:"success_rate"`
}

// ReportPayload is the output of the report generator: the rendered artifact
// plus the numeric data the distribution condition evaluator inspects.
type ReportPayload struct {
	ReportID    string             `json:"report_id"`
	ReportType  string             `json:"report_type"`
	GeneratedAt time.Time          `json:"generated_at"`
	Metrics     map[string]float64 `json:"metrics"`
	Artifact    []byte             `json:"-"`
	Filename    string             `json:"filename,omitempty"`
}
