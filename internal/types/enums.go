package types

// ScheduleStatus represents the lifecycle state of a report schedule.
type ScheduleStatus string

const (
	ScheduleStatusActive    ScheduleStatus = "ACTIVE"
	ScheduleStatusPaused    ScheduleStatus = "PAUSED"
	ScheduleStatusCancelled ScheduleStatus = "CANCELLED"
)

// Frequency is the cadence family governing when a schedule is due.
type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyCustom  Frequency = "CUSTOM"
)

// ReportFormat identifies the output artifact format for a scheduled report.
type ReportFormat string

const (
	FormatPDF   ReportFormat = "PDF"
	FormatExcel ReportFormat = "EXCEL"
	FormatCSV   ReportFormat = "CSV"
)

// ContentType returns the MIME type used when attaching a rendered report
// of this format to an outgoing email.
func (f ReportFormat) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatCSV:
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the file extension for attachment filenames.
func (f ReportFormat) Extension() string {
	switch f {
	case FormatPDF:
		return "pdf"
	case FormatExcel:
		return "xlsx"
	case FormatCSV:
		return "csv"
	default:
		return "bin"
	}
}

// DeliveryStatus enumerates all valid states for a report delivery attempt.
// These values MUST match the CHECK constraint on the delivery_logs table.
type DeliveryStatus string

const (
	DeliveryStatusPending           DeliveryStatus = "PENDING"
	DeliveryStatusSent              DeliveryStatus = "SENT"
	DeliveryStatusFailed            DeliveryStatus = "FAILED"
	DeliveryStatusPermanentlyFailed DeliveryStatus = "PERMANENTLY_FAILED"
	DeliveryStatusBounced           DeliveryStatus = "BOUNCED"
	DeliveryStatusSkipped           DeliveryStatus = "SKIPPED"
)

// Terminal reports whether a delivery in this status can never transition
// again through the normal attempt path. SENT is terminal for attempts but
// may still move to BOUNCED via asynchronous transport feedback.
func (s DeliveryStatus) Terminal() bool {
	switch s {
	case DeliveryStatusSent, DeliveryStatusPermanentlyFailed,
		DeliveryStatusBounced, DeliveryStatusSkipped:
		return true
	}
	return false
}

// ConditionType identifies a distribution condition variant.
type ConditionType string

const (
	ConditionAlways          ConditionType = "ALWAYS"
	ConditionThreshold       ConditionType = "THRESHOLD"
	ConditionChangeDetection ConditionType = "CHANGE_DETECTION"
	ConditionException       ConditionType = "EXCEPTION"
)

// ConditionOperator defines comparison operators for THRESHOLD evaluation.
type ConditionOperator string

const (
	OpGreaterThan   ConditionOperator = "GT"
	OpGreaterThanEq ConditionOperator = "GTE"
	OpLessThan      ConditionOperator = "LT"
	OpLessThanEq    ConditionOperator = "LTE"
	OpEqual         ConditionOperator = "EQ"
)

// BounceType classifies asynchronous transport-level bounce feedback.
type BounceType string

const (
	// BounceHard indicates a permanently undeliverable address. The affected
	// recipients are recorded in the delivery log metadata for suppression.
	BounceHard BounceType = "HARD"

	// BounceSoft indicates a transient mailbox condition (full, greylisted).
	BounceSoft BounceType = "SOFT"
)
