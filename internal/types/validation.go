package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Validation constraint constants.
const (
	MaxNameLength      = 200
	MaxRecipients      = 50
	MaxCronExprLength  = 100
	DefaultHistoryPage = 50
)

// validate is the shared validator instance used for struct tag validation
// (recipient email checks on RecipientSet).
var validate = validator.New()

// ValidateFrequency checks the cadence family and its expression requirement.
// CUSTOM without an expression is accepted here: the calculator degrades to
// daily at evaluation time, but admins should still be warned by the caller.
func ValidateFrequency(freq Frequency, cronExpr string) error {
	switch freq {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return nil
	case FrequencyCustom:
		if len(cronExpr) > MaxCronExprLength {
			return fmt.Errorf("%s: cron expression exceeds %d characters", ErrCodeValidationInvalidCron, MaxCronExprLength)
		}
		return nil
	default:
		return fmt.Errorf("%s: unknown frequency %q", ErrCodeValidationInvalidFrequency, freq)
	}
}

// ValidateFormat checks the output format against the supported set.
func ValidateFormat(format ReportFormat) error {
	switch format {
	case FormatPDF, FormatExcel, FormatCSV:
		return nil
	default:
		return fmt.Errorf("%s: unknown format %q", ErrCodeValidationInvalidFormat, format)
	}
}

// ValidateTimezone checks that the timezone is a loadable IANA zone name.
func ValidateTimezone(tz string) error {
	if tz == "" {
		return fmt.Errorf("%s: timezone is required", ErrCodeValidationInvalidTimezone)
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("%s: unknown timezone %q", ErrCodeValidationInvalidTimezone, tz)
	}
	return nil
}

// ValidateRecipients checks the recipient set shape: at least one "to"
// address, all entries well-formed emails, bounded total size.
func ValidateRecipients(r RecipientSet) error {
	if len(r.To) == 0 {
		return fmt.Errorf("%s: at least one recipient is required", ErrCodeValidationMissingField)
	}
	if len(r.All()) > MaxRecipients {
		return fmt.Errorf("%s: recipient set exceeds %d addresses", ErrCodeValidationInvalidEmail, MaxRecipients)
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%s: %v", ErrCodeValidationInvalidEmail, err)
	}
	return nil
}

// Validate implements the Validator interface for Schedule. Configuration
// errors are rejected here, synchronously at create/update time; nothing
// malformed ever reaches the dispatcher.
func (s *Schedule) Validate() error {
	if s.ReportID == "" {
		return fmt.Errorf("%s: report_id is required", ErrCodeValidationMissingField)
	}
	if s.ReportType == "" {
		return fmt.Errorf("%s: report_type is required", ErrCodeValidationMissingField)
	}
	if s.UserID == "" {
		return fmt.Errorf("%s: user_id is required", ErrCodeValidationMissingField)
	}
	if len(s.Name) > MaxNameLength {
		return fmt.Errorf("%s: name exceeds %d characters", ErrCodeValidationMissingField, MaxNameLength)
	}
	if err := ValidateFrequency(s.Frequency, s.CronExpression); err != nil {
		return err
	}
	if err := ValidateFormat(s.Format); err != nil {
		return err
	}
	if err := ValidateTimezone(s.Timezone); err != nil {
		return err
	}
	if err := ValidateRecipients(s.Recipients); err != nil {
		return err
	}
	return s.Condition.Validate()
}
