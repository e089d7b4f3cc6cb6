package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All services MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationInvalidFrequency ErrorCode = "validation_invalid_frequency"
	ErrCodeValidationInvalidFormat    ErrorCode = "validation_invalid_format"
	ErrCodeValidationInvalidTimezone  ErrorCode = "validation_invalid_timezone"
	ErrCodeValidationInvalidCondition ErrorCode = "validation_invalid_condition"
	ErrCodeValidationInvalidEmail     ErrorCode = "validation_invalid_email"
	ErrCodeValidationInvalidCron      ErrorCode = "validation_invalid_cron_expression"
	ErrCodeValidationMissingField     ErrorCode = "validation_missing_required_field"

	// Not Found (404)
	ErrCodeNotFoundSchedule ErrorCode = "not_found_schedule"
	ErrCodeNotFoundDelivery ErrorCode = "not_found_delivery"

	// Conflict (409)
	ErrCodeConflictPaused    ErrorCode = "conflict_schedule_paused"
	ErrCodeConflictCancelled ErrorCode = "conflict_schedule_cancelled"
	ErrCodeConflictState     ErrorCode = "conflict_invalid_state_transition"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamGenerator   ErrorCode = "upstream_report_generator_unavailable"
	ErrCodeUpstreamMail        ErrorCode = "upstream_mail_transport_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"

	// Mail-specific
	ErrCodeMailRecipientRejected ErrorCode = "mail_recipient_rejected"
	ErrCodeMailConfigInvalid     ErrorCode = "mail_configuration_invalid"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Kept for the surrounding application's API layer; the pipeline itself
// never serves HTTP. Returns 500 for unrecognized codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case s == string(ErrCodeMailRecipientRejected):
		return http.StatusUnprocessableEntity // 422
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the
// pipeline. All domain errors should be expressed as AppError to enable
// consistent error formatting, status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
