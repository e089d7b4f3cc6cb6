package types

import (
	"context"
	"time"
)

// Validator is implemented by entities to self-validate.
type Validator interface {
	Validate() error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// GenerateRequest identifies the report to render and the artifact format.
type GenerateRequest struct {
	ReportID   string
	ReportType string
	Format     ReportFormat
	Parameters map[string]any
}

// ReportGenerator produces the report payload for a scheduled delivery.
// Generate must be idempotent for an identical request within one
// evaluation window so change detection compares like with like.
type ReportGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (*ReportPayload, error)
}

// MailAttachment is the rendered artifact handed to the mail sender.
type MailAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// MailSender transmits a rendered report artifact to a recipient set.
// Implementations classify failures: a permanent error (checked via
// mail.IsPermanent) short-circuits the retry path entirely.
type MailSender interface {
	Send(ctx context.Context, recipients RecipientSet, attachment MailAttachment, metadata map[string]string) error
}

// Logger defines the structured logging interface used throughout the pipeline.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}
