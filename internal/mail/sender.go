// Package mail delivers rendered report artifacts over SMTP and classifies
// transport failures so the retry pipeline knows which ones are worth
// retrying.
package mail

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gopkg.in/gomail.v2"

	"reportflow/internal/types"
)

// Config holds SMTP connection and envelope settings.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    types.SecretString
	FromAddress string
	FromName    string
}

// dialer is the slice of *gomail.Dialer the Sender needs; swapped out in
// tests.
type dialer interface {
	Dial() (gomail.SendCloser, error)
	DialAndSend(m ...*gomail.Message) error
}

// Sender sends report emails through an SMTP relay. It implements
// types.MailSender.
type Sender struct {
	cfg    Config
	dialer dialer
	logger *slog.Logger
}

// SenderOption is a functional option for configuring a Sender.
type SenderOption func(*Sender)

// WithDialer overrides the SMTP dialer. This is intended for testing.
func WithDialer(d dialer) SenderOption {
	return func(s *Sender) {
		s.dialer = d
	}
}

// NewSender creates a Sender. A nil logger falls back to slog.Default().
func NewSender(cfg Config, logger *slog.Logger, opts ...SenderOption) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sender{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password.Unmask()),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send transmits the attachment to the recipient set. The metadata map
// feeds the subject and body; recognized keys are "subject",
// "schedule_name" and "report_type".
//
// SMTP has no cancellable API, so the dial-and-send runs in a goroutine and
// Send returns early with the context error on cancellation. The abandoned
// goroutine finishes (or times out at the transport layer) on its own.
func (s *Sender) Send(ctx context.Context, recipients types.RecipientSet, attachment types.MailAttachment, metadata map[string]string) error {
	if len(recipients.To) == 0 {
		return Permanent(types.NewAppError(types.ErrCodeMailRecipientRejected, "recipient set has no to addresses", nil))
	}

	m := s.buildMessage(recipients, attachment, metadata)

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return types.NewAppError(types.ErrCodeUpstreamMail, "mail send cancelled", ctx.Err())
	case err := <-done:
		if err != nil {
			if IsPermanent(err) {
				return Permanent(types.NewAppError(types.ErrCodeMailRecipientRejected, "smtp relay rejected message", err))
			}
			return types.NewAppError(types.ErrCodeUpstreamMail, "smtp send failed", err)
		}
	}

	s.logger.InfoContext(ctx, "report email sent",
		slog.Int("recipients", len(recipients.All())),
		slog.String("filename", attachment.Filename),
	)
	return nil
}

// SendTest sends a minimal plain-text message to a single recipient so
// operators can confirm relay settings without waiting for a schedule to
// fire.
func (s *Sender) SendTest(ctx context.Context, recipient string) error {
	return s.Send(ctx,
		types.RecipientSet{To: []string{recipient}},
		types.MailAttachment{},
		map[string]string{
			"subject": "ReportFlow test message",
			"body":    "This is a test message confirming your SMTP delivery settings.",
		},
	)
}

// Verify opens and closes an SMTP connection to confirm the relay accepts
// our credentials. Run at process start so a bad relay config fails the
// boot instead of the first 2 AM delivery.
func (s *Sender) Verify(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		sc, err := s.dialer.Dial()
		if err == nil {
			err = sc.Close()
		}
		done <- err
	}()

	select {
	case <-ctx.Done():
		return types.NewAppError(types.ErrCodeUpstreamMail, "smtp verification cancelled", ctx.Err())
	case err := <-done:
		if err != nil {
			return types.NewAppError(types.ErrCodeMailConfigInvalid, "smtp relay verification failed", err)
		}
	}
	return nil
}

func (s *Sender) buildMessage(recipients types.RecipientSet, attachment types.MailAttachment, metadata map[string]string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.cfg.FromAddress, s.cfg.FromName)
	m.SetHeader("To", recipients.To...)
	if len(recipients.CC) > 0 {
		m.SetHeader("Cc", recipients.CC...)
	}
	if len(recipients.BCC) > 0 {
		m.SetHeader("Bcc", recipients.BCC...)
	}
	m.SetHeader("Subject", subjectFor(metadata))
	m.SetHeader("Date", m.FormatDate(time.Now()))
	m.SetBody("text/plain", bodyFor(metadata))

	if len(attachment.Data) > 0 {
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(attachment.Data)
				return err
			}),
		}
		if attachment.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{
				"Content-Type": {attachment.ContentType},
			}))
		}
		m.Attach(attachment.Filename, settings...)
	}
	return m
}

func subjectFor(metadata map[string]string) string {
	if subject := metadata["subject"]; subject != "" {
		return subject
	}
	if name := metadata["schedule_name"]; name != "" {
		return "Scheduled report: " + name
	}
	if rt := metadata["report_type"]; rt != "" {
		return "Scheduled report: " + rt
	}
	return "Scheduled report"
}

func bodyFor(metadata map[string]string) string {
	if body := metadata["body"]; body != "" {
		return body
	}
	name := metadata["schedule_name"]
	if name == "" {
		name = metadata["report_type"]
	}
	if name == "" {
		return "Your scheduled report is attached."
	}
	return fmt.Sprintf("Your scheduled report %q is attached.", name)
}

// compile-time interface check
var _ types.MailSender = (*Sender)(nil)
