package mail

import (
	"context"
	"errors"
	"io"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"reportflow/internal/types"
)

// fakeDialer records sent messages and returns canned errors.
type fakeDialer struct {
	sent    []*gomail.Message
	sendErr error
	dialErr error
	block   chan struct{}
}

type nopSendCloser struct{}

func (nopSendCloser) Send(from string, to []string, msg io.WriterTo) error { return nil }

func (nopSendCloser) Close() error { return nil }

func (d *fakeDialer) Dial() (gomail.SendCloser, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return nopSendCloser{}, nil
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.block != nil {
		<-d.block
	}
	d.sent = append(d.sent, m...)
	return d.sendErr
}

func testConfig() Config {
	return Config{
		Host:        "smtp.example.com",
		Port:        587,
		Username:    "reports",
		Password:    types.SecretString("secret"),
		FromAddress: "reports@example.com",
		FromName:    "Example Reports",
	}
}

func testAttachment() types.MailAttachment {
	return types.MailAttachment{
		Filename:    "report_rpt_1_20260302.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.7"),
	}
}

func TestSend_Success(t *testing.T) {
	d := &fakeDialer{}
	s := NewSender(testConfig(), nil, WithDialer(d))

	recipients := types.RecipientSet{
		To:  []string{"ops@example.com"},
		CC:  []string{"lead@example.com"},
		BCC: []string{"audit@example.com"},
	}
	err := s.Send(context.Background(), recipients, testAttachment(), map[string]string{
		"schedule_name": "Weekly sales",
	})
	require.NoError(t, err)
	require.Len(t, d.sent, 1)

	m := d.sent[0]
	assert.Equal(t, []string{"ops@example.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{"lead@example.com"}, m.GetHeader("Cc"))
	assert.Equal(t, []string{"audit@example.com"}, m.GetHeader("Bcc"))
	assert.Equal(t, []string{"Scheduled report: Weekly sales"}, m.GetHeader("Subject"))
}

func TestSend_EmptyRecipientsIsPermanent(t *testing.T) {
	d := &fakeDialer{}
	s := NewSender(testConfig(), nil, WithDialer(d))

	err := s.Send(context.Background(), types.RecipientSet{}, testAttachment(), nil)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Empty(t, d.sent)
}

func TestSend_SMTPRejectionIsPermanent(t *testing.T) {
	d := &fakeDialer{sendErr: &textproto.Error{Code: 550, Msg: "mailbox unavailable"}}
	s := NewSender(testConfig(), nil, WithDialer(d))

	err := s.Send(context.Background(), types.RecipientSet{To: []string{"gone@example.com"}}, testAttachment(), nil)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeMailRecipientRejected, appErr.Code)
}

func TestSend_TransientFailureIsRetryable(t *testing.T) {
	d := &fakeDialer{sendErr: errors.New("connection reset by peer")}
	s := NewSender(testConfig(), nil, WithDialer(d))

	err := s.Send(context.Background(), types.RecipientSet{To: []string{"ops@example.com"}}, testAttachment(), nil)
	require.Error(t, err)
	assert.False(t, IsPermanent(err))

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamMail, appErr.Code)
}

func TestSend_ContextCancellation(t *testing.T) {
	d := &fakeDialer{block: make(chan struct{})}
	defer close(d.block)
	s := NewSender(testConfig(), nil, WithDialer(d))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.Send(ctx, types.RecipientSet{To: []string{"ops@example.com"}}, testAttachment(), nil)
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestVerify_BadRelayConfig(t *testing.T) {
	d := &fakeDialer{dialErr: errors.New("535 authentication failed")}
	s := NewSender(testConfig(), nil, WithDialer(d))

	err := s.Verify(context.Background())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeMailConfigInvalid, appErr.Code)
}

func TestIsPermanent_Classification(t *testing.T) {
	assert.False(t, IsPermanent(nil))
	assert.False(t, IsPermanent(errors.New("timeout")))
	assert.True(t, IsPermanent(Permanent(errors.New("bad address"))))
	assert.True(t, IsPermanent(&textproto.Error{Code: 554}))
	assert.False(t, IsPermanent(&textproto.Error{Code: 421}))
}
