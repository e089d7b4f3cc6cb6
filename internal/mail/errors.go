package mail

import (
	"errors"
	"net/textproto"

	"reportflow/internal/types"
)

// PermanentError marks a send failure that will never succeed on retry:
// rejected recipients, authentication failures, malformed messages. The
// delivery pipeline short-circuits these straight to PERMANENTLY_FAILED
// instead of burning retry attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent mail failure: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError. A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is a failure class that retrying cannot
// fix. It recognizes the PermanentError wrapper, the mail AppError codes,
// and raw SMTP 5xx replies bubbling up from the transport.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var perm *PermanentError
	if errors.As(err, &perm) {
		return true
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeMailRecipientRejected, types.ErrCodeMailConfigInvalid:
			return true
		}
	}

	// SMTP permanent negative completion (550 mailbox unavailable, 554
	// transaction failed, ...).
	var proto *textproto.Error
	if errors.As(err, &proto) {
		return proto.Code >= 500 && proto.Code < 600
	}

	return false
}
