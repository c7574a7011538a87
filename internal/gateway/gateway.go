// Package gateway holds the outbound delivery providers used by the email and
// SMS channels.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// EmailGateway hands a rendered email to a provider and returns its message id.
type EmailGateway interface {
	SendEmail(ctx context.Context, to, subject, body string) (string, error)
}

// SMSGateway hands a text message to a provider and returns its message id.
type SMSGateway interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}

// ErrPermanent marks a provider rejection that will not succeed on retry
// (bad address, content refused). Everything else is treated as transient.
var ErrPermanent = errors.New("permanent delivery rejection")

// Permanent wraps err so that IsPermanent reports true for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent reports whether err is a permanent rejection.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
