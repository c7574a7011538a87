// Package channel adapts delivery gateways to a uniform validate-and-send
// contract, one implementation per ChannelType.
package channel

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lalithlochan/nimbus-reminders/internal/domain"
)

// Payload is everything a channel needs to deliver one notification.
type Payload struct {
	NotificationID uuid.UUID
	RecipientID    uuid.UUID
	RecipientEmail string
	RecipientPhone string
	Subject        string
	Content        string
	Metadata       map[string]string
}

// Result is the outcome of a single send.
type Result struct {
	Success   bool
	MessageID string
	Error     string
	Retryable bool
}

// ValidationResult lists every problem found with a payload.
type ValidationResult struct {
	Valid  bool
	Errors []domain.ValidationError
}

// Channel delivers payloads over one medium.
type Channel interface {
	Type() domain.ChannelType
	Validate(p Payload) ValidationResult
	Send(ctx context.Context, p Payload) Result
}

func validation(errs []domain.ValidationError) ValidationResult {
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func failed(msg string, retryable bool) Result {
	return Result{Success: false, Error: msg, Retryable: retryable}
}

// wait blocks on the limiter when one is configured. A cancelled wait is a
// transient failure.
func wait(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// firstMessage is the error reported when Send refuses an invalid payload.
func firstMessage(v ValidationResult) string {
	if len(v.Errors) == 0 {
		return ""
	}
	return v.Errors[0].Message
}

var errNoGateway = errors.New("no gateway configured")
