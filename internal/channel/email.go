package channel

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lalithlochan/nimbus-reminders/internal/domain"
	"github.com/lalithlochan/nimbus-reminders/internal/gate"
	"github.com/lalithlochan/nimbus-reminders/internal/gateway"
)

// Email sends through an EmailGateway. Content is expected to be HTML-escaped.
type Email struct {
	gw      gateway.EmailGateway
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewEmail creates the email channel. limiter may be nil.
func NewEmail(gw gateway.EmailGateway, limiter *rate.Limiter, logger *zap.Logger) *Email {
	return &Email{gw: gw, limiter: limiter, logger: logger}
}

func (c *Email) Type() domain.ChannelType { return domain.ChannelEmail }

func (c *Email) Validate(p Payload) ValidationResult {
	var errs []domain.ValidationError
	switch {
	case p.RecipientEmail == "":
		errs = append(errs, domain.ValidationError{
			Code:    domain.CodeMissingContactInfo,
			Field:   "recipientEmail",
			Message: "recipientEmail is required for EMAIL channel",
		})
	case !gate.ValidEmail(p.RecipientEmail):
		errs = append(errs, domain.ValidationError{
			Code:    domain.CodeInvalidContactInfo,
			Field:   "recipientEmail",
			Message: "recipientEmail must be a valid email address",
		})
	}
	if p.Subject == "" {
		errs = append(errs, domain.ValidationError{
			Code:    domain.CodeValidationFailure,
			Field:   "subject",
			Message: "subject is required for EMAIL channel",
		})
	}
	if p.Content == "" {
		errs = append(errs, domain.ValidationError{
			Code:    domain.CodeValidationFailure,
			Field:   "content",
			Message: "content is required",
		})
	}
	return validation(errs)
}

func (c *Email) Send(ctx context.Context, p Payload) Result {
	if v := c.Validate(p); !v.Valid {
		return failed(firstMessage(v), false)
	}
	if c.gw == nil {
		return failed(errNoGateway.Error(), true)
	}
	if err := wait(ctx, c.limiter); err != nil {
		return failed(fmt.Sprintf("email rate limit wait: %v", err), true)
	}

	id, err := c.gw.SendEmail(ctx, p.RecipientEmail, p.Subject, p.Content)
	if err != nil {
		permanent := gateway.IsPermanent(err)
		c.logger.Warn("email send failed",
			zap.String("notification_id", p.NotificationID.String()),
			zap.Bool("permanent", permanent),
			zap.Error(err),
		)
		return failed(err.Error(), !permanent)
	}
	return Result{Success: true, MessageID: id}
}
