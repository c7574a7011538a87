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

// SMS sends through an SMSGateway.
type SMS struct {
	gw      gateway.SMSGateway
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewSMS(gw gateway.SMSGateway, limiter *rate.Limiter, logger *zap.Logger) *SMS {
	return &SMS{gw: gw, limiter: limiter, logger: logger}
}

func (c *SMS) Type() domain.ChannelType { return domain.ChannelSMS }

func (c *SMS) Validate(p Payload) ValidationResult {
	var errs []domain.ValidationError
	switch {
	case p.RecipientPhone == "":
		errs = append(errs, domain.ValidationError{
			Code:    domain.CodeMissingContactInfo,
			Field:   "recipientPhone",
			Message: "recipientPhone is required for SMS channel",
		})
	case !gate.ValidPhone(p.RecipientPhone):
		errs = append(errs, domain.ValidationError{
			Code:    domain.CodeInvalidContactInfo,
			Field:   "recipientPhone",
			Message: "recipientPhone must be a valid phone number",
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

// Send treats every gateway error as transient.
func (c *SMS) Send(ctx context.Context, p Payload) Result {
	if v := c.Validate(p); !v.Valid {
		return failed(firstMessage(v), false)
	}
	if c.gw == nil {
		return failed(errNoGateway.Error(), true)
	}
	if err := wait(ctx, c.limiter); err != nil {
		return failed(fmt.Sprintf("sms rate limit wait: %v", err), true)
	}

	id, err := c.gw.SendSMS(ctx, p.RecipientPhone, p.Content)
	if err != nil {
		c.logger.Warn("sms send failed",
			zap.String("notification_id", p.NotificationID.String()),
			zap.Error(err),
		)
		return failed(err.Error(), true)
	}
	return Result{Success: true, MessageID: id}
}
