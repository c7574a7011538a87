package channel

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-reminders/internal/domain"
)

// InApp stores nothing beyond the record itself; the inbox reads notification
// records directly, so sending only has to succeed.
type InApp struct {
	logger *zap.Logger
}

func NewInApp(logger *zap.Logger) *InApp {
	return &InApp{logger: logger}
}

func (c *InApp) Type() domain.ChannelType { return domain.ChannelInApp }

func (c *InApp) Validate(p Payload) ValidationResult {
	if p.Content == "" {
		return validation([]domain.ValidationError{{
			Code:    domain.CodeValidationFailure,
			Field:   "content",
			Message: "content is required",
		}})
	}
	return validation(nil)
}

func (c *InApp) Send(_ context.Context, p Payload) Result {
	if v := c.Validate(p); !v.Valid {
		return failed(firstMessage(v), false)
	}
	c.logger.Debug("in-app notification stored",
		zap.String("notification_id", p.NotificationID.String()),
		zap.String("recipient_id", p.RecipientID.String()),
	)
	return Result{Success: true, MessageID: "inapp_" + p.NotificationID.String()}
}
