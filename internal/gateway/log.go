package gateway

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogGateway only logs outgoing messages (for development).
type LogGateway struct {
	logger *zap.Logger
}

func NewLogGateway(logger *zap.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) SendEmail(_ context.Context, to, subject, body string) (string, error) {
	id := "log_" + uuid.NewString()
	g.logger.Info("email sent",
		zap.String("message_id", id),
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(body)),
	)
	return id, nil
}

func (g *LogGateway) SendSMS(_ context.Context, to, body string) (string, error) {
	id := "log_" + uuid.NewString()
	g.logger.Info("sms sent",
		zap.String("message_id", id),
		zap.String("to", to),
		zap.Int("body_bytes", len(body)),
	)
	return id, nil
}
