// Package alert surfaces notifications that failed for good to operators.
package alert

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-reminders/internal/domain"
)

// TerminalFailure describes a notification that will never be delivered.
type TerminalFailure struct {
	NotificationID   string                  `json:"notification_id"`
	RecipientID      string                  `json:"recipient_id"`
	AppointmentID    string                  `json:"appointment_id,omitempty"`
	NotificationType domain.NotificationType `json:"notification_type"`
	Channel          domain.ChannelType      `json:"channel"`
	Attempts         int                     `json:"attempts"`
	LastError        string                  `json:"last_error"`
	FailedAt         time.Time               `json:"failed_at"`
}

// FromRecord builds a TerminalFailure from the final state of a record.
func FromRecord(n *domain.NotificationRecord, attempts int, lastErr string, at time.Time) TerminalFailure {
	f := TerminalFailure{
		NotificationID:   n.ID.String(),
		RecipientID:      n.RecipientID.String(),
		NotificationType: n.NotificationType,
		Channel:          n.ChannelType,
		Attempts:         attempts,
		LastError:        lastErr,
		FailedAt:         at.UTC(),
	}
	if n.AppointmentID != nil {
		f.AppointmentID = n.AppointmentID.String()
	}
	return f
}

// Alerter delivers terminal failure alerts.
type Alerter interface {
	Alert(ctx context.Context, f TerminalFailure) error
}

// LogAlerter writes the alert as an error log line. It is always installed.
type LogAlerter struct {
	logger *zap.Logger
}

func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Alert(_ context.Context, f TerminalFailure) error {
	a.logger.Error("notification permanently failed",
		zap.String("notification_id", f.NotificationID),
		zap.String("recipient_id", f.RecipientID),
		zap.String("appointment_id", f.AppointmentID),
		zap.String("notification_type", string(f.NotificationType)),
		zap.String("channel", string(f.Channel)),
		zap.Int("attempts", f.Attempts),
		zap.String("last_error", f.LastError),
	)
	return nil
}

// Multi fans an alert out to every sink and joins their errors.
type Multi struct {
	sinks  []Alerter
	logger *zap.Logger
}

func NewMulti(logger *zap.Logger, sinks ...Alerter) *Multi {
	return &Multi{sinks: sinks, logger: logger}
}

func (m *Multi) Alert(ctx context.Context, f TerminalFailure) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Alert(ctx, f); err != nil {
			m.logger.Warn("alert sink failed",
				zap.String("notification_id", f.NotificationID),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
