// Package content turns a notification record into the subject and body a
// channel sends.
package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-reminders/internal/domain"
	"github.com/lalithlochan/nimbus-reminders/internal/schedule"
	"github.com/lalithlochan/nimbus-reminders/internal/template"
)

// DateLayout is how appointment times appear in messages, in the recipient's zone.
const DateLayout = "January 2, 2006 at 3:04 PM MST"

// TemplateStore returns the active template for a pair, or domain.ErrNotFound.
type TemplateStore interface {
	GetActiveTemplate(ctx context.Context, nt domain.NotificationType, ch domain.ChannelType) (*domain.Template, error)
}

// Message is rendered content ready for a channel.
type Message struct {
	Subject  string
	Body     string
	Warnings []template.Warning
}

// Builder renders messages from stored templates, falling back to built-ins.
type Builder struct {
	templates TemplateStore
	logger    *zap.Logger
}

func NewBuilder(templates TemplateStore, logger *zap.Logger) *Builder {
	return &Builder{templates: templates, logger: logger}
}

// Build renders the message for rec. appt may be nil for notifications that
// are not tied to an appointment.
func (b *Builder) Build(ctx context.Context, rec *domain.NotificationRecord, recipient *domain.RecipientProfile, appt *domain.Appointment) (Message, error) {
	subject, body, err := b.source(ctx, rec.NotificationType, rec.ChannelType)
	if err != nil {
		return Message{}, err
	}

	data := Data(recipient, appt)
	escape := rec.ChannelType == domain.ChannelEmail

	// subjects are plain text headers, never HTML
	s := template.Render(subject, data, false)
	bd := template.Render(body, data, escape)

	msg := Message{
		Subject:  s.Output,
		Body:     bd.Output,
		Warnings: append(s.Warnings, bd.Warnings...),
	}
	if len(msg.Warnings) > 0 {
		b.logger.Warn("template rendered with missing variables",
			zap.String("notification_id", rec.ID.String()),
			zap.String("channel", string(rec.ChannelType)),
			zap.Strings("missing", paths(msg.Warnings)),
		)
	}
	return msg, nil
}

func (b *Builder) source(ctx context.Context, nt domain.NotificationType, ch domain.ChannelType) (string, string, error) {
	if b.templates != nil {
		t, err := b.templates.GetActiveTemplate(ctx, nt, ch)
		switch {
		case err == nil:
			subject := ""
			if t.Subject != nil {
				subject = *t.Subject
			}
			return subject, t.BodyTemplate, nil
		case !errors.Is(err, domain.ErrNotFound):
			return "", "", fmt.Errorf("load template: %w", err)
		}
	}

	builtin, ok := template.BuiltinFor(nt, ch)
	if !ok {
		return "", "", fmt.Errorf("no template for %s/%s", nt, ch)
	}
	return builtin.Subject, builtin.Body, nil
}

// Data builds the variable map templates render against. Flat keys match the
// built-in templates; nested "patient", "doctor" and "appointment" maps serve
// custom ones.
func Data(recipient *domain.RecipientProfile, appt *domain.Appointment) map[string]any {
	data := map[string]any{}

	loc := time.UTC
	if recipient != nil {
		if l, err := schedule.LoadLocation(recipient.Timezone); err == nil {
			loc = l
		}
		patient := map[string]any{"timezone": recipient.Timezone}
		if recipient.DisplayName != nil {
			data["patientName"] = *recipient.DisplayName
			patient["name"] = *recipient.DisplayName
		}
		data["patient"] = patient
	}

	if appt != nil {
		when := appt.ScheduledAt.In(loc).Format(DateLayout)
		data["doctorName"] = appt.DoctorName
		data["appointmentType"] = appt.AppointmentType
		data["appointmentDate"] = when
		data["location"] = appt.Location
		data["notes"] = appt.Notes
		data["doctor"] = map[string]any{"name": appt.DoctorName}
		data["appointment"] = map[string]any{
			"id":       appt.ID.String(),
			"type":     appt.AppointmentType,
			"date":     when,
			"location": appt.Location,
			"notes":    appt.Notes,
			"status":   string(appt.Status),
		}
	}
	return data
}

func paths(ws []template.Warning) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Path
	}
	return out
}
