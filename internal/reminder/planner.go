// Package reminder turns appointments into PENDING notification records.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-reminders/internal/domain"
	"github.com/lalithlochan/nimbus-reminders/internal/gate"
	"github.com/lalithlochan/nimbus-reminders/internal/metrics"
	"github.com/lalithlochan/nimbus-reminders/internal/schedule"
)

// Store is what planning reads and writes.
type Store interface {
	gate.Store
	// InsertNotifications stores new records and returns the ones actually
	// inserted; a record already planned for the same appointment, type,
	// channel and fire time is skipped.
	InsertNotifications(ctx context.Context, recs []*domain.NotificationRecord) ([]*domain.NotificationRecord, error)
}

// Evaluator runs the delivery gate.
type Evaluator interface {
	Evaluate(ctx context.Context, req gate.Request) ([]domain.ValidationError, error)
}

// Skipped is a candidate the gate refused.
type Skipped struct {
	ChannelType  domain.ChannelType       `json:"channel_type"`
	ScheduledFor time.Time                `json:"scheduled_for"`
	Violations   []domain.ValidationError `json:"violations"`
}

// Plan is the outcome of scheduling one appointment.
type Plan struct {
	Created []*domain.NotificationRecord `json:"created"`
	Skipped []Skipped                    `json:"skipped"`
}

type Config struct {
	Rules      schedule.Rules
	Channels   []domain.ChannelType // defaults to every channel
	MaxRetries int
}

type Planner struct {
	store  Store
	gate   Evaluator
	config Config
	logger *zap.Logger
	now    func() time.Time
}

func New(store Store, g Evaluator, cfg Config, logger *zap.Logger) *Planner {
	if len(cfg.Rules.Offsets) == 0 {
		cfg.Rules = schedule.DefaultRules()
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = domain.AllChannels
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Planner{store: store, gate: g, config: cfg, logger: logger, now: time.Now}
}

// WithClock overrides the planner's clock.
func (p *Planner) WithClock(now func() time.Time) *Planner {
	p.now = now
	return p
}

// ScheduleAppointmentReminders plans the lead-time reminders for an
// appointment on every channel the gate allows.
func (p *Planner) ScheduleAppointmentReminders(ctx context.Context, appointmentID uuid.UUID) (*Plan, error) {
	now := p.now().UTC()

	appt, recipient, err := p.load(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	times, err := p.config.Rules.ComputeReminderTimes(appt.ScheduledAt, recipient.Timezone, now)
	if err != nil {
		p.logger.Warn("reminder planning aborted",
			zap.String("appointment_id", appointmentID.String()),
			zap.String("timezone", recipient.Timezone),
			zap.Error(err),
		)
		return nil, err
	}

	return p.plan(ctx, appt, domain.TypeAppointmentReminder, times, now)
}

// ScheduleConfirmation plans an immediate confirmation, deferred to the end of
// quiet hours when the recipient is asleep. A confirmation that would only
// fire once the appointment has started is skipped on every channel.
func (p *Planner) ScheduleConfirmation(ctx context.Context, appointmentID uuid.UUID) (*Plan, error) {
	now := p.now().UTC()

	appt, recipient, err := p.load(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	loc, err := schedule.LoadLocation(recipient.Timezone)
	if err != nil {
		return nil, err
	}

	fire := p.config.Rules.NextSendTime(now, loc)
	return p.plan(ctx, appt, domain.TypeAppointmentConfirmation, []time.Time{fire}, now)
}

func (p *Planner) load(ctx context.Context, appointmentID uuid.UUID) (*domain.Appointment, *domain.RecipientProfile, error) {
	appt, err := p.store.GetAppointment(ctx, appointmentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrAppointmentNotFound, appointmentID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load appointment: %w", err)
	}
	if !appt.Status.Active() {
		return nil, nil, fmt.Errorf("%w: %s is %s", domain.ErrAppointmentInactive, appointmentID, appt.Status)
	}

	recipient, err := p.store.GetRecipient(ctx, appt.RecipientID)
	if err != nil {
		return nil, nil, fmt.Errorf("load recipient %s: %w", appt.RecipientID, err)
	}
	return appt, recipient, nil
}

func (p *Planner) plan(ctx context.Context, appt *domain.Appointment, nt domain.NotificationType, times []time.Time, now time.Time) (*Plan, error) {
	plan := &Plan{
		Created: make([]*domain.NotificationRecord, 0),
		Skipped: make([]Skipped, 0),
	}
	var candidates []*domain.NotificationRecord

	for _, at := range times {
		// a fire time pushed past the start by quiet hours can never be sent
		if !at.Before(appt.ScheduledAt) {
			for _, ch := range p.config.Channels {
				plan.Skipped = append(plan.Skipped, Skipped{
					ChannelType:  ch,
					ScheduledFor: at.UTC(),
					Violations: []domain.ValidationError{{
						Code:    domain.CodeScheduledInPast,
						Field:   "scheduledFor",
						Message: "send time is not before the appointment",
					}},
				})
				metrics.RecordSkipped(string(domain.CodeScheduledInPast))
			}
			continue
		}
		for _, ch := range p.config.Channels {
			violations, err := p.gate.Evaluate(ctx, gate.Request{
				Phase:            gate.PhaseSchedule,
				RecipientID:      appt.RecipientID,
				NotificationType: nt,
				ChannelType:      ch,
				ScheduledFor:     at,
				AppointmentID:    &appt.ID,
				At:               now,
			})
			if err != nil {
				return nil, fmt.Errorf("evaluate %s: %w", ch, err)
			}
			if len(violations) > 0 {
				plan.Skipped = append(plan.Skipped, Skipped{ChannelType: ch, ScheduledFor: at, Violations: violations})
				for _, v := range violations {
					metrics.RecordSkipped(string(v.Code))
				}
				continue
			}

			apptID := appt.ID
			candidates = append(candidates, &domain.NotificationRecord{
				ID:               uuid.New(),
				RecipientID:      appt.RecipientID,
				AppointmentID:    &apptID,
				NotificationType: nt,
				ChannelType:      ch,
				Status:           domain.StatusPending,
				ScheduledFor:     at.UTC(),
				MaxRetries:       p.config.MaxRetries,
				CreatedAt:        now,
				UpdatedAt:        now,
			})
		}
	}

	if len(candidates) > 0 {
		created, err := p.store.InsertNotifications(ctx, candidates)
		if err != nil {
			return nil, fmt.Errorf("insert notifications: %w", err)
		}
		plan.Created = created
	}

	for _, rec := range plan.Created {
		metrics.RecordScheduled(string(rec.NotificationType), string(rec.ChannelType))
	}

	p.logger.Info("notifications planned",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("type", string(nt)),
		zap.Int("candidates", len(times)),
		zap.Int("created", len(plan.Created)),
		zap.Int("skipped", len(plan.Skipped)),
	)
	return plan, nil
}
