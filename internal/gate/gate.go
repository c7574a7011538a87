// Package gate decides whether a notification may be scheduled or sent.
package gate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-reminders/internal/domain"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
)

// ValidEmail reports whether s looks like a deliverable email address.
func ValidEmail(s string) bool { return emailPattern.MatchString(s) }

// ValidPhone reports whether s is an E.164-style phone number.
func ValidPhone(s string) bool { return phonePattern.MatchString(s) }

// Phase selects how ScheduledInPast is judged.
type Phase int

const (
	// PhaseSchedule rejects fire times earlier than now.
	PhaseSchedule Phase = iota
	// PhaseSend rejects sends for appointments that have already started.
	PhaseSend
)

// Store is the read side the gate needs. Missing rows return domain.ErrNotFound.
type Store interface {
	GetRecipient(ctx context.Context, recipientID uuid.UUID) (*domain.RecipientProfile, error)
	GetAppointment(ctx context.Context, appointmentID uuid.UUID) (*domain.Appointment, error)
	GetPreference(ctx context.Context, recipientID uuid.UUID, nt domain.NotificationType, ch domain.ChannelType) (*domain.NotificationPreference, error)
}

// Request describes one (recipient, type, channel) delivery to check.
type Request struct {
	Phase            Phase
	RecipientID      uuid.UUID
	NotificationType domain.NotificationType
	ChannelType      domain.ChannelType
	ScheduledFor     time.Time
	AppointmentID    *uuid.UUID
	At               time.Time // evaluation time; zero means now
}

// Gate evaluates delivery rules against the store.
type Gate struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Gate. A nil now uses time.Now.
func New(store Store, logger *zap.Logger, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{store: store, logger: logger, now: now}
}

// Evaluate runs every rule and returns all violations. An empty slice means the
// delivery may proceed. The returned error is reserved for store failures.
func (g *Gate) Evaluate(ctx context.Context, req Request) ([]domain.ValidationError, error) {
	violations := make([]domain.ValidationError, 0)
	now := req.At
	if now.IsZero() {
		now = g.now()
	}

	recipient, err := g.store.GetRecipient(ctx, req.RecipientID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load recipient: %w", err)
	}
	if recipient == nil {
		violations = append(violations, domain.ValidationError{
			Code:    domain.CodeMissingContactInfo,
			Field:   "recipientId",
			Message: "recipient profile not found",
		})
	}

	var appt *domain.Appointment
	if req.AppointmentID != nil {
		appt, err = g.store.GetAppointment(ctx, *req.AppointmentID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("load appointment: %w", err)
		}
		if appt == nil {
			violations = append(violations, domain.ValidationError{
				Code:    domain.CodeAppointmentNotFound,
				Field:   "appointmentId",
				Message: "appointment not found",
			})
		}
	}

	switch req.Phase {
	case PhaseSchedule:
		if req.ScheduledFor.Before(now) {
			violations = append(violations, domain.ValidationError{
				Code:    domain.CodeScheduledInPast,
				Field:   "scheduledFor",
				Message: "scheduledFor is in the past",
			})
		}
	case PhaseSend:
		if appt != nil && !appt.ScheduledAt.After(now) {
			violations = append(violations, domain.ValidationError{
				Code:    domain.CodeScheduledInPast,
				Field:   "scheduledFor",
				Message: "appointment has already started",
			})
		}
	}

	if recipient != nil {
		violations = append(violations, contactViolations(req.ChannelType, recipient)...)
	}

	pref, err := g.store.GetPreference(ctx, req.RecipientID, req.NotificationType, req.ChannelType)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load preference: %w", err)
	}
	if pref != nil && !pref.Enabled {
		violations = append(violations, domain.ValidationError{
			Code:    domain.CodePreferenceDisabled,
			Field:   "preference",
			Message: fmt.Sprintf("%s notifications disabled for %s", req.NotificationType, req.ChannelType),
		})
	}

	if len(violations) > 0 {
		g.logger.Debug("delivery gated",
			zap.String("recipient_id", req.RecipientID.String()),
			zap.String("channel", string(req.ChannelType)),
			zap.Int("violations", len(violations)),
		)
	}

	return violations, nil
}

func contactViolations(ch domain.ChannelType, r *domain.RecipientProfile) []domain.ValidationError {
	switch ch {
	case domain.ChannelEmail:
		if r.Email == nil || *r.Email == "" {
			return []domain.ValidationError{{
				Code:    domain.CodeMissingContactInfo,
				Field:   "recipientEmail",
				Message: "recipientEmail is required for EMAIL channel",
			}}
		}
		if !ValidEmail(*r.Email) {
			return []domain.ValidationError{{
				Code:    domain.CodeInvalidContactInfo,
				Field:   "recipientEmail",
				Message: "recipientEmail must be a valid email address",
			}}
		}
	case domain.ChannelSMS:
		if r.Phone == nil || *r.Phone == "" {
			return []domain.ValidationError{{
				Code:    domain.CodeMissingContactInfo,
				Field:   "recipientPhone",
				Message: "recipientPhone is required for SMS channel",
			}}
		}
		if !ValidPhone(*r.Phone) {
			return []domain.ValidationError{{
				Code:    domain.CodeInvalidContactInfo,
				Field:   "recipientPhone",
				Message: "recipientPhone must be a valid phone number",
			}}
		}
	}
	return nil
}

// Codes flattens violations for logging and API responses.
func Codes(violations []domain.ValidationError) []domain.ErrorCode {
	out := make([]domain.ErrorCode, len(violations))
	for i, v := range violations {
		out[i] = v.Code
	}
	return out
}
