package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-reminders/internal/domain"
)

// GetRecipient loads a recipient profile.
func (r *Repository) GetRecipient(ctx context.Context, recipientID uuid.UUID) (*domain.RecipientProfile, error) {
	query := `
		SELECT recipient_id, display_name, timezone, email, phone
		FROM recipient_profiles
		WHERE recipient_id = $1
	`

	var p domain.RecipientProfile
	err := r.db.Pool().QueryRow(ctx, query, recipientID).Scan(
		&p.RecipientID,
		&p.DisplayName,
		&p.Timezone,
		&p.Email,
		&p.Phone,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query recipient: %w", err)
	}
	return &p, nil
}

// UpdateRecipient applies the non-nil fields of u and returns the new profile.
func (r *Repository) UpdateRecipient(ctx context.Context, recipientID uuid.UUID, u domain.RecipientUpdate) (*domain.RecipientProfile, error) {
	query := `
		UPDATE recipient_profiles
		SET display_name = COALESCE($2, display_name),
		    timezone = COALESCE($3, timezone),
		    email = COALESCE($4, email),
		    phone = COALESCE($5, phone),
		    updated_at = NOW()
		WHERE recipient_id = $1
		RETURNING recipient_id, display_name, timezone, email, phone
	`

	var p domain.RecipientProfile
	err := r.db.Pool().QueryRow(ctx, query, recipientID, u.DisplayName, u.Timezone, u.Email, u.Phone).Scan(
		&p.RecipientID,
		&p.DisplayName,
		&p.Timezone,
		&p.Email,
		&p.Phone,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("update recipient: %w", err)
	}

	r.logger.Info("recipient updated", zap.String("recipient_id", recipientID.String()))
	return &p, nil
}

// GetAppointment loads an appointment.
func (r *Repository) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (*domain.Appointment, error) {
	query := `
		SELECT id, recipient_id, scheduled_at, doctor_name, appointment_type,
		       location, notes, status
		FROM appointments
		WHERE id = $1
	`

	var a domain.Appointment
	err := r.db.Pool().QueryRow(ctx, query, appointmentID).Scan(
		&a.ID,
		&a.RecipientID,
		&a.ScheduledAt,
		&a.DoctorName,
		&a.AppointmentType,
		&a.Location,
		&a.Notes,
		&a.Status,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query appointment: %w", err)
	}
	return &a, nil
}

// GetPreference returns the stored flag for a pair, or domain.ErrNotFound when
// the recipient never set one.
func (r *Repository) GetPreference(ctx context.Context, recipientID uuid.UUID, nt domain.NotificationType, ch domain.ChannelType) (*domain.NotificationPreference, error) {
	query := `
		SELECT enabled
		FROM notification_preferences
		WHERE recipient_id = $1 AND notification_type = $2 AND channel_type = $3
	`

	p := domain.NotificationPreference{RecipientID: recipientID, NotificationType: nt, ChannelType: ch}
	err := r.db.Pool().QueryRow(ctx, query, recipientID, nt, ch).Scan(&p.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query preference: %w", err)
	}
	return &p, nil
}

// ListPreferences returns every stored preference for a recipient.
func (r *Repository) ListPreferences(ctx context.Context, recipientID uuid.UUID) ([]*domain.NotificationPreference, error) {
	query := `
		SELECT recipient_id, notification_type, channel_type, enabled
		FROM notification_preferences
		WHERE recipient_id = $1
		ORDER BY notification_type, channel_type
	`

	rows, err := r.db.Pool().Query(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	prefs := make([]*domain.NotificationPreference, 0)
	for rows.Next() {
		var p domain.NotificationPreference
		if err := rows.Scan(&p.RecipientID, &p.NotificationType, &p.ChannelType, &p.Enabled); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		prefs = append(prefs, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return prefs, nil
}

// UpsertPreferences writes the given flags in one transaction.
func (r *Repository) UpsertPreferences(ctx context.Context, prefs []*domain.NotificationPreference) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO notification_preferences (recipient_id, notification_type, channel_type, enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (recipient_id, notification_type, channel_type)
		DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = NOW()
	`
	for _, p := range prefs {
		if _, err := tx.Exec(ctx, query, p.RecipientID, p.NotificationType, p.ChannelType, p.Enabled); err != nil {
			return fmt.Errorf("upsert preference: %w", mapErr(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetActiveTemplate returns the active template for a pair.
func (r *Repository) GetActiveTemplate(ctx context.Context, nt domain.NotificationType, ch domain.ChannelType) (*domain.Template, error) {
	query := `
		SELECT id, notification_type, channel_type, subject, body_template, variable_names, active
		FROM notification_templates
		WHERE notification_type = $1 AND channel_type = $2 AND active
	`

	var t domain.Template
	err := r.db.Pool().QueryRow(ctx, query, nt, ch).Scan(
		&t.ID,
		&t.NotificationType,
		&t.ChannelType,
		&t.Subject,
		&t.BodyTemplate,
		&t.VariableNames,
		&t.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query template: %w", err)
	}
	return &t, nil
}

// SaveTemplate stores t as the active template for its pair, deactivating the
// previous one.
func (r *Repository) SaveTemplate(ctx context.Context, t *domain.Template) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		UPDATE notification_templates SET active = FALSE, updated_at = NOW()
		WHERE notification_type = $1 AND channel_type = $2 AND active
	`, t.NotificationType, t.ChannelType)
	if err != nil {
		return fmt.Errorf("deactivate template: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO notification_templates (
			id, notification_type, channel_type, subject, body_template, variable_names, active
		) VALUES ($1, $2, $3, $4, $5, $6, TRUE)
	`, t.ID, t.NotificationType, t.ChannelType, t.Subject, t.BodyTemplate, t.VariableNames)
	if err != nil {
		return fmt.Errorf("insert template: %w", mapErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	t.Active = true

	r.logger.Info("template saved",
		zap.String("template_id", t.ID.String()),
		zap.String("notification_type", string(t.NotificationType)),
		zap.String("channel", string(t.ChannelType)),
	)
	return nil
}
