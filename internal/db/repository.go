package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-reminders/internal/domain"
)

// Repository handles database operations for notifications, their attempts
// and the profile data the gate reads.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new notification repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const notificationColumns = `
	id, recipient_id, appointment_id, notification_type, channel_type,
	status, scheduled_for, sent_at, delivered_at, last_attempt_at,
	last_error, message_id, retry_count, max_retries, created_at, updated_at`

func scanNotification(row pgx.Row) (*domain.NotificationRecord, error) {
	var n domain.NotificationRecord
	err := row.Scan(
		&n.ID,
		&n.RecipientID,
		&n.AppointmentID,
		&n.NotificationType,
		&n.ChannelType,
		&n.Status,
		&n.ScheduledFor,
		&n.SentAt,
		&n.DeliveredAt,
		&n.LastAttemptAt,
		&n.LastError,
		&n.MessageID,
		&n.RetryCount,
		&n.MaxRetries,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func collectNotifications(rows pgx.Rows) ([]*domain.NotificationRecord, error) {
	defer rows.Close()

	notifications := make([]*domain.NotificationRecord, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return notifications, nil
}

// InsertNotifications stores the planned records in one transaction. Records
// that collide with an existing (appointment, type, channel, scheduled_for)
// row are skipped; only the inserted ones are returned.
func (r *Repository) InsertNotifications(ctx context.Context, recs []*domain.NotificationRecord) ([]*domain.NotificationRecord, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO notifications (
			id, recipient_id, appointment_id, notification_type, channel_type,
			status, scheduled_for, retry_count, max_retries, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (appointment_id, notification_type, channel_type, scheduled_for) DO NOTHING
		RETURNING created_at, updated_at
	`

	inserted := make([]*domain.NotificationRecord, 0, len(recs))
	for _, n := range recs {
		created := n.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		err := tx.QueryRow(ctx, query,
			n.ID,
			n.RecipientID,
			n.AppointmentID,
			n.NotificationType,
			n.ChannelType,
			n.Status,
			n.ScheduledFor,
			n.RetryCount,
			n.MaxRetries,
			created,
		).Scan(&n.CreatedAt, &n.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert notification: %w", mapErr(err))
		}
		inserted = append(inserted, n)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Debug("notifications inserted",
		zap.Int("requested", len(recs)),
		zap.Int("inserted", len(inserted)),
	)
	return inserted, nil
}

// GetNotification retrieves a notification by ID
func (r *Repository) GetNotification(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error) {
	query := `SELECT` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.Error("failed to get notification",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return nil, fmt.Errorf("query notification: %w", err)
	}
	return n, nil
}

// ListNotificationsByRecipient pages through a recipient's notifications, newest first.
func (r *Repository) ListNotificationsByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*domain.NotificationRecord, error) {
	query := `SELECT` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY scheduled_for DESC, id
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, recipientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	return collectNotifications(rows)
}

// ListDue returns PENDING records whose fire time has passed, oldest first.
func (r *Repository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.NotificationRecord, error) {
	query := `SELECT` + notificationColumns + `
		FROM notifications
		WHERE status = 'PENDING' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due notifications: %w", err)
	}
	return collectNotifications(rows)
}

// ListRetryable returns FAILED records with retries left whose backoff
// last_attempt_at + min(base*2^retry_count, max) has elapsed.
func (r *Repository) ListRetryable(ctx context.Context, now time.Time, base, maxDelay time.Duration, limit int) ([]*domain.NotificationRecord, error) {
	query := `SELECT` + notificationColumns + `
		FROM notifications
		WHERE status = 'FAILED'
		  AND retry_count < max_retries
		  AND (
			last_attempt_at IS NULL
			OR last_attempt_at + LEAST($2::float8 * power(2, retry_count), $3::float8) * INTERVAL '1 second' <= $1
		  )
		ORDER BY last_attempt_at ASC NULLS FIRST
		LIMIT $4
	`

	rows, err := r.db.Pool().Query(ctx, query, now, base.Seconds(), maxDelay.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("query retryable notifications: %w", err)
	}
	return collectNotifications(rows)
}

// Claim moves a record to SENDING if it is still in `from` with retryCount.
// Leaving FAILED increments retry_count. A false result means another worker
// won the race.
func (r *Repository) Claim(ctx context.Context, id uuid.UUID, from domain.Status, retryCount int, at time.Time) (bool, error) {
	query := `
		UPDATE notifications
		SET status = 'SENDING',
		    retry_count = CASE WHEN status = 'FAILED' THEN retry_count + 1 ELSE retry_count END,
		    last_attempt_at = $4,
		    updated_at = $4
		WHERE id = $1 AND status = $2 AND retry_count = $3
		  AND (status <> 'FAILED' OR retry_count < max_retries)
	`

	result, err := r.db.Pool().Exec(ctx, query, id, from, retryCount, at)
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkSent records a successful hand-off. delivered also stamps delivered_at
// for channels that confirm on send.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, messageID string, at time.Time, delivered bool) (bool, error) {
	query := `
		UPDATE notifications
		SET status = CASE WHEN $4::boolean THEN 'DELIVERED' ELSE 'SENT' END,
		    message_id = $2,
		    sent_at = $3,
		    delivered_at = CASE WHEN $4::boolean THEN $3 ELSE delivered_at END,
		    last_error = NULL,
		    updated_at = $3
		WHERE id = $1 AND status = 'SENDING'
	`

	result, err := r.db.Pool().Exec(ctx, query, id, messageID, at, delivered)
	if err != nil {
		return false, fmt.Errorf("mark notification sent: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkFailed records a failed attempt. permanent pins max_retries to the
// current retry_count so the record is terminal.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, permanent bool) (bool, error) {
	query := `
		UPDATE notifications
		SET status = 'FAILED',
		    last_error = $2,
		    max_retries = CASE WHEN $3::boolean THEN retry_count ELSE max_retries END,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'SENDING'
	`

	result, err := r.db.Pool().Exec(ctx, query, id, lastError, permanent)
	if err != nil {
		return false, fmt.Errorf("mark notification failed: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// MarkDelivered confirms a SENT record. A record that is already DELIVERED is
// returned unchanged.
func (r *Repository) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (*domain.NotificationRecord, error) {
	query := `
		UPDATE notifications
		SET status = 'DELIVERED', delivered_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'SENT'
		RETURNING` + notificationColumns

	n, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id, at))
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("mark notification delivered: %w", err)
	}

	current, err := r.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.StatusDelivered {
		return current, nil
	}
	return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, domain.StatusDelivered)
}

// ReleaseStale fails SENDING records whose attempt started before `before`,
// returning them as released.
func (r *Repository) ReleaseStale(ctx context.Context, before time.Time, lastError string) ([]*domain.NotificationRecord, error) {
	query := `
		UPDATE notifications
		SET status = 'FAILED', last_error = $2, updated_at = NOW()
		WHERE status = 'SENDING' AND last_attempt_at < $1
		RETURNING` + notificationColumns

	rows, err := r.db.Pool().Query(ctx, query, before, lastError)
	if err != nil {
		return nil, fmt.Errorf("release stale notifications: %w", err)
	}
	released, err := collectNotifications(rows)
	if err != nil {
		return nil, err
	}
	if len(released) > 0 {
		r.logger.Warn("released stale notifications", zap.Int("count", len(released)))
	}
	return released, nil
}

// InsertAttempt appends to the attempt log.
func (r *Repository) InsertAttempt(ctx context.Context, a *domain.NotificationAttempt) error {
	query := `
		INSERT INTO notification_attempts (
			id, notification_id, attempt_number, channel_type, success,
			retryable, message_id, error, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		a.ID,
		a.NotificationID,
		a.AttemptNumber,
		a.ChannelType,
		a.Success,
		a.Retryable,
		a.MessageID,
		a.Error,
		a.Duration.Milliseconds(),
		a.CreatedAt,
	)
	if err != nil {
		r.logger.Error("failed to record attempt",
			zap.Error(err),
			zap.String("notification_id", a.NotificationID.String()),
		)
		return fmt.Errorf("insert attempt: %w", mapErr(err))
	}
	return nil
}

// ListAttempts returns the attempt log for a notification in order.
func (r *Repository) ListAttempts(ctx context.Context, notificationID uuid.UUID) ([]*domain.NotificationAttempt, error) {
	query := `
		SELECT id, notification_id, attempt_number, channel_type, success,
		       retryable, message_id, error, duration_ms, created_at
		FROM notification_attempts
		WHERE notification_id = $1
		ORDER BY attempt_number ASC, created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, notificationID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]*domain.NotificationAttempt, 0)
	for rows.Next() {
		var (
			a  domain.NotificationAttempt
			ms int64
		)
		err := rows.Scan(
			&a.ID,
			&a.NotificationID,
			&a.AttemptNumber,
			&a.ChannelType,
			&a.Success,
			&a.Retryable,
			&a.MessageID,
			&a.Error,
			&ms,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Duration = time.Duration(ms) * time.Millisecond
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return attempts, nil
}
