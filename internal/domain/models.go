package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChannelType is a delivery medium. The set is closed.
type ChannelType string

const (
	ChannelEmail ChannelType = "EMAIL"
	ChannelSMS   ChannelType = "SMS"
	ChannelInApp ChannelType = "IN_APP"
)

// AllChannels lists every supported channel in fan-out order.
var AllChannels = []ChannelType{ChannelEmail, ChannelSMS, ChannelInApp}

// Valid reports whether c is one of the known channels.
func (c ChannelType) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelInApp:
		return true
	}
	return false
}

// NotificationType identifies what a notification is about.
type NotificationType string

const (
	TypeAppointmentReminder     NotificationType = "APPOINTMENT_REMINDER"
	TypeAppointmentConfirmation NotificationType = "APPOINTMENT_CONFIRMATION"
)

func (t NotificationType) Valid() bool {
	return t == TypeAppointmentReminder || t == TypeAppointmentConfirmation
}

// Status is the delivery state of a NotificationRecord.
//
// State transitions:
//
//	PENDING -> SENDING:   claimed by a sweep worker
//	SENDING -> SENT:      channel accepted the message
//	SENT    -> DELIVERED: confirmed (in-app is confirmed immediately)
//	SENDING -> FAILED:    attempt failed
//	FAILED  -> SENDING:   retry claimed, retry_count incremented
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSending   Status = "SENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
)

// AppointmentStatus mirrors the appointment lifecycle owned by the scheduling system.
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "SCHEDULED"
	AppointmentConfirmed AppointmentStatus = "CONFIRMED"
	AppointmentCancelled AppointmentStatus = "CANCELLED"
	AppointmentCompleted AppointmentStatus = "COMPLETED"
)

// Active reports whether reminders for the appointment may still be sent.
func (s AppointmentStatus) Active() bool {
	return s == AppointmentScheduled || s == AppointmentConfirmed || s == ""
}

// Appointment is read-only to the delivery pipeline.
type Appointment struct {
	ID              uuid.UUID         `json:"id"`
	RecipientID     uuid.UUID         `json:"recipient_id"`
	ScheduledAt     time.Time         `json:"scheduled_at"`
	DoctorName      string            `json:"doctor_name"`
	AppointmentType string            `json:"appointment_type"`
	Location        *string           `json:"location,omitempty"`
	Notes           *string           `json:"notes,omitempty"`
	Status          AppointmentStatus `json:"status"`
}

// RecipientProfile holds contact data and the timezone used for quiet hours.
type RecipientProfile struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	DisplayName *string   `json:"display_name,omitempty"`
	Timezone    string    `json:"timezone"`
	Email       *string   `json:"email,omitempty"`
	Phone       *string   `json:"phone,omitempty"`
}

// RecipientUpdate is a partial profile change; nil fields are left as they are.
type RecipientUpdate struct {
	DisplayName *string `json:"display_name,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
}

// NotificationPreference is an opt-in flag per (recipient, type, channel).
type NotificationPreference struct {
	RecipientID      uuid.UUID        `json:"recipient_id"`
	NotificationType NotificationType `json:"notification_type"`
	ChannelType      ChannelType      `json:"channel_type"`
	Enabled          bool             `json:"enabled"`
}

// Template is the content source for a (type, channel) pair.
type Template struct {
	ID               uuid.UUID        `json:"id"`
	NotificationType NotificationType `json:"notification_type"`
	ChannelType      ChannelType      `json:"channel_type"`
	Subject          *string          `json:"subject,omitempty"`
	BodyTemplate     string           `json:"body_template"`
	VariableNames    []string         `json:"variable_names"`
	Active           bool             `json:"active"`
}

// NotificationRecord is one scheduled delivery on one channel.
type NotificationRecord struct {
	ID               uuid.UUID        `json:"id"`
	RecipientID      uuid.UUID        `json:"recipient_id"`
	AppointmentID    *uuid.UUID       `json:"appointment_id,omitempty"`
	NotificationType NotificationType `json:"notification_type"`
	ChannelType      ChannelType      `json:"channel_type"`
	Status           Status           `json:"status"`
	ScheduledFor     time.Time        `json:"scheduled_for"`
	SentAt           *time.Time       `json:"sent_at,omitempty"`
	DeliveredAt      *time.Time       `json:"delivered_at,omitempty"`
	LastAttemptAt    *time.Time       `json:"last_attempt_at,omitempty"`
	LastError        *string          `json:"last_error,omitempty"`
	MessageID        *string          `json:"message_id,omitempty"`
	RetryCount       int              `json:"retry_count"`
	MaxRetries       int              `json:"max_retries"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Terminal reports whether the record can never transition again.
func (n *NotificationRecord) Terminal() bool {
	switch n.Status {
	case StatusDelivered:
		return true
	case StatusFailed:
		return n.RetryCount >= n.MaxRetries
	}
	return false
}

// NotificationAttempt records a single delivery attempt.
type NotificationAttempt struct {
	ID             uuid.UUID     `json:"id"`
	NotificationID uuid.UUID     `json:"notification_id"`
	AttemptNumber  int           `json:"attempt_number"`
	ChannelType    ChannelType   `json:"channel_type"`
	Success        bool          `json:"success"`
	Retryable      bool          `json:"retryable"`
	MessageID      *string       `json:"message_id,omitempty"`
	Error          *string       `json:"error,omitempty"`
	Duration       time.Duration `json:"duration"`
	CreatedAt      time.Time     `json:"created_at"`
}
