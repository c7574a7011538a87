package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies every failure the delivery pipeline can report.
type ErrorCode string

const (
	CodeInvalidTimezone     ErrorCode = "INVALID_TIMEZONE"
	CodeScheduledInPast     ErrorCode = "SCHEDULED_IN_PAST"
	CodeMissingContactInfo  ErrorCode = "MISSING_CONTACT_INFO"
	CodeInvalidContactInfo  ErrorCode = "INVALID_CONTACT_INFO"
	CodeAppointmentNotFound ErrorCode = "APPOINTMENT_NOT_FOUND"
	CodePreferenceDisabled  ErrorCode = "PREFERENCE_DISABLED"
	CodeUnsupportedChannel  ErrorCode = "UNSUPPORTED_CHANNEL"
	CodeTransportFailure    ErrorCode = "TRANSPORT_FAILURE"
	CodeValidationFailure   ErrorCode = "VALIDATION_FAILURE"
)

// Retryable reports whether failures of this class are retried on the backoff schedule.
// Only transport failures are.
func (c ErrorCode) Retryable() bool {
	return c == CodeTransportFailure
}

var (
	ErrInvalidTimezone     = errors.New("invalid timezone")
	ErrUnsupportedChannel  = errors.New("unsupported channel")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrAppointmentInactive = errors.New("appointment is cancelled or completed")
	ErrNotFound            = errors.New("not found")
	ErrDuplicate           = errors.New("already exists")
	ErrClaimLost           = errors.New("notification claimed by another worker")
	ErrNotRetryable        = errors.New("notification is not eligible for retry")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// ValidationError is a single violated delivery rule.
type ValidationError struct {
	Code    ErrorCode `json:"code"`
	Field   string    `json:"field"`
	Message string    `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// DeliveryError carries the classification of a failed attempt.
type DeliveryError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// TransportFailure builds a retryable delivery error.
func TransportFailure(msg string) *DeliveryError {
	return &DeliveryError{Code: CodeTransportFailure, Message: msg, Retryable: true}
}

// ValidationFailure builds a non-retryable delivery error.
func ValidationFailure(msg string) *DeliveryError {
	return &DeliveryError{Code: CodeValidationFailure, Message: msg, Retryable: false}
}
