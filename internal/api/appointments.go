package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-reminders/internal/domain"
	"github.com/lalithlochan/nimbus-reminders/internal/metrics"
	"github.com/lalithlochan/nimbus-reminders/internal/redis"
	"github.com/lalithlochan/nimbus-reminders/internal/reminder"
)

// ScheduleReminders handles POST /v1/appointments/{id}/reminders.
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) ScheduleReminders(w http.ResponseWriter, r *http.Request) {
	h.schedule(w, r, "reminders", h.planner.ScheduleAppointmentReminders)
}

// ScheduleConfirmation handles POST /v1/appointments/{id}/confirmation.
func (h *Handler) ScheduleConfirmation(w http.ResponseWriter, r *http.Request) {
	h.schedule(w, r, "confirmation", h.planner.ScheduleConfirmation)
}

type planFunc func(ctx context.Context, appointmentID uuid.UUID) (*reminder.Plan, error)

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request, kind string, plan planFunc) {
	ctx := r.Context()

	appointmentID, ok := h.pathID(w, r, "appointment")
	if !ok {
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	scope := fmt.Sprintf("appointment:%s:%s", appointmentID, kind)
	reserved := false

	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, scope, idempotencyKey)
		switch {
		case errors.Is(err, redis.ErrDuplicateRequest):
			h.writeError(w, http.StatusConflict, "duplicate_request",
				"Request is already being processed",
				"Another request with this idempotency key is in progress")
			return
		case err != nil:
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		case cached != nil:
			metrics.RecordIdempotencyHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		default:
			reserved = true
		}
	}

	result, err := plan(ctx, appointmentID)
	if err != nil {
		if reserved {
			if rerr := h.idempotency.Release(context.WithoutCancel(ctx), scope, idempotencyKey); rerr != nil {
				h.logger.Warn("failed to release idempotency key", zap.Error(rerr))
			}
		}
		h.writePlanError(w, appointmentID, err)
		return
	}

	// compact, so a replay from the stored json.RawMessage is byte-identical
	body, err := json.Marshal(result)
	if err != nil {
		h.logger.Error("failed to encode plan", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to encode response", "")
		return
	}

	if reserved {
		stored := &redis.IdempotencyResult{StatusCode: http.StatusCreated, Body: body}
		if err := h.idempotency.Store(context.WithoutCancel(ctx), scope, idempotencyKey, stored, redis.IdempotencyTTL); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	h.logger.Info("appointment scheduled",
		zap.String("appointment_id", appointmentID.String()),
		zap.String("kind", kind),
		zap.Int("created", len(result.Created)),
		zap.Int("skipped", len(result.Skipped)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

func (h *Handler) writePlanError(w http.ResponseWriter, appointmentID uuid.UUID, err error) {
	switch {
	case errors.Is(err, domain.ErrAppointmentNotFound):
		h.writeError(w, http.StatusNotFound, string(domain.CodeAppointmentNotFound), "Appointment not found", err.Error())
	case errors.Is(err, domain.ErrAppointmentInactive):
		h.writeError(w, http.StatusConflict, "appointment_inactive", "Appointment is cancelled or completed", err.Error())
	case errors.Is(err, domain.ErrInvalidTimezone):
		h.writeError(w, http.StatusUnprocessableEntity, string(domain.CodeInvalidTimezone), "Recipient timezone is invalid", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusUnprocessableEntity, string(domain.CodeMissingContactInfo), "Recipient profile not found", err.Error())
	default:
		h.logger.Error("failed to schedule appointment",
			zap.Error(err),
			zap.String("appointment_id", appointmentID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to schedule notifications", "")
	}
}
