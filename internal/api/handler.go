package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-reminders/internal/domain"
	"github.com/lalithlochan/nimbus-reminders/internal/redis"
	"github.com/lalithlochan/nimbus-reminders/internal/reminder"
)

// Repository is the read/write surface the API needs from storage.
type Repository interface {
	GetNotification(ctx context.Context, id uuid.UUID) (*domain.NotificationRecord, error)
	ListNotificationsByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*domain.NotificationRecord, error)
	ListAttempts(ctx context.Context, notificationID uuid.UUID) ([]*domain.NotificationAttempt, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (*domain.NotificationRecord, error)

	GetRecipient(ctx context.Context, recipientID uuid.UUID) (*domain.RecipientProfile, error)
	UpdateRecipient(ctx context.Context, recipientID uuid.UUID, u domain.RecipientUpdate) (*domain.RecipientProfile, error)
	ListPreferences(ctx context.Context, recipientID uuid.UUID) ([]*domain.NotificationPreference, error)
	UpsertPreferences(ctx context.Context, prefs []*domain.NotificationPreference) error

	GetAppointment(ctx context.Context, appointmentID uuid.UUID) (*domain.Appointment, error)
	SaveTemplate(ctx context.Context, t *domain.Template) error
}

// Planner creates notification records for appointments.
type Planner interface {
	ScheduleAppointmentReminders(ctx context.Context, appointmentID uuid.UUID) (*reminder.Plan, error)
	ScheduleConfirmation(ctx context.Context, appointmentID uuid.UUID) (*reminder.Plan, error)
}

// Retrier runs an operator-requested retry.
type Retrier interface {
	RetryNow(ctx context.Context, id uuid.UUID, now time.Time) (*domain.NotificationRecord, error)
}

// Idempotency replays responses for repeated Idempotency-Key headers.
type Idempotency interface {
	CheckOrReserve(ctx context.Context, scope, key string) (*redis.IdempotencyResult, error)
	Store(ctx context.Context, scope, key string, result *redis.IdempotencyResult, ttl time.Duration) error
	Release(ctx context.Context, scope, key string) error
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	repo        Repository
	planner     Planner
	retrier     Retrier
	idempotency Idempotency // nil if Redis not configured
	now         func() time.Time
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo Repository, planner Planner, retrier Retrier) *Handler {
	return &Handler{
		logger:  logger,
		repo:    repo,
		planner: planner,
		retrier: retrier,
		now:     time.Now,
	}
}

// WithIdempotency enables Idempotency-Key handling on the scheduling routes.
func (h *Handler) WithIdempotency(svc Idempotency) *Handler {
	h.idempotency = svc
	return h
}

// Mount registers the /v1 routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/appointments/{id}/reminders", h.ScheduleReminders)
	r.Post("/appointments/{id}/confirmation", h.ScheduleConfirmation)

	r.Get("/notifications", h.ListNotifications)
	r.Get("/notifications/{id}", h.GetNotification)
	r.Get("/notifications/{id}/attempts", h.ListAttempts)
	r.Post("/notifications/{id}/delivered", h.MarkDelivered)
	r.Post("/notifications/{id}/retry", h.RetryNotification)

	r.Get("/recipients/{id}/preferences", h.GetPreferences)
	r.Put("/recipients/{id}/preferences", h.UpdatePreferences)
	r.Patch("/recipients/{id}", h.UpdateRecipient)

	r.Put("/templates", h.SaveTemplate)
	r.Post("/templates/preview", h.PreviewTemplate)
}

// GetNotification handles GET /v1/notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "notification")
	if !ok {
		return
	}

	notif, err := h.repo.GetNotification(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "Notification not found", "Failed to get notification")
		return
	}

	h.writeJSON(w, http.StatusOK, notif)
}

// ListNotifications handles GET /v1/notifications?recipient_id=xxx&limit=20&offset=0
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	recipientIDStr := r.URL.Query().Get("recipient_id")
	if recipientIDStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing recipient_id", "recipient_id query parameter is required")
		return
	}

	recipientID, err := uuid.Parse(recipientIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid recipient_id", "recipient_id must be a valid UUID")
		return
	}

	limit := 20
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	notifications, err := h.repo.ListNotificationsByRecipient(ctx, recipientID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list notifications",
			zap.Error(err),
			zap.String("recipient_id", recipientIDStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notifications", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   notifications,
		"limit":  limit,
		"offset": offset,
		"count":  len(notifications),
	})
}

// ListAttempts handles GET /v1/notifications/{id}/attempts
func (h *Handler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "notification")
	if !ok {
		return
	}

	if _, err := h.repo.GetNotification(r.Context(), id); err != nil {
		h.writeStoreError(w, err, "Notification not found", "Failed to get notification")
		return
	}

	attempts, err := h.repo.ListAttempts(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "Notification not found", "Failed to list attempts")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  attempts,
		"count": len(attempts),
	})
}

// MarkDelivered handles POST /v1/notifications/{id}/delivered, used to record
// a provider delivery receipt for a SENT email or SMS. In-app records are
// already DELIVERED when sent, so for them the call is a no-op.
func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "notification")
	if !ok {
		return
	}

	notif, err := h.repo.MarkDelivered(r.Context(), id, h.now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			h.writeError(w, http.StatusConflict, "invalid_transition", "Notification cannot be marked delivered", err.Error())
			return
		}
		h.writeStoreError(w, err, "Notification not found", "Failed to mark notification delivered")
		return
	}

	h.logger.Info("notification delivered",
		zap.String("id", notif.ID.String()),
		zap.String("channel", string(notif.ChannelType)),
	)
	h.writeJSON(w, http.StatusOK, notif)
}

// RetryNotification handles POST /v1/notifications/{id}/retry
func (h *Handler) RetryNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "notification")
	if !ok {
		return
	}

	notif, err := h.retrier.RetryNow(r.Context(), id, h.now().UTC())
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotRetryable):
		h.writeError(w, http.StatusConflict, "not_retryable", "Notification is not eligible for retry", err.Error())
		return
	case errors.Is(err, domain.ErrClaimLost):
		h.writeError(w, http.StatusConflict, "claim_lost", "Notification is being processed", err.Error())
		return
	default:
		h.writeStoreError(w, err, "Notification not found", "Failed to retry notification")
		return
	}

	h.logger.Info("manual retry completed",
		zap.String("id", notif.ID.String()),
		zap.String("status", string(notif.Status)),
		zap.Int("retry_count", notif.RetryCount),
	)
	h.writeJSON(w, http.StatusOK, notif)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, resource string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid "+resource+" ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// writeStoreError maps domain.ErrNotFound to 404 and anything else to 500.
func (h *Handler) writeStoreError(w http.ResponseWriter, err error, notFoundTitle, failedTitle string) {
	if errors.Is(err, domain.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", notFoundTitle, "")
		return
	}
	h.logger.Error(failedTitle, zap.Error(err))
	h.writeError(w, http.StatusInternalServerError, "database_error", failedTitle, "")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
