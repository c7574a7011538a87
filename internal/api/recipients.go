package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-reminders/internal/domain"
	"github.com/lalithlochan/nimbus-reminders/internal/gate"
	"github.com/lalithlochan/nimbus-reminders/internal/schedule"
)

// PreferenceRequest is one flag in a PUT preferences body.
type PreferenceRequest struct {
	NotificationType domain.NotificationType `json:"notification_type"`
	ChannelType      domain.ChannelType      `json:"channel_type"`
	Enabled          bool                    `json:"enabled"`
}

// PreferencesRequest is the body of PUT /v1/recipients/{id}/preferences.
type PreferencesRequest struct {
	Preferences []PreferenceRequest `json:"preferences"`
}

var notificationTypes = []domain.NotificationType{
	domain.TypeAppointmentReminder,
	domain.TypeAppointmentConfirmation,
}

// GetPreferences handles GET /v1/recipients/{id}/preferences. Every
// (type, channel) pair is listed; pairs never set are reported enabled.
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := h.pathID(w, r, "recipient")
	if !ok {
		return
	}

	stored, err := h.repo.ListPreferences(r.Context(), recipientID)
	if err != nil {
		h.writeStoreError(w, err, "Recipient not found", "Failed to list preferences")
		return
	}

	type pair struct {
		nt domain.NotificationType
		ch domain.ChannelType
	}
	set := make(map[pair]bool, len(stored))
	for _, p := range stored {
		set[pair{p.NotificationType, p.ChannelType}] = p.Enabled
	}

	prefs := make([]domain.NotificationPreference, 0, len(notificationTypes)*len(domain.AllChannels))
	for _, nt := range notificationTypes {
		for _, ch := range domain.AllChannels {
			enabled, ok := set[pair{nt, ch}]
			if !ok {
				enabled = true
			}
			prefs = append(prefs, domain.NotificationPreference{
				RecipientID:      recipientID,
				NotificationType: nt,
				ChannelType:      ch,
				Enabled:          enabled,
			})
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": prefs})
}

// UpdatePreferences handles PUT /v1/recipients/{id}/preferences
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := h.pathID(w, r, "recipient")
	if !ok {
		return
	}

	var req PreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if len(req.Preferences) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing preferences", "preferences must not be empty")
		return
	}

	prefs := make([]*domain.NotificationPreference, 0, len(req.Preferences))
	for _, p := range req.Preferences {
		if !p.NotificationType.Valid() {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification_type", string(p.NotificationType))
			return
		}
		if !p.ChannelType.Valid() {
			h.writeError(w, http.StatusBadRequest, string(domain.CodeUnsupportedChannel), "Invalid channel_type", string(p.ChannelType))
			return
		}
		prefs = append(prefs, &domain.NotificationPreference{
			RecipientID:      recipientID,
			NotificationType: p.NotificationType,
			ChannelType:      p.ChannelType,
			Enabled:          p.Enabled,
		})
	}

	if _, err := h.repo.GetRecipient(r.Context(), recipientID); err != nil {
		h.writeStoreError(w, err, "Recipient not found", "Failed to load recipient")
		return
	}

	if err := h.repo.UpsertPreferences(r.Context(), prefs); err != nil {
		h.writeStoreError(w, err, "Recipient not found", "Failed to update preferences")
		return
	}

	h.logger.Info("preferences updated",
		zap.String("recipient_id", recipientID.String()),
		zap.Int("count", len(prefs)),
	)
	h.GetPreferences(w, r)
}

// UpdateRecipient handles PATCH /v1/recipients/{id}
func (h *Handler) UpdateRecipient(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := h.pathID(w, r, "recipient")
	if !ok {
		return
	}

	var req domain.RecipientUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Timezone != nil {
		if _, err := schedule.LoadLocation(*req.Timezone); err != nil {
			h.writeError(w, http.StatusBadRequest, string(domain.CodeInvalidTimezone), "Invalid timezone", err.Error())
			return
		}
	}
	if req.Email != nil && !gate.ValidEmail(*req.Email) {
		h.writeError(w, http.StatusBadRequest, string(domain.CodeInvalidContactInfo), "Invalid email", "email must be a valid email address")
		return
	}
	if req.Phone != nil && !gate.ValidPhone(*req.Phone) {
		h.writeError(w, http.StatusBadRequest, string(domain.CodeInvalidContactInfo), "Invalid phone", "phone must be a valid phone number")
		return
	}

	profile, err := h.repo.UpdateRecipient(r.Context(), recipientID, req)
	if err != nil {
		h.writeStoreError(w, err, "Recipient not found", "Failed to update recipient")
		return
	}

	h.writeJSON(w, http.StatusOK, profile)
}
