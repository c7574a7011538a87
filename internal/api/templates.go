package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/nimbus-reminders/internal/content"
	"github.com/lalithlochan/nimbus-reminders/internal/domain"
	"github.com/lalithlochan/nimbus-reminders/internal/template"
)

// TemplateRequest is the body of PUT /v1/templates.
type TemplateRequest struct {
	NotificationType domain.NotificationType `json:"notification_type"`
	ChannelType      domain.ChannelType      `json:"channel_type"`
	Subject          *string                 `json:"subject,omitempty"`
	BodyTemplate     string                  `json:"body_template"`
}

// PreviewRequest renders a template against an appointment or explicit data.
type PreviewRequest struct {
	ChannelType   domain.ChannelType `json:"channel_type"`
	Subject       string             `json:"subject"`
	BodyTemplate  string             `json:"body_template"`
	AppointmentID *uuid.UUID         `json:"appointment_id,omitempty"`
	Data          map[string]any     `json:"data,omitempty"`
}

// PreviewResponse is the rendered result.
type PreviewResponse struct {
	Subject       string             `json:"subject"`
	Body          string             `json:"body"`
	VariableNames []string           `json:"variable_names"`
	Warnings      []template.Warning `json:"warnings"`
}

// SaveTemplate handles PUT /v1/templates. The saved template becomes the
// active one for its (type, channel) pair.
func (h *Handler) SaveTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if !req.NotificationType.Valid() {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification_type", string(req.NotificationType))
		return
	}
	if !req.ChannelType.Valid() {
		h.writeError(w, http.StatusBadRequest, string(domain.CodeUnsupportedChannel), "Invalid channel_type", string(req.ChannelType))
		return
	}
	if strings.TrimSpace(req.BodyTemplate) == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing body_template", "body_template is required")
		return
	}
	if req.ChannelType == domain.ChannelEmail && (req.Subject == nil || strings.TrimSpace(*req.Subject) == "") {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing subject", "subject is required for EMAIL templates")
		return
	}

	subject := ""
	if req.Subject != nil {
		subject = *req.Subject
	}

	t := &domain.Template{
		ID:               uuid.New(),
		NotificationType: req.NotificationType,
		ChannelType:      req.ChannelType,
		Subject:          req.Subject,
		BodyTemplate:     req.BodyTemplate,
		VariableNames:    template.ExtractVariables(subject + "\n" + req.BodyTemplate),
	}

	if err := h.repo.SaveTemplate(r.Context(), t); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			h.writeError(w, http.StatusConflict, "conflict", "Template changed concurrently", err.Error())
			return
		}
		h.writeStoreError(w, err, "Template not found", "Failed to save template")
		return
	}

	h.logger.Info("template saved",
		zap.String("id", t.ID.String()),
		zap.String("notification_type", string(t.NotificationType)),
		zap.String("channel", string(t.ChannelType)),
		zap.Strings("variables", t.VariableNames),
	)
	h.writeJSON(w, http.StatusOK, t)
}

// PreviewTemplate handles POST /v1/templates/preview. Missing variables are
// reported as warnings, never as errors.
func (h *Handler) PreviewTemplate(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.ChannelType != "" && !req.ChannelType.Valid() {
		h.writeError(w, http.StatusBadRequest, string(domain.CodeUnsupportedChannel), "Invalid channel_type", string(req.ChannelType))
		return
	}

	data := req.Data
	if req.AppointmentID != nil {
		appt, err := h.repo.GetAppointment(r.Context(), *req.AppointmentID)
		if err != nil {
			h.writeStoreError(w, err, "Appointment not found", "Failed to load appointment")
			return
		}
		recipient, err := h.repo.GetRecipient(r.Context(), appt.RecipientID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			h.writeStoreError(w, err, "Recipient not found", "Failed to load recipient")
			return
		}
		data = content.Data(recipient, appt)
	}
	if data == nil {
		data = map[string]any{}
	}

	escape := req.ChannelType == domain.ChannelEmail
	subject := template.Render(req.Subject, data, false)
	body := template.Render(req.BodyTemplate, data, escape)

	warnings := append(subject.Warnings, body.Warnings...)
	if warnings == nil {
		warnings = []template.Warning{}
	}

	h.writeJSON(w, http.StatusOK, PreviewResponse{
		Subject:       subject.Output,
		Body:          body.Output,
		VariableNames: template.ExtractVariables(req.Subject + "\n" + req.BodyTemplate),
		Warnings:      warnings,
	})
}
