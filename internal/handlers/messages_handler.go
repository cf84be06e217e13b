package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"slack_scheduler/internal/models"
	"slack_scheduler/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// MessageService описывает методы сервисного слоя, которые нужны хендлерам.
type MessageService interface {
	Schedule(ctx context.Context, req models.ScheduleRequest) (models.ScheduledMessage, error)
	ListScheduled(ctx context.Context, workspace string, since time.Time) ([]models.ScheduledMessage, error)
	Cancel(ctx context.Context, id string) (bool, error)
	SendNow(ctx context.Context, req models.SendRequest) (models.DeliveryResult, error)
	ListChannels(ctx context.Context, workspace string) ([]models.Channel, error)
}

type MessageHandler struct {
	service MessageService
	logger  zerolog.Logger
	now     func() time.Time
}

func NewMessageHandler(service MessageService, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		service: service,
		logger:  logger,
		now:     time.Now,
	}
}

// POST /messages/send
// 200: { "message": "...", "ts": "..." }
// 400 invalid input, 404 workspace not installed, 502 slack failure
func (h *MessageHandler) SendNow(w http.ResponseWriter, r *http.Request) {
	var req models.SendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	res, err := h.service.SendNow(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Message sent",
		"ts":      res.MessageTS,
	})
}

// POST /messages/schedule
// 201: { "message": "...", "id": "..." }
func (h *MessageHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req models.ScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	msg, err := h.service.Schedule(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Message scheduled",
		"id":      msg.ID,
	})
}

// GET /messages/scheduled?workspace=...&since=...
// 200: { "workspace": "...", "messages": [...] } oldest first
func (h *MessageHandler) ListScheduled(w http.ResponseWriter, r *http.Request) {
	workspace := strings.TrimSpace(r.URL.Query().Get("workspace"))

	var since time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		t, err := service.ParseSendAt(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since, expected RFC3339")
			return
		}
		since = t
	}

	h.listScheduled(w, r, workspace, since)
}

// POST /messages/scheduled {"workspace": "..."}
func (h *MessageHandler) ListScheduledPost(w http.ResponseWriter, r *http.Request) {
	var req models.ListScheduledRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	h.listScheduled(w, r, strings.TrimSpace(req.Workspace), time.Time{})
}

func (h *MessageHandler) listScheduled(w http.ResponseWriter, r *http.Request, workspace string, since time.Time) {
	msgs, err := h.service.ListScheduled(r.Context(), workspace, since)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	now := h.now()
	resp := models.ScheduledListResponse{
		Workspace: workspace,
		Messages:  make([]models.ScheduledMessageResponse, 0, len(msgs)),
	}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, models.ScheduledMessageResponse{
			ID:        m.ID,
			Workspace: m.Workspace,
			ChannelID: m.ChannelID,
			Message:   m.Message,
			SendAt:    m.SendAt,
			Locked:    m.Locked,
			Overdue:   !m.Locked && m.Due(now),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// DELETE /messages/{id}
// 200: { "deleted": true }, 404 when nothing was scheduled under id
func (h *MessageHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))

	deleted, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "scheduled message not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// GET /channels/list?workspace=...
// 200: { "channels": [...] }
func (h *MessageHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	workspace := strings.TrimSpace(r.URL.Query().Get("workspace"))

	chans, err := h.service.ListChannels(r.Context(), workspace)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if chans == nil {
		chans = []models.Channel{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"channels": chans})
}
