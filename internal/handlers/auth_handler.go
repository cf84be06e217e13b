package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

type InstallService interface {
	AuthorizeURL() (string, error)
	CompleteInstall(ctx context.Context, code string) (string, error)
}

type AuthHandler struct {
	service InstallService
	logger  zerolog.Logger
}

func NewAuthHandler(service InstallService, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{service: service, logger: logger}
}

// GET /auth/slack -> 302 to the Slack consent screen
func (h *AuthHandler) Install(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.AuthorizeURL()
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

// GET /auth/slack/callback?code=...
// 200: { "message": "...", "workspace": "..." }
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if slackErr := strings.TrimSpace(q.Get("error")); slackErr != "" {
		// пользователь нажал Cancel на экране Slack
		writeError(w, http.StatusBadRequest, "installation declined: "+slackErr)
		return
	}

	workspace, err := h.service.CompleteInstall(r.Context(), strings.TrimSpace(q.Get("code")))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Slack workspace connected",
		"workspace": workspace,
	})
}
