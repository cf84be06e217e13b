package handlers

import (
	"net/http"
	"time"

	"slack_scheduler/internal/metrics"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

func NewRouter(messages *MessageHandler, auth *AuthHandler, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(metrics.HTTPMiddleware)
	r.Use(requestLogger(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	RegisterMessageRoutes(r, messages)
	RegisterAuthRoutes(r, auth)
	return r
}

func RegisterMessageRoutes(r chi.Router, h *MessageHandler) {
	r.Route("/messages", func(r chi.Router) {
		r.Post("/send", h.SendNow)
		r.Post("/schedule", h.Schedule)
		r.Get("/scheduled", h.ListScheduled)
		r.Post("/scheduled", h.ListScheduledPost)
		r.Delete("/{id}", h.Cancel)
	})
	r.Get("/channels/list", h.ListChannels)
}

func RegisterAuthRoutes(r chi.Router, h *AuthHandler) {
	r.Route("/auth/slack", func(r chi.Router) {
		r.Get("/", h.Install)
		r.Get("/callback", h.Callback)
	})
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("request_id", chimw.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("took", time.Since(start)).
				Msg("http request")
		})
	}
}
