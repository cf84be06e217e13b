package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"slack_scheduler/internal/repository"
	"slack_scheduler/internal/service"

	"github.com/rs/zerolog"
)

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}

	// Запрещаем второй JSON-объект в body
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("only one JSON object is allowed")
	}

	return nil
}

// writeServiceError maps service and store errors to status codes.
// 5xx answers hide the cause from the client and log it instead.
func writeServiceError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrCredentialMissing):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrGatewayRejected):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, service.ErrGatewayUnreachable):
		logger.Error().Err(err).Msg("slack unreachable")
		writeError(w, http.StatusBadGateway, "slack is unreachable")
	case errors.Is(err, service.ErrOAuthNotConfigured):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, repository.ErrStoreUnavailable):
		logger.Error().Err(err).Msg("store unavailable")
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
