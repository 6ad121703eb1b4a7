package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/agendei/agendei-server/services/booking-service/internal/lifecycle"
	"github.com/agendei/agendei-server/services/booking-service/internal/model"
)

// Error responses share one envelope across the API:
// {"error": {"code": "...", "message": "..."}}. Success bodies are the
// documented per-endpoint objects, unwrapped.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses.
// Anything unrecognized is logged and reported as a generic server error so
// internals never leak.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ve *model.ValidationError
	var ite *lifecycle.InvalidTransitionError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "validation_error", ve.Error())
	case errors.Is(err, model.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", model.ErrConflict.Error())
	case errors.Is(err, model.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "actor is not allowed to perform this action")
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.As(err, &ite):
		writeError(w, http.StatusUnprocessableEntity, "invalid_state", ite.Error())
	default:
		logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
