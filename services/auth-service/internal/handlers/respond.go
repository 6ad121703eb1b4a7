package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
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

func writeInternal(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("request failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal", "internal server error")
}
