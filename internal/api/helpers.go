package api

// helpers.go centralizes the JSON response helpers every handler uses, the
// same dedup-the-four-lines pattern the teacher's handlers/helpers.go
// applies to its own response writing.

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")

	body, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, `{"error":"internal encoding error"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	w.Write(body) //nolint:errcheck -- nothing actionable if the client already disconnected
}

// writeError logs the failure server-side and sends the client a stable
// {"error": "..."} body; the message given to the client is always a
// controlled string, never a raw error, so internal details never leak.
func writeError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	logger.Error("api request error", "status", status, "message", message)
	writeJSON(w, status, map[string]string{"error": message})
}
