package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/domain"
)

var errUnauthenticated = errors.New("authentication required")

type errorBody struct {
	Error string `json:"error"`
}

// writeError traduit une erreur du domaine en statut HTTP.
// Le message est générique : aucun détail technique ne sort du service.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errUnauthenticated):
		writeMessage(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, domain.ErrForbidden):
		writeMessage(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "referenced entity not found")
	case errors.Is(err, domain.ErrSelfFollow):
		writeMessage(w, http.StatusConflict, "cannot follow or unfollow yourself")
	case errors.Is(err, domain.ErrInvalidOperation):
		writeMessage(w, http.StatusConflict, "invalid operation")
	case errors.Is(err, domain.ErrInvalidCursor):
		writeMessage(w, http.StatusBadRequest, "invalid cursor")
	case errors.Is(err, domain.ErrInvalidArgument):
		writeMessage(w, http.StatusBadRequest, "invalid argument")
	default:
		// Erreur interne (Redis down, etc.) : loggée ici, jamais renvoyée
		slog.Error("❌ Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}
