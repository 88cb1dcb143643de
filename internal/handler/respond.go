package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mark8pips/licensing/internal/lifecycle"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

// writeEngineError maps the lifecycle error taxonomy to HTTP. Forbidden
// reasons surface verbatim so clients can branch on the message.
func writeEngineError(w http.ResponseWriter, err error) {
	var fe *lifecycle.ForbiddenError
	switch {
	case errors.As(err, &fe):
		writeError(w, http.StatusForbidden, fe.Reason)
	case errors.Is(err, lifecycle.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, lifecycle.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, lifecycle.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
