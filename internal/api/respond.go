package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/peterje/rootrepl/internal/backend"
	"github.com/peterje/rootrepl/internal/prompt"
	"github.com/peterje/rootrepl/internal/repl"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// StatusFor maps session errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, backend.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, backend.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, backend.ErrUnknownBackend), errors.Is(err, repl.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, prompt.ErrNoOutput), errors.Is(err, prompt.ErrNoPrompt):
		return http.StatusUnprocessableEntity
	case errors.Is(err, repl.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, err error) {
	WriteError(w, StatusFor(err), err.Error())
}
