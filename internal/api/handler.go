// Package api provides HTTP handlers for the collaboration API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/codecollab/internal/gateway"
	"github.com/ashureev/codecollab/internal/room"
	"github.com/ashureev/codecollab/internal/runner"
	"github.com/ashureev/codecollab/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo  store.Repository
	rooms *room.Registry
	runs  *runner.Service
	sm    *gateway.SessionManager
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, rooms *room.Registry, runs *runner.Service, sm *gateway.SessionManager) *Handler {
	return &Handler{
		repo:  repo,
		rooms: rooms,
		runs:  runs,
		sm:    sm,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
