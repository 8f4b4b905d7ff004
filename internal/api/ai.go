package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/codecollab/internal/ai"
	"github.com/ashureev/codecollab/internal/auth"
	"github.com/ashureev/codecollab/internal/domain"
	"github.com/go-chi/chi/v5"
)

// Invoker calls the assistant and returns its structured reply.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (domain.Envelope, error)
}

// AIHandler exposes the assistant outside of a project room.
type AIHandler struct {
	ai    Invoker
	allow func(email string) bool
}

// NewAIHandler creates an AI handler. allow gates requests per user; nil
// admits everything.
func NewAIHandler(inv Invoker, allow func(email string) bool) *AIHandler {
	if allow == nil {
		allow = func(string) bool { return true }
	}
	return &AIHandler{ai: inv, allow: allow}
}

// RegisterRoutes registers AI routes. Callers must install auth middleware on r.
func (h *AIHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/ai/result", h.Result)
}

// Result answers a single prompt with the assistant's envelope.
func (h *AIHandler) Result(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	prompt := strings.TrimSpace(r.URL.Query().Get("prompt"))
	if prompt == "" {
		Error(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if !h.allow(id.Email) {
		Error(w, http.StatusTooManyRequests, "rate_limited")
		return
	}

	env, err := h.ai.Invoke(r.Context(), prompt)
	if err != nil {
		slog.Warn("AI request failed", "email", id.Email, "error", err)
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		JSON(w, status, map[string]any{
			"error":  ai.FailureText(err),
			"result": ai.FailureEnvelope(err),
		})
		return
	}

	JSON(w, http.StatusOK, map[string]any{"result": env})
}
