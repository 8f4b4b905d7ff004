package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/codecollab/internal/auth"
	"github.com/go-chi/chi/v5"
)

// revocationFallbackTTL bounds blacklist entries for tokens without an exp claim.
const revocationFallbackTTL = 24 * time.Hour

// AuthHandler handles session lifecycle endpoints.
type AuthHandler struct {
	*Handler
	now func() time.Time
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(base *Handler) *AuthHandler {
	return &AuthHandler{Handler: base, now: time.Now}
}

// RegisterRoutes registers auth routes. Callers must install auth
// middleware on r.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/auth/logout", h.Logout)
}

// Logout blacklists the caller's token and disconnects every live session
// opened by the same user.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromContext(r.Context())
	id, ok := auth.IdentityFromContext(r.Context())
	if token == "" || !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	expiresAt, ok := auth.ExpiresAt(token)
	if !ok {
		expiresAt = h.now().Add(revocationFallbackTTL)
	}
	if err := h.repo.RevokeToken(r.Context(), token, expiresAt); err != nil {
		slog.Error("Failed to revoke token", "email", id.Email, "error", err)
		Error(w, http.StatusInternalServerError, "failed to log out")
		return
	}

	closed := h.sm.CloseUser(id.Email, "logged out")
	slog.Info("User logged out", "email", id.Email, "sessions_closed", closed)
	JSON(w, http.StatusOK, map[string]any{
		"status":         "logged_out",
		"sessionsClosed": closed,
	})
}
