package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/codecollab/internal/auth"
	"github.com/ashureev/codecollab/internal/domain"
)

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// RequireAuth rejects requests without a valid token and stores the verified
// identity and raw token in the request context.
func RequireAuth(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.TokenFromRequest(r)
			id, err := v.Verify(r.Context(), token)
			if err != nil {
				slog.Debug("Request rejected", "path", r.URL.Path, "reason", auth.Reason(err), "error", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error": "unauthorized",
					"code":  auth.Reason(err),
				})
				return
			}

			ctx := auth.WithIdentity(r.Context(), id)
			ctx = auth.WithToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
