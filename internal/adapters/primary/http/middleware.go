package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// TokenValidator vérifie un bearer token et renvoie l'UserID (Subject)
type TokenValidator interface {
	Validate(token string) (string, error)
}

// Clé privée pour le contexte (évite les collisions)
type contextKey struct{ name string }

var userCtxKey = &contextKey{"user_id"}

// Auth décode le header Authorization. Sans header la requête passe en anonyme
// (le feed global est public), un token présent mais invalide donne 401.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenStr == "" {
				writeMessage(w, http.StatusUnauthorized, "invalid token format")
				return
			}

			userID, err := validator.Validate(tokenStr)
			if err != nil {
				slog.Debug("Rejected bearer token", "error", err)
				writeMessage(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := WithUser(r.Context(), userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userCtxKey, userID)
}

// UserFromContext renvoie "" pour une requête anonyme
func UserFromContext(ctx context.Context) string {
	raw, _ := ctx.Value(userCtxKey).(string)
	return raw
}
