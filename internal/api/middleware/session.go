package middleware

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/pysugar/search-insights/internal/auth/google"
	"github.com/pysugar/search-insights/internal/db"
	"github.com/pysugar/search-insights/internal/logging"
)

type contextKey string

const userIDKey contextKey = "user_id"

// SessionResolver maps a session token to a user id.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// WithUserID stores the authenticated user id in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the authenticated user id, or "" outside SessionAuth.
func UserID(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionAuth rejects requests without a live session cookie.
func SessionAuth(sessions SessionResolver, log *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(google.SessionCookie)
			if err != nil || c.Value == "" {
				unauthorized(w)
				return
			}

			userID, err := sessions.Resolve(r.Context(), c.Value)
			if err != nil {
				if !errors.Is(err, db.ErrNotFound) {
					logging.FromContext(r.Context(), log).Error("session lookup failed", zap.Error(err))
				}
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":{"message":"not signed in","type":"authentication_error"}}`))
}
