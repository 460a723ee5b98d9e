package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pysugar/search-insights/internal/api/middleware"
	"github.com/pysugar/search-insights/internal/auth/token"
	"github.com/pysugar/search-insights/internal/db/models"
	"github.com/pysugar/search-insights/internal/logging"
	"github.com/pysugar/search-insights/internal/upstream/searchconsole"
	"github.com/pysugar/search-insights/internal/version"
)

// CredentialReader loads the signed-in user's stored credential.
type CredentialReader interface {
	Get(ctx context.Context, userID string) (*models.Credential, error)
}

// SiteLister lists the properties a user can query.
type SiteLister interface {
	ListSites(ctx context.Context, userID string) ([]searchconsole.Site, error)
}

// TokenRefresher forces an access-token refresh.
type TokenRefresher interface {
	ForceRefresh(ctx context.Context, userID string) (string, error)
}

// HealthzHandler reports liveness and build metadata.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": version.Version,
		})
	}
}

// MeHandler returns the signed-in account and its token status.
func MeHandler(creds CredentialReader, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cred, err := creds.Get(r.Context(), middleware.UserID(r.Context()))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":    cred.UserID,
			"email":      cred.Email,
			"scope":      cred.Scope,
			"expires_at": cred.Expiry,
			"is_valid":   cred.Expiry.After(time.Now()),
		})
	}
}

// SitesHandler lists the user's Search Console properties.
func SitesHandler(sites SiteLister, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := sites.ListSites(r.Context(), middleware.UserID(r.Context()))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		if list == nil {
			list = []searchconsole.Site{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"sites": list})
	}
}

// RefreshTokenHandler forces a token refresh. A refreshed token that could
// not be saved still counts as success.
func RefreshTokenHandler(tokens TokenRefresher, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserID(r.Context())
		_, err := tokens.ForceRefresh(r.Context(), userID)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		case errors.Is(err, token.ErrTokenPersistFailed):
			logging.FromContext(r.Context(), log).Warn("refreshed token not persisted", zap.String("user_id", userID), zap.Error(err))
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "warning": "token refreshed but not saved"})
		default:
			writeServiceError(w, r, log, err)
		}
	}
}
