// Package handlers implements the dashboard's HTTP API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/pysugar/search-insights/internal/auth/token"
	"github.com/pysugar/search-insights/internal/db"
	"github.com/pysugar/search-insights/internal/logging"
	"github.com/pysugar/search-insights/internal/report"
	"github.com/pysugar/search-insights/internal/upstream"
)

// ReconnectMessage is shown whenever the stored Google authorization is unusable.
const ReconnectMessage = "please reconnect your account"

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
		},
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeServiceError maps token, validation and upstream failures to responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	log = logging.FromContext(r.Context(), log)
	var apiErr *upstream.APIError

	switch {
	case errors.Is(err, token.ErrCredentialNotFound),
		errors.Is(err, db.ErrNotFound),
		errors.Is(err, token.ErrTokenRefreshFailed),
		upstream.IsUnauthorized(err):
		log.Warn("google authorization unusable", zap.Error(err))
		writeError(w, http.StatusUnauthorized, "reconnect_required", ReconnectMessage)
	case errors.Is(err, report.ErrInvalidRequest), errors.Is(err, report.ErrNoQueryDimension):
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
	case errors.As(err, &apiErr):
		log.Warn("upstream request failed", zap.Error(err))
		status := http.StatusBadGateway
		if apiErr.StatusCode == http.StatusForbidden || apiErr.StatusCode == http.StatusTooManyRequests {
			status = apiErr.StatusCode
		}
		writeError(w, status, "upstream_error", apiErr.Message)
	default:
		log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
