package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/pysugar/search-insights/internal/config"
	"github.com/pysugar/search-insights/internal/db/models"
	"github.com/pysugar/search-insights/internal/logging"
)

// SessionCookie carries the dashboard session token.
const SessionCookie = "insights_session"

// AuthorizationStore persists the tokens of a completed authorization and
// returns the user id they belong to.
type AuthorizationStore interface {
	StoreAuthorization(ctx context.Context, email string, tok *oauth2.Token, scope string) (string, error)
}

// SessionIssuer creates dashboard sessions.
type SessionIssuer interface {
	Create(ctx context.Context, userID string, ttl time.Duration) (*models.Session, error)
	Delete(ctx context.Context, token string) error
}

// Handler serves the login, callback and logout endpoints.
type Handler struct {
	cfg        config.GoogleConfig
	auth       AuthorizationStore
	sessions   SessionIssuer
	sessionTTL time.Duration
	log        *zap.Logger

	// overridable in tests
	endpoint    oauth2.Endpoint
	userInfoURL string
}

func NewHandler(cfg config.GoogleConfig, auth AuthorizationStore, sessions SessionIssuer, sessionTTL time.Duration, log *zap.Logger) *Handler {
	return &Handler{
		cfg:         cfg,
		auth:        auth,
		sessions:    sessions,
		sessionTTL:  sessionTTL,
		log:         log,
		endpoint:    GetOAuthConfig(cfg, "").Endpoint,
		userInfoURL: UserInfoURL,
	}
}

// HandleCallback exchanges the authorization code, records the credential and
// starts a dashboard session.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context(), h.log)

	stateC, err := r.Cookie(stateCookie)
	if err != nil || stateC.Value == "" || r.URL.Query().Get("state") != stateC.Value {
		http.Error(w, "Invalid state token", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/auth/google", MaxAge: -1})

	if oauthErr := r.URL.Query().Get("error"); oauthErr != "" {
		http.Error(w, "Authorization denied: "+oauthErr, http.StatusForbidden)
		return
	}

	config := GetOAuthConfig(h.cfg, h.redirectURLFor(r))
	config.Endpoint = h.endpoint

	tok, err := config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		log.Error("token exchange failed", zap.Error(err))
		http.Error(w, "Token exchange failed", http.StatusBadGateway)
		return
	}

	email, err := h.fetchEmail(r.Context(), config, tok)
	if err != nil {
		log.Error("userinfo lookup failed", zap.Error(err))
		http.Error(w, "Failed to get user info", http.StatusBadGateway)
		return
	}

	scope, _ := tok.Extra("scope").(string)
	if scope == "" {
		scope = ScopeString(config.Scopes)
	}

	userID, err := h.auth.StoreAuthorization(r.Context(), email, tok, scope)
	if err != nil {
		log.Error("failed to store credential", zap.String("email", email), zap.Error(err))
		http.Error(w, "Failed to save account", http.StatusInternalServerError)
		return
	}

	sess, err := h.sessions.Create(r.Context(), userID, h.sessionTTL)
	if err != nil {
		log.Error("failed to create session", zap.Error(err))
		http.Error(w, "Failed to start session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	log.Info("account connected", zap.String("email", email), zap.String("user_id", userID))
	http.Redirect(w, r, "/", http.StatusFound)
}

// HandleLogout ends the current session.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		if err := h.sessions.Delete(r.Context(), c.Value); err != nil {
			logging.FromContext(r.Context(), h.log).Warn("failed to delete session", zap.Error(err))
		}
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fetchEmail(ctx context.Context, config *oauth2.Config, tok *oauth2.Token) (string, error) {
	client := config.Client(ctx, tok)
	resp, err := client.Get(h.userInfoURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo returned %d", resp.StatusCode)
	}

	var userInfo struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return "", fmt.Errorf("decode userinfo: %w", err)
	}
	if userInfo.Email == "" {
		return "", fmt.Errorf("userinfo has no email")
	}
	return userInfo.Email, nil
}
