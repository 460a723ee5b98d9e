package token

import (
	"context"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// RefreshResult is what the provider returned for a refresh_token grant.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string // empty when the provider did not rotate it
	ExpiresIn    time.Duration
	Scope        string
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error)
}

// OAuthRefresher refreshes through the configured OAuth2 token endpoint.
type OAuthRefresher struct {
	config  *oauth2.Config
	timeout time.Duration
}

func NewOAuthRefresher(config *oauth2.Config, timeout time.Duration) *OAuthRefresher {
	return &OAuthRefresher{config: config, timeout: timeout}
}

func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	// A token with only a refresh token is never valid, so the source always refreshes.
	tokenSource := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := tokenSource.Token()
	if err != nil {
		return nil, err
	}

	res := &RefreshResult{AccessToken: tok.AccessToken}
	// x/oauth2 copies the old refresh token forward when none was issued; only
	// report a genuinely rotated one.
	if tok.RefreshToken != refreshToken {
		res.RefreshToken = tok.RefreshToken
	}
	switch {
	case tok.ExpiresIn > 0:
		res.ExpiresIn = time.Duration(tok.ExpiresIn) * time.Second
	case !tok.Expiry.IsZero():
		res.ExpiresIn = time.Until(tok.Expiry).Round(time.Second)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		res.Scope = scope
	}
	return res, nil
}

// isPermanentRefreshError reports provider errors that will not succeed on retry.
func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
