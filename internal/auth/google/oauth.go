// Package google wires the Google OAuth2 authorization-code flow used to
// connect a user's Search Console and Sheets access.
package google

import (
	"strings"

	"golang.org/x/oauth2"
	googleOAuth "golang.org/x/oauth2/google"

	"github.com/pysugar/search-insights/internal/config"
)

// DefaultScopes are requested when config does not override them.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/webmasters.readonly",
	"https://www.googleapis.com/auth/spreadsheets",
	"https://www.googleapis.com/auth/userinfo.email",
}

// UserInfoURL returns the signed-in account's email.
const UserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// GetOAuthConfig returns the OAuth2 config for Google authentication.
func GetOAuthConfig(cfg config.GoogleConfig, redirectURL string) *oauth2.Config {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	if redirectURL == "" {
		redirectURL = cfg.RedirectURL
	}
	return &oauth2.Config{
		ClientID:     strings.TrimSpace(cfg.ClientID),
		ClientSecret: strings.TrimSpace(cfg.ClientSecret),
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		Endpoint:     googleOAuth.Endpoint,
	}
}

// ScopeString joins scopes the way the token endpoint reports them.
func ScopeString(scopes []string) string {
	return strings.Join(scopes, " ")
}
