package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// APIError is a non-2xx response from a Google API.
type APIError struct {
	StatusCode int
	Status     string // Google error status, e.g. RESOURCE_EXHAUSTED
	Message    string
	Delay      time.Duration // server-suggested retry delay, 0 if none
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("upstream returned %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Message)
}

// RetryAfter exposes the server hint to retry.Do.
func (e *APIError) RetryAfter() time.Duration { return e.Delay }

// IsRateLimited reports whether err is a 429 or carries a provider
// "Too Many Requests" / RESOURCE_EXHAUSTED signal.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too many requests") || strings.Contains(msg, "resource_exhausted")
}

// IsUnauthorized reports a 401 from upstream, typically a revoked token.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}
