package upstream

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// googleError is the structured error envelope returned by Google APIs.
type googleError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type       string            `json:"@type"`
			Reason     string            `json:"reason"`
			Metadata   map[string]string `json:"metadata"`
			RetryDelay string            `json:"retryDelay"` // e.g. "3.5s"
		} `json:"details"`
	} `json:"error"`
}

// NewAPIError builds an APIError from a failed response's status, headers and body.
func NewAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}

	var ge googleError
	if err := json.Unmarshal(body, &ge); err == nil && ge.Error.Message != "" {
		apiErr.Message = ge.Error.Message
		apiErr.Status = ge.Error.Status
	}
	apiErr.Delay = ParseRetryDelay(resp.Header, body)
	return apiErr
}

// ParseRetryDelay extracts a retry duration from the Retry-After header or a
// Google retryDelay detail in body. Returns 0 if neither is present.
func ParseRetryDelay(header http.Header, body []byte) time.Duration {
	if retryAfter := header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			return time.Duration(seconds) * time.Second
		}
		if t, err := http.ParseTime(retryAfter); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
			return 0
		}
	}

	var ge googleError
	if err := json.Unmarshal(body, &ge); err != nil {
		return 0
	}
	for _, detail := range ge.Error.Details {
		if detail.RetryDelay != "" {
			if d, err := time.ParseDuration(detail.RetryDelay); err == nil {
				return d
			}
		}
		if delay, ok := detail.Metadata["retryDelay"]; ok {
			if d, err := time.ParseDuration(delay); err == nil {
				return d
			}
		}
	}
	return 0
}
