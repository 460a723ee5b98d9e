// Package upstream holds the HTTP plumbing shared by the Google API clients.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pysugar/search-insights/internal/util"
	"github.com/pysugar/search-insights/internal/version"
)

// UserAgent identifies this service to Google APIs.
var UserAgent = "search-insights/" + version.Version

// Client sends authenticated JSON requests.
type Client struct {
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient creates a Client. A nil httpClient gets one with the given timeout.
func NewClient(httpClient *http.Client, timeout time.Duration, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{httpClient: httpClient, log: log}
}

// DoJSON sends in (when non-nil) as the JSON body with a bearer token and
// decodes a 2xx response into out (when non-nil). Non-2xx responses become *APIError.
func (c *Client) DoJSON(ctx context.Context, method, url, accessToken string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("upstream error",
			zap.String("method", method),
			zap.String("url", req.URL.Redacted()),
			zap.Int("status", resp.StatusCode),
			zap.String("body", util.TruncateBytes(respBody)),
		)
		return NewAPIError(resp, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
