package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pysugar/search-insights/internal/upstream"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

func TestNewClient_DisabledWithoutKey(t *testing.T) {
	assert.Nil(t, NewClient(Options{APIKey: "  "}, nil))

	var c *Client
	assert.False(t, c.IsEnabled())
}

func TestGenerate_SendsKeyAndReturnsText(t *testing.T) {
	var gotPath, gotKey, gotQueryKey string
	var gotPrompt string

	httpClient := &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Goog-Api-Key")
		gotQueryKey = r.URL.Query().Get("key")

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotPrompt = req.Contents[0].Parts[0].Text

		return jsonResponse(http.StatusOK, `{"candidates":[{"content":{"role":"model","parts":[{"text":"[{\"query\":"},{"text":"\"a\"}]"}]}}]}`, nil), nil
	})}

	c := NewClient(Options{APIKey: "server-key", Model: "gemini-test", HTTPClient: httpClient}, nil)
	text, err := c.Generate(context.Background(), "classify this")
	require.NoError(t, err)

	assert.Equal(t, "/v1beta/models/gemini-test:generateContent", gotPath)
	assert.Equal(t, "server-key", gotKey)
	assert.Empty(t, gotQueryKey, "key must not leak into the URL")
	assert.Equal(t, "classify this", gotPrompt)
	assert.Equal(t, `[{"query":"a"}]`, text)
}

func TestGenerate_RateLimitIsTyped(t *testing.T) {
	httpClient := &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusTooManyRequests,
			`{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED","details":[{"retryDelay":"4s"}]}}`, nil), nil
	})}

	c := NewClient(Options{APIKey: "k", HTTPClient: httpClient}, nil)
	_, err := c.Generate(context.Background(), "p")

	require.Error(t, err)
	assert.True(t, upstream.IsRateLimited(err))
	var apiErr *upstream.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 4*time.Second, apiErr.RetryAfter())
}

func TestGenerate_ServerErrorIsNotRateLimit(t *testing.T) {
	httpClient := &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusInternalServerError, `{"error":{"code":500,"message":"internal","status":"INTERNAL"}}`, nil), nil
	})}

	c := NewClient(Options{APIKey: "k", HTTPClient: httpClient}, nil)
	_, err := c.Generate(context.Background(), "p")

	require.Error(t, err)
	assert.False(t, upstream.IsRateLimited(err))
}

func TestGenerate_NoCandidates(t *testing.T) {
	httpClient := &http.Client{Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`, nil), nil
	})}

	c := NewClient(Options{APIKey: "k", HTTPClient: httpClient}, nil)
	_, err := c.Generate(context.Background(), "p")
	assert.ErrorContains(t, err, "SAFETY")
}
