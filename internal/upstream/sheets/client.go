// Package sheets writes report tables to new Google Sheets spreadsheets.
package sheets

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pysugar/search-insights/internal/logging"
	"github.com/pysugar/search-insights/internal/metrics"
	"github.com/pysugar/search-insights/internal/upstream"
)

// TokenSource yields a bearer token for a user.
type TokenSource interface {
	AccessToken(ctx context.Context, userID string) (string, error)
}

// Client creates spreadsheets on behalf of a user.
type Client struct {
	client  *upstream.Client
	tokens  TokenSource
	baseURL string
	timeout time.Duration
	log     *zap.Logger
}

func NewClient(tokens TokenSource, baseURL string, timeout time.Duration, httpClient *http.Client, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		client:  upstream.NewClient(httpClient, 0, log),
		tokens:  tokens,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		log:     log,
	}
}

type spreadsheet struct {
	SpreadsheetID  string `json:"spreadsheetId,omitempty"`
	SpreadsheetURL string `json:"spreadsheetUrl,omitempty"`
	Properties     struct {
		Title string `json:"title"`
	} `json:"properties"`
	Sheets []sheet `json:"sheets,omitempty"`
}

type sheet struct {
	Properties struct {
		Title string `json:"title"`
	} `json:"properties"`
}

type valueRange struct {
	Range          string  `json:"range"`
	MajorDimension string  `json:"majorDimension"`
	Values         [][]any `json:"values"`
}

// SheetTitle is the tab the values are written to.
const SheetTitle = "Report"

// Export creates a spreadsheet titled title, writes values to its first tab
// and returns the spreadsheet URL.
func (c *Client) Export(ctx context.Context, userID, title string, values [][]any) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	accessToken, err := c.tokens.AccessToken(ctx, userID)
	if err != nil {
		return "", err
	}

	var create spreadsheet
	create.Properties.Title = title
	create.Sheets = []sheet{{}}
	create.Sheets[0].Properties.Title = SheetTitle

	var created spreadsheet
	start := time.Now()
	err = c.client.DoJSON(ctx, http.MethodPost, c.baseURL+"/spreadsheets", accessToken, create, &created)
	metrics.UpstreamDuration.WithLabelValues("sheets").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("create spreadsheet: %w", err)
	}
	if created.SpreadsheetID == "" {
		return "", fmt.Errorf("create spreadsheet: response has no spreadsheetId")
	}

	rng := SheetTitle + "!A1"
	endpoint := fmt.Sprintf("%s/spreadsheets/%s/values/%s?valueInputOption=RAW",
		c.baseURL, url.PathEscape(created.SpreadsheetID), url.PathEscape(rng))
	start = time.Now()
	err = c.client.DoJSON(ctx, http.MethodPut, endpoint, accessToken, valueRange{
		Range:          rng,
		MajorDimension: "ROWS",
		Values:         values,
	}, nil)
	metrics.UpstreamDuration.WithLabelValues("sheets").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("write values: %w", err)
	}

	sheetURL := created.SpreadsheetURL
	if sheetURL == "" {
		sheetURL = "https://docs.google.com/spreadsheets/d/" + created.SpreadsheetID
	}
	logging.FromContext(ctx, c.log).Info("exported spreadsheet",
		zap.String("spreadsheet_id", created.SpreadsheetID),
		zap.Int("rows", len(values)),
	)
	return sheetURL, nil
}
