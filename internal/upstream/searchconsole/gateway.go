// Package searchconsole queries the Search Console search-analytics API.
package searchconsole

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pysugar/search-insights/internal/logging"
	"github.com/pysugar/search-insights/internal/metrics"
	"github.com/pysugar/search-insights/internal/upstream"
)

// MaxRowLimit is the largest page the API serves.
const MaxRowLimit = 25000

// TokenSource yields a bearer token for a user.
type TokenSource interface {
	AccessToken(ctx context.Context, userID string) (string, error)
}

// Request describes one search-analytics query.
type Request struct {
	SiteURL    string   `json:"site_url"`
	StartDate  string   `json:"start_date"` // YYYY-MM-DD
	EndDate    string   `json:"end_date"`
	Dimensions []string `json:"dimensions"`
	SearchType string   `json:"search_type,omitempty"` // web, image, video, news
	// StartRow resumes pagination from a cursor; zero starts at the top.
	StartRow int `json:"start_row,omitempty"`
	// MaxRows stops pagination once this many rows are collected; zero means all.
	MaxRows int `json:"max_rows,omitempty"`
}

// Validate checks the fields the API requires.
func (r Request) Validate() error {
	if strings.TrimSpace(r.SiteURL) == "" {
		return fmt.Errorf("site_url is required")
	}
	start, err := time.Parse(time.DateOnly, r.StartDate)
	if err != nil {
		return fmt.Errorf("start_date: %w", err)
	}
	end, err := time.Parse(time.DateOnly, r.EndDate)
	if err != nil {
		return fmt.Errorf("end_date: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("end_date is before start_date")
	}
	for _, d := range r.Dimensions {
		if !validDimensions[d] {
			return fmt.Errorf("unsupported dimension %q", d)
		}
	}
	return nil
}

var validDimensions = map[string]bool{
	"query":            true,
	"page":             true,
	"country":          true,
	"device":           true,
	"date":             true,
	"searchAppearance": true,
}

// Row is one search-analytics row. Keys follow the request's dimension order.
type Row struct {
	Keys        []string `json:"keys,omitempty"`
	Clicks      float64  `json:"clicks"`
	Impressions float64  `json:"impressions"`
	CTR         float64  `json:"ctr"`
	Position    float64  `json:"position"`
}

// Site is a property the user can read.
type Site struct {
	SiteURL         string `json:"siteUrl"`
	PermissionLevel string `json:"permissionLevel"`
}

type queryBody struct {
	StartDate  string   `json:"startDate"`
	EndDate    string   `json:"endDate"`
	Dimensions []string `json:"dimensions,omitempty"`
	Type       string   `json:"type,omitempty"`
	RowLimit   int      `json:"rowLimit"`
	StartRow   int      `json:"startRow"`
}

type queryResponse struct {
	Rows []Row `json:"rows"`
}

// Gateway issues authenticated Search Console calls.
type Gateway struct {
	client   *upstream.Client
	tokens   TokenSource
	baseURL  string
	rowLimit int
	timeout  time.Duration
	limiter  *rate.Limiter // nil when unpaced
	log      *zap.Logger
}

// Options configures a Gateway.
type Options struct {
	BaseURL    string
	RowLimit   int
	Timeout    time.Duration
	QPS        float64 // requests per second across all users; zero disables pacing
	HTTPClient *http.Client
}

func NewGateway(tokens TokenSource, opts Options, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	rowLimit := opts.RowLimit
	if rowLimit <= 0 || rowLimit > MaxRowLimit {
		rowLimit = MaxRowLimit
	}
	g := &Gateway{
		client:   upstream.NewClient(opts.HTTPClient, 0, log),
		tokens:   tokens,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		rowLimit: rowLimit,
		timeout:  opts.Timeout,
		log:      log,
	}
	if opts.QPS > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(opts.QPS), 1)
	}
	return g
}

// wait blocks until the next request may be sent.
func (g *Gateway) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout > 0 {
		return context.WithTimeout(ctx, g.timeout)
	}
	return context.WithCancel(ctx)
}

// Query fetches every row for req, paging by rowLimit until a short page.
func (g *Gateway) Query(ctx context.Context, userID string, req Request) ([]Row, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	accessToken, err := g.tokens.AccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/sites/%s/searchAnalytics/query", g.baseURL, url.PathEscape(req.SiteURL))
	body := queryBody{
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		Dimensions: req.Dimensions,
		Type:       req.SearchType,
		RowLimit:   g.rowLimit,
		StartRow:   req.StartRow,
	}

	log := logging.FromContext(ctx, g.log).With(zap.String("site", req.SiteURL))
	var rows []Row
	for page := 1; ; page++ {
		if err := g.wait(ctx); err != nil {
			return nil, fmt.Errorf("search analytics page %d: %w", page, err)
		}
		var resp queryResponse
		start := time.Now()
		err := g.client.DoJSON(ctx, http.MethodPost, endpoint, accessToken, body, &resp)
		metrics.UpstreamDuration.WithLabelValues("searchconsole").Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, fmt.Errorf("search analytics page %d: %w", page, err)
		}

		rows = append(rows, resp.Rows...)
		log.Debug("fetched page", zap.Int("page", page), zap.Int("rows", len(resp.Rows)))

		if len(resp.Rows) < g.rowLimit {
			break
		}
		if req.MaxRows > 0 && len(rows) >= req.MaxRows {
			break
		}
		body.StartRow += len(resp.Rows)
	}

	if req.MaxRows > 0 && len(rows) > req.MaxRows {
		rows = rows[:req.MaxRows]
	}
	log.Info("search analytics fetched", zap.Int("rows", len(rows)))
	return rows, nil
}

// ListSites returns the properties the user has access to.
func (g *Gateway) ListSites(ctx context.Context, userID string) ([]Site, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	accessToken, err := g.tokens.AccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := g.wait(ctx); err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	var resp struct {
		SiteEntry []Site `json:"siteEntry"`
	}
	start := time.Now()
	err = g.client.DoJSON(ctx, http.MethodGet, g.baseURL+"/sites", accessToken, nil, &resp)
	metrics.UpstreamDuration.WithLabelValues("searchconsole").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return resp.SiteEntry, nil
}
