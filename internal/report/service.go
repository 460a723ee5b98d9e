// Package report composes the analytics gateway, the report cache and the
// intent classifier behind the dashboard's report endpoints.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pysugar/search-insights/internal/config"
	"github.com/pysugar/search-insights/internal/db/models"
	"github.com/pysugar/search-insights/internal/intent"
	"github.com/pysugar/search-insights/internal/logging"
	"github.com/pysugar/search-insights/internal/metrics"
	"github.com/pysugar/search-insights/internal/upstream/searchconsole"
)

var (
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid report request")
	// ErrNoQueryDimension is returned by Enrich when the report has no query column.
	ErrNoQueryDimension = errors.New("report has no query dimension")
)

// Gateway fetches search-analytics rows.
type Gateway interface {
	Query(ctx context.Context, userID string, req searchconsole.Request) ([]searchconsole.Row, error)
}

// Cache stores fetched result sets.
type Cache interface {
	GetFresh(ctx context.Context, userID, cacheKey string, now time.Time, window time.Duration) (*models.CachedReport, bool, error)
	Put(ctx context.Context, userID, cacheKey, data string, rowCount int, createdAt time.Time) (*models.CachedReport, error)
}

// Classifier labels queries with search intent.
type Classifier interface {
	Classify(ctx context.Context, queries []string, opts intent.Options) []intent.Result
}

// Exporter writes a table to a new spreadsheet and returns its URL.
type Exporter interface {
	Export(ctx context.Context, userID, title string, values [][]any) (string, error)
}

// Report is a search-analytics result set.
type Report struct {
	ID         string              `json:"id,omitempty"`
	SiteURL    string              `json:"site_url"`
	StartDate  string              `json:"start_date"`
	EndDate    string              `json:"end_date"`
	Dimensions []string            `json:"dimensions"`
	Rows       []searchconsole.Row `json:"rows"`
	CreatedAt  time.Time           `json:"created_at"`
	Cached     bool                `json:"cached"`
}

// EnrichedReport is a Report with one intent result per row. Intents is nil
// for a report that was not enriched.
type EnrichedReport struct {
	Report
	Intents []intent.Result `json:"intents,omitempty"`
}

// Fingerprint is the cache key for req: site, dates and dimensions joined by
// "_", dimension order significant. Non-default paging and search type are
// appended so they never share an entry with the plain query.
func Fingerprint(req searchconsole.Request) string {
	parts := []string{req.SiteURL, req.StartDate, req.EndDate, strings.Join(req.Dimensions, "_")}
	if req.SearchType != "" {
		parts = append(parts, "type="+req.SearchType)
	}
	if req.StartRow > 0 {
		parts = append(parts, "from="+strconv.Itoa(req.StartRow))
	}
	if req.MaxRows > 0 {
		parts = append(parts, "max="+strconv.Itoa(req.MaxRows))
	}
	return strings.Join(parts, "_")
}

// Service is the report orchestrator.
type Service struct {
	gateway    Gateway
	cache      Cache
	classifier Classifier
	exporter   Exporter
	freshness  time.Duration
	log        *zap.Logger
	now        func() time.Time
}

func NewService(gateway Gateway, cache Cache, classifier Classifier, exporter Exporter, cfg config.ReportConfig, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	freshness := cfg.Freshness
	if freshness <= 0 {
		freshness = 24 * time.Hour
	}
	return &Service{
		gateway:    gateway,
		cache:      cache,
		classifier: classifier,
		exporter:   exporter,
		freshness:  freshness,
		log:        log,
		now:        time.Now,
	}
}

// Generate returns the cached report when it is fresh, otherwise fetches and
// overwrites the cache entry. force skips the cache read.
func (s *Service) Generate(ctx context.Context, userID string, req searchconsole.Request, force bool) (*Report, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	log := logging.FromContext(ctx, s.log)
	key := Fingerprint(req)
	now := s.now()

	rep := &Report{
		SiteURL:    req.SiteURL,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		Dimensions: req.Dimensions,
	}

	if !force {
		cached, fresh, err := s.cache.GetFresh(ctx, userID, key, now, s.freshness)
		switch {
		case err != nil:
			log.Warn("report cache read failed", zap.String("cache_key", key), zap.Error(err))
		case fresh:
			var rows []searchconsole.Row
			if err := json.Unmarshal([]byte(cached.Data), &rows); err != nil {
				log.Warn("discarding corrupt cached report", zap.String("cache_key", key), zap.Error(err))
				break
			}
			metrics.ReportCache.WithLabelValues("hit").Inc()
			rep.ID = cached.ID
			rep.Rows = rows
			rep.CreatedAt = cached.CreatedAt
			rep.Cached = true
			return rep, nil
		case cached != nil:
			metrics.ReportCache.WithLabelValues("stale").Inc()
		default:
			metrics.ReportCache.WithLabelValues("miss").Inc()
		}
	}

	rows, err := s.gateway.Query(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []searchconsole.Row{}
	}
	rep.Rows = rows
	rep.CreatedAt = now

	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}
	stored, err := s.cache.Put(ctx, userID, key, string(data), len(rows), now)
	if err != nil {
		log.Warn("report cache write failed", zap.String("cache_key", key), zap.Error(err))
		return rep, nil
	}
	rep.ID = stored.ID

	log.Info("report generated",
		zap.String("report_id", rep.ID),
		zap.String("site", req.SiteURL),
		zap.Int("rows", len(rows)),
	)
	return rep, nil
}

// Enrich generates the report and classifies its query column. Results are
// linked to the report when it has an id.
func (s *Service) Enrich(ctx context.Context, userID string, req searchconsole.Request, force bool, opts intent.Options) (*EnrichedReport, error) {
	col := slices.Index(req.Dimensions, "query")
	if col < 0 {
		return nil, ErrNoQueryDimension
	}
	rep, err := s.Generate(ctx, userID, req, force)
	if err != nil {
		return nil, err
	}

	queries := make([]string, len(rep.Rows))
	for i, row := range rep.Rows {
		if col < len(row.Keys) {
			queries[i] = row.Keys[col]
		}
	}
	opts.ReportID = rep.ID

	return &EnrichedReport{
		Report:  *rep,
		Intents: s.classifier.Classify(ctx, queries, opts),
	}, nil
}

// ExportSheet writes rep to a new spreadsheet and returns its URL.
func (s *Service) ExportSheet(ctx context.Context, userID, title string, rep *EnrichedReport) (string, error) {
	if title == "" {
		title = DefaultTitle(&rep.Report)
	}
	return s.exporter.Export(ctx, userID, title, Table(rep))
}

// DefaultTitle names an export after its site and date range.
func DefaultTitle(rep *Report) string {
	return fmt.Sprintf("Search Insights %s %s to %s", rep.SiteURL, rep.StartDate, rep.EndDate)
}
