package intent

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pysugar/search-insights/internal/config"
	"github.com/pysugar/search-insights/internal/db/models"
	"github.com/pysugar/search-insights/internal/logging"
	"github.com/pysugar/search-insights/internal/metrics"
	"github.com/pysugar/search-insights/internal/retry"
	"github.com/pysugar/search-insights/internal/upstream"
	"github.com/pysugar/search-insights/internal/upstream/gemini"
)

// Mode selects how pending queries are sent to the model.
type Mode string

const (
	// ModeSinglePrompt sends every pending query in one prompt expecting an array.
	ModeSinglePrompt Mode = config.IntentModeSinglePrompt
	// ModePerItem sends one prompt per query, concurrently within a batch.
	ModePerItem Mode = config.IntentModePerItem
)

// Store is the global query-keyed intent cache.
type Store interface {
	Lookup(ctx context.Context, queries []string) (map[string]models.IntentRecord, error)
	Upsert(ctx context.Context, records []models.IntentRecord) error
	Link(ctx context.Context, reportID string, queries []string) error
}

// Options tune a single Classify call.
type Options struct {
	Mode Mode `json:"mode,omitempty"`
	// Limit caps how many uncached queries one single-prompt call submits.
	// Zero uses the configured default.
	Limit int `json:"limit,omitempty"`
	// VisibleOnly lifts the limit; the caller already trimmed to what the user sees.
	VisibleOnly bool `json:"visible_only,omitempty"`
	// Force re-analyzes queries that are already cached.
	Force bool `json:"force,omitempty"`
	// ReportID, when set, links every classified query to that report. Only
	// the report service sets it.
	ReportID string `json:"-"`
}

// Classifier is safe for concurrent use.
type Classifier struct {
	gen   gemini.Generator
	store Store
	log   *zap.Logger

	mode       Mode
	limit      int
	batchSize  int
	batchDelay time.Duration
	policy     retry.Policy

	now   func() time.Time
	sleep retry.Sleeper
}

// NewClassifier creates a Classifier. gen may be nil when no model is
// configured; uncached queries then get AnalysisError defaults that are not cached.
func NewClassifier(gen gemini.Generator, store Store, cfg config.IntentConfig, log *zap.Logger) *Classifier {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Classifier{
		gen:        gen,
		store:      store,
		log:        log,
		mode:       Mode(cfg.Mode),
		limit:      cfg.Limit,
		batchSize:  cfg.BatchSize,
		batchDelay: cfg.BatchDelay,
		policy: retry.Policy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			Multiplier:   cfg.Retry.Multiplier,
			MaxDelay:     cfg.Retry.MaxDelay,
		},
		now:   time.Now,
		sleep: retry.SleepContext,
	}
	if c.mode == "" {
		c.mode = ModeSinglePrompt
	}
	if c.batchSize <= 0 {
		c.batchSize = 1
	}
	if c.limit <= 0 {
		c.limit = 10
	}
	return c
}

// Classify returns one result per element of queries, in input order.
// Duplicates share one classification. It never fails.
func (c *Classifier) Classify(ctx context.Context, queries []string, opts Options) []Result {
	if len(queries) == 0 {
		return []Result{}
	}
	log := logging.FromContext(ctx, c.log)

	unique := dedupe(queries)

	cached, err := c.store.Lookup(ctx, unique)
	if err != nil {
		log.Warn("intent cache lookup failed, treating as empty", zap.Error(err))
		cached = map[string]models.IntentRecord{}
	}

	var toAnalyze []string
	for _, q := range unique {
		if _, ok := cached[q]; !ok || opts.Force {
			toAnalyze = append(toAnalyze, q)
		}
	}

	mode := opts.Mode
	if mode == "" {
		mode = c.mode
	}

	// Queries beyond the single-prompt cap are left for a later call.
	submitted := toAnalyze
	if mode == ModeSinglePrompt && !opts.VisibleOnly {
		limit := opts.Limit
		if limit <= 0 {
			limit = c.limit
		}
		if len(submitted) > limit {
			log.Info("capping single-prompt analysis",
				zap.Int("pending", len(submitted)), zap.Int("limit", limit))
			submitted = submitted[:limit]
		}
	}

	var fresh map[string]Result
	if len(submitted) > 0 {
		if c.gen == nil {
			log.Warn("no classification model configured", zap.Int("pending", len(submitted)))
			fresh = make(map[string]Result, len(submitted))
			for _, q := range submitted {
				fresh[q] = defaultWithError(q, ErrAnalysisError)
			}
		} else if mode == ModePerItem {
			fresh = c.classifyPerItem(ctx, submitted)
		} else {
			fresh = c.classifySinglePrompt(ctx, submitted)
		}
	}

	now := c.now()
	byQuery := merge(unique, fresh, cached, now)
	if c.gen != nil {
		c.persist(ctx, submitted, fresh, cached, now)
	}

	if opts.ReportID != "" {
		if err := c.store.Link(ctx, opts.ReportID, unique); err != nil {
			log.Warn("failed to link intents to report", zap.String("report_id", opts.ReportID), zap.Error(err))
		}
	}

	out := make([]Result, len(queries))
	for i, q := range queries {
		out[i] = byQuery[q]
	}
	return out
}

// merge applies new > cached > default. A failed re-analysis of a cached
// query keeps the cached record.
func merge(unique []string, fresh map[string]Result, cached map[string]models.IntentRecord, now time.Time) map[string]Result {
	byQuery := make(map[string]Result, len(unique))
	for _, q := range unique {
		r, analyzed := fresh[q]
		rec, wasCached := cached[q]
		switch {
		case analyzed && r.Source == SourceAnalyzed:
			r.AnalyzedAt = now
			byQuery[q] = r
		case wasCached:
			byQuery[q] = fromModel(rec)
		case analyzed:
			byQuery[q] = r
		default:
			byQuery[q] = Default(q)
		}
		metrics.IntentResults.WithLabelValues(resultLabel(byQuery[q])).Inc()
	}
	return byQuery
}

func resultLabel(r Result) string {
	switch r.Error {
	case ErrRateLimitExceeded:
		return "rate_limited"
	case ErrAnalysisError:
		return "analysis_error"
	}
	return r.Source
}

// persist caches every submitted query that had no prior entry, defaults
// included, so a failing query is not retried until forced. A cached query
// is only overwritten by a successful re-analysis.
func (c *Classifier) persist(ctx context.Context, submitted []string, fresh map[string]Result, cached map[string]models.IntentRecord, now time.Time) {
	records := make([]models.IntentRecord, 0, len(submitted))
	for _, q := range submitted {
		r, ok := fresh[q]
		if !ok {
			r = Default(q)
		}
		if _, wasCached := cached[q]; wasCached && r.Source != SourceAnalyzed {
			continue
		}
		records = append(records, r.toModel(now))
	}
	if err := c.store.Upsert(ctx, records); err != nil {
		logging.FromContext(ctx, c.log).Error("failed to cache intent records",
			zap.Int("records", len(records)), zap.Error(err))
	}
}

// call sends one prompt under the retry policy, retrying only rate limits.
func (c *Classifier) call(ctx context.Context, mode Mode, prompt string) (string, error) {
	var text string
	attempts, err := retry.Do(ctx, c.policy, upstream.IsRateLimited, c.sleep, func(ctx context.Context) error {
		metrics.IntentCalls.WithLabelValues(string(mode)).Inc()
		var err error
		text, err = c.gen.Generate(ctx, prompt)
		return err
	})
	if err != nil {
		logging.FromContext(ctx, c.log).Warn("classification call failed",
			zap.String("mode", string(mode)),
			zap.Int("attempts", attempts),
			zap.Bool("rate_limited", upstream.IsRateLimited(err)),
			zap.Bool("retries_exhausted", retry.IsExhausted(err)),
			zap.Error(err),
		)
	}
	return text, err
}

func failureMarker(err error) string {
	if upstream.IsRateLimited(err) {
		return ErrRateLimitExceeded
	}
	return ErrAnalysisError
}

func (c *Classifier) classifySinglePrompt(ctx context.Context, queries []string) map[string]Result {
	log := logging.FromContext(ctx, c.log)
	out := make(map[string]Result, len(queries))

	text, err := c.call(ctx, ModeSinglePrompt, batchPrompt(queries))
	var parsed map[string]Outcome
	if err == nil {
		parsed, err = parseArray(text)
		if err != nil {
			log.Warn("malformed classification response", zap.Error(err))
		}
	}
	if err != nil {
		marker := failureMarker(err)
		for _, q := range queries {
			out[q] = defaultWithError(q, marker)
		}
		return out
	}

	requested := make(map[string]struct{}, len(queries))
	for _, q := range queries {
		requested[q] = struct{}{}
	}
	for q := range parsed {
		if _, ok := requested[q]; !ok {
			log.Warn("classification returned an unrequested query", zap.String("query", q))
		}
	}

	for _, q := range queries {
		switch o := parsed[q].(type) {
		case Parsed:
			out[q] = o.Record
		case Invalid:
			log.Debug("invalid classification record", zap.String("query", q), zap.String("reason", o.Reason))
			out[q] = defaultWithError(q, ErrAnalysisError)
		default:
			out[q] = Default(q)
		}
	}
	return out
}

func (c *Classifier) classifyPerItem(ctx context.Context, queries []string) map[string]Result {
	results := make([]Result, len(queries))
	for start := 0; start < len(queries); start += c.batchSize {
		end := min(start+c.batchSize, len(queries))

		// The delay runs from the end of one batch to the start of the next.
		if start > 0 && c.batchDelay > 0 {
			if err := c.sleep(ctx, c.batchDelay); err != nil {
				for i := start; i < len(queries); i++ {
					results[i] = defaultWithError(queries[i], ErrAnalysisError)
				}
				break
			}
		}

	var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = c.classifyOne(ctx, queries[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	out := make(map[string]Result, len(queries))
	for i, q := range queries {
		out[q] = results[i]
	}
	return out
}

func (c *Classifier) classifyOne(ctx context.Context, query string) Result {
	text, err := c.call(ctx, ModePerItem, itemPrompt(query))
	if err != nil {
		return defaultWithError(query, failureMarker(err))
	}
	outcome, err := parseObject(query, text)
	if err != nil {
		logging.FromContext(ctx, c.log).Warn("malformed classification response",
			zap.String("query", query), zap.Error(err))
		return defaultWithError(query, ErrAnalysisError)
	}
	if p, ok := outcome.(Parsed); ok {
		return p.Record
	}
	return defaultWithError(query, ErrAnalysisError)
}

func dedupe(queries []string) []string {
	seen := make(map[string]struct{}, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}
