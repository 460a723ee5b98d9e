// Package intent classifies search queries by intent with a cache-first,
// rate-limit aware strategy. Classification never fails: every input query
// gets a result, falling back to an Unknown default record.
package intent

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pysugar/search-insights/internal/db/models"
)

// Intent categories.
const (
	IntentInformational           = "Informational"
	IntentNavigational            = "Navigational"
	IntentTransactional           = "Transactional"
	IntentCommercialInvestigation = "Commercial Investigation"
	IntentMixed                   = "Mixed"
	Unknown                       = "Unknown"
)

// Funnel stages.
const (
	StageAwareness     = "Awareness"
	StageConsideration = "Consideration"
	StageDecision      = "Decision"
	StagePostPurchase  = "Post-Purchase"
)

// Failure markers carried on default results.
const (
	ErrRateLimitExceeded = "RateLimitExceeded"
	ErrAnalysisError     = "AnalysisError"
)

// Where a result came from.
const (
	SourceAnalyzed = "analyzed"
	SourceCached   = "cached"
	SourceDefault  = "default"
)

var intents = canonicalSet(IntentInformational, IntentNavigational, IntentTransactional,
	IntentCommercialInvestigation, IntentMixed, Unknown)

var stages = canonicalSet(StageAwareness, StageConsideration, StageDecision, StagePostPurchase, Unknown)

func canonicalSet(values ...string) map[string]string {
	m := make(map[string]string, len(values))
	for _, v := range values {
		m[foldEnum(v)] = v
	}
	return m
}

// foldEnum lowercases and drops separators so "post purchase" matches "Post-Purchase".
func foldEnum(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(s)))
}

// Result is the classification returned for one input query.
type Result struct {
	Query        string    `json:"query"`
	Intent       string    `json:"intent"`
	Category     string    `json:"category"`
	FunnelStage  string    `json:"funnel_stage"`
	MainKeywords []string  `json:"main_keywords"`
	AnalyzedAt   time.Time `json:"analyzed_at,omitzero"`
	Source       string    `json:"source"`
	Error        string    `json:"error,omitempty"`
}

// Default is the Unknown record used whenever no classification is available.
func Default(query string) Result {
	return Result{
		Query:        query,
		Intent:       Unknown,
		Category:     Unknown,
		FunnelStage:  Unknown,
		MainKeywords: []string{},
		Source:       SourceDefault,
	}
}

func defaultWithError(query, marker string) Result {
	r := Default(query)
	r.Error = marker
	return r
}

func fromModel(m models.IntentRecord) Result {
	keywords := []string{}
	if m.MainKeywords != "" {
		// A corrupt column degrades to no keywords.
		_ = json.Unmarshal([]byte(m.MainKeywords), &keywords)
	}
	return Result{
		Query:        m.Query,
		Intent:       m.Intent,
		Category:     m.Category,
		FunnelStage:  m.FunnelStage,
		MainKeywords: keywords,
		AnalyzedAt:   m.AnalyzedAt,
		Source:       SourceCached,
	}
}

func (r Result) toModel(analyzedAt time.Time) models.IntentRecord {
	keywords := r.MainKeywords
	if keywords == nil {
		keywords = []string{}
	}
	data, _ := json.Marshal(keywords)
	return models.IntentRecord{
		Query:        r.Query,
		Intent:       r.Intent,
		Category:     r.Category,
		FunnelStage:  r.FunnelStage,
		MainKeywords: string(data),
		AnalyzedAt:   analyzedAt,
	}
}
