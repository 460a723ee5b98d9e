package intent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Outcome is the strict verdict on one model-produced record: Parsed or Invalid.
type Outcome interface {
	outcome()
}

// Parsed carries a record that passed validation.
type Parsed struct {
	Record Result
}

// Invalid explains why a record was rejected. It always maps to a default record.
type Invalid struct {
	Reason string
}

func (Parsed) outcome()  {}
func (Invalid) outcome() {}

type rawRecord struct {
	Query        *string   `json:"query"`
	Intent       *string   `json:"intent"`
	Category     *string   `json:"category"`
	FunnelStage  *string   `json:"funnel_stage"`
	MainKeywords *[]string `json:"main_keywords"`
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// parseArray decodes a single-prompt response. A response that is not a JSON
// array fails as a whole; individual elements are judged separately and keyed
// by their query. Elements without a query are dropped.
func parseArray(text string) (map[string]Outcome, error) {
	body := stripFences(text)
	if !strings.HasPrefix(body, "[") {
		return nil, fmt.Errorf("expected a JSON array")
	}
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(body), &elems); err != nil {
		return nil, fmt.Errorf("decode array: %w", err)
	}

	out := make(map[string]Outcome, len(elems))
	for _, raw := range elems {
		var rec rawRecord
		if err := json.Unmarshal(raw, &rec); err != nil || rec.Query == nil {
			continue
		}
		q := *rec.Query
		if _, seen := out[q]; seen {
			continue
		}
		out[q] = validate(q, rec)
	}
	return out, nil
}

// parseObject decodes a per-item response for query. A response that is not
// a JSON object fails; a query field, when present, is ignored in favour of
// the requested one.
func parseObject(query, text string) (Outcome, error) {
	body := stripFences(text)
	if !strings.HasPrefix(body, "{") {
		return nil, fmt.Errorf("expected a JSON object")
	}
	var rec rawRecord
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return validate(query, rec), nil
}

func validate(query string, rec rawRecord) Outcome {
	switch {
	case rec.Intent == nil:
		return Invalid{Reason: "missing intent"}
	case rec.Category == nil:
		return Invalid{Reason: "missing category"}
	case rec.FunnelStage == nil:
		return Invalid{Reason: "missing funnel_stage"}
	case rec.MainKeywords == nil:
		return Invalid{Reason: "missing main_keywords"}
	}

	intent, ok := intents[foldEnum(*rec.Intent)]
	if !ok {
		return Invalid{Reason: fmt.Sprintf("unknown intent %q", *rec.Intent)}
	}
	stage, ok := stages[foldEnum(*rec.FunnelStage)]
	if !ok {
		return Invalid{Reason: fmt.Sprintf("unknown funnel_stage %q", *rec.FunnelStage)}
	}
	category := strings.TrimSpace(*rec.Category)
	if category == "" {
		category = Unknown
	}

	keywords := make([]string, 0, len(*rec.MainKeywords))
	for _, k := range *rec.MainKeywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}

	return Parsed{Record: Result{
		Query:        query,
		Intent:       intent,
		Category:     category,
		FunnelStage:  stage,
		MainKeywords: keywords,
		Source:       SourceAnalyzed,
	}}
}
