package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pysugar/search-insights/internal/api/middleware"
	"github.com/pysugar/search-insights/internal/intent"
	"github.com/pysugar/search-insights/internal/logging"
	"github.com/pysugar/search-insights/internal/report"
	"github.com/pysugar/search-insights/internal/upstream/searchconsole"
)

// ReportService is the orchestrator behind the report endpoints.
type ReportService interface {
	Generate(ctx context.Context, userID string, req searchconsole.Request, force bool) (*report.Report, error)
	Enrich(ctx context.Context, userID string, req searchconsole.Request, force bool, opts intent.Options) (*report.EnrichedReport, error)
	ExportSheet(ctx context.Context, userID, title string, rep *report.EnrichedReport) (string, error)
}

// Classifier labels free-standing queries.
type Classifier interface {
	Classify(ctx context.Context, queries []string, opts intent.Options) []intent.Result
}

type reportRequest struct {
	searchconsole.Request
	Force bool `json:"force"`
	// WithIntent enriches exports with intent columns.
	WithIntent bool           `json:"with_intent"`
	Intent     intent.Options `json:"intent"`
	Title      string         `json:"title"`
}

func (rr *reportRequest) build(ctx context.Context, svc ReportService, userID string, enrich bool) (*report.EnrichedReport, error) {
	if enrich {
		return svc.Enrich(ctx, userID, rr.Request, rr.Force, rr.Intent)
	}
	rep, err := svc.Generate(ctx, userID, rr.Request, rr.Force)
	if err != nil {
		return nil, err
	}
	return &report.EnrichedReport{Report: *rep}, nil
}

// GenerateReportHandler handles POST /api/reports.
func GenerateReportHandler(svc ReportService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reportRequest
		if !decodeBody(w, r, &req) {
			return
		}
		rep, err := svc.Generate(r.Context(), middleware.UserID(r.Context()), req.Request, req.Force)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

// IntentReportHandler handles POST /api/reports/intent.
func IntentReportHandler(svc ReportService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reportRequest
		if !decodeBody(w, r, &req) {
			return
		}
		rep, err := svc.Enrich(r.Context(), middleware.UserID(r.Context()), req.Request, req.Force, req.Intent)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

// ExportCSVHandler handles POST /api/reports/export/csv.
func ExportCSVHandler(svc ReportService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reportRequest
		if !decodeBody(w, r, &req) {
			return
		}
		rep, err := req.build(r.Context(), svc, middleware.UserID(r.Context()), req.WithIntent)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, csvFilename(&rep.Report)))
		if err := report.WriteCSV(w, rep); err != nil {
			logging.FromContext(r.Context(), log).Warn("csv write interrupted", zap.Error(err))
		}
	}
}

// ExportSheetsHandler handles POST /api/reports/export/sheets.
func ExportSheetsHandler(svc ReportService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reportRequest
		if !decodeBody(w, r, &req) {
			return
		}
		userID := middleware.UserID(r.Context())
		rep, err := req.build(r.Context(), svc, userID, req.WithIntent)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		url, err := svc.ExportSheet(r.Context(), userID, req.Title, rep)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": url, "rows": len(rep.Rows)})
	}
}

type classifyRequest struct {
	Queries []string `json:"queries"`
	intent.Options
}

// ClassifyHandler handles POST /api/intent/classify.
func ClassifyHandler(classifier Classifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req classifyRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Queries) == 0 {
			writeError(w, http.StatusBadRequest, "invalid_request_error", "queries is required")
			return
		}
		results := classifier.Classify(r.Context(), req.Queries, req.Options)
		writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
	}
}

func csvFilename(rep *report.Report) string {
	site := strings.NewReplacer("https://", "", "http://", "", "sc-domain:", "", "/", "_", ":", "_", `"`, "").
		Replace(rep.SiteURL)
	site = strings.Trim(site, "_")
	if site == "" {
		site = "report"
	}
	return fmt.Sprintf("%s_%s_%s.csv", site, rep.StartDate, rep.EndDate)
}
