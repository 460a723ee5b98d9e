// Package api assembles the dashboard's HTTP routes.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pysugar/search-insights/internal/api/handlers"
	"github.com/pysugar/search-insights/internal/api/middleware"
	"github.com/pysugar/search-insights/internal/logging"
	"github.com/pysugar/search-insights/internal/metrics"
)

// OAuthHandler serves the Google sign-in flow.
type OAuthHandler interface {
	HandleLogin(w http.ResponseWriter, r *http.Request)
	HandleCallback(w http.ResponseWriter, r *http.Request)
	HandleLogout(w http.ResponseWriter, r *http.Request)
}

// Deps are the services behind the routes.
type Deps struct {
	OAuth       OAuthHandler
	Sessions    middleware.SessionResolver
	Credentials handlers.CredentialReader
	Sites       handlers.SiteLister
	Tokens      handlers.TokenRefresher
	Reports     handlers.ReportService
	Classifier  handlers.Classifier
	Log         *zap.Logger
}

// NewRouter wires every route onto a chi router.
func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(logging.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/", handlers.DashboardHandler())
	r.Get("/healthz", handlers.HealthzHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Get("/auth/google/login", d.OAuth.HandleLogin)
	r.Get("/auth/google/callback", d.OAuth.HandleCallback)
	r.Post("/auth/logout", d.OAuth.HandleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.SessionAuth(d.Sessions, log))

		r.Get("/me", handlers.MeHandler(d.Credentials, log))
		r.Get("/sites", handlers.SitesHandler(d.Sites, log))
		r.Post("/token/refresh", handlers.RefreshTokenHandler(d.Tokens, log))

		r.Post("/reports", handlers.GenerateReportHandler(d.Reports, log))
		r.Post("/reports/intent", handlers.IntentReportHandler(d.Reports, log))
		r.Post("/reports/export/csv", handlers.ExportCSVHandler(d.Reports, log))
		r.Post("/reports/export/sheets", handlers.ExportSheetsHandler(d.Reports, log))

		r.Post("/intent/classify", handlers.ClassifyHandler(d.Classifier))
	})

	return r
}
