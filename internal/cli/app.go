package cli

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pysugar/search-insights/internal/auth/google"
	"github.com/pysugar/search-insights/internal/auth/token"
	"github.com/pysugar/search-insights/internal/config"
	"github.com/pysugar/search-insights/internal/db"
	"github.com/pysugar/search-insights/internal/intent"
	"github.com/pysugar/search-insights/internal/logging"
	"github.com/pysugar/search-insights/internal/report"
	"github.com/pysugar/search-insights/internal/upstream/gemini"
	"github.com/pysugar/search-insights/internal/upstream/searchconsole"
	"github.com/pysugar/search-insights/internal/upstream/sheets"
)

// app holds the wired services shared by the subcommands.
type app struct {
	cfg *config.Config
	log *zap.Logger
	db  *gorm.DB

	credentials *db.CredentialStore
	sessions    *db.SessionStore
	tokens      *token.Manager
	gateway     *searchconsole.Gateway
	classifier  *intent.Classifier
	reports     *report.Service
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(globalFlags.Config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if globalFlags.DBPath != "" {
		cfg.Database.Path = globalFlags.DBPath
	}
	if globalFlags.Debug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func newApp(cfg *config.Config) (*app, error) {
	log, err := logging.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	database, err := db.InitDB(cfg.Database.Path, log)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	a := &app{
		cfg:         cfg,
		log:         log,
		db:          database,
		credentials: db.NewCredentialStore(database),
		sessions:    db.NewSessionStore(database),
	}

	refresher := token.NewOAuthRefresher(google.GetOAuthConfig(cfg.Google, ""), cfg.Token.RefreshTimeout)
	a.tokens = token.NewManager(a.credentials, refresher, cfg.Token, log.Named("token"))

	// A nil *gemini.Client must not become a non-nil interface.
	var gen gemini.Generator
	if c := gemini.NewClient(gemini.Options{
		APIKey:  cfg.Gemini.APIKey,
		BaseURL: cfg.Gemini.BaseURL,
		Model:   cfg.Gemini.Model,
		Timeout: cfg.Gemini.Timeout,
	}, log.Named("gemini")); c != nil {
		log.Info("intent classification enabled", zap.String("model", c.Model()), zap.String("mode", cfg.Intent.Mode))
		gen = c
	} else {
		log.Warn("GEMINI_API_KEY not set; intent classification returns defaults")
	}
	a.classifier = intent.NewClassifier(gen, db.NewIntentStore(database), cfg.Intent, log.Named("intent"))

	a.gateway = searchconsole.NewGateway(a.tokens, searchconsole.Options{
		BaseURL:  cfg.Report.BaseURL,
		RowLimit: cfg.Report.RowLimit,
		Timeout:  cfg.Report.Timeout,
		QPS:      cfg.Report.QPS,
	}, log.Named("searchconsole"))

	exporter := sheets.NewClient(a.tokens, cfg.Sheets.BaseURL, cfg.Sheets.Timeout, nil, log.Named("sheets"))

	a.reports = report.NewService(a.gateway, db.NewReportStore(database), a.classifier, exporter, cfg.Report, log.Named("report"))
	return a, nil
}

func (a *app) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	a.log.Sync()
}
