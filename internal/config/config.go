// Package config loads service configuration from an optional YAML file and
// applies environment overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Token write modes.
const (
	WriteModeLastWriteWins  = "last_write_wins"
	WriteModeCompareAndSwap = "compare_and_swap"
)

// Intent classification modes.
const (
	IntentModeSinglePrompt = "single"
	IntentModePerItem      = "per-item"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Database DatabaseConfig `yaml:"database"`
	Google   GoogleConfig   `yaml:"google"`
	Token    TokenConfig    `yaml:"token"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	Intent   IntentConfig   `yaml:"intent"`
	Report   ReportConfig   `yaml:"report"`
	Sheets   SheetsConfig   `yaml:"sheets"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type AppConfig struct {
	Host    string `yaml:"host" env:"INSIGHTS_HOST"`
	Port    int    `yaml:"port" env:"INSIGHTS_PORT"`
	Env     string `yaml:"env" env:"INSIGHTS_ENV"`
	BaseURL string `yaml:"base_url" env:"INSIGHTS_BASE_URL"`
	// SessionTTL bounds how long a dashboard login cookie stays valid.
	SessionTTL time.Duration `yaml:"session_ttl" env:"INSIGHTS_SESSION_TTL"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" env:"INSIGHTS_DB_PATH"`
}

type GoogleConfig struct {
	ClientID     string   `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" env:"GOOGLE_CLIENT_SECRET"`
	RedirectURL  string   `yaml:"redirect_url" env:"INSIGHTS_GOOGLE_REDIRECT_URL"`
	Scopes       []string `yaml:"scopes" env:"INSIGHTS_GOOGLE_SCOPES" envSeparator:","`
}

type TokenConfig struct {
	ExpirySkew       time.Duration `yaml:"expiry_skew" env:"INSIGHTS_TOKEN_EXPIRY_SKEW"`
	DefaultExpiresIn time.Duration `yaml:"default_expires_in" env:"INSIGHTS_TOKEN_DEFAULT_EXPIRES_IN"`
	RefreshDedup     bool          `yaml:"refresh_dedup" env:"INSIGHTS_TOKEN_REFRESH_DEDUP"`
	WriteMode        string        `yaml:"write_mode" env:"INSIGHTS_TOKEN_WRITE_MODE"`
	RefreshTimeout   time.Duration `yaml:"refresh_timeout" env:"INSIGHTS_TOKEN_REFRESH_TIMEOUT"`
}

type GeminiConfig struct {
	APIKey  string        `yaml:"api_key" env:"GEMINI_API_KEY"`
	BaseURL string        `yaml:"base_url" env:"INSIGHTS_GEMINI_BASE_URL"`
	Model   string        `yaml:"model" env:"INSIGHTS_GEMINI_MODEL"`
	Timeout time.Duration `yaml:"timeout" env:"INSIGHTS_GEMINI_TIMEOUT"`
}

type IntentConfig struct {
	Mode       string        `yaml:"mode" env:"INSIGHTS_INTENT_MODE"`
	Limit      int           `yaml:"limit" env:"INSIGHTS_INTENT_LIMIT"`
	BatchSize  int           `yaml:"batch_size" env:"INSIGHTS_INTENT_BATCH_SIZE"`
	BatchDelay time.Duration `yaml:"batch_delay" env:"INSIGHTS_INTENT_BATCH_DELAY"`
	Retry      RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" env:"INSIGHTS_INTENT_RETRY_MAX_ATTEMPTS"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"INSIGHTS_INTENT_RETRY_INITIAL_DELAY"`
	Multiplier   float64       `yaml:"multiplier" env:"INSIGHTS_INTENT_RETRY_MULTIPLIER"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"INSIGHTS_INTENT_RETRY_MAX_DELAY"`
}

type ReportConfig struct {
	Freshness time.Duration `yaml:"freshness" env:"INSIGHTS_REPORT_FRESHNESS"`
	RowLimit  int           `yaml:"row_limit" env:"INSIGHTS_REPORT_ROW_LIMIT"`
	Timeout   time.Duration `yaml:"timeout" env:"INSIGHTS_REPORT_TIMEOUT"`
	BaseURL   string        `yaml:"base_url" env:"INSIGHTS_SEARCHCONSOLE_BASE_URL"`
	QPS       float64       `yaml:"qps" env:"INSIGHTS_SEARCHCONSOLE_QPS"`
}

type SheetsConfig struct {
	BaseURL string        `yaml:"base_url" env:"INSIGHTS_SHEETS_BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"INSIGHTS_SHEETS_TIMEOUT"`
}

type LoggingConfig struct {
	Level string `yaml:"level" env:"INSIGHTS_LOG_LEVEL"`
}

// Default returns the configuration used when no file or env override is present.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Host:       "127.0.0.1",
			Port:       8080,
			Env:        "production",
			SessionTTL: 7 * 24 * time.Hour,
		},
		Database: DatabaseConfig{Path: "insights.db"},
		Google: GoogleConfig{
			Scopes: []string{
				"https://www.googleapis.com/auth/webmasters.readonly",
				"https://www.googleapis.com/auth/spreadsheets",
				"https://www.googleapis.com/auth/userinfo.email",
			},
		},
		Token: TokenConfig{
			ExpirySkew:       5 * time.Minute,
			DefaultExpiresIn: time.Hour,
			WriteMode:        WriteModeLastWriteWins,
			RefreshTimeout:   30 * time.Second,
		},
		Gemini: GeminiConfig{
			BaseURL: "https://generativelanguage.googleapis.com",
			Model:   "gemini-2.0-flash",
			Timeout: 60 * time.Second,
		},
		Intent: IntentConfig{
			Mode:       IntentModeSinglePrompt,
			Limit:      10,
			BatchSize:  1,
			BatchDelay: 3 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 2 * time.Second,
				Multiplier:   2,
				MaxDelay:     30 * time.Second,
			},
		},
		Report: ReportConfig{
			Freshness: 24 * time.Hour,
			RowLimit:  25000,
			Timeout:   2 * time.Minute,
			BaseURL:   "https://www.googleapis.com/webmasters/v3",
			QPS:       10,
		},
		Sheets: SheetsConfig{
			BaseURL: "https://sheets.googleapis.com/v4",
			Timeout: time.Minute,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path (when it exists) over the defaults, then applies env overrides.
// An empty path falls back to INSIGHTS_CONFIG and then ./config.yaml.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("INSIGHTS_CONFIG")
	}
	explicit := path != ""
	if path == "" {
		path = "config.yaml"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the services cannot run with.
func (c *Config) Validate() error {
	switch c.Token.WriteMode {
	case WriteModeLastWriteWins, WriteModeCompareAndSwap:
	default:
		return fmt.Errorf("token.write_mode: unsupported value %q", c.Token.WriteMode)
	}
	switch c.Intent.Mode {
	case IntentModeSinglePrompt, IntentModePerItem:
	default:
		return fmt.Errorf("intent.mode: unsupported value %q", c.Intent.Mode)
	}
	if c.Token.ExpirySkew < 0 {
		return fmt.Errorf("token.expiry_skew must not be negative")
	}
	if c.Token.DefaultExpiresIn <= 0 {
		return fmt.Errorf("token.default_expires_in must be positive")
	}
	if c.Intent.BatchSize <= 0 {
		return fmt.Errorf("intent.batch_size must be positive")
	}
	if c.Intent.Limit < 0 {
		return fmt.Errorf("intent.limit must not be negative")
	}
	if c.Intent.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("intent.retry.max_attempts must be positive")
	}
	if c.Intent.Retry.Multiplier < 1 {
		return fmt.Errorf("intent.retry.multiplier must be at least 1")
	}
	if c.Report.Freshness <= 0 {
		return fmt.Errorf("report.freshness must be positive")
	}
	if c.Report.QPS < 0 {
		return fmt.Errorf("report.qps must not be negative")
	}
	if c.Report.RowLimit <= 0 {
		return fmt.Errorf("report.row_limit must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.App.Env, "development")
}
