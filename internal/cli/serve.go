package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pysugar/search-insights/internal/api"
	"github.com/pysugar/search-insights/internal/auth/google"
	"github.com/pysugar/search-insights/internal/version"
)

var serveFlags struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server", "run"},
		Short:   "Start the dashboard HTTP server",
		Example: "  insights serve --config config.yaml --port 8080",
		Args:    cobra.NoArgs,
		RunE:    runServe,
	}
	cmd.Flags().StringVar(&serveFlags.Host, "host", "", "Listen host (overrides config)")
	cmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Listen port (overrides config)")
	cmd.Flags().DurationVar(&serveFlags.ShutdownTimeout, "shutdown-timeout", 15*time.Second, "Graceful shutdown timeout")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveFlags.Host != "" {
		cfg.App.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		cfg.App.Port = serveFlags.Port
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	if cfg.Google.ClientID == "" || cfg.Google.ClientSecret == "" {
		log.Warn("GOOGLE_CLIENT_ID or GOOGLE_CLIENT_SECRET not set; sign-in will fail")
	}

	oauth := google.NewHandler(cfg.Google, a.tokens, a.sessions, cfg.App.SessionTTL, log.Named("oauth"))
	router := api.NewRouter(api.Deps{
		OAuth:       oauth,
		Sessions:    a.sessions,
		Credentials: a.credentials,
		Sites:       a.gateway,
		Tokens:      a.tokens,
		Reports:     a.reports,
		Classifier:  a.classifier,
		Log:         log,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("search insights starting",
			zap.String("addr", srv.Addr),
			zap.String("version", version.Version),
			zap.String("intent_mode", cfg.Intent.Mode),
			zap.String("token_write_mode", cfg.Token.WriteMode),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveFlags.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
