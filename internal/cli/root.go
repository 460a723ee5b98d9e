// Package cli implements the insights command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pysugar/search-insights/internal/version"
)

var globalFlags struct {
	Config string
	DBPath string
	Debug  bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "insights",
		Short: "Search Console analytics dashboard with query-intent classification",
		Long: `insights serves a dashboard over a user's Google Search Console data.

It fetches search-analytics reports with the user's OAuth credentials, caches
them for a day, labels queries with search intent using Gemini, and exports
results as CSV or to Google Sheets.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&globalFlags.Config, "config", "c", "", "Path to config file (default $INSIGHTS_CONFIG or ./config.yaml)")
	root.PersistentFlags().StringVar(&globalFlags.DBPath, "db", "", "Path to SQLite database (overrides config)")
	root.PersistentFlags().BoolVar(&globalFlags.Debug, "debug", false, "Enable debug logging")

	root.AddCommand(newServeCmd(), newClassifyCmd(), newVersionCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "insights", version.String())
		},
	}
}
