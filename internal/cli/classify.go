package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pysugar/search-insights/internal/intent"
)

var classifyFlags struct {
	Mode        string
	Limit       int
	Force       bool
	VisibleOnly bool
	JSON        bool
}

func newClassifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify [flags] query...",
		Short: "Classify search queries by intent",
		Long: `Classify search queries by intent, category and funnel stage.

Cached results are reused unless --force is given. Queries that cannot be
analyzed get an Unknown result marked with RateLimitExceeded or AnalysisError.`,
		Example: `  insights classify "buy running shoes" "what is a marathon"
  insights classify --mode per-item --json "nike login"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runClassify,
	}
	cmd.Flags().StringVar(&classifyFlags.Mode, "mode", "", "Classification mode: single or per-item (default from config)")
	cmd.Flags().IntVar(&classifyFlags.Limit, "limit", 0, "Maximum queries sent in single-prompt mode (default from config)")
	cmd.Flags().BoolVar(&classifyFlags.Force, "force", false, "Re-analyze cached queries")
	cmd.Flags().BoolVar(&classifyFlags.VisibleOnly, "all", false, "Lift the single-prompt query cap")
	cmd.Flags().BoolVar(&classifyFlags.JSON, "json", false, "Output as JSON")
	return cmd
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts := intent.Options{
		Mode:        intent.Mode(classifyFlags.Mode),
		Limit:       classifyFlags.Limit,
		Force:       classifyFlags.Force,
		VisibleOnly: classifyFlags.VisibleOnly,
	}
	switch opts.Mode {
	case "", intent.ModeSinglePrompt, intent.ModePerItem:
	default:
		return fmt.Errorf("unknown mode %q", classifyFlags.Mode)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	results := a.classifier.Classify(cmd.Context(), args, opts)
	if classifyFlags.JSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	return writeResultsTable(cmd.OutOrStdout(), results)
}

func writeResultsTable(out io.Writer, results []intent.Result) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "QUERY\tINTENT\tCATEGORY\tSTAGE\tKEYWORDS\tSOURCE")
	for _, r := range results {
		source := r.Source
		if r.Error != "" {
			source += " (" + r.Error + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Query, r.Intent, r.Category, r.FunnelStage, strings.Join(r.MainKeywords, ", "), source)
	}
	return w.Flush()
}
