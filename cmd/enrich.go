package cmd

import (
	"fmt"

	"github.com/ortelius/vulngraph/database"
	"github.com/spf13/cobra"
)

var (
	enrichLimit   int
	enrichWorkers int
	enrichRate    float64
)

// enrichCmd runs one correlation batch
var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Link findings that share a vulnerability vector and a root cause",
	Long: `Selects up to --limit candidate pairs of findings with the same vulnerability
vector, asks the LLM whether each pair shares a root cause and records a
related_to edge for every affirmative answer. Run it again to process more pairs.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runEnrich,
}

func init() {
	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 0, "Maximum candidate pairs per run (overrides ENRICH_BATCH_LIMIT)")
	enrichCmd.Flags().IntVar(&enrichWorkers, "workers", 0, "Concurrent oracle calls (overrides ENRICH_WORKERS)")
	enrichCmd.Flags().Float64Var(&enrichRate, "rate", 0, "Oracle requests per second, 0 for unlimited (overrides ENRICH_RATE_PER_SEC)")
}

func runEnrich(cmd *cobra.Command, _ []string) error {
	if enrichLimit < 0 || enrichWorkers < 0 || enrichRate < 0 {
		return &ExitError{Code: ExitUsage, Message: "--limit, --workers and --rate must not be negative"}
	}
	if enrichLimit > 0 {
		cfg.Enrich.BatchLimit = enrichLimit
	}
	if enrichWorkers > 0 {
		cfg.Enrich.Workers = enrichWorkers
	}
	if enrichRate > 0 {
		cfg.Enrich.RatePerSecond = enrichRate
	}

	ctx := cmd.Context()
	store, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}

	engine, err := newEnrichEngine(store)
	if err != nil {
		return err
	}

	report, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	writeEnrichReport(cmd.OutOrStdout(), report)
	if report.Failed > 0 {
		return &ExitError{Code: ExitFailures, Message: fmt.Sprintf("%d of %d pairs failed", report.Failed, report.Candidates)}
	}
	return nil
}
