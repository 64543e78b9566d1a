package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrank/internal/config"
	amerrors "github.com/Aman-CERP/hybridrank/internal/errors"
	"github.com/Aman-CERP/hybridrank/internal/output"
	"github.com/Aman-CERP/hybridrank/internal/retrieve"
	"github.com/Aman-CERP/hybridrank/internal/store"
	"github.com/Aman-CERP/hybridrank/internal/telemetry"
)

type statsOptions struct {
	days   int
	format string
}

func newStatsCmd(g *globalOptions) *cobra.Command {
	var opts statsOptions

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics and query telemetry",
		Long: `Show passage counts, the embedding model and reranker, and query
telemetry recorded by 'search' and 'serve': totals, failures by stage,
latency buckets and recent zero-result queries.

Examples:
  hybridrank stats
  hybridrank stats --days 30 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			return runStats(cmd.Context(), cmd, cfg, opts)
		},
	}

	cmd.Flags().IntVar(&opts.days, "days", 7, "Telemetry window in days, including today")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts statsOptions) error {
	format, err := output.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	if opts.days < 1 {
		return fmt.Errorf("--days must be at least 1")
	}
	if !store.IndexExists(cfg.DataDir) {
		return amerrors.New(amerrors.ErrCodeIndexMissing, "no index in "+cfg.DataDir, nil).
			WithSuggestion("Run 'hybridrank index <file>' first")
	}

	// Stats never calls the reranker, so skip its health check.
	p, err := retrieve.Open(ctx, cfg, retrieve.WithoutHealthCheck())
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()
	index, err := p.Stats(ctx)
	if err != nil {
		return err
	}

	queries, err := queryHistory(cfg.DataDir, opts.days)
	if err != nil {
		return err
	}
	return output.New(cmd.OutOrStdout()).Stats(&index, queries, format)
}

// queryHistory reads persisted telemetry for the last days. A data dir
// without a telemetry database has no history.
func queryHistory(dataDir string, days int) (*telemetry.Snapshot, error) {
	path := store.TelemetryPath(dataDir)
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	ts, err := telemetry.OpenStore(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ts.Close() }()

	now := time.Now()
	from := now.AddDate(0, 0, -(days - 1)).Format("2006-01-02")
	return telemetry.History(ts, from, now.Format("2006-01-02"), 20)
}
