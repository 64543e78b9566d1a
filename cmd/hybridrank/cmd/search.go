package cmd

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrank/internal/config"
	amerrors "github.com/Aman-CERP/hybridrank/internal/errors"
	"github.com/Aman-CERP/hybridrank/internal/output"
	"github.com/Aman-CERP/hybridrank/internal/retrieve"
	"github.com/Aman-CERP/hybridrank/internal/store"
	"github.com/Aman-CERP/hybridrank/internal/telemetry"
)

type searchOptions struct {
	topK   int
	format string
}

func newSearchCmd(g *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Retrieve the top passages for a query",
		Long: `Run one query through the hybrid pipeline: BM25 and vector retrieval,
deduplication, cross-encoder reranking and identity resolution.

Examples:
  hybridrank search "transistor radio"
  hybridrank search "portable cassette player" -n 3
  hybridrank search "game console" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			return runSearch(cmd.Context(), cmd, cfg, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "n", 0, "Number of passages to return (default: retrieval.top_k)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, cfg *config.Config, query string, opts searchOptions) error {
	format, err := output.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	if opts.topK < 0 {
		return amerrors.New(amerrors.ErrCodeInvalidTopK, "--top-k must not be negative", nil).
			WithSuggestion("Pass a positive count, or omit -n to use retrieval.top_k")
	}

	metrics, closeMetrics := openTelemetry(cfg, 0)
	defer closeMetrics()

	pipelineOpts := []retrieve.OpenOption{retrieve.WithPipelineLogger(slog.Default())}
	if metrics != nil {
		pipelineOpts = append(pipelineOpts, retrieve.WithPipelineObserver(metrics))
	}
	p, err := retrieve.Open(ctx, cfg, pipelineOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	start := time.Now()
	results, err := p.Retrieve(ctx, query, opts.topK)
	if err != nil {
		return err
	}
	slog.Info("search_complete",
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)))

	return output.New(cmd.OutOrStdout()).Results(query, results, format)
}

// openTelemetry opens the telemetry store under the data directory. Telemetry
// is best-effort: on failure the command runs without it. A zero flush
// interval flushes only on close.
func openTelemetry(cfg *config.Config, flush time.Duration) (*telemetry.Metrics, func()) {
	if !store.IndexExists(cfg.DataDir) {
		return nil, func() {}
	}
	ts, err := telemetry.OpenStore(store.TelemetryPath(cfg.DataDir))
	if err != nil {
		slog.Warn("telemetry_unavailable", slog.String("error", err.Error()))
		return nil, func() {}
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.FlushInterval = flush
	tcfg.Logger = slog.Default()
	metrics := telemetry.New(ts, tcfg)
	return metrics, func() {
		if err := metrics.Close(); err != nil {
			slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
		}
		_ = ts.Close()
	}
}
