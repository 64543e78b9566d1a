package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrank/internal/config"
	"github.com/Aman-CERP/hybridrank/internal/embed"
	amerrors "github.com/Aman-CERP/hybridrank/internal/errors"
	"github.com/Aman-CERP/hybridrank/internal/ingest"
	"github.com/Aman-CERP/hybridrank/internal/output"
	"github.com/Aman-CERP/hybridrank/internal/retrieve"
)

type indexOptions struct {
	force   bool
	format  string
	workers int
	json    bool
}

func newIndexCmd(g *globalOptions) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index <file>...",
		Short: "Index passages from JSONL or text files",
		Long: `Index passages into the data directory.

JSONL files hold one {"id": "...", "text": "..."} object per line; a missing
id is derived from the text. Other files are split into paragraphs at blank
lines. Re-indexing the same text keeps one identity: the last record wins.

Examples:
  hybridrank index passages.jsonl
  hybridrank index notes.txt --format text
  hybridrank index corpus.jsonl --force`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			return runIndex(cmd.Context(), cmd, cfg, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.force, "force", false, "Delete the existing index first")
	cmd.Flags().StringVar(&opts.format, "format", "", "Input format: jsonl or text (default: by extension)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Concurrent embedding batches (default: config or NumCPU)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the result as JSON")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, cfg *config.Config, files []string, opts indexOptions) error {
	out := output.New(cmd.OutOrStdout())

	var format ingest.Format
	switch opts.format {
	case "":
	case string(ingest.FormatJSONL), string(ingest.FormatText):
		format = ingest.Format(opts.format)
	default:
		return amerrors.New(amerrors.ErrCodeInvalidInput, fmt.Sprintf("unknown input format %q", opts.format), nil).
			WithSuggestion("Use --format jsonl or --format text")
	}

	var records []ingest.Record
	for _, path := range files {
		f := format
		if f == ingest.FormatAuto {
			f = ingest.DetectFormat(path)
		}
		recs, err := ingest.ReadFile(path, f)
		if err != nil {
			return err
		}
		slog.Debug("input_read", slog.String("path", path), slog.String("format", string(f)), slog.Int("records", len(recs)))
		records = append(records, recs...)
	}

	embedder, err := embed.New(retrieve.EmbedOptions(cfg))
	if err != nil {
		return amerrors.Wrap(amerrors.ErrCodeEmbeddingFailed, err)
	}
	defer func() { _ = embedder.Close() }()

	workers := cfg.Ingest.Workers
	if opts.workers > 0 {
		workers = opts.workers
	}
	runnerOpts := []ingest.Option{ingest.WithLogger(slog.Default())}
	if !opts.json {
		runnerOpts = append(runnerOpts, ingest.WithProgress(func(done, total int) {
			out.Progress(done, total, "embedding passages")
		}))
	}
	runner, err := ingest.NewRunner(ingest.Config{
		DataDir:     cfg.DataDir,
		BM25Backend: cfg.Retrieval.BM25Backend,
		Workers:     workers,
		BatchSize:   cfg.Ingest.BatchSize,
		Force:       opts.force,
	}, embedder, runnerOpts...)
	if err != nil {
		return err
	}
	defer runner.Release()

	result, err := runner.Run(ctx, records)
	if err != nil {
		return err
	}

	if opts.json {
		return out.JSON(result)
	}
	out.Successf("Indexed %d passages into %s in %s", result.Indexed, cfg.DataDir, result.Duration.Round(time.Millisecond))
	if result.Skipped > 0 {
		out.Warningf("%d records skipped (empty or duplicate text)", result.Skipped)
	}
	if result.Replaced > 0 {
		out.Statusf("", "%d stale passage IDs replaced", result.Replaced)
	}
	return nil
}
