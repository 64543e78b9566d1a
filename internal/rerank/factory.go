package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Provider names a reranker backend.
type Provider string

const (
	ProviderHTTP    Provider = "http"
	ProviderOverlap Provider = "overlap"
	ProviderNone    Provider = "none"
)

// Options selects and configures a reranker.
type Options struct {
	Provider        Provider
	Endpoint        string
	Model           string
	Instruction     string
	Format          Format
	Timeout         time.Duration
	SkipHealthCheck bool
	Logger          *slog.Logger
}

// New creates the reranker for opts.
func New(ctx context.Context, opts Options) (Reranker, error) {
	switch opts.Provider {
	case ProviderHTTP, "":
		return NewHTTPReranker(ctx, HTTPConfig{
			Endpoint:        opts.Endpoint,
			Model:           opts.Model,
			Instruction:     opts.Instruction,
			Format:          opts.Format,
			Timeout:         opts.Timeout,
			SkipHealthCheck: opts.SkipHealthCheck,
			Logger:          opts.Logger,
		})
	case ProviderOverlap:
		return OverlapReranker{}, nil
	case ProviderNone:
		return NoOpReranker{}, nil
	default:
		return nil, fmt.Errorf("unknown rerank provider: %s (valid options: http, overlap, none)", opts.Provider)
	}
}
