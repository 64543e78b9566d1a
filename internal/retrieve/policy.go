package retrieve

import (
	"context"
	"errors"
	"time"

	amerrors "github.com/Aman-CERP/hybridrank/internal/errors"
	"github.com/Aman-CERP/hybridrank/internal/rerank"
	"github.com/Aman-CERP/hybridrank/pkg/ensemble"
)

// WithTimeout bounds each call to r by d. d <= 0 returns r unchanged.
func WithTimeout(r ensemble.Retriever, d time.Duration) ensemble.Retriever {
	if d <= 0 {
		return r
	}
	return ensemble.RetrieverFunc(func(ctx context.Context, query string, k int) ([]ensemble.Candidate, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return r.Retrieve(ctx, query, k)
	})
}

// ScorerWithTimeout bounds each call to s by d. d <= 0 returns s unchanged.
func ScorerWithTimeout(s ensemble.RerankScorer, d time.Duration) ensemble.RerankScorer {
	if d <= 0 {
		return s
	}
	return ensemble.ScorerFunc(func(ctx context.Context, query string, texts []string, topN int) ([]ensemble.RerankedCandidate, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return s.Score(ctx, query, texts, topN)
	})
}

// Transient reports whether err may succeed on another attempt. Contract
// violations, closed components, cancellation and an open circuit do not.
func Transient(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, ensemble.ErrMalformedOutput),
		errors.Is(err, rerank.ErrInvalidResponse),
		errors.Is(err, rerank.ErrClosed),
		errors.Is(err, amerrors.ErrCircuitOpen):
		return false
	}
	return true
}

func withDefaultPredicate(cfg amerrors.RetryConfig) amerrors.RetryConfig {
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = Transient
	}
	return cfg
}

// RetryingRetriever retries transient failures of r.
func RetryingRetriever(r ensemble.Retriever, cfg amerrors.RetryConfig) ensemble.Retriever {
	cfg = withDefaultPredicate(cfg)
	return ensemble.RetrieverFunc(func(ctx context.Context, query string, k int) ([]ensemble.Candidate, error) {
		return amerrors.Retry(ctx, cfg, func() ([]ensemble.Candidate, error) {
			return r.Retrieve(ctx, query, k)
		})
	})
}

// RetryingScorer retries transient failures of s.
func RetryingScorer(s ensemble.RerankScorer, cfg amerrors.RetryConfig) ensemble.RerankScorer {
	cfg = withDefaultPredicate(cfg)
	return ensemble.ScorerFunc(func(ctx context.Context, query string, texts []string, topN int) ([]ensemble.RerankedCandidate, error) {
		return amerrors.Retry(ctx, cfg, func() ([]ensemble.RerankedCandidate, error) {
			return s.Score(ctx, query, texts, topN)
		})
	})
}

// BreakerScorer fails fast with amerrors.ErrCircuitOpen while cb is open.
func BreakerScorer(s ensemble.RerankScorer, cb *amerrors.CircuitBreaker) ensemble.RerankScorer {
	return ensemble.ScorerFunc(func(ctx context.Context, query string, texts []string, topN int) ([]ensemble.RerankedCandidate, error) {
		return amerrors.CircuitExecute(cb, func() ([]ensemble.RerankedCandidate, error) {
			return s.Score(ctx, query, texts, topN)
		})
	})
}
