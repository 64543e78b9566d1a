package retrieve

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/hybridrank/internal/rerank"
	"github.com/Aman-CERP/hybridrank/pkg/ensemble"
)

// Scorer adapts a rerank.Reranker to ensemble.RerankScorer.
type Scorer struct {
	reranker rerank.Reranker
}

var _ ensemble.RerankScorer = (*Scorer)(nil)

// NewScorer wraps reranker.
func NewScorer(reranker rerank.Reranker) *Scorer {
	return &Scorer{reranker: reranker}
}

// Score reranks texts and maps result indices back to texts.
func (s *Scorer) Score(ctx context.Context, query string, texts []string, topN int) ([]ensemble.RerankedCandidate, error) {
	if len(texts) == 0 || topN <= 0 {
		return []ensemble.RerankedCandidate{}, nil
	}

	results, err := s.reranker.Rerank(ctx, query, texts, topN)
	if err != nil {
		return nil, err
	}

	out := make([]ensemble.RerankedCandidate, 0, len(results))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(texts) {
			return nil, fmt.Errorf("%w: reranker %s returned index %d for %d texts",
				ensemble.ErrMalformedOutput, s.reranker.ModelName(), r.Index, len(texts))
		}
		out = append(out, ensemble.RerankedCandidate{Text: texts[r.Index], RelevanceScore: r.Score})
	}
	return out, nil
}

// Reranker returns the wrapped reranker.
func (s *Scorer) Reranker() rerank.Reranker {
	return s.reranker
}
