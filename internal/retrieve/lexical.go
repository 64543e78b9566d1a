// Package retrieve implements the ensemble collaborators over hybridrank's
// stores: BM25 and HNSW retrievers, a reranker-backed scorer, a passage
// registry resolver, and policy wrappers (timeout, retry, circuit breaker)
// that keep those concerns outside the coordinator.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/hybridrank/internal/store"
	"github.com/Aman-CERP/hybridrank/pkg/ensemble"
)

// LexicalRetriever retrieves passages by BM25 term overlap.
type LexicalRetriever struct {
	index    store.BM25Index
	passages store.PassageStore
	logger   *slog.Logger
}

var _ ensemble.Retriever = (*LexicalRetriever)(nil)

// NewLexicalRetriever creates a retriever over index whose document IDs are
// passage IDs in passages.
func NewLexicalRetriever(index store.BM25Index, passages store.PassageStore, logger *slog.Logger) *LexicalRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &LexicalRetriever{index: index, passages: passages, logger: logger}
}

// Retrieve returns at most k passages, best BM25 score first.
func (r *LexicalRetriever) Retrieve(ctx context.Context, query string, k int) ([]ensemble.Candidate, error) {
	if k <= 0 {
		return []ensemble.Candidate{}, nil
	}

	hits, err := r.index.Search(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}

	ids := make([]string, len(hits))
	scores := make([]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.DocID
		scores[i] = h.Score
	}
	return candidatesFor(ctx, r.passages, r.logger, ensemble.OriginLexical, ids, scores)
}

// candidatesFor loads passage texts for ranked ids and keeps their order.
// IDs the registry no longer holds are skipped.
func candidatesFor(
	ctx context.Context,
	passages store.PassageStore,
	logger *slog.Logger,
	origin ensemble.Origin,
	ids []string,
	scores []float64,
) ([]ensemble.Candidate, error) {
	if len(ids) == 0 {
		return []ensemble.Candidate{}, nil
	}

	found, err := passages.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load passages: %w", err)
	}

	out := make([]ensemble.Candidate, 0, len(ids))
	for i, id := range ids {
		p, ok := found[id]
		if !ok {
			logger.Warn("index_registry_drift",
				slog.String("origin", origin.String()),
				slog.String("passage_id", id))
			continue
		}
		out = append(out, ensemble.Candidate{
			Text:        p.Text,
			SourceScore: scores[i],
			Origin:      origin,
		})
	}
	return out, nil
}
