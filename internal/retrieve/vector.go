package retrieve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/hybridrank/internal/embed"
	"github.com/Aman-CERP/hybridrank/internal/store"
	"github.com/Aman-CERP/hybridrank/pkg/ensemble"
)

// VectorRetriever retrieves passages by embedding similarity.
type VectorRetriever struct {
	embedder embed.Embedder
	vectors  store.VectorStore
	passages store.PassageStore
	logger   *slog.Logger
}

var _ ensemble.Retriever = (*VectorRetriever)(nil)

// NewVectorRetriever creates a retriever that embeds the query with embedder
// and searches vectors. The embedder must be the one the index was built with.
func NewVectorRetriever(embedder embed.Embedder, vectors store.VectorStore, passages store.PassageStore, logger *slog.Logger) *VectorRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorRetriever{embedder: embedder, vectors: vectors, passages: passages, logger: logger}
}

// Retrieve returns at most k passages, most similar first.
func (r *VectorRetriever) Retrieve(ctx context.Context, query string, k int) ([]ensemble.Candidate, error) {
	if k <= 0 {
		return []ensemble.Candidate{}, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.vectors.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	ids := make([]string, len(hits))
	scores := make([]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		scores[i] = float64(h.Score)
	}
	return candidatesFor(ctx, r.passages, r.logger, ensemble.OriginVector, ids, scores)
}
