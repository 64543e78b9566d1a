// Package rerank scores query-passage pairs with a cross-encoder and
// returns the passages in relevance order.
package rerank

import (
	"context"
	"errors"
	"sort"
)

var (
	// ErrClosed is returned by a closed reranker.
	ErrClosed = errors.New("reranker is closed")

	// ErrInvalidResponse is returned when a rerank service answers with
	// indexes or counts that do not fit the request.
	ErrInvalidResponse = errors.New("invalid rerank response")
)

// Result is one scored document.
type Result struct {
	// Index is the position in the input documents slice.
	Index int
	// Score is the relevance score, higher is better.
	Score float64
}

// Reranker orders documents by relevance to a query.
// Cross-encoders read query and document together, which is slower but far
// more precise than comparing independently computed embeddings.
type Reranker interface {
	// Rerank returns results sorted by Score descending. topK > 0 limits the
	// result count; topK <= 0 returns every document. An empty documents
	// slice returns an empty result without contacting any backend.
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error)

	// ModelName identifies the scoring model.
	ModelName() string

	// Available reports whether the backend is reachable.
	Available(ctx context.Context) bool

	Close() error
}

// NoOpReranker keeps input order with scores 1.0, 0.99, 0.98, ...
type NoOpReranker struct{}

var _ Reranker = NoOpReranker{}

// Rerank returns documents in input order.
func (NoOpReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]Result, error) {
	results := make([]Result, len(documents))
	for i := range documents {
		results[i] = Result{Index: i, Score: 1.0 - float64(i)*0.01}
	}
	return limit(results, topK), nil
}

// ModelName returns "none".
func (NoOpReranker) ModelName() string { return "none" }

// Available always returns true.
func (NoOpReranker) Available(context.Context) bool { return true }

// Close is a no-op.
func (NoOpReranker) Close() error { return nil }

// sortResults orders by score descending, lower index first on ties.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Index < results[j].Index
	})
}

func limit(results []Result, topK int) []Result {
	if topK > 0 && topK < len(results) {
		return results[:topK]
	}
	return results
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
