package rerank

import (
	"context"
	"strings"
	"unicode"
)

// OverlapReranker scores documents by how many distinct query terms they
// contain. It needs no model, so it stands in for a cross-encoder offline
// and in tests. Scores are in [0,1].
type OverlapReranker struct{}

var _ Reranker = OverlapReranker{}

// Rerank scores 0.9 * query-term coverage + 0.1 * matched-term density.
func (OverlapReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(documents) == 0 {
		return []Result{}, nil
	}

	q := termSet(query)
	results := make([]Result, len(documents))
	for i, doc := range documents {
		results[i] = Result{Index: i, Score: overlapScore(q, terms(doc))}
	}
	sortResults(results)
	return limit(results, topK), nil
}

func overlapScore(query map[string]struct{}, doc []string) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	matched := make(map[string]struct{})
	hits := 0
	for _, t := range doc {
		if _, ok := query[t]; ok {
			matched[t] = struct{}{}
			hits++
		}
	}
	coverage := float64(len(matched)) / float64(len(query))
	density := float64(hits) / float64(len(doc))
	return 0.9*coverage + 0.1*density
}

// ModelName returns "overlap".
func (OverlapReranker) ModelName() string { return "overlap" }

// Available always returns true.
func (OverlapReranker) Available(context.Context) bool { return true }

// Close is a no-op.
func (OverlapReranker) Close() error { return nil }

func terms(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func termSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range terms(s) {
		set[t] = struct{}{}
	}
	return set
}
