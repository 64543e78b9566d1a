package ensemble

import (
	"context"
	"sort"
	"strings"
)

// Origin identifies which retrieval strategy produced a candidate.
type Origin string

const (
	// OriginLexical marks candidates from term-overlap (BM25) retrieval.
	OriginLexical Origin = "lexical"

	// OriginVector marks candidates from embedding similarity retrieval.
	OriginVector Origin = "vector"
)

// String returns the origin name.
func (o Origin) String() string {
	return string(o)
}

// Query is a single retrieval request.
type Query struct {
	// Text is the query string as issued by the caller.
	Text string

	// TopK bounds how many items each retriever and the reranker return.
	TopK int
}

// NewQuery creates a query with surrounding whitespace removed.
func NewQuery(text string, topK int) Query {
	return Query{Text: strings.TrimSpace(text), TopK: topK}
}

// Candidate is a passage as produced by a retriever.
// It only lives between retrieval and deduplication.
type Candidate struct {
	Text        string
	SourceScore float64
	Origin      Origin
}

// RerankedCandidate is a passage scored by the rerank step.
// A slice of these is ordered by RelevanceScore descending.
type RerankedCandidate struct {
	Text           string
	RelevanceScore float64
}

// RankedResult is the externally visible output unit.
type RankedResult struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// DeduplicatedSet holds unique passage texts with origin and score dropped.
// The zero value is an empty set.
type DeduplicatedSet struct {
	texts map[string]struct{}
}

// Len returns the number of unique texts.
func (s DeduplicatedSet) Len() int {
	return len(s.texts)
}

// Contains reports whether text is in the set.
func (s DeduplicatedSet) Contains(text string) bool {
	_, ok := s.texts[text]
	return ok
}

// Texts returns the unique texts in lexicographic order.
// Order carries no meaning; sorting only keeps scorer input reproducible.
func (s DeduplicatedSet) Texts() []string {
	out := make([]string, 0, len(s.texts))
	for t := range s.texts {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Retriever returns passages ranked by one retrieval strategy.
// Lexical and vector retrieval are both Retrievers.
type Retriever interface {
	// Retrieve returns at most k candidates for the query, best first.
	Retrieve(ctx context.Context, query string, k int) ([]Candidate, error)
}

// RerankScorer orders candidate texts by joint query-passage relevance.
type RerankScorer interface {
	// Score returns at most topN texts from the input, sorted by
	// RelevanceScore descending. An empty input yields an empty result.
	Score(ctx context.Context, query string, texts []string, topN int) ([]RerankedCandidate, error)
}

// IdentityResolver maps a passage text to its stable identifier.
type IdentityResolver interface {
	// Lookup returns the id for text, or an error matching ErrNotFound
	// when the text is unknown.
	Lookup(ctx context.Context, text string) (string, error)
}

// RetrieverFunc adapts a function to the Retriever interface.
type RetrieverFunc func(ctx context.Context, query string, k int) ([]Candidate, error)

// Retrieve calls f.
func (f RetrieverFunc) Retrieve(ctx context.Context, query string, k int) ([]Candidate, error) {
	return f(ctx, query, k)
}

// ScorerFunc adapts a function to the RerankScorer interface.
type ScorerFunc func(ctx context.Context, query string, texts []string, topN int) ([]RerankedCandidate, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, query string, texts []string, topN int) ([]RerankedCandidate, error) {
	return f(ctx, query, texts, topN)
}

// ResolverFunc adapts a function to the IdentityResolver interface.
type ResolverFunc func(ctx context.Context, text string) (string, error)

// Lookup calls f.
func (f ResolverFunc) Lookup(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// MapResolver is a read-only in-memory IdentityResolver keyed by exact text.
type MapResolver map[string]string

// Lookup returns the id stored for text.
func (m MapResolver) Lookup(_ context.Context, text string) (string, error) {
	id, ok := m[text]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

// Verify interface implementations at compile time
var (
	_ Retriever        = RetrieverFunc(nil)
	_ RerankScorer     = ScorerFunc(nil)
	_ IdentityResolver = ResolverFunc(nil)
	_ IdentityResolver = MapResolver(nil)
)
