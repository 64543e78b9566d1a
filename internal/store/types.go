// Package store persists passages and the lexical and vector indexes built over them.
//
// Three stores share a passage ID space:
//   - PassageStore holds the passage text and is the identity registry (text -> id)
//   - BM25Index answers term-overlap queries over passage text
//   - VectorStore answers nearest-neighbour queries over passage embeddings
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a passage or text is not in the registry.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)

// State keys for the passage registry.
const (
	// StateKeyEmbeddingModel stores the embedding model used to build the vector index.
	StateKeyEmbeddingModel = "embedding_model"
	// StateKeyEmbeddingDimensions stores the embedding dimension of the vector index.
	StateKeyEmbeddingDimensions = "embedding_dimensions"
)

// Passage is a retrievable unit of text with a stable identifier.
type Passage struct {
	ID        string
	Text      string
	Source    string // Origin file or collection, informational
	CreatedAt time.Time
}

// PassageStore persists passages and resolves text to identity.
type PassageStore interface {
	// Save inserts or replaces passages. When a text is saved under a new ID
	// the previous ID for that text is dropped.
	Save(ctx context.Context, passages []*Passage) error

	// Get returns a passage by ID.
	Get(ctx context.Context, id string) (*Passage, error)

	// GetMany returns the passages found for ids. Missing IDs are absent from the map.
	GetMany(ctx context.Context, ids []string) (map[string]*Passage, error)

	// LookupID returns the ID stored for the exact text, or ErrNotFound.
	LookupID(ctx context.Context, text string) (string, error)

	// Count returns the number of passages.
	Count(ctx context.Context) (int, error)

	// GetState and SetState are a small key-value store for index metadata.
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}

// Document is a passage as handed to a BM25 index.
type Document struct {
	ID      string
	Content string
}

// BM25Result is a single BM25 hit.
type BM25Result struct {
	DocID        string
	Score        float64 // Higher is better
	MatchedTerms []string
}

// BM25Index provides term-overlap search.
type BM25Index interface {
	// Index adds or replaces documents.
	Index(ctx context.Context, docs []*Document) error

	// Search returns at most limit documents matching any query term, best first.
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	// Delete removes documents.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of indexed documents.
	Count() int

	Close() error
}

// BM25Config configures text analysis for the BM25 indexes.
type BM25Config struct {
	// StopWords are dropped at index and query time.
	StopWords []string

	// MinTokenLength is the shortest token kept (default: 2).
	MinTokenLength int
}

// DefaultBM25Config returns English prose defaults.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords is a short English stop list.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"in", "is", "it", "of", "on", "or", "that", "the", "this", "to",
	"was", "were", "what", "which", "who", "with",
}

// VectorResult is a single nearest-neighbour hit.
type VectorResult struct {
	ID       string
	Distance float32 // Lower is closer
	Score    float32 // Similarity in [0,1]
}

// VectorStoreConfig configures the HNSW vector store.
type VectorStoreConfig struct {
	// Dimensions is the embedding dimension.
	Dimensions int

	// Metric is "cos" or "l2" (default: "cos").
	Metric string

	// M is the maximum neighbours per node (default: 16).
	M int

	// EfSearch is the query-time candidate list size (default: 20).
	EfSearch int
}

// DefaultVectorStoreConfig returns defaults for the given dimension.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// VectorStore provides approximate nearest-neighbour search.
type VectorStore interface {
	// Add inserts vectors. An existing ID is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search returns the k nearest IDs to query, closest first.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of live vectors.
	Count() int

	Save(path string) error
	Load(path string) error
	Close() error
}

// DimensionMismatchError reports a vector of the wrong dimension.
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (rebuild with 'hybridrank index --force')", e.Expected, e.Got)
}
