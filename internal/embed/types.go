// Package embed turns query and passage text into vectors for the vector retriever.
package embed

import (
	"context"
	"errors"
	"math"
)

const (
	// DefaultBatchSize is the number of texts sent per embedding request.
	DefaultBatchSize = 32

	// MaxBatchSize caps a single request.
	MaxBatchSize = 256

	// StaticDimensions is the dimension of the hash embedder.
	StaticDimensions = 256

	// DefaultOpenAIDimensions matches nomic-embed-text and similar 768-d models.
	DefaultOpenAIDimensions = 768
)

// ErrClosed is returned by a closed embedder.
var ErrClosed = errors.New("embedder is closed")

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed returns the embedding of a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one embedding per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName identifies the model; vectors from different models are not comparable.
	ModelName() string

	Close() error
}

// normalizeVector returns v scaled to unit length. A zero vector is returned as is.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	mag := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / mag)
	}
	return out
}
