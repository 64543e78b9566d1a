package embed

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// Weights for the hash features.
const (
	wordWeight    = 0.7
	trigramWeight = 0.3
)

var staticStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "the": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "was": {}, "for": {}, "on": {}, "by": {}, "with": {},
}

// StaticEmbedder hashes words and character trigrams into a fixed-size vector.
// It needs no network or model and is deterministic, so it backs tests and
// offline use. Texts that share words land near each other; synonyms do not.
type StaticEmbedder struct {
	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a hash embedder with StaticDimensions.
func NewStaticEmbedder() *StaticEmbedder {
	return NewStaticEmbedderWithDimensions(StaticDimensions)
}

// NewStaticEmbedderWithDimensions creates a hash embedder of the given size.
func NewStaticEmbedderWithDimensions(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed hashes text into a unit vector. Blank text yields the zero vector.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dims)
	words := staticWords(text)
	if len(words) == 0 {
		return vec, nil
	}

	for _, w := range words {
		vec[bucket(w, e.dims)] += wordWeight
		padded := "^" + w + "$"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			vec[bucket(string(runes[i:i+3]), e.dims)] += trigramWeight
		}
	}
	return normalizeVector(vec), nil
}

// EmbedBatch embeds each text in turn.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the vector size.
func (e *StaticEmbedder) Dimensions() int { return e.dims }

// ModelName returns "static-<dims>".
func (e *StaticEmbedder) ModelName() string {
	if e.dims == StaticDimensions {
		return "static"
	}
	return "static-" + strconv.Itoa(e.dims)
}

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func staticWords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := staticStopWords[f]; !stop {
			out = append(out, f)
		}
	}
	return out
}

func bucket(s string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(n))
}
