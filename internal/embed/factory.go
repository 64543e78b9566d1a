package embed

import (
	"fmt"
	"strings"
)

// Provider names an embedding backend.
type Provider string

const (
	// ProviderStatic uses the offline hash embedder.
	ProviderStatic Provider = "static"

	// ProviderOpenAI uses an OpenAI-compatible HTTP endpoint.
	ProviderOpenAI Provider = "openai"
)

// Options selects and configures an embedder.
type Options struct {
	Provider   Provider
	BaseURL    string
	Token      string
	Model      string
	Dimensions int
	BatchSize  int

	// CacheSize bounds the query embedding cache. Negative disables caching.
	CacheSize int
}

// New creates the embedder for opts, wrapped in a CachedEmbedder unless disabled.
func New(opts Options) (Embedder, error) {
	var e Embedder
	switch Provider(strings.ToLower(string(opts.Provider))) {
	case ProviderStatic, "":
		e = NewStaticEmbedderWithDimensions(opts.Dimensions)
	case ProviderOpenAI:
		oe, err := NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    opts.BaseURL,
			Token:      opts.Token,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
			BatchSize:  opts.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		e = oe
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (valid options: static, openai)", opts.Provider)
	}

	if opts.CacheSize < 0 {
		return e, nil
	}
	return NewCachedEmbedder(e, opts.CacheSize), nil
}
