package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIConfig configures an OpenAI-compatible embedding endpoint
// (OpenAI, Ollama's /v1, LM Studio, vLLM, llama.cpp server).
type OpenAIConfig struct {
	// BaseURL is the API root, e.g. http://localhost:11434/v1.
	BaseURL string
	// Token is the API key. Local servers accept any value.
	Token string
	// Model is the embedding model name.
	Model string
	// Dimensions is the expected vector size; responses of another size are rejected.
	Dimensions int
	// BatchSize is the number of texts per request.
	BatchSize int
}

// OpenAIEmbedder embeds text through langchaingo's OpenAI client.
type OpenAIEmbedder struct {
	embedder embeddings.Embedder
	model    string
	dims     int
	closed   atomic.Bool
	logger   *slog.Logger
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder for cfg.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if cfg.Token == "" {
		cfg.Token = "none"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultOpenAIDimensions
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}

	opts := []openai.Option{
		openai.WithToken(cfg.Token),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}

	emb, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(cfg.BatchSize),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	return &OpenAIEmbedder{
		embedder: emb,
		model:    cfg.Model,
		dims:     cfg.Dimensions,
		logger:   slog.Default().With(slog.String("component", "openai_embedder")),
	}, nil
}

// Embed embeds a query.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	v, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		e.logger.Warn("embed_query_failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if err := e.check(v); err != nil {
		return nil, err
	}
	return normalizeVector(v), nil
}

// EmbedBatch embeds passages.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Warn("embed_documents_failed",
			slog.Int("count", len(texts)),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embed documents: got %d vectors for %d texts", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if err := e.check(v); err != nil {
			return nil, err
		}
		vecs[i] = normalizeVector(v)
	}
	return vecs, nil
}

func (e *OpenAIEmbedder) check(v []float32) error {
	if len(v) != e.dims {
		return fmt.Errorf("model %s returned %d dimensions, configured %d", e.model, len(v), e.dims)
	}
	return nil
}

// Dimensions returns the configured dimension.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model name.
func (e *OpenAIEmbedder) ModelName() string { return e.model }

// Close marks the embedder closed.
func (e *OpenAIEmbedder) Close() error {
	e.closed.Store(true)
	return nil
}
