package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Aman-CERP/hybridrank/internal/config"
	"github.com/Aman-CERP/hybridrank/internal/embed"
	amerrors "github.com/Aman-CERP/hybridrank/internal/errors"
	"github.com/Aman-CERP/hybridrank/internal/rerank"
	"github.com/Aman-CERP/hybridrank/internal/store"
	"github.com/Aman-CERP/hybridrank/pkg/ensemble"
)

// MaxQueryLength is the longest query, in characters, the outer surfaces accept.
const MaxQueryLength = 2048

// Pipeline is an opened data directory wired into a Coordinator.
type Pipeline struct {
	Coordinator *ensemble.Coordinator
	Passages    store.PassageStore
	Lexical     store.BM25Index
	Vectors     *store.HNSWStore
	Embedder    embed.Embedder
	Reranker    rerank.Reranker
	Resolver    *PassageResolver

	// Breaker is nil when the rerank breaker is disabled.
	Breaker *amerrors.CircuitBreaker

	cfg    *config.Config
	logger *slog.Logger
}

type openOptions struct {
	logger          *slog.Logger
	observer        ensemble.Observer
	skipHealthCheck bool
}

// OpenOption configures Open.
type OpenOption func(*openOptions)

// WithPipelineLogger sets the logger for every component.
func WithPipelineLogger(logger *slog.Logger) OpenOption {
	return func(o *openOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPipelineObserver receives a trace per Retrieve call.
func WithPipelineObserver(obs ensemble.Observer) OpenOption {
	return func(o *openOptions) {
		o.observer = obs
	}
}

// WithoutHealthCheck skips the rerank service probe at startup.
func WithoutHealthCheck() OpenOption {
	return func(o *openOptions) {
		o.skipHealthCheck = true
	}
}

// Open opens the stores under cfg.DataDir and builds the coordinator with
// timeout, retry and breaker policies from cfg.
func Open(ctx context.Context, cfg *config.Config, opts ...OpenOption) (_ *Pipeline, err error) {
	o := openOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	if !store.IndexExists(cfg.DataDir) {
		return nil, amerrors.New(amerrors.ErrCodeIndexMissing,
			fmt.Sprintf("no index in %s", cfg.DataDir), nil).
			WithSuggestion("Run 'hybridrank index <file>' first")
	}

	p := &Pipeline{cfg: cfg, logger: o.logger}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()

	passages, err := store.NewPassageStore(store.PassageStorePath(cfg.DataDir))
	if err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeRegistryFailed, err)
	}
	p.Passages = passages

	backend := cfg.Retrieval.BM25Backend
	if detected := store.DetectBM25Backend(cfg.DataDir); detected != "" && string(detected) != backend {
		o.logger.Warn("bm25_backend_override",
			slog.String("configured", backend),
			slog.String("detected", string(detected)))
		backend = string(detected)
	}
	lexicalIndex, err := store.NewBM25Index(cfg.DataDir, store.DefaultBM25Config(), backend)
	if err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeCorruptIndex, err)
	}
	p.Lexical = lexicalIndex

	embedder, err := embed.New(EmbedOptions(cfg))
	if err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeEmbeddingFailed, err)
	}
	p.Embedder = embedder
	if err := checkEmbeddingState(ctx, p.Passages, embedder, o.logger); err != nil {
		return nil, err
	}

	p.Vectors, err = store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	if err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeCorruptIndex, err)
	}
	if err := p.Vectors.Load(store.VectorStorePath(cfg.DataDir)); err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeCorruptIndex, err)
	}

	reranker, err := rerank.New(ctx, RerankOptions(cfg, o.skipHealthCheck, o.logger))
	if err != nil {
		return nil, amerrors.NetworkError("rerank service unavailable", err).
			WithSuggestion("Start the rerank service or set rerank.provider to 'overlap'")
	}
	p.Reranker = reranker

	p.Resolver = NewPassageResolver(p.Passages, cfg.Retrieval.ResolverCacheSize)
	if cfg.Rerank.BreakerFailures > 0 {
		p.Breaker = amerrors.NewCircuitBreaker("rerank",
			amerrors.WithMaxFailures(cfg.Rerank.BreakerFailures),
			amerrors.WithResetTimeout(cfg.Rerank.BreakerReset))
	}

	lexical, vector, scorer := p.collaborators()

	copts := []ensemble.Option{
		ensemble.WithLogger(o.logger),
		ensemble.WithResolveConcurrency(cfg.Retrieval.ResolveConcurrency),
	}
	if cfg.Retrieval.NormalizeDedup {
		copts = append(copts, ensemble.WithDeduplicator(ensemble.NewDeduplicator(ensemble.WithNormalizedKeys())))
	}
	if o.observer != nil {
		copts = append(copts, ensemble.WithObserver(o.observer))
	}
	p.Coordinator, err = ensemble.NewCoordinator(lexical, vector, scorer, p.Resolver, copts...)
	if err != nil {
		return nil, err
	}

	o.logger.Info("pipeline_opened",
		slog.String("data_dir", cfg.DataDir),
		slog.String("bm25_backend", backend),
		slog.String("embedder", embedder.ModelName()),
		slog.String("reranker", p.Reranker.ModelName()),
		slog.Int("vectors", p.Vectors.Count()))
	return p, nil
}

// collaborators wraps the concrete retrievers and scorer in their policies.
// Breaker sits inside retry so an open circuit is not retried.
func (p *Pipeline) collaborators() (lexical, vector ensemble.Retriever, scorer ensemble.RerankScorer) {
	rc := p.cfg.Retrieval
	lexical = WithTimeout(NewLexicalRetriever(p.Lexical, p.Passages, p.logger), rc.LexicalTimeout)

	vector = WithTimeout(NewVectorRetriever(p.Embedder, p.Vectors, p.Passages, p.logger), rc.VectorTimeout)
	if rc.Retries > 0 {
		vector = RetryingRetriever(vector, retryConfig(rc.Retries))
	}

	scorer = ScorerWithTimeout(NewScorer(p.Reranker), p.cfg.Rerank.Timeout)
	if p.Breaker != nil {
		scorer = BreakerScorer(scorer, p.Breaker)
	}
	if p.cfg.Rerank.Retries > 0 {
		scorer = RetryingScorer(scorer, retryConfig(p.cfg.Rerank.Retries))
	}
	return lexical, vector, scorer
}

func retryConfig(retries int) amerrors.RetryConfig {
	cfg := amerrors.DefaultRetryConfig()
	cfg.MaxRetries = retries
	return cfg
}

// EmbedOptions maps the embeddings section of cfg to embed.Options.
func EmbedOptions(cfg *config.Config) embed.Options {
	return embed.Options{
		Provider:   embed.Provider(cfg.Embeddings.Provider),
		BaseURL:    cfg.Embeddings.Endpoint,
		Token:      cfg.Embeddings.Token,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
		CacheSize:  cfg.Embeddings.CacheSize,
	}
}

// RerankOptions maps the rerank section of cfg to reranker options.
func RerankOptions(cfg *config.Config, skipHealthCheck bool, logger *slog.Logger) rerank.Options {
	return rerank.Options{
		Provider:        rerank.Provider(cfg.Rerank.Provider),
		Endpoint:        cfg.Rerank.Endpoint,
		Model:           cfg.Rerank.Model,
		Instruction:     cfg.Rerank.Instruction,
		Format:          rerank.Format(cfg.Rerank.Format),
		Timeout:         cfg.Rerank.Timeout,
		SkipHealthCheck: skipHealthCheck,
		Logger:          logger,
	}
}

// checkEmbeddingState fails when the index was built with another embedder.
func checkEmbeddingState(ctx context.Context, passages store.PassageStore, e embed.Embedder, logger *slog.Logger) error {
	model, err := passages.GetState(ctx, store.StateKeyEmbeddingModel)
	if err != nil {
		return amerrors.Wrap(amerrors.ErrCodeRegistryFailed, err)
	}
	dims, err := passages.GetState(ctx, store.StateKeyEmbeddingDimensions)
	if err != nil {
		return amerrors.Wrap(amerrors.ErrCodeRegistryFailed, err)
	}

	if dims != "" && dims != strconv.Itoa(e.Dimensions()) {
		return amerrors.New(amerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index has %s-dimensional vectors, embedder %s produces %d", dims, e.ModelName(), e.Dimensions()), nil).
			WithSuggestion("Rebuild with 'hybridrank index --force' or restore the embeddings config")
	}
	if model != "" && model != e.ModelName() {
		logger.Warn("embedding_model_changed",
			slog.String("indexed_with", model),
			slog.String("current", e.ModelName()))
	}
	return nil
}

// TopK maps a caller-supplied top_k to the value passed to the coordinator:
// 0 selects the configured default and values above max_top_k are capped.
func (p *Pipeline) TopK(requested int) int {
	return EffectiveTopK(p.cfg.Retrieval, requested)
}

// EffectiveTopK applies the retrieval defaults to requested.
func EffectiveTopK(rc config.RetrievalConfig, requested int) int {
	switch {
	case requested == 0:
		return rc.TopK
	case rc.MaxTopK > 0 && requested > rc.MaxTopK:
		return rc.MaxTopK
	default:
		return requested
	}
}

// CheckQuery validates a query from an outer surface.
func CheckQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return amerrors.New(amerrors.ErrCodeQueryEmpty, "query must not be empty", ensemble.ErrEmptyQuery)
	}
	if n := utf8.RuneCountInString(query); n > MaxQueryLength {
		return amerrors.New(amerrors.ErrCodeQueryTooLong,
			fmt.Sprintf("query is %d characters, limit is %d", n, MaxQueryLength), nil)
	}
	return nil
}

// Retrieve validates query, applies the top_k defaults and runs the coordinator.
func (p *Pipeline) Retrieve(ctx context.Context, query string, topK int) ([]ensemble.RankedResult, error) {
	if err := CheckQuery(query); err != nil {
		return nil, err
	}
	return p.Coordinator.Retrieve(ctx, query, p.TopK(topK))
}

// IndexStats describes an opened data directory.
type IndexStats struct {
	DataDir        string `json:"data_dir"`
	Passages       int    `json:"passages"`
	LexicalDocs    int    `json:"lexical_docs"`
	Vectors        int    `json:"vectors"`
	EmbeddingModel string `json:"embedding_model"`
	Dimensions     int    `json:"dimensions"`
	Reranker       string `json:"reranker"`
	RerankCircuit  string `json:"rerank_circuit,omitempty"`
}

// Stats reports index sizes and component names.
func (p *Pipeline) Stats(ctx context.Context) (IndexStats, error) {
	n, err := p.Passages.Count(ctx)
	if err != nil {
		return IndexStats{}, fmt.Errorf("count passages: %w", err)
	}
	s := IndexStats{
		DataDir:        p.cfg.DataDir,
		Passages:       n,
		LexicalDocs:    p.Lexical.Count(),
		Vectors:        p.Vectors.Count(),
		EmbeddingModel: p.Embedder.ModelName(),
		Dimensions:     p.Embedder.Dimensions(),
		Reranker:       p.Reranker.ModelName(),
	}
	if p.Breaker != nil {
		s.RerankCircuit = p.Breaker.State().String()
	}
	return s, nil
}

// Close closes every opened component.
func (p *Pipeline) Close() error {
	var errs []error
	if p.Reranker != nil {
		errs = append(errs, p.Reranker.Close())
	}
	if p.Vectors != nil {
		errs = append(errs, p.Vectors.Close())
	}
	if p.Embedder != nil {
		errs = append(errs, p.Embedder.Close())
	}
	if p.Lexical != nil {
		errs = append(errs, p.Lexical.Close())
	}
	if p.Passages != nil {
		errs = append(errs, p.Passages.Close())
	}
	return errors.Join(errs...)
}
