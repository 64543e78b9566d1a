package ensemble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultResolveConcurrency bounds parallel identity lookups per query.
const DefaultResolveConcurrency = 8

// Trace records what happened during one Retrieve call.
type Trace struct {
	Query        string
	TopK         int
	LexicalCount int
	VectorCount  int
	UniqueCount  int
	ResultCount  int

	Retrieval time.Duration // both retrievers, joined
	Rerank    time.Duration
	Resolve   time.Duration
	Total     time.Duration

	// Err is the error returned to the caller, nil on success.
	Err error
}

// Observer receives a Trace after every Retrieve call.
type Observer interface {
	ObserveRetrieve(Trace)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Trace)

// ObserveRetrieve calls f.
func (f ObserverFunc) ObserveRetrieve(t Trace) {
	f(t)
}

// Coordinator fuses lexical and vector retrieval and reranks the union.
type Coordinator struct {
	lexical  Retriever
	vector   Retriever
	scorer   RerankScorer
	resolver IdentityResolver

	dedup              *Deduplicator
	observer           Observer
	resolveConcurrency int
	logger             *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDeduplicator replaces the exact-text deduplicator.
func WithDeduplicator(d *Deduplicator) Option {
	return func(c *Coordinator) {
		if d != nil {
			c.dedup = d
		}
	}
}

// WithObserver registers an observer for per-query traces.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observer = o
	}
}

// WithResolveConcurrency bounds parallel identity lookups. n <= 0 keeps the default.
func WithResolveConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.resolveConcurrency = n
		}
	}
}

// NewCoordinator creates a Coordinator over the four collaborators.
// Returns an error wrapping ErrNilDependency if any is nil.
func NewCoordinator(
	lexical Retriever,
	vector Retriever,
	scorer RerankScorer,
	resolver IdentityResolver,
	opts ...Option,
) (*Coordinator, error) {
	if lexical == nil {
		return nil, fmt.Errorf("%w: lexical retriever is required", ErrNilDependency)
	}
	if vector == nil {
		return nil, fmt.Errorf("%w: vector retriever is required", ErrNilDependency)
	}
	if scorer == nil {
		return nil, fmt.Errorf("%w: rerank scorer is required", ErrNilDependency)
	}
	if resolver == nil {
		return nil, fmt.Errorf("%w: identity resolver is required", ErrNilDependency)
	}

	c := &Coordinator{
		lexical:            lexical,
		vector:             vector,
		scorer:             scorer,
		resolver:           resolver,
		dedup:              NewDeduplicator(),
		resolveConcurrency: DefaultResolveConcurrency,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Retrieve returns at most topK results for query, in reranker order.
//
// Both retrievers are asked for topK candidates concurrently. Their union,
// deduplicated by text, is scored by the reranker with topN = topK, and each
// reranked text is resolved to its id. The reranker's order and scores are
// passed through unchanged.
//
// topK <= 0 returns an empty result without calling any collaborator.
func (c *Coordinator) Retrieve(ctx context.Context, query string, topK int) (results []RankedResult, err error) {
	start := time.Now()
	q := NewQuery(query, topK)
	trace := Trace{Query: q.Text, TopK: q.TopK}
	defer func() {
		trace.Err = err
		trace.ResultCount = len(results)
		trace.Total = time.Since(start)
		c.finish(trace)
	}()

	if q.Text == "" {
		return nil, ErrEmptyQuery
	}
	if q.TopK <= 0 {
		return []RankedResult{}, nil
	}

	// Step 1: independent retrievals, joined before merge
	retrievalStart := time.Now()
	lexical, vector, err := c.retrieveBoth(ctx, q)
	trace.Retrieval = time.Since(retrievalStart)
	if err != nil {
		return nil, err
	}
	trace.LexicalCount = len(lexical)
	trace.VectorCount = len(vector)

	// Step 2: merge
	set := c.dedup.Merge(lexical, vector)
	trace.UniqueCount = set.Len()
	if set.Len() == 0 {
		return []RankedResult{}, nil
	}

	// Step 3: rerank is the single source of final order
	rerankStart := time.Now()
	reranked, err := c.scorer.Score(ctx, q.Text, set.Texts(), q.TopK)
	trace.Rerank = time.Since(rerankStart)
	if err != nil {
		return nil, &StageError{Stage: StageRerank, Err: err}
	}
	if err := validateReranked(reranked, set, q.TopK); err != nil {
		return nil, &StageError{Stage: StageRerank, Err: err}
	}

	// Steps 4-5: resolve ids, keep rerank order
	resolveStart := time.Now()
	results, err = c.resolve(ctx, reranked)
	trace.Resolve = time.Since(resolveStart)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// retrieveBoth runs lexical and vector retrieval concurrently.
// The first failure cancels the other call.
func (c *Coordinator) retrieveBoth(ctx context.Context, q Query) (lexical, vector []Candidate, err error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		res, err := c.lexical.Retrieve(gctx, q.Text, q.TopK)
		if err != nil {
			return &StageError{Stage: StageLexicalRetrieval, Err: err}
		}
		if len(res) > q.TopK {
			return &StageError{Stage: StageLexicalRetrieval,
				Err: fmt.Errorf("%w: %d candidates for k=%d", ErrMalformedOutput, len(res), q.TopK)}
		}
		lexical = res
		return nil
	})

	g.Go(func() error {
		res, err := c.vector.Retrieve(gctx, q.Text, q.TopK)
		if err != nil {
			return &StageError{Stage: StageVectorRetrieval, Err: err}
		}
		if len(res) > q.TopK {
			return &StageError{Stage: StageVectorRetrieval,
				Err: fmt.Errorf("%w: %d candidates for k=%d", ErrMalformedOutput, len(res), q.TopK)}
		}
		vector = res
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return lexical, vector, nil
}

// validateReranked enforces the scorer contract: at most topN items, each a
// member of the candidate set, none repeated.
func validateReranked(reranked []RerankedCandidate, set DeduplicatedSet, topN int) error {
	if len(reranked) > topN {
		return fmt.Errorf("%w: %d results for topN=%d", ErrMalformedOutput, len(reranked), topN)
	}
	seen := make(map[string]struct{}, len(reranked))
	for i, r := range reranked {
		if !set.Contains(r.Text) {
			return fmt.Errorf("%w: result %d is not a submitted candidate", ErrMalformedOutput, i)
		}
		if _, dup := seen[r.Text]; dup {
			return fmt.Errorf("%w: result %d repeats a passage", ErrMalformedOutput, i)
		}
		seen[r.Text] = struct{}{}
	}
	return nil
}

// resolve looks up ids with bounded parallelism and assembles results in
// the given order. Any miss fails the whole query.
func (c *Coordinator) resolve(ctx context.Context, reranked []RerankedCandidate) ([]RankedResult, error) {
	results := make([]RankedResult, len(reranked))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.resolveConcurrency)
	for i, r := range reranked {
		g.Go(func() error {
			id, err := c.resolver.Lookup(gctx, r.Text)
			if err != nil {
				return &StageError{Stage: StageIdentityResolution, Text: r.Text, Err: err}
			}
			results[i] = RankedResult{ID: id, Text: r.Text, Score: r.RelevanceScore}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Coordinator) finish(t Trace) {
	if t.Err != nil {
		c.logger.Warn("retrieve_failed",
			slog.String("query", truncate(t.Query, 50)),
			slog.Int("top_k", t.TopK),
			slog.String("error", t.Err.Error()),
			slog.Duration("total", t.Total))
	} else {
		c.logger.Debug("retrieve_complete",
			slog.String("query", truncate(t.Query, 50)),
			slog.Int("top_k", t.TopK),
			slog.Int("lexical_count", t.LexicalCount),
			slog.Int("vector_count", t.VectorCount),
			slog.Int("unique_count", t.UniqueCount),
			slog.Int("result_count", t.ResultCount),
			slog.Duration("retrieval", t.Retrieval),
			slog.Duration("rerank", t.Rerank),
			slog.Duration("resolve", t.Resolve),
			slog.Duration("total", t.Total))
	}
	if c.observer != nil {
		c.observer.ObserveRetrieve(t)
	}
}
