package retrieve

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrank/internal/embed"
	amerrors "github.com/Aman-CERP/hybridrank/internal/errors"
	"github.com/Aman-CERP/hybridrank/internal/rerank"
	"github.com/Aman-CERP/hybridrank/internal/store"
	"github.com/Aman-CERP/hybridrank/pkg/ensemble"
)

var corpus = []*store.Passage{
	{ID: "tr55", Text: "Sony released the TR-55 transistor radio in 1955."},
	{ID: "walkman", Text: "The Walkman portable cassette player shipped in 1979."},
	{ID: "betamax", Text: "Betamax lost the videotape format war to VHS."},
	{ID: "psx", Text: "The PlayStation game console launched in Japan in 1994."},
}

type fixture struct {
	passages *store.SQLitePassageStore
	bm25     store.BM25Index
	vectors  *store.HNSWStore
	embedder embed.Embedder
}

// newFixture indexes corpus into in-memory stores. Extra BM25-only
// documents simulate index entries the registry no longer holds.
func newFixture(t *testing.T, orphans ...*store.Document) *fixture {
	t.Helper()
	ctx := context.Background()

	passages, err := store.NewPassageStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = passages.Close() })
	require.NoError(t, passages.Save(ctx, corpus))

	bm25, err := store.NewSQLiteBM25Index("", store.DefaultBM25Config())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bm25.Close() })

	embedder := embed.NewStaticEmbedder()
	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	docs := make([]*store.Document, 0, len(corpus)+len(orphans))
	ids := make([]string, 0, len(corpus))
	texts := make([]string, 0, len(corpus))
	for _, p := range corpus {
		docs = append(docs, &store.Document{ID: p.ID, Content: p.Text})
		ids = append(ids, p.ID)
		texts = append(texts, p.Text)
	}
	docs = append(docs, orphans...)
	require.NoError(t, bm25.Index(ctx, docs))

	vecs, err := embedder.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.NoError(t, vectors.Add(ctx, ids, vecs))

	return &fixture{passages: passages, bm25: bm25, vectors: vectors, embedder: embedder}
}

func TestLexicalRetriever_Retrieve(t *testing.T) {
	// Given: an indexed corpus
	f := newFixture(t)
	r := NewLexicalRetriever(f.bm25, f.passages, nil)

	// When: searching for a term only one passage has
	got, err := r.Retrieve(context.Background(), "walkman cassette", 3)

	// Then: that passage comes first, tagged lexical
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, corpus[1].Text, got[0].Text)
	assert.Equal(t, ensemble.OriginLexical, got[0].Origin)
	assert.Greater(t, got[0].SourceScore, 0.0)
}

func TestLexicalRetriever_ZeroK(t *testing.T) {
	f := newFixture(t)
	got, err := NewLexicalRetriever(f.bm25, f.passages, nil).Retrieve(context.Background(), "sony", 0)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestLexicalRetriever_SkipsRegistryDrift(t *testing.T) {
	// Given: a BM25 document whose ID the registry does not know
	f := newFixture(t, &store.Document{ID: "ghost", Content: "Minidisc recorders appeared in 1992."})
	r := NewLexicalRetriever(f.bm25, f.passages, nil)

	// When: the query only matches the orphan
	got, err := r.Retrieve(context.Background(), "minidisc", 5)

	// Then: it is dropped, not failed
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestVectorRetriever_Retrieve(t *testing.T) {
	f := newFixture(t)
	r := NewVectorRetriever(f.embedder, f.vectors, f.passages, nil)

	got, err := r.Retrieve(context.Background(), corpus[3].Text, 2)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, corpus[3].Text, got[0].Text)
	assert.Equal(t, ensemble.OriginVector, got[0].Origin)
	assert.InDelta(t, 1.0, got[0].SourceScore, 1e-3)
}

type fixedReranker struct {
	rerank.NoOpReranker
	results []rerank.Result
	err     error
}

func (f fixedReranker) Rerank(context.Context, string, []string, int) ([]rerank.Result, error) {
	return f.results, f.err
}

func TestScorer_MapsIndicesToTexts(t *testing.T) {
	s := NewScorer(fixedReranker{results: []rerank.Result{{Index: 2, Score: 0.9}, {Index: 0, Score: 0.4}}})

	got, err := s.Score(context.Background(), "q", []string{"a", "b", "c"}, 2)

	require.NoError(t, err)
	assert.Equal(t, []ensemble.RerankedCandidate{
		{Text: "c", RelevanceScore: 0.9},
		{Text: "a", RelevanceScore: 0.4},
	}, got)
}

func TestScorer_OutOfRangeIndex(t *testing.T) {
	s := NewScorer(fixedReranker{results: []rerank.Result{{Index: 3, Score: 0.9}}})

	_, err := s.Score(context.Background(), "q", []string{"a"}, 1)

	assert.ErrorIs(t, err, ensemble.ErrMalformedOutput)
}

func TestScorer_EmptyInputSkipsReranker(t *testing.T) {
	s := NewScorer(fixedReranker{err: errors.New("must not be called")})

	got, err := s.Score(context.Background(), "q", nil, 5)

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScorer_OverlapOrdering(t *testing.T) {
	s := NewScorer(rerank.OverlapReranker{})
	texts := []string{corpus[0].Text, corpus[1].Text, corpus[2].Text}

	got, err := s.Score(context.Background(), "sony transistor radio", texts, 1)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, corpus[0].Text, got[0].Text)
}

type countingPassages struct {
	store.PassageStore
	lookups atomic.Int32
}

func (c *countingPassages) LookupID(ctx context.Context, text string) (string, error) {
	c.lookups.Add(1)
	return c.PassageStore.LookupID(ctx, text)
}

func TestPassageResolver_CachesHits(t *testing.T) {
	// Given: a resolver over a counting registry
	f := newFixture(t)
	counting := &countingPassages{PassageStore: f.passages}
	r := NewPassageResolver(counting, 16)
	ctx := context.Background()

	// When: resolving the same text twice
	id1, err := r.Lookup(ctx, corpus[2].Text)
	require.NoError(t, err)
	id2, err := r.Lookup(ctx, corpus[2].Text)
	require.NoError(t, err)

	// Then: the registry is asked once
	assert.Equal(t, "betamax", id1)
	assert.Equal(t, id1, id2)
	assert.EqualValues(t, 1, counting.lookups.Load())

	r.Purge()
	_, err = r.Lookup(ctx, corpus[2].Text)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counting.lookups.Load())
}

func TestPassageResolver_UnknownText(t *testing.T) {
	f := newFixture(t)
	counting := &countingPassages{PassageStore: f.passages}
	r := NewPassageResolver(counting, 16)

	for i := 0; i < 2; i++ {
		_, err := r.Lookup(context.Background(), "never indexed")
		assert.ErrorIs(t, err, ensemble.ErrNotFound)
		assert.ErrorIs(t, err, store.ErrNotFound)
	}
	assert.EqualValues(t, 2, counting.lookups.Load(), "misses are not cached")
}

func TestPassageResolver_ExactTextOnly(t *testing.T) {
	f := newFixture(t)
	r := NewPassageResolver(f.passages, 0)

	_, err := r.Lookup(context.Background(), "  "+corpus[0].Text)

	assert.ErrorIs(t, err, ensemble.ErrNotFound)
}

func TestWithTimeout(t *testing.T) {
	slow := ensemble.RetrieverFunc(func(ctx context.Context, _ string, _ int) ([]ensemble.Candidate, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := WithTimeout(slow, 10*time.Millisecond).Retrieve(context.Background(), "q", 1)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScorerWithTimeout(t *testing.T) {
	slow := ensemble.ScorerFunc(func(ctx context.Context, _ string, _ []string, _ int) ([]ensemble.RerankedCandidate, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := ScorerWithTimeout(slow, 10*time.Millisecond).Score(context.Background(), "q", []string{"a"}, 1)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func fastRetry(n int) amerrors.RetryConfig {
	return amerrors.RetryConfig{MaxRetries: n, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestRetryingRetriever(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int32
		wantErr   bool
	}{
		{"transient error recovers", errors.New("connection reset"), 2, false},
		{"malformed output not retried", ensemble.ErrMalformedOutput, 1, true},
		{"cancellation not retried", context.Canceled, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			r := ensemble.RetrieverFunc(func(context.Context, string, int) ([]ensemble.Candidate, error) {
				if calls.Add(1) == 1 {
					return nil, tt.err
				}
				return []ensemble.Candidate{{Text: "a"}}, nil
			})

			got, err := RetryingRetriever(r, fastRetry(2)).Retrieve(context.Background(), "q", 1)

			assert.Equal(t, tt.wantCalls, calls.Load())
			if tt.wantErr {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})
	}
}

func TestRetryingScorer_GivesUp(t *testing.T) {
	var calls atomic.Int32
	s := ensemble.ScorerFunc(func(context.Context, string, []string, int) ([]ensemble.RerankedCandidate, error) {
		calls.Add(1)
		return nil, errors.New("503")
	})

	_, err := RetryingScorer(s, fastRetry(2)).Score(context.Background(), "q", []string{"a"}, 1)

	require.Error(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestBreakerScorer_OpensAfterFailures(t *testing.T) {
	// Given: a breaker that opens after two failures
	var calls atomic.Int32
	s := ensemble.ScorerFunc(func(context.Context, string, []string, int) ([]ensemble.RerankedCandidate, error) {
		calls.Add(1)
		return nil, errors.New("service down")
	})
	cb := amerrors.NewCircuitBreaker("rerank", amerrors.WithMaxFailures(2), amerrors.WithResetTimeout(time.Hour))
	scorer := RetryingScorer(BreakerScorer(s, cb), fastRetry(3))

	// When: scoring after the breaker trips
	_, err := scorer.Score(context.Background(), "q", []string{"a"}, 1)

	// Then: the open circuit stops the retries and fails fast
	assert.ErrorIs(t, err, amerrors.ErrCircuitOpen)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, amerrors.StateOpen, cb.State())
	assert.False(t, Transient(err))
}

func TestTransient(t *testing.T) {
	assert.True(t, Transient(errors.New("timeout")))
	assert.True(t, Transient(context.DeadlineExceeded))
	assert.False(t, Transient(rerank.ErrInvalidResponse))
	assert.False(t, Transient(rerank.ErrClosed))
}
