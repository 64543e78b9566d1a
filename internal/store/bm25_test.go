package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both backends must behave the same for the retrievers.

var bm25Corpus = []*Document{
	{ID: "p1", Content: "Sony licensed the transistor from Bell Labs in 1953."},
	{ID: "p2", Content: "The company was founded as Tokyo Tsushin Kogyo in 1946."},
	{ID: "p3", Content: "The transistor radio made Sony a household name."},
	{ID: "p4", Content: "Walkman portable cassette players launched in 1979."},
}

func newBackends(t *testing.T) map[string]BM25Index {
	t.Helper()

	sqliteIdx, err := NewSQLiteBM25Index("", DefaultBM25Config())
	require.NoError(t, err)
	bleveIdx, err := NewBleveBM25Index("", DefaultBM25Config())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = sqliteIdx.Close()
		_ = bleveIdx.Close()
	})
	return map[string]BM25Index{"sqlite": sqliteIdx, "bleve": bleveIdx}
}

func ids(results []*BM25Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.DocID
	}
	return out
}

func TestBM25Index_SearchRanksByTermOverlap(t *testing.T) {
	for name, idx := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			// Given: an indexed corpus
			require.NoError(t, idx.Index(context.Background(), bm25Corpus))
			assert.Equal(t, 4, idx.Count())

			// When: searching with two terms
			results, err := idx.Search(context.Background(), "Sony transistor", 10)

			// Then: passages with both terms rank above those with one
			require.NoError(t, err)
			require.GreaterOrEqual(t, len(results), 2)
			assert.ElementsMatch(t, []string{"p1", "p3"}, ids(results)[:2])
			for _, r := range results {
				assert.Greater(t, r.Score, 0.0)
			}
			assert.NotContains(t, ids(results), "p4")
		})
	}
}

func TestBM25Index_AnyTermMatches(t *testing.T) {
	for name, idx := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Index(context.Background(), bm25Corpus))

			results, err := idx.Search(context.Background(), "walkman founded", 10)

			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"p2", "p4"}, ids(results))
		})
	}
}

func TestBM25Index_RespectsLimit(t *testing.T) {
	for name, idx := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Index(context.Background(), bm25Corpus))

			results, err := idx.Search(context.Background(), "sony transistor walkman", 1)

			require.NoError(t, err)
			assert.Len(t, results, 1)
		})
	}
}

func TestBM25Index_EmptyAndStopWordQueries(t *testing.T) {
	for name, idx := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Index(context.Background(), bm25Corpus))

			for _, q := range []string{"", "   ", "the of"} {
				results, err := idx.Search(context.Background(), q, 10)
				require.NoError(t, err)
				assert.Empty(t, results, "query %q", q)
			}
		})
	}
}

func TestBM25Index_ReplaceAndDelete(t *testing.T) {
	for name, idx := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, idx.Index(ctx, bm25Corpus))

			// Replace p4 with unrelated text
			require.NoError(t, idx.Index(ctx, []*Document{{ID: "p4", Content: "PlayStation console"}}))
			results, err := idx.Search(ctx, "walkman", 10)
			require.NoError(t, err)
			assert.Empty(t, results)
			assert.Equal(t, 4, idx.Count())

			require.NoError(t, idx.Delete(ctx, []string{"p1", "missing"}))
			results, err = idx.Search(ctx, "bell labs", 10)
			require.NoError(t, err)
			assert.Empty(t, results)
			assert.Equal(t, 3, idx.Count())
		})
	}
}

func TestBM25Index_ClosedIndex(t *testing.T) {
	for name, idx := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Close())
			require.NoError(t, idx.Close())

			_, err := idx.Search(context.Background(), "sony", 5)
			assert.ErrorIs(t, err, ErrClosed)
			assert.Zero(t, idx.Count())
		})
	}
}

func TestSQLiteBM25Index_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bm25.db")

	idx, err := NewSQLiteBM25Index(path, DefaultBM25Config())
	require.NoError(t, err)
	require.NoError(t, idx.Index(context.Background(), bm25Corpus))
	require.NoError(t, idx.Close())

	reopened, err := NewSQLiteBM25Index(path, DefaultBM25Config())
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	results, err := reopened.Search(context.Background(), "walkman", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"p4"}, ids(results))
}

func TestSQLiteBM25Index_CorruptFileIsCleared(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bm25.db")
	require.NoError(t, os.WriteFile(path, []byte("not a database"), 0o644))

	idx, err := NewSQLiteBM25Index(path, DefaultBM25Config())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	assert.Zero(t, idx.Count())
}

func TestNewBM25Index_Backends(t *testing.T) {
	dir := t.TempDir()

	idx, err := NewBM25Index(dir, DefaultBM25Config(), "")
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	assert.Equal(t, BM25BackendSQLite, DetectBM25Backend(dir))

	bleveDir := t.TempDir()
	idx, err = NewBM25Index(bleveDir, DefaultBM25Config(), "bleve")
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	assert.Equal(t, BM25BackendBleve, DetectBM25Backend(bleveDir))

	_, err = NewBM25Index("", DefaultBM25Config(), "lucene")
	assert.Error(t, err)

	assert.Equal(t, BM25Backend(""), DetectBM25Backend(t.TempDir()))
}

func TestBleveTokenizer_Offsets(t *testing.T) {
	tok := &bleveTokenizer{minLen: 2}
	stream := tok.Tokenize([]byte("Sony, a radio"))

	require.Len(t, stream, 2)
	assert.Equal(t, "Sony", string(stream[0].Term))
	assert.Equal(t, 0, stream[0].Start)
	assert.Equal(t, 4, stream[0].End)
	assert.Equal(t, "radio", string(stream[1].Term))
	assert.Equal(t, 8, stream[1].Start)
	assert.Equal(t, 2, stream[1].Position)
}
