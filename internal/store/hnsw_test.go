package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHNSW(t *testing.T, dims int) *HNSWStore {
	t.Helper()
	s, err := NewHNSWStore(DefaultVectorStoreConfig(dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHNSWStore_AddAndSearch(t *testing.T) {
	// Given: three orthogonal-ish vectors
	s := newTestHNSW(t, 3)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx,
		[]string{"x", "y", "z"},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}))

	// When: searching near x
	results, err := s.Search(ctx, []float32{0.9, 0.1, 0}, 2)

	// Then: x is closest with a high score
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "x", results[0].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.InDelta(t, 1.0, results[0].Score, 0.01)
}

func TestHNSWStore_Validation(t *testing.T) {
	_, err := NewHNSWStore(VectorStoreConfig{})
	assert.Error(t, err)

	s := newTestHNSW(t, 3)
	ctx := context.Background()

	err = s.Add(ctx, []string{"a"}, [][]float32{{1, 2}})
	var dim DimensionMismatchError
	require.ErrorAs(t, err, &dim)
	assert.Equal(t, 3, dim.Expected)
	assert.Equal(t, 2, dim.Got)

	assert.Error(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 2, 3}}))

	_, err = s.Search(ctx, []float32{1}, 1)
	assert.ErrorAs(t, err, &dim)
}

func TestHNSWStore_EmptyAndZeroK(t *testing.T) {
	s := newTestHNSW(t, 2)

	results, err := s.Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, s.Add(context.Background(), []string{"a"}, [][]float32{{1, 0}}))
	results, err = s.Search(context.Background(), []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWStore_ReplaceAndDeleteLeaveOrphans(t *testing.T) {
	s := newTestHNSW(t, 2)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))

	// Replace a with b's direction, then delete b
	require.NoError(t, s.Add(ctx, []string{"a"}, [][]float32{{0, 1}}))
	require.NoError(t, s.Delete(ctx, []string{"b", "unknown"}))

	assert.Equal(t, 1, s.Count())
	assert.Equal(t, 2, s.Orphans())
	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("b"))

	results, err := s.Search(ctx, []float32{0, 1}, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestHNSWStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors", "passages.hnsw")
	ctx := context.Background()

	s := newTestHNSW(t, 2)
	require.NoError(t, s.Add(ctx, []string{"a", "b"}, [][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, s.Save(path))

	dims, err := ReadHNSWDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 2, dims)

	loaded := newTestHNSW(t, 2)
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, 2, loaded.Count())

	results, err := loaded.Search(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestReadHNSWDimensions_Missing(t *testing.T) {
	dims, err := ReadHNSWDimensions(filepath.Join(t.TempDir(), "none.hnsw"))
	require.NoError(t, err)
	assert.Zero(t, dims)
}

func TestHNSWStore_ClosedStore(t *testing.T) {
	s, err := NewHNSWStore(DefaultVectorStoreConfig(2))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Search(context.Background(), []float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Add(context.Background(), []string{"a"}, [][]float32{{1, 0}}), ErrClosed)
	assert.ErrorIs(t, s.Save(filepath.Join(t.TempDir(), "x")), ErrClosed)
	assert.Zero(t, s.Count())
	assert.False(t, s.Contains("a"))
}

func TestDistanceToScore(t *testing.T) {
	assert.InDelta(t, 1.0, distanceToScore(0, "cos"), 1e-6)
	assert.InDelta(t, 0.0, distanceToScore(2, "cos"), 1e-6)
	assert.InDelta(t, 0.5, distanceToScore(1, "l2"), 1e-6)
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	normalize(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	normalize(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}
