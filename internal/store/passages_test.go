package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3" // CGO driver, registry must work on either driver
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPassageStore(t *testing.T) *SQLitePassageStore {
	t.Helper()
	s, err := NewPassageStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPassageStore_SaveGetLookup(t *testing.T) {
	// Given: a registry with two passages
	s := newTestPassageStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, []*Passage{
		{ID: "id1", Text: "A", Source: "corpus.jsonl"},
		{ID: "id2", Text: "B"},
	}))

	// When/Then: lookups by id and by text agree
	p, err := s.Get(ctx, "id1")
	require.NoError(t, err)
	assert.Equal(t, "A", p.Text)
	assert.Equal(t, "corpus.jsonl", p.Source)
	assert.False(t, p.CreatedAt.IsZero())

	id, err := s.LookupID(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, "id2", id)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPassageStore_LookupIsExact(t *testing.T) {
	s := newTestPassageStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, []*Passage{{ID: "id1", Text: "Sony Walkman"}}))

	for _, text := range []string{"sony walkman", "Sony  Walkman", "Sony Walkman ", ""} {
		_, err := s.LookupID(ctx, text)
		assert.ErrorIs(t, err, ErrNotFound, "text %q", text)
	}
}

func TestPassageStore_GetMissing(t *testing.T) {
	s := newTestPassageStore(t)

	_, err := s.Get(context.Background(), "nope")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPassageStore_GetMany(t *testing.T) {
	s := newTestPassageStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, []*Passage{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}}))

	got, err := s.GetMany(ctx, []string{"a", "b", "missing"})

	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "B", got["b"].Text)

	empty, err := s.GetMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPassageStore_TextHasOneIdentity(t *testing.T) {
	// Given: a text saved under id1
	s := newTestPassageStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, []*Passage{{ID: "id1", Text: "A"}}))

	// When: the same text is saved under id9
	require.NoError(t, s.Save(ctx, []*Passage{{ID: "id9", Text: "A"}}))

	// Then: the latest id wins and the old row is gone
	id, err := s.LookupID(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "id9", id)

	_, err = s.Get(ctx, "id1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPassageStore_UpdateText(t *testing.T) {
	s := newTestPassageStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, []*Passage{{ID: "id1", Text: "old"}}))
	require.NoError(t, s.Save(ctx, []*Passage{{ID: "id1", Text: "new"}}))

	_, err := s.LookupID(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	id, err := s.LookupID(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "id1", id)
}

func TestPassageStore_RejectsEmptyID(t *testing.T) {
	s := newTestPassageStore(t)
	assert.Error(t, s.Save(context.Background(), []*Passage{{Text: "A"}}))
}

func TestPassageStore_State(t *testing.T) {
	s := newTestPassageStore(t)
	ctx := context.Background()

	v, err := s.GetState(ctx, StateKeyEmbeddingModel)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetState(ctx, StateKeyEmbeddingModel, "static"))
	require.NoError(t, s.SetState(ctx, StateKeyEmbeddingModel, "nomic-embed-text"))
	v, err = s.GetState(ctx, StateKeyEmbeddingModel)
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", v)
}

func TestPassageStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "passages.db")
	ctx := context.Background()

	s, err := NewPassageStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, []*Passage{{ID: "id1", Text: "A"}}))
	require.NoError(t, s.Close())

	reopened, err := NewPassageStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	id, err := reopened.LookupID(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "id1", id)
}

func TestPassageStore_ClosedStore(t *testing.T) {
	s, err := NewPassageStore("")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.LookupID(context.Background(), "A")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewPassageStoreFromDB_CGODriver(t *testing.T) {
	// Given: a registry opened through mattn/go-sqlite3
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	s, err := NewPassageStoreFromDB(db)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// When: saving and resolving
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, []*Passage{{ID: "id1", Text: "A"}}))

	// Then: behaviour matches the pure Go driver
	id, err := s.LookupID(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "id1", id)
}

func TestNewPassageStoreFromDB_Nil(t *testing.T) {
	_, err := NewPassageStoreFromDB(nil)
	assert.Error(t, err)
}
