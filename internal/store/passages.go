package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// SQLitePassageStore implements PassageStore on SQLite.
//
// Text identity is looked up through a SHA-256 of the exact text, then
// confirmed against the stored text, so lookups never match a passage that
// merely differs in case or whitespace.
type SQLitePassageStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

var _ PassageStore = (*SQLitePassageStore)(nil)

// NewPassageStore opens or creates the registry at path using the pure Go driver.
// An empty path creates an in-memory registry.
func NewPassageStore(path string) (*SQLitePassageStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create registry directory: %w", err)
		}
		dsn = path
	}

	db, err := openSQLite("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s, err := NewPassageStoreFromDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPassageStoreFromDB builds a registry on an already opened database.
// The store takes ownership of db and closes it on Close.
func NewPassageStoreFromDB(db *sql.DB) (*SQLitePassageStore, error) {
	if db == nil {
		return nil, errors.New("nil database")
	}
	s := &SQLitePassageStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize registry schema: %w", err)
	}
	return s, nil
}

func (s *SQLitePassageStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS passages (
		id         TEXT PRIMARY KEY,
		text       TEXT NOT NULL,
		text_hash  TEXT NOT NULL,
		source     TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_passages_text_hash ON passages(text_hash);

	CREATE TABLE IF NOT EXISTS registry_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`)
	return err
}

// TextHash returns the registry key for a passage text.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Save inserts or replaces passages in one transaction.
func (s *SQLitePassageStore) Save(ctx context.Context, passages []*Passage) error {
	if len(passages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// A text has one identity: drop rows holding the same text under another ID
	evict, err := tx.PrepareContext(ctx, `DELETE FROM passages WHERE text_hash = ? AND text = ? AND id != ?`)
	if err != nil {
		return fmt.Errorf("prepare evict: %w", err)
	}
	defer evict.Close()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO passages (id, text, text_hash, source, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			text_hash = excluded.text_hash,
			source = excluded.source`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer upsert.Close()

	now := time.Now()
	for _, p := range passages {
		if p.ID == "" {
			return fmt.Errorf("passage with empty id")
		}
		created := p.CreatedAt
		if created.IsZero() {
			created = now
		}
		hash := TextHash(p.Text)
		if _, err := evict.ExecContext(ctx, hash, p.Text, p.ID); err != nil {
			return fmt.Errorf("evict previous identity for %s: %w", p.ID, err)
		}
		if _, err := upsert.ExecContext(ctx, p.ID, p.Text, hash, p.Source, created.UnixNano()); err != nil {
			return fmt.Errorf("save passage %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// Get returns a passage by ID.
func (s *SQLitePassageStore) Get(ctx context.Context, id string) (*Passage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	row := s.db.QueryRowContext(ctx, `SELECT id, text, source, created_at FROM passages WHERE id = ?`, id)
	p, err := scanPassage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("passage %s: %w", id, ErrNotFound)
	}
	return p, err
}

// GetMany returns passages for ids in one query.
func (s *SQLitePassageStore) GetMany(ctx context.Context, ids []string) (map[string]*Passage, error) {
	out := make(map[string]*Passage, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, text, source, created_at FROM passages WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("query passages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// LookupID returns the ID for the exact text.
func (s *SQLitePassageStore) LookupID(ctx context.Context, text string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrClosed
	}

	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM passages WHERE text_hash = ? AND text = ? LIMIT 1`,
		TextHash(text), text).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup passage id: %w", err)
	}
	return id, nil
}

// Count returns the number of passages.
func (s *SQLitePassageStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&n)
	return n, err
}

// GetState returns a state value, or "" if unset.
func (s *SQLitePassageStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrClosed
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM registry_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// SetState stores a state value.
func (s *SQLitePassageStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO registry_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// Close closes the database. Idempotent.
func (s *SQLitePassageStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPassage(r rowScanner) (*Passage, error) {
	var p Passage
	var created int64
	if err := r.Scan(&p.ID, &p.Text, &p.Source, &created); err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(0, created)
	return &p, nil
}
