package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteBM25Index implements BM25Index with SQLite FTS5.
// WAL mode lets a serving process read while the index command writes.
type SQLiteBM25Index struct {
	mu       sync.RWMutex
	db       *sql.DB
	path     string
	analyzer analyzer
	closed   bool
}

var _ BM25Index = (*SQLiteBM25Index)(nil)

// NewSQLiteBM25Index opens or creates an FTS5 index at path.
// An empty path creates an in-memory index.
func NewSQLiteBM25Index(path string, cfg BM25Config) (*SQLiteBM25Index, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
		if err := validateFTSIntegrity(path); err != nil {
			slog.Warn("sqlite_bm25_index_corrupted",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if rmErr := removeSQLiteFiles(path); rmErr != nil {
				return nil, fmt.Errorf("BM25 index corrupted at %s and cannot remove: %w (original error: %v)", path, rmErr, err)
			}
			slog.Info("sqlite_bm25_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, reindex required"))
		}
		dsn = path
	}

	db, err := openSQLite("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	idx := &SQLiteBM25Index{db: db, path: path, analyzer: newAnalyzer(cfg)}
	if err := idx.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize FTS schema: %w", err)
	}
	return idx, nil
}

func (s *SQLiteBM25Index) initSchema() error {
	_, err := s.db.Exec(`
	CREATE VIRTUAL TABLE IF NOT EXISTS passage_fts USING fts5(
		doc_id UNINDEXED,
		terms,
		tokenize='unicode61'
	);
	CREATE TABLE IF NOT EXISTS passage_fts_ids (
		doc_id TEXT PRIMARY KEY
	);`)
	return err
}

// Index adds or replaces documents. Content is analyzed before storage so
// FTS5 sees the same terms the query side produces.
func (s *SQLiteBM25Index) Index(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
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

	// FTS5 has no REPLACE, so delete first
	del, err := tx.PrepareContext(ctx, `DELETE FROM passage_fts WHERE doc_id = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer del.Close()
	ins, err := tx.PrepareContext(ctx, `INSERT INTO passage_fts(doc_id, terms) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer ins.Close()
	track, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO passage_fts_ids(doc_id) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("prepare id insert: %w", err)
	}
	defer track.Close()

	for _, doc := range docs {
		terms := strings.Join(s.analyzer.terms(doc.Content), " ")
		if _, err := del.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("replace document %s: %w", doc.ID, err)
		}
		if _, err := ins.ExecContext(ctx, doc.ID, terms); err != nil {
			return fmt.Errorf("index document %s: %w", doc.ID, err)
		}
		if _, err := track.ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("track document %s: %w", doc.ID, err)
		}
	}
	return tx.Commit()
}

// Search returns documents matching any query term ranked by FTS5 bm25().
func (s *SQLiteBM25Index) Search(ctx context.Context, query string, limit int) ([]*BM25Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return []*BM25Result{}, nil
	}

	terms := uniqueTerms(s.analyzer.terms(query))
	if len(terms) == 0 {
		return []*BM25Result{}, nil
	}

	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	match := strings.Join(quoted, " OR ")

	// bm25() is negative, more negative is better
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, bm25(passage_fts) AS score
		FROM passage_fts
		WHERE passage_fts MATCH ?
		ORDER BY score
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	results := make([]*BM25Result, 0, limit)
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, &BM25Result{DocID: id, Score: -score, MatchedTerms: terms})
	}
	return results, rows.Err()
}

// Delete removes documents.
func (s *SQLiteBM25Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM passage_fts WHERE doc_id IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("delete from FTS: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM passage_fts_ids WHERE doc_id IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("delete ids: %w", err)
	}
	return tx.Commit()
}

// Count returns the number of indexed documents, 0 if closed.
func (s *SQLiteBM25Index) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM passage_fts_ids`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *SQLiteBM25Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}

// validateFTSIntegrity checks an existing index file before it is opened.
// A missing file is valid.
func validateFTSIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='passage_fts'`).Scan(&n); err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("FTS5 table 'passage_fts' missing")
	}
	return nil
}

func removeSQLiteFiles(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")
	return nil
}

// openSQLite opens a single-connection database with WAL pragmas applied.
func openSQLite(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection: in-memory databases are per-connection, and a single
	// writer avoids lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}
