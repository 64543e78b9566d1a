package telemetry

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// MaxZeroResultQueries is the number of zero-result queries kept on disk.
const MaxZeroResultQueries = 100

// SQLiteStore implements Store on a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	ownsDB bool
}

var _ Store = (*SQLiteStore)(nil)

// OpenStore opens (or creates) a telemetry database at path.
func OpenStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewSQLiteStore creates the schema on db. Close leaves db open.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	const schema = `
	CREATE TABLE IF NOT EXISTS daily_counters (
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, name)
	);
	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		seen_at TIMESTAMP NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create telemetry schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// AddCounters adds deltas to date's counters in one transaction.
func (s *SQLiteStore) AddCounters(date string, deltas map[string]int64) error {
	if len(deltas) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO daily_counters (date, name, count) VALUES (?, ?, ?)
		ON CONFLICT(date, name) DO UPDATE SET count = count + excluded.count`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for name, n := range deltas {
		if _, err := stmt.Exec(date, name, n); err != nil {
			return fmt.Errorf("add counter %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Counters sums each counter over [from, to].
func (s *SQLiteStore) Counters(from, to string) (map[string]int64, error) {
	rows, err := s.db.Query(`
		SELECT name, SUM(count) FROM daily_counters
		WHERE date >= ? AND date <= ?
		GROUP BY name`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query counters: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan counter: %w", err)
		}
		out[name] = n
	}
	return out, rows.Err()
}

// AddZeroResultQueries appends queries and trims to MaxZeroResultQueries.
func (s *SQLiteStore) AddZeroResultQueries(queries []string, at time.Time) error {
	if len(queries) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range queries {
		if _, err := tx.Exec(`INSERT INTO zero_result_queries (query, seen_at) VALUES (?, ?)`, q, at.UTC()); err != nil {
			return fmt.Errorf("insert zero-result query: %w", err)
		}
	}
	if _, err := tx.Exec(`
		DELETE FROM zero_result_queries WHERE id NOT IN (
			SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?
		)`, MaxZeroResultQueries); err != nil {
		return fmt.Errorf("trim zero-result queries: %w", err)
	}
	return tx.Commit()
}

// ZeroResultQueries returns up to limit recent zero-result queries, newest first.
func (s *SQLiteStore) ZeroResultQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT query FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan zero-result query: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// Close closes the database if OpenStore opened it.
func (s *SQLiteStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
