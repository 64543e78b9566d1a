package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// BM25Backend names a BM25 index implementation.
type BM25Backend string

const (
	// BM25BackendSQLite uses SQLite FTS5 (default). Safe for concurrent readers.
	BM25BackendSQLite BM25Backend = "sqlite"

	// BM25BackendBleve uses Bleve v2. Single process only.
	BM25BackendBleve BM25Backend = "bleve"
)

// NewBM25Index opens the BM25 index for backend under dataDir.
// An empty dataDir creates an in-memory index.
func NewBM25Index(dataDir string, cfg BM25Config, backend string) (BM25Index, error) {
	path := ""
	if dataDir != "" {
		path = BM25IndexPath(dataDir, backend)
	}

	switch BM25Backend(backend) {
	case BM25BackendSQLite, "":
		return NewSQLiteBM25Index(path, cfg)
	case BM25BackendBleve:
		return NewBleveBM25Index(path, cfg)
	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// BM25IndexPath returns the index file or directory for backend.
func BM25IndexPath(dataDir, backend string) string {
	base := filepath.Join(dataDir, "bm25")
	if BM25Backend(backend) == BM25BackendBleve {
		return base + ".bleve"
	}
	return base + ".db"
}

// DetectBM25Backend reports which backend has an index under dataDir,
// or "" if neither does.
func DetectBM25Backend(dataDir string) BM25Backend {
	if info, err := os.Stat(BM25IndexPath(dataDir, string(BM25BackendSQLite))); err == nil && !info.IsDir() {
		return BM25BackendSQLite
	}
	if info, err := os.Stat(BM25IndexPath(dataDir, string(BM25BackendBleve))); err == nil && info.IsDir() {
		return BM25BackendBleve
	}
	return ""
}
