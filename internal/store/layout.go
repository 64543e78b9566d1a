package store

import (
	"os"
	"path/filepath"
)

// Files under a data directory.
const (
	PassageStoreFile = "passages.db"
	VectorStoreFile  = "vectors.hnsw"
	LockFile         = ".lock"
	TelemetryFile    = "telemetry.db"
)

// PassageStorePath returns the passage registry file under dataDir.
func PassageStorePath(dataDir string) string {
	return filepath.Join(dataDir, PassageStoreFile)
}

// VectorStorePath returns the saved HNSW graph under dataDir.
func VectorStorePath(dataDir string) string {
	return filepath.Join(dataDir, VectorStoreFile)
}

// LockPath returns the writer lock file under dataDir.
func LockPath(dataDir string) string {
	return filepath.Join(dataDir, LockFile)
}

// TelemetryPath returns the query telemetry database under dataDir.
func TelemetryPath(dataDir string) string {
	return filepath.Join(dataDir, TelemetryFile)
}

// IndexExists reports whether dataDir holds a passage registry.
func IndexExists(dataDir string) bool {
	info, err := os.Stat(PassageStorePath(dataDir))
	return err == nil && !info.IsDir()
}
