package ingest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	amerrors "github.com/Aman-CERP/hybridrank/internal/errors"
	"github.com/Aman-CERP/hybridrank/internal/store"
)

// DataDirLock keeps two writers out of one data directory.
// Readers (search, serve) do not take it.
type DataDirLock struct {
	flock  *flock.Flock
	locked bool
}

// NewDataDirLock creates the lock for dataDir.
func NewDataDirLock(dataDir string) *DataDirLock {
	return &DataDirLock{flock: flock.New(store.LockPath(dataDir))}
}

// TryLock acquires the lock without blocking. A lock held elsewhere yields
// ERR_201_DATA_DIR_LOCKED.
func (l *DataDirLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.flock.Path()), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return amerrors.New(amerrors.ErrCodeDataDirLocked, "another index run holds the data directory", nil).
			WithDetail("lock", l.flock.Path()).
			WithSuggestion("Wait for the other 'hybridrank index' to finish")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *DataDirLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DataDirLock) Path() string {
	return l.flock.Path()
}
