package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupFile_MissingIsNoop(t *testing.T) {
	path, err := BackupFile(filepath.Join(t.TempDir(), "config.yaml"))

	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestBackupFile_CopiesContent(t *testing.T) {
	src := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, src, "version: 1\n")

	backup, err := BackupFile(src)

	require.NoError(t, err)
	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))
}

func TestBackupFile_KeepsMaxBackups(t *testing.T) {
	// Given: more backups than the limit
	src := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, src, "version: 1\n")
	for i := 0; i < MaxBackups+2; i++ {
		_, err := BackupFile(src)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	// Then: only MaxBackups remain
	backups, err := ListBackups(src)
	require.NoError(t, err)
	assert.Len(t, backups, MaxBackups)
}

func TestListBackups_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "config.yaml")
	writeFile(t, src, "x")
	writeFile(t, filepath.Join(dir, "other.yaml.bak.1"), "x")

	_, err := BackupFile(src)
	require.NoError(t, err)

	backups, err := ListBackups(src)
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}
