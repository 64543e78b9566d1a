package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("trace")
	assert.Error(t, err)
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	// Given: file-only logging at info
	path := filepath.Join(t.TempDir(), "logs", "test.log")
	logger, cleanup, err := Setup(Config{Level: "info", FilePath: path})
	require.NoError(t, err)

	// When: logging at debug and info
	logger.Debug("hidden_event")
	logger.Info("retrieve_complete", slog.Int("result_count", 2))
	cleanup()

	// Then: only the info line is written, as JSON
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden_event")
	assert.Contains(t, string(data), `"msg":"retrieve_complete"`)
	assert.Contains(t, string(data), `"result_count":2`)
}

func TestSetup_NoOutputs(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "debug"})
	require.NoError(t, err)
	defer cleanup()

	logger.Info("discarded")
}

func TestSetup_BadLevel(t *testing.T) {
	_, _, err := Setup(Config{Level: "loud", FilePath: filepath.Join(t.TempDir(), "x.log")})
	assert.Error(t, err)
}

func TestServerConfig_NeverWritesStderr(t *testing.T) {
	cfg := ServerConfig("debug")
	assert.False(t, cfg.WriteToStderr)
	assert.Equal(t, "debug", cfg.Level)
	assert.NotEmpty(t, cfg.FilePath)
}

func TestRotatingWriter_Rotates(t *testing.T) {
	// Given: a 1 MB writer keeping 2 rotated files
	path := filepath.Join(t.TempDir(), "r.log")
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	chunk := []byte(strings.Repeat("x", 600*1024))

	// When: writing four chunks of 600 KB
	for i := 0; i < 4; i++ {
		_, err := w.Write(chunk)
		require.NoError(t, err)
	}

	// Then: the live file and two rotations exist, no third
	assert.FileExists(t, path)
	assert.FileExists(t, path+".1")
	assert.FileExists(t, path+".2")
	assert.NoFileExists(t, path+".3")
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	w, err := NewRotatingWriter(filepath.Join(t.TempDir(), "c.log"), 1, 1)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestTail_FiltersAndKeepsLastN(t *testing.T) {
	log := strings.Join([]string{
		`{"time":"2026-01-02T10:00:00Z","level":"DEBUG","msg":"rerank_complete","doc_count":3}`,
		`{"time":"2026-01-02T10:00:01Z","level":"WARN","msg":"rerank_failed","status_code":503}`,
		`not json`,
		`{"time":"2026-01-02T10:00:02Z","level":"INFO","msg":"retrieve_complete"}`,
		`{"time":"2026-01-02T10:00:03Z","level":"WARN","msg":"retrieve_failed","stage":"rerank"}`,
	}, "\n")

	entries, err := tail(strings.NewReader(log), 4, Filter{MinLevel: "warn"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "rerank_failed", entries[0].Msg)
	assert.Equal(t, "retrieve_failed", entries[1].Msg)

	entries, err = tail(strings.NewReader(log), 10, Filter{Event: "retrieve"})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	entries, err = tail(strings.NewReader(log), 2, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "retrieve_complete", entries[0].Msg)
}

func TestFormat(t *testing.T) {
	e := parseLine(`{"time":"2026-01-02T10:00:01Z","level":"WARN","msg":"rerank_failed","status_code":503,"body":"down"}`)

	assert.Equal(t, "10:00:01.000 WARN  rerank_failed body=down status_code=503", Format(e))
	assert.Equal(t, "garbage", Format(parseLine("garbage")))
}

func TestFindLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.log")
	_, err := FindLogFile(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	got, err := FindLogFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}
