package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	return xdg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 100, cfg.Retrieval.MaxTopK)
	assert.Equal(t, "sqlite", cfg.Retrieval.BM25Backend)
	assert.False(t, cfg.Retrieval.NormalizeDedup)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, "http", cfg.Rerank.Provider)
	assert.Equal(t, "documents", cfg.Rerank.Format)
	assert.Equal(t, 30*time.Second, cfg.Rerank.Timeout)
	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, runtime.NumCPU(), cfg.Ingest.Workers)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFiles(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".hybridrank"), cfg.DataDir)
}

func TestLoad_Precedence(t *testing.T) {
	// Given: user config, project config and an env override
	xdg := isolate(t)
	writeFile(t, filepath.Join(xdg, "hybridrank", "config.yaml"), `
retrieval:
  top_k: 7
rerank:
  provider: overlap
  timeout: 5s
`)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), `
retrieval:
  top_k: 9
  normalize_dedup: true
`)
	t.Setenv("HYBRIDRANK_RERANK_MODEL", "bge-small")

	// When: loading
	cfg, err := Load(dir)
	require.NoError(t, err)

	// Then: project beats user, env beats both, untouched keys keep defaults
	assert.Equal(t, 9, cfg.Retrieval.TopK)
	assert.True(t, cfg.Retrieval.NormalizeDedup)
	assert.Equal(t, "overlap", cfg.Rerank.Provider)
	assert.Equal(t, 5*time.Second, cfg.Rerank.Timeout)
	assert.Equal(t, "bge-small", cfg.Rerank.Model)
	assert.Equal(t, 100, cfg.Retrieval.MaxTopK)
}

func TestLoad_ExplicitZeroOverridesDefault(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), "rerank:\n  breaker_failures: 0\n  retries: 0\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Zero(t, cfg.Rerank.BreakerFailures)
	assert.Zero(t, cfg.Rerank.Retries)
}

func TestLoad_AbsoluteDataDir(t *testing.T) {
	isolate(t)
	abs := t.TempDir()
	t.Setenv("HYBRIDRANK_DATA_DIR", abs)

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, abs, cfg.DataDir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("HYBRIDRANK_TOP_K", "12")
	t.Setenv("HYBRIDRANK_BM25_BACKEND", "bleve")
	t.Setenv("HYBRIDRANK_NORMALIZE_DEDUP", "1")
	t.Setenv("HYBRIDRANK_EMBEDDINGS_PROVIDER", "openai")
	t.Setenv("HYBRIDRANK_EMBEDDINGS_MODEL", "nomic-embed-text")
	t.Setenv("HYBRIDRANK_EMBEDDINGS_TOKEN", "secret")
	t.Setenv("HYBRIDRANK_RERANK_TIMEOUT", "2s")
	t.Setenv("HYBRIDRANK_TRANSPORT", "http")
	t.Setenv("HYBRIDRANK_LOG_LEVEL", "debug")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Retrieval.TopK)
	assert.Equal(t, "bleve", cfg.Retrieval.BM25Backend)
	assert.True(t, cfg.Retrieval.NormalizeDedup)
	assert.Equal(t, "openai", cfg.Embeddings.Provider)
	assert.Equal(t, "secret", cfg.Embeddings.Token)
	assert.Equal(t, 2*time.Second, cfg.Rerank.Timeout)
	assert.Equal(t, "http", cfg.Server.Transport)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
}

func TestLoad_InvalidEnvNumberIgnored(t *testing.T) {
	isolate(t)
	t.Setenv("HYBRIDRANK_TOP_K", "many")

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
}

func TestLoad_MalformedYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectConfigName), "retrieval: [unclosed")

	_, err := Load(dir)

	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"top_k zero", func(c *Config) { c.Retrieval.TopK = 0 }, "retrieval.top_k"},
		{"max below top", func(c *Config) { c.Retrieval.MaxTopK = 2 }, "retrieval.max_top_k"},
		{"backend", func(c *Config) { c.Retrieval.BM25Backend = "lucene" }, "retrieval.bm25_backend"},
		{"resolve concurrency", func(c *Config) { c.Retrieval.ResolveConcurrency = 0 }, "resolve_concurrency"},
		{"negative timeout", func(c *Config) { c.Retrieval.VectorTimeout = -time.Second }, "timeouts"},
		{"embed provider", func(c *Config) { c.Embeddings.Provider = "word2vec" }, "embeddings.provider"},
		{"openai without model", func(c *Config) { c.Embeddings.Provider = "openai" }, "embeddings.model"},
		{"batch size", func(c *Config) { c.Embeddings.BatchSize = 0 }, "embeddings.batch_size"},
		{"rerank provider", func(c *Config) { c.Rerank.Provider = "colbert" }, "rerank.provider"},
		{"rerank format", func(c *Config) { c.Rerank.Format = "xml" }, "rerank.format"},
		{"transport", func(c *Config) { c.Server.Transport = "sse" }, "server.transport"},
		{"log level", func(c *Config) { c.Server.LogLevel = "trace" }, "server.log_level"},
		{"workers", func(c *Config) { c.Ingest.Workers = 0 }, "ingest.workers"},
		{"data dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Rerank.Provider = "none"
	cfg.Rerank.Timeout = 3 * time.Second
	cfg.Embeddings.Token = "never-written"

	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ProjectConfigName)))
	data, err := os.ReadFile(filepath.Join(dir, ProjectConfigName))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "never-written")

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "none", loaded.Rerank.Provider)
	assert.Equal(t, 3*time.Second, loaded.Rerank.Timeout)
}

func TestGetUserConfigPath_XDG(t *testing.T) {
	xdg := isolate(t)
	assert.Equal(t, filepath.Join(xdg, "hybridrank", "config.yaml"), GetUserConfigPath())
}
