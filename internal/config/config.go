package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectConfigName is the per-directory configuration file.
const ProjectConfigName = ".hybridrank.yaml"

// Config represents the complete hybridrank configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	DataDir    string           `yaml:"data_dir" json:"data_dir"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Rerank     RerankConfig     `yaml:"rerank" json:"rerank"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
}

// RetrievalConfig configures the fusion pipeline.
type RetrievalConfig struct {
	// TopK is used when a caller does not specify one.
	TopK int `yaml:"top_k" json:"top_k"`

	// MaxTopK caps caller-supplied top_k on the MCP and HTTP surfaces.
	MaxTopK int `yaml:"max_top_k" json:"max_top_k"`

	// BM25Backend is "sqlite" (default) or "bleve".
	BM25Backend string `yaml:"bm25_backend" json:"bm25_backend"`

	// NormalizeDedup merges passages that differ only in case and whitespace.
	NormalizeDedup bool `yaml:"normalize_dedup" json:"normalize_dedup"`

	ResolveConcurrency int `yaml:"resolve_concurrency" json:"resolve_concurrency"`
	ResolverCacheSize  int `yaml:"resolver_cache_size" json:"resolver_cache_size"`

	// LexicalTimeout and VectorTimeout bound each retriever call. Zero disables.
	LexicalTimeout time.Duration `yaml:"lexical_timeout" json:"lexical_timeout"`
	VectorTimeout  time.Duration `yaml:"vector_timeout" json:"vector_timeout"`

	// Retries applies to the vector retriever, whose embedder may be remote.
	Retries int `yaml:"retries" json:"retries"`
}

// EmbeddingsConfig configures the query and passage embedder.
type EmbeddingsConfig struct {
	// Provider is "static" (offline, default) or "openai" (any OpenAI-compatible endpoint).
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`

	// CacheSize is the query embedding LRU size. Negative disables.
	CacheSize int `yaml:"cache_size" json:"cache_size"`

	// Token is read from HYBRIDRANK_EMBEDDINGS_TOKEN only.
	Token string `yaml:"-" json:"-"`
}

// RerankConfig configures the cross-encoder.
type RerankConfig struct {
	// Provider is "http" (default), "overlap" or "none".
	Provider    string        `yaml:"provider" json:"provider"`
	Endpoint    string        `yaml:"endpoint" json:"endpoint"`
	Model       string        `yaml:"model" json:"model"`
	Instruction string        `yaml:"instruction" json:"instruction"`
	Format      string        `yaml:"format" json:"format"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	Retries     int           `yaml:"retries" json:"retries"`

	// BreakerFailures consecutive failures open the circuit for BreakerReset.
	// Zero disables the breaker.
	BreakerFailures int           `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset" json:"breaker_reset"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	// Transport is "stdio" (MCP) or "http" (JSON API).
	Transport string `yaml:"transport" json:"transport"`
	Addr      string `yaml:"addr" json:"addr"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// IngestConfig configures the index command.
type IngestConfig struct {
	Workers   int `yaml:"workers" json:"workers"`
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: ".hybridrank",
		Retrieval: RetrievalConfig{
			TopK:               5,
			MaxTopK:            100,
			BM25Backend:        "sqlite",
			ResolveConcurrency: 8,
			ResolverCacheSize:  4096,
			LexicalTimeout:     5 * time.Second,
			VectorTimeout:      10 * time.Second,
			Retries:            1,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "static",
			BatchSize: 32,
			CacheSize: 1000,
		},
		Rerank: RerankConfig{
			Provider:        "http",
			Endpoint:        "http://localhost:9659",
			Model:           "bge-reranker-v2-m3",
			Format:          "documents",
			Timeout:         30 * time.Second,
			Retries:         1,
			BreakerFailures: 5,
			BreakerReset:    30 * time.Second,
		},
		Server: ServerConfig{
			Transport: "stdio",
			Addr:      "127.0.0.1:8765",
			LogLevel:  "info",
		},
		Ingest: IngestConfig{
			Workers:   runtime.NumCPU(),
			BatchSize: 64,
		},
	}
}

// GetUserConfigPath returns the user configuration file:
//   - $XDG_CONFIG_HOME/hybridrank/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/hybridrank/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hybridrank", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "hybridrank", "config.yaml")
	}
	return filepath.Join(home, ".config", "hybridrank", "config.yaml")
}

// Load loads configuration for dir, in order of increasing precedence:
//  1. Defaults
//  2. User config (~/.config/hybridrank/config.yaml)
//  3. Project config (.hybridrank.yaml in dir)
//  4. Environment variables (HYBRIDRANK_*)
//
// A relative DataDir is resolved against dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	userPath := GetUserConfigPath()
	if fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	projectPath := filepath.Join(dir, ProjectConfigName)
	if fileExists(projectPath) {
		if err := cfg.loadYAML(projectPath); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(dir, cfg.DataDir)
	}
	return cfg, nil
}

// loadYAML decodes path over c. Keys absent from the file keep their
// current values, so explicit zeros and false are honored.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies HYBRIDRANK_* environment variables.
// Unparseable values are ignored and caught by Validate where it matters.
func (c *Config) applyEnvOverrides() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				*dst = d
			}
		}
	}

	setString("HYBRIDRANK_DATA_DIR", &c.DataDir)

	setInt("HYBRIDRANK_TOP_K", &c.Retrieval.TopK)
	setString("HYBRIDRANK_BM25_BACKEND", &c.Retrieval.BM25Backend)
	if v := os.Getenv("HYBRIDRANK_NORMALIZE_DEDUP"); v != "" {
		c.Retrieval.NormalizeDedup = strings.EqualFold(v, "true") || v == "1"
	}

	setString("HYBRIDRANK_EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	setString("HYBRIDRANK_EMBEDDINGS_MODEL", &c.Embeddings.Model)
	setString("HYBRIDRANK_EMBEDDINGS_ENDPOINT", &c.Embeddings.Endpoint)
	setString("HYBRIDRANK_EMBEDDINGS_TOKEN", &c.Embeddings.Token)
	setInt("HYBRIDRANK_EMBEDDINGS_DIMENSIONS", &c.Embeddings.Dimensions)

	setString("HYBRIDRANK_RERANK_PROVIDER", &c.Rerank.Provider)
	setString("HYBRIDRANK_RERANK_ENDPOINT", &c.Rerank.Endpoint)
	setString("HYBRIDRANK_RERANK_MODEL", &c.Rerank.Model)
	setDuration("HYBRIDRANK_RERANK_TIMEOUT", &c.Rerank.Timeout)

	setString("HYBRIDRANK_TRANSPORT", &c.Server.Transport)
	setString("HYBRIDRANK_ADDR", &c.Server.Addr)
	setString("HYBRIDRANK_LOG_LEVEL", &c.Server.LogLevel)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}

	r := c.Retrieval
	if r.TopK < 1 {
		return fmt.Errorf("retrieval.top_k must be at least 1, got %d", r.TopK)
	}
	if r.MaxTopK < r.TopK {
		return fmt.Errorf("retrieval.max_top_k (%d) must be >= retrieval.top_k (%d)", r.MaxTopK, r.TopK)
	}
	if err := oneOf("retrieval.bm25_backend", r.BM25Backend, "sqlite", "bleve"); err != nil {
		return err
	}
	if r.ResolveConcurrency < 1 {
		return fmt.Errorf("retrieval.resolve_concurrency must be at least 1, got %d", r.ResolveConcurrency)
	}
	if r.LexicalTimeout < 0 || r.VectorTimeout < 0 {
		return fmt.Errorf("retrieval timeouts must be non-negative")
	}
	if r.Retries < 0 {
		return fmt.Errorf("retrieval.retries must be non-negative, got %d", r.Retries)
	}

	e := c.Embeddings
	if err := oneOf("embeddings.provider", strings.ToLower(e.Provider), "static", "openai"); err != nil {
		return err
	}
	if strings.EqualFold(e.Provider, "openai") && e.Model == "" {
		return fmt.Errorf("embeddings.model is required for the openai provider")
	}
	if e.Dimensions < 0 {
		return fmt.Errorf("embeddings.dimensions must be non-negative, got %d", e.Dimensions)
	}
	if e.BatchSize < 1 {
		return fmt.Errorf("embeddings.batch_size must be at least 1, got %d", e.BatchSize)
	}

	rr := c.Rerank
	if err := oneOf("rerank.provider", rr.Provider, "http", "overlap", "none"); err != nil {
		return err
	}
	if err := oneOf("rerank.format", rr.Format, "documents", "candidates"); err != nil {
		return err
	}
	if rr.Retries < 0 || rr.BreakerFailures < 0 {
		return fmt.Errorf("rerank.retries and rerank.breaker_failures must be non-negative")
	}

	if err := oneOf("server.transport", strings.ToLower(c.Server.Transport), "stdio", "http"); err != nil {
		return err
	}
	if err := oneOf("server.log_level", strings.ToLower(c.Server.LogLevel), "debug", "info", "warn", "error"); err != nil {
		return err
	}

	if c.Ingest.Workers < 1 || c.Ingest.BatchSize < 1 {
		return fmt.Errorf("ingest.workers and ingest.batch_size must be at least 1")
	}
	return nil
}

func oneOf(field, value string, valid ...string) error {
	for _, v := range valid {
		if value == v {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(valid, ", "), value)
}

// WriteYAML writes the configuration to path, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
