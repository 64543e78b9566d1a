package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTP reranker defaults.
const (
	DefaultEndpoint = "http://localhost:9659"
	DefaultModel    = "bge-reranker-v2-m3"
	DefaultTimeout  = 30 * time.Second
)

// Format selects the request body shape of a rerank service.
type Format string

const (
	// FormatDocuments posts {query, documents, model, instruction, top_k} to /rerank.
	// Expects {results: [{index, score}]} back, the shape of the MLX rerank server.
	FormatDocuments Format = "documents"

	// FormatCandidates posts {query, candidates, model, top_k} to /v1/rerank.
	FormatCandidates Format = "candidates"
)

// HTTPConfig configures an HTTPReranker.
type HTTPConfig struct {
	Endpoint    string
	Model       string
	Instruction string // Optional task instruction for instruction-tuned rerankers
	Timeout     time.Duration
	Format      Format

	// SkipHealthCheck skips the /health probe in NewHTTPReranker.
	SkipHealthCheck bool

	// Client overrides the HTTP client.
	Client *http.Client
	Logger *slog.Logger
}

// HTTPReranker calls a cross-encoder service over HTTP.
type HTTPReranker struct {
	client *http.Client
	config HTTPConfig
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Reranker = (*HTTPReranker)(nil)

type documentsRequest struct {
	Query       string   `json:"query"`
	Documents   []string `json:"documents"`
	Model       string   `json:"model,omitempty"`
	Instruction string   `json:"instruction,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
}

type candidatesRequest struct {
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
	Model      string   `json:"model,omitempty"`
	TopK       int      `json:"top_k,omitempty"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
	Model            string   `json:"model"`
	ProcessingTimeMs *float64 `json:"processing_time_ms,omitempty"`
}

// NewHTTPReranker creates a client and, unless skipped, probes /health.
func NewHTTPReranker(ctx context.Context, cfg HTTPConfig) (*HTTPReranker, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	switch cfg.Format {
	case "":
		cfg.Format = FormatDocuments
	case FormatDocuments, FormatCandidates:
	default:
		return nil, fmt.Errorf("unknown rerank format: %s (valid options: documents, candidates)", cfg.Format)
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &HTTPReranker{client: client, config: cfg, logger: logger}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := r.healthCheck(checkCtx); err != nil {
			return nil, fmt.Errorf("reranker health check failed: %w", err)
		}
	}

	logger.Debug("http_reranker_created",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("model", cfg.Model),
		slog.String("format", string(cfg.Format)),
		slog.Duration("timeout", cfg.Timeout))
	return r, nil
}

func (r *HTTPReranker) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.Endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to reranker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("reranker unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

func (r *HTTPReranker) requestBody(query string, documents []string, topK int) (string, any) {
	if topK < 0 {
		topK = 0
	}
	if r.config.Format == FormatCandidates {
		return "/v1/rerank", candidatesRequest{
			Query:      query,
			Candidates: documents,
			Model:      r.config.Model,
			TopK:       topK,
		}
	}
	return "/rerank", documentsRequest{
		Query:       query,
		Documents:   documents,
		Model:       r.config.Model,
		Instruction: r.config.Instruction,
		TopK:        topK,
	}
}

// Rerank posts the documents and validates the response before returning it.
// The service may return fewer than topK results, never an out-of-range or
// repeated index.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]Result, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if len(documents) == 0 {
		return []Result{}, nil
	}

	start := time.Now()
	path, body := r.requestBody(query, documents, topK)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.Endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("rerank_failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		r.logger.Warn("rerank_failed",
			slog.Int("status_code", resp.StatusCode),
			slog.String("body", truncate(string(msg), 200)),
			slog.Duration("elapsed", time.Since(start)))
		return nil, fmt.Errorf("rerank failed (status %d): %s", resp.StatusCode, string(msg))
	}

	var decoded rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	results, err := toResults(decoded, len(documents))
	if err != nil {
		return nil, err
	}
	sortResults(results)
	results = limit(results, topK)

	attrs := []any{
		slog.String("query", truncate(query, 50)),
		slog.Int("doc_count", len(documents)),
		slog.Int("result_count", len(results)),
		slog.Int("payload_bytes", len(payload)),
		slog.Duration("total", time.Since(start)),
	}
	if decoded.ProcessingTimeMs != nil {
		attrs = append(attrs, slog.Float64("server_time_ms", *decoded.ProcessingTimeMs))
	}
	r.logger.Debug("rerank_complete", attrs...)

	return results, nil
}

func toResults(resp rerankResponse, n int) ([]Result, error) {
	if len(resp.Results) > n {
		return nil, fmt.Errorf("%w: %d results for %d documents", ErrInvalidResponse, len(resp.Results), n)
	}
	seen := make(map[int]struct{}, len(resp.Results))
	results := make([]Result, len(resp.Results))
	for i, item := range resp.Results {
		if item.Index < 0 || item.Index >= n {
			return nil, fmt.Errorf("%w: index %d for %d documents", ErrInvalidResponse, item.Index, n)
		}
		if _, dup := seen[item.Index]; dup {
			return nil, fmt.Errorf("%w: index %d repeated", ErrInvalidResponse, item.Index)
		}
		seen[item.Index] = struct{}{}
		results[i] = Result{Index: item.Index, Score: item.Score}
	}
	return results, nil
}

// ModelName returns the configured model.
func (r *HTTPReranker) ModelName() string { return r.config.Model }

// Available probes /health with a short timeout.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.healthCheck(ctx) == nil
}

// Close drops idle connections. Idempotent.
func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if t, ok := r.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}
