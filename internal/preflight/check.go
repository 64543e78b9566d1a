package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/hybridrank/internal/config"
	amerrors "github.com/Aman-CERP/hybridrank/internal/errors"
	"github.com/Aman-CERP/hybridrank/internal/rerank"
	"github.com/Aman-CERP/hybridrank/internal/retrieve"
	"github.com/Aman-CERP/hybridrank/internal/store"
)

// CheckStatus is the outcome of one check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status by name.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckResult holds the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical reports whether a required check failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker runs the checks.
type Checker struct {
	verbose bool
	output  io.Writer
	logger  *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose prints check details.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) { c.verbose = verbose }
}

// WithOutput sets the writer used by PrintResults.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) { c.output = w }
}

// WithLogger sets the logger passed to the components the checks open.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Checker.
func New(opts ...Option) *Checker {
	c := &Checker{output: os.Stdout, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check for cfg.
func (c *Checker) RunAll(ctx context.Context, cfg *config.Config) []CheckResult {
	dir := existingAncestor(cfg.DataDir)
	results := []CheckResult{
		c.CheckWritePermissions(dir),
		c.CheckDiskSpace(dir),
		c.CheckFileDescriptors(),
		c.CheckIndex(ctx, cfg),
		c.CheckReranker(ctx, cfg),
	}
	for _, r := range results {
		c.logger.Debug("preflight_check",
			slog.String("name", r.Name),
			slog.String("status", r.Status.String()),
			slog.String("message", r.Message))
	}
	return results
}

// existingAncestor returns path or its closest existing parent, so a data
// directory that has not been created yet is checked where it will live.
func existingAncestor(path string) string {
	p := filepath.Clean(path)
	for {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}

// CheckWritePermissions checks that dir accepts new files.
func (c *Checker) CheckWritePermissions(dir string) CheckResult {
	result := CheckResult{Name: "write_permissions", Required: true}

	f, err := os.CreateTemp(dir, ".hybridrank-preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot write to %s: %v", dir, err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	result.Status = StatusPass
	result.Message = dir
	return result
}

// CheckIndex opens the index with the configured embedder, without
// contacting the reranker.
func (c *Checker) CheckIndex(ctx context.Context, cfg *config.Config) CheckResult {
	result := CheckResult{Name: "index", Required: true}

	if !store.IndexExists(cfg.DataDir) {
		result.Status = StatusFail
		result.Message = "no index in " + cfg.DataDir
		result.Details = "Run 'hybridrank index <file>' to build one"
		return result
	}

	p, err := retrieve.Open(ctx, cfg, retrieve.WithoutHealthCheck(), retrieve.WithPipelineLogger(c.logger))
	if err != nil {
		return failFrom(result, err)
	}
	defer func() { _ = p.Close() }()

	st, err := p.Stats(ctx)
	if err != nil {
		return failFrom(result, err)
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d passages, %s (%d dims)", st.Passages, st.EmbeddingModel, st.Dimensions)
	if st.LexicalDocs != st.Passages || st.Vectors != st.Passages {
		result.Status = StatusWarn
		result.Details = fmt.Sprintf("lexical=%d vectors=%d; re-run 'hybridrank index' to resync", st.LexicalDocs, st.Vectors)
	}
	return result
}

// CheckReranker runs the reranker's health check.
func (c *Checker) CheckReranker(ctx context.Context, cfg *config.Config) CheckResult {
	result := CheckResult{Name: "reranker", Required: true}

	r, err := rerank.New(ctx, retrieve.RerankOptions(cfg, false, c.logger))
	if err != nil {
		result.Details = "Start the rerank service or set rerank.provider to 'overlap'"
		return failFrom(result, err)
	}
	defer func() { _ = r.Close() }()

	result.Status = StatusPass
	result.Message = r.ModelName()
	switch rerank.Provider(cfg.Rerank.Provider) {
	case rerank.ProviderNone:
		result.Status = StatusWarn
		result.Message = "disabled: results keep retrieval order"
	case rerank.ProviderOverlap:
		result.Status = StatusWarn
		result.Message = "term overlap scorer (offline, no cross-encoder)"
	}
	return result
}

func failFrom(result CheckResult, err error) CheckResult {
	result.Status = StatusFail
	result.Message = err.Error()
	var ae *amerrors.AmanError
	if errors.As(err, &ae) {
		result.Message = ae.Message
		if ae.Suggestion != "" && result.Details == "" {
			result.Details = ae.Suggestion
		}
	}
	return result
}

// HasCriticalFailures reports whether any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns "ready", "ready_with_warnings" or "failed".
func (c *Checker) SummaryStatus(results []CheckResult) string {
	warned := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			warned = true
		}
	}
	if warned {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults writes a report of results.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "hybridrank system check")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if r.Details != "" && (c.verbose || r.Status != StatusPass) {
			_, _ = fmt.Fprintf(c.output, "       %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))
}
