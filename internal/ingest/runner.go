package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Aman-CERP/hybridrank/internal/embed"
	amerrors "github.com/Aman-CERP/hybridrank/internal/errors"
	"github.com/Aman-CERP/hybridrank/internal/store"
)

// Config configures an index run.
type Config struct {
	// DataDir receives the registry and both indexes.
	DataDir string

	// BM25Backend is "sqlite" or "bleve".
	BM25Backend string

	// Workers is the number of concurrent embedding batches (default: NumCPU).
	Workers int

	// BatchSize is the number of passages per embedding call (default: 64).
	BatchSize int

	// Force deletes any existing index first.
	Force bool
}

// Result summarizes a run.
type Result struct {
	Records  int           `json:"records"`
	Indexed  int           `json:"indexed"`
	Skipped  int           `json:"skipped"`
	Replaced int           `json:"replaced"`
	Duration time.Duration `json:"duration"`
}

// ProgressFunc is called after each embedded batch.
type ProgressFunc func(done, total int)

// Runner indexes records into a data directory.
type Runner struct {
	cfg      Config
	embedder embed.Embedder
	pool     *ants.Pool
	logger   *slog.Logger
	progress ProgressFunc
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithProgress reports embedding progress.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Runner) {
		r.progress = fn
	}
}

// NewRunner creates a Runner. Call Release when done.
func NewRunner(cfg Config, embedder embed.Embedder, opts ...Option) (*Runner, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if cfg.DataDir == "" {
		return nil, errors.New("data directory is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}

	r := &Runner{
		cfg:      cfg,
		embedder: embedder,
		pool:     pool,
		logger:   slog.Default(),
		progress: func(int, int) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Release stops the worker pool.
func (r *Runner) Release() {
	r.pool.Release()
}

// Run writes records to the data directory. Records with an existing text
// replace the old passage; records with empty text are skipped.
func (r *Runner) Run(ctx context.Context, records []Record) (*Result, error) {
	start := time.Now()
	result := &Result{Records: len(records)}

	lock := NewDataDirLock(r.cfg.DataDir)
	if err := lock.TryLock(); err != nil {
		return nil, err
	}
	defer func() { _ = lock.Unlock() }()

	if r.cfg.Force {
		if err := RemoveIndex(r.cfg.DataDir); err != nil {
			return nil, amerrors.Wrap(amerrors.ErrCodeIngestFailed, err)
		}
	}

	passages := prepare(records)
	result.Skipped = len(records) - len(passages)

	ix, err := r.open(ctx)
	if err != nil {
		return nil, err
	}
	defer ix.close()

	stale, err := staleIDs(ctx, ix.passages, passages)
	if err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeRegistryFailed, err)
	}
	result.Replaced = len(stale)

	vectors, err := r.embedAll(ctx, passages)
	if err != nil {
		return nil, err
	}

	if err := ix.write(ctx, r.cfg.DataDir, passages, vectors, stale); err != nil {
		return nil, err
	}
	if err := ix.passages.SetState(ctx, store.StateKeyEmbeddingModel, r.embedder.ModelName()); err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeRegistryFailed, err)
	}
	if err := ix.passages.SetState(ctx, store.StateKeyEmbeddingDimensions, strconv.Itoa(r.embedder.Dimensions())); err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeRegistryFailed, err)
	}

	result.Indexed = len(passages)
	result.Duration = time.Since(start)
	r.logger.Info("index_complete",
		slog.String("data_dir", r.cfg.DataDir),
		slog.Int("records", result.Records),
		slog.Int("indexed", result.Indexed),
		slog.Int("skipped", result.Skipped),
		slog.Int("replaced", result.Replaced),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// prepare trims texts, drops empty ones, assigns missing IDs and keeps the
// last record for each text.
func prepare(records []Record) []*store.Passage {
	byText := make(map[string]int, len(records))
	out := make([]*store.Passage, 0, len(records))
	now := time.Now()
	for _, rec := range records {
		text := strings.TrimSpace(rec.Text)
		if text == "" {
			continue
		}
		id := rec.ID
		if id == "" {
			id = PassageID(text)
		}
		p := &store.Passage{ID: id, Text: text, Source: rec.Source, CreatedAt: now}
		if i, ok := byText[text]; ok {
			out[i] = p
			continue
		}
		byText[text] = len(out)
		out = append(out, p)
	}
	return out
}

// staleIDs returns registry IDs whose text is being re-indexed under a new ID.
func staleIDs(ctx context.Context, registry store.PassageStore, passages []*store.Passage) ([]string, error) {
	var stale []string
	for _, p := range passages {
		id, err := registry.LookupID(ctx, p.Text)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if id != p.ID {
			stale = append(stale, id)
		}
	}
	return stale, nil
}

// embedAll embeds passage texts in batches on the worker pool.
func (r *Runner) embedAll(ctx context.Context, passages []*store.Passage) ([][]float32, error) {
	total := len(passages)
	vectors := make([][]float32, total)
	if total == 0 {
		return vectors, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		done     int
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for lo := 0; lo < total; lo += r.cfg.BatchSize {
		hi := min(lo+r.cfg.BatchSize, total)
		texts := make([]string, 0, hi-lo)
		for _, p := range passages[lo:hi] {
			texts = append(texts, p.Text)
		}

		wg.Add(1)
		err := r.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			vecs, err := r.embedder.EmbedBatch(ctx, texts)
			if err != nil {
				fail(err)
				return
			}
			if len(vecs) != len(texts) {
				fail(fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts)))
				return
			}
			copy(vectors[lo:hi], vecs)

			mu.Lock()
			done += len(texts)
			n := done
			mu.Unlock()
			r.progress(n, total)
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submit embedding batch: %w", err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeEmbeddingFailed, firstErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.logger.Debug("embedding_complete",
		slog.Int("passages", total),
		slog.Int("batch_size", r.cfg.BatchSize),
		slog.Int("workers", r.pool.Cap()))
	return vectors, nil
}

// indexes holds the three stores of a data directory during a run.
type indexes struct {
	passages store.PassageStore
	lexical  store.BM25Index
	vectors  *store.HNSWStore
}

func (r *Runner) open(ctx context.Context) (*indexes, error) {
	passages, err := store.NewPassageStore(store.PassageStorePath(r.cfg.DataDir))
	if err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeRegistryFailed, err)
	}
	ix := &indexes{passages: passages}

	dims := r.embedder.Dimensions()
	indexed, err := passages.GetState(ctx, store.StateKeyEmbeddingDimensions)
	if err != nil {
		ix.close()
		return nil, amerrors.Wrap(amerrors.ErrCodeRegistryFailed, err)
	}
	if indexed != "" && indexed != strconv.Itoa(dims) {
		ix.close()
		return nil, amerrors.New(amerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index has %s-dimensional vectors, embedder %s produces %d", indexed, r.embedder.ModelName(), dims), nil).
			WithSuggestion("Re-run with --force to rebuild the index")
	}

	lexical, err := store.NewBM25Index(r.cfg.DataDir, store.DefaultBM25Config(), r.lexicalBackend())
	if err != nil {
		ix.close()
		return nil, amerrors.Wrap(amerrors.ErrCodeCorruptIndex, err)
	}
	ix.lexical = lexical

	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		ix.close()
		return nil, amerrors.Wrap(amerrors.ErrCodeIngestFailed, err)
	}
	ix.vectors = vectors
	path := store.VectorStorePath(r.cfg.DataDir)
	if _, err := os.Stat(path); err == nil {
		if err := vectors.Load(path); err != nil {
			ix.close()
			return nil, amerrors.Wrap(amerrors.ErrCodeCorruptIndex, err).
				WithSuggestion("Re-run with --force to rebuild the index")
		}
	}
	return ix, nil
}

// write removes stale IDs, then saves the registry before the indexes so
// that every indexed ID resolves.
func (ix *indexes) write(ctx context.Context, dataDir string, passages []*store.Passage, vectors [][]float32, stale []string) error {
	if len(stale) > 0 {
		if err := ix.lexical.Delete(ctx, stale); err != nil {
			return amerrors.Wrap(amerrors.ErrCodeIngestFailed, err)
		}
		if err := ix.vectors.Delete(ctx, stale); err != nil {
			return amerrors.Wrap(amerrors.ErrCodeIngestFailed, err)
		}
	}
	if len(passages) == 0 {
		return ix.vectors.Save(store.VectorStorePath(dataDir))
	}

	if err := ix.passages.Save(ctx, passages); err != nil {
		return amerrors.Wrap(amerrors.ErrCodeRegistryFailed, err)
	}

	docs := make([]*store.Document, len(passages))
	ids := make([]string, len(passages))
	for i, p := range passages {
		docs[i] = &store.Document{ID: p.ID, Content: p.Text}
		ids[i] = p.ID
	}
	if err := ix.lexical.Index(ctx, docs); err != nil {
		return amerrors.Wrap(amerrors.ErrCodeIngestFailed, err)
	}
	if err := ix.vectors.Add(ctx, ids, vectors); err != nil {
		return amerrors.Wrap(amerrors.ErrCodeIngestFailed, err)
	}
	if err := ix.vectors.Save(store.VectorStorePath(dataDir)); err != nil {
		return amerrors.Wrap(amerrors.ErrCodeIngestFailed, err)
	}
	return nil
}

func (ix *indexes) close() {
	if ix.vectors != nil {
		_ = ix.vectors.Close()
	}
	if ix.lexical != nil {
		_ = ix.lexical.Close()
	}
	if ix.passages != nil {
		_ = ix.passages.Close()
	}
}

// lexicalBackend returns the backend already on disk, so an incremental run
// never starts a second lexical index beside the first. Force runs have
// removed the old index and use the configured backend.
func (r *Runner) lexicalBackend() string {
	backend := r.cfg.BM25Backend
	if r.cfg.Force {
		return backend
	}
	if detected := store.DetectBM25Backend(r.cfg.DataDir); detected != "" && string(detected) != backend {
		r.logger.Warn("bm25_backend_override",
			slog.String("configured", backend),
			slog.String("detected", string(detected)))
		backend = string(detected)
	}
	return backend
}

// RemoveIndex deletes the registry and both indexes under dataDir.
// The lock file and configuration are kept.
func RemoveIndex(dataDir string) error {
	paths := []string{
		store.PassageStorePath(dataDir),
		store.PassageStorePath(dataDir) + "-wal",
		store.PassageStorePath(dataDir) + "-shm",
		store.BM25IndexPath(dataDir, string(store.BM25BackendSQLite)),
		store.BM25IndexPath(dataDir, string(store.BM25BackendSQLite)) + "-wal",
		store.BM25IndexPath(dataDir, string(store.BM25BackendSQLite)) + "-shm",
		store.BM25IndexPath(dataDir, string(store.BM25BackendBleve)),
		store.VectorStorePath(dataDir),
		store.VectorStorePath(dataDir) + ".meta",
	}
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}
