package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/stop"
	"github.com/blevesearch/bleve/v2/analysis/tokenmap"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

const (
	// PassageTokenizerName is the registered name of the passage tokenizer type.
	PassageTokenizerName = "passage_tokenizer"

	passageTokenizer = "passage"
	passageStopMap   = "passage_stop_map"
	passageStop      = "passage_stop"
	passageAnalyzer  = "passage_analyzer"

	contentField = "content"
)

func init() {
	_ = registry.RegisterTokenizer(PassageTokenizerName, passageTokenizerConstructor)
}

// BleveBM25Index implements BM25Index with Bleve v2.
// A disk index holds a BoltDB lock, so only one process may open it.
type BleveBM25Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ BM25Index = (*BleveBM25Index)(nil)

type bleveDocument struct {
	Content string `json:"content"`
}

// NewBleveBM25Index opens or creates a Bleve index at path.
// An empty path creates an in-memory index. A corrupt index is cleared and recreated.
func NewBleveBM25Index(path string, cfg BM25Config) (*BleveBM25Index, error) {
	m, err := newPassageMapping(cfg)
	if err != nil {
		return nil, fmt.Errorf("create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
		if vErr := validateBleveIntegrity(path); vErr != nil {
			slog.Warn("bleve_index_corrupted",
				slog.String("path", path),
				slog.String("error", vErr.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, fmt.Errorf("BM25 index corrupted at %s and cannot remove: %w (original error: %v)", path, rmErr, vErr)
			}
		}

		idx, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}

	return &BleveBM25Index{index: idx, path: path}, nil
}

func newPassageMapping(cfg BM25Config) (*mapping.IndexMappingImpl, error) {
	minLen := cfg.MinTokenLength
	if minLen <= 0 {
		minLen = 2
	}

	m := bleve.NewIndexMapping()
	if err := m.AddCustomTokenizer(passageTokenizer, map[string]interface{}{
		"type":       PassageTokenizerName,
		"min_length": float64(minLen),
	}); err != nil {
		return nil, err
	}

	stopTokens := make([]interface{}, len(cfg.StopWords))
	for i, w := range cfg.StopWords {
		stopTokens[i] = strings.ToLower(w)
	}
	if err := m.AddCustomTokenMap(passageStopMap, map[string]interface{}{
		"type":   tokenmap.Name,
		"tokens": stopTokens,
	}); err != nil {
		return nil, err
	}
	if err := m.AddCustomTokenFilter(passageStop, map[string]interface{}{
		"type":           stop.Name,
		"stop_token_map": passageStopMap,
	}); err != nil {
		return nil, err
	}

	if err := m.AddCustomAnalyzer(passageAnalyzer, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     passageTokenizer,
		"token_filters": []string{lowercase.Name, passageStop},
	}); err != nil {
		return nil, err
	}
	m.DefaultAnalyzer = passageAnalyzer
	return m, nil
}

// Index adds or replaces documents in one batch.
func (b *BleveBM25Index) Index(_ context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	batch := b.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, bleveDocument{Content: doc.Content}); err != nil {
			return fmt.Errorf("index document %s: %w", doc.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}
	return nil
}

// Search runs a match query (terms OR-ed) against passage content.
func (b *BleveBM25Index) Search(ctx context.Context, query string, limit int) ([]*BM25Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return []*BM25Result{}, nil
	}

	q := bleve.NewMatchQuery(query)
	q.SetField(contentField)

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.IncludeLocations = true

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*BM25Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, &BM25Result{
			DocID:        hit.ID,
			Score:        hit.Score,
			MatchedTerms: matchedTerms(hit),
		})
	}
	return results, nil
}

// Delete removes documents.
func (b *BleveBM25Index) Delete(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

// Count returns the number of indexed documents, 0 if closed.
func (b *BleveBM25Index) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}
	n, err := b.index.DocCount()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close closes the index. Idempotent.
func (b *BleveBM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

func matchedTerms(hit *search.DocumentMatch) []string {
	locs := hit.Locations[contentField]
	terms := make([]string, 0, len(locs))
	for term := range locs {
		terms = append(terms, term)
	}
	return terms
}

// validateBleveIntegrity checks index_meta.json of an existing index.
// A missing directory is valid.
func validateBleveIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func passageTokenizerConstructor(config map[string]interface{}, _ *registry.Cache) (analysis.Tokenizer, error) {
	minLen := 2
	switch v := config["min_length"].(type) {
	case float64:
		minLen = int(v)
	case int:
		minLen = v
	}
	return &bleveTokenizer{minLen: minLen}, nil
}

// bleveTokenizer splits on non letter/digit runes, matching Tokenize.
// Lowercasing and stop words are left to the analyzer's filters.
type bleveTokenizer struct {
	minLen int
}

// Tokenize implements analysis.Tokenizer.
func (t *bleveTokenizer) Tokenize(input []byte) analysis.TokenStream {
	stream := make(analysis.TokenStream, 0, len(input)/5)
	pos := 1
	start := -1
	runes := 0

	emit := func(end int) {
		if start >= 0 && runes >= t.minLen {
			stream = append(stream, &analysis.Token{
				Term:     append([]byte(nil), input[start:end]...),
				Start:    start,
				End:      end,
				Position: pos,
				Type:     analysis.AlphaNumeric,
			})
			pos++
		}
		start = -1
		runes = 0
	}

	for i := 0; i < len(input); {
		r, size := utf8.DecodeRune(input[i:])
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			if start < 0 {
				start = i
			}
			runes++
		} else {
			emit(i)
		}
		i += size
	}
	emit(len(input))
	return stream
}
