package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore implements VectorStore on coder/hnsw.
//
// Passage IDs are strings while graph keys are uint64, so the store keeps a
// bidirectional mapping that is persisted next to the graph. Deletes only
// drop the mapping; orphaned graph nodes are filtered from results.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	keys    map[string]uint64
	ids     map[uint64]string
	nextKey uint64

	closed bool
}

var _ VectorStore = (*HNSWStore)(nil)

// hnswMeta is the gob-encoded sidecar written by Save.
type hnswMeta struct {
	Keys    map[string]uint64
	NextKey uint64
	Config  VectorStoreConfig
}

// NewHNSWStore creates an empty store.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	return &HNSWStore{
		graph:  newGraph(cfg),
		config: cfg,
		keys:   make(map[string]uint64),
		ids:    make(map[uint64]string),
	}, nil
}

func newGraph(cfg VectorStoreConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	if cfg.Metric == "l2" {
		g.Distance = hnsw.EuclideanDistance
	} else {
		g.Distance = hnsw.CosineDistance
	}
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// Add inserts vectors. Replacing an ID orphans its previous node.
func (s *HNSWStore) Add(_ context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return DimensionMismatchError{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if old, ok := s.keys[id]; ok {
			delete(s.ids, old)
		}

		key := s.nextKey
		s.nextKey++

		vec := s.prepare(vectors[i])
		s.graph.Add(hnsw.MakeNode(key, vec))
		s.keys[id] = key
		s.ids[key] = id
	}
	return nil
}

// Search returns up to k live IDs closest to query.
func (s *HNSWStore) Search(_ context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if len(query) != s.config.Dimensions {
		return nil, DimensionMismatchError{Expected: s.config.Dimensions, Got: len(query)}
	}
	if k <= 0 || s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	q := s.prepare(query)

	// Over-fetch so orphaned nodes do not starve the result
	fetch := k
	if orphans := s.graph.Len() - len(s.keys); orphans > 0 {
		fetch += orphans
	}
	nodes := s.graph.Search(q, fetch)

	results := make([]*VectorResult, 0, k)
	for _, n := range nodes {
		id, ok := s.ids[n.Key]
		if !ok {
			continue
		}
		d := s.graph.Distance(q, n.Value)
		results = append(results, &VectorResult{ID: id, Distance: d, Score: distanceToScore(d, s.config.Metric)})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Delete removes vectors by ID. Unknown IDs are ignored.
func (s *HNSWStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, id := range ids {
		if key, ok := s.keys[id]; ok {
			delete(s.ids, key)
			delete(s.keys, id)
		}
	}
	return nil
}

// Contains reports whether id has a live vector.
func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[id]
	return ok && !s.closed
}

// Count returns the number of live vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.keys)
}

// Orphans returns graph nodes left behind by deletes and replacements.
func (s *HNSWStore) Orphans() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.graph.Len() - len(s.keys)
}

// Dimensions returns the configured vector dimension.
func (s *HNSWStore) Dimensions() int {
	return s.config.Dimensions
}

// Save writes the graph to path and the ID mapping to path+".meta".
// Both files are written to a temp name and renamed.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	if err := writeAtomic(path, func(f *os.File) error { return s.graph.Export(f) }); err != nil {
		return fmt.Errorf("export graph: %w", err)
	}

	meta := hnswMeta{Keys: s.keys, NextKey: s.nextKey, Config: s.config}
	if err := writeAtomic(path+".meta", func(f *os.File) error { return gob.NewEncoder(f).Encode(meta) }); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// Load replaces the store contents with a graph saved by Save.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	meta, err := readHNSWMeta(path)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open graph: %w", err)
	}
	defer f.Close()

	g := newGraph(meta.Config)
	// Import needs an io.ByteReader
	if err := g.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	s.graph = g
	s.config = meta.Config
	s.keys = meta.Keys
	s.nextKey = meta.NextKey
	s.ids = make(map[uint64]string, len(meta.Keys))
	for id, key := range meta.Keys {
		s.ids[key] = id
	}
	return nil
}

// Close releases the graph. Idempotent.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graph = nil
	return nil
}

// prepare copies v and normalizes it for cosine.
func (s *HNSWStore) prepare(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	if s.config.Metric != "l2" {
		normalize(out)
	}
	return out
}

// ReadHNSWDimensions returns the dimension recorded next to a saved graph,
// or 0 if none has been saved.
func ReadHNSWDimensions(path string) (int, error) {
	meta, err := readHNSWMeta(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return meta.Config.Dimensions, nil
}

func readHNSWMeta(path string) (hnswMeta, error) {
	var meta hnswMeta
	f, err := os.Open(path + ".meta")
	if err != nil {
		return meta, err
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return meta, fmt.Errorf("decode hnsw metadata: %w", err)
	}
	if meta.Keys == nil {
		meta.Keys = make(map[string]uint64)
	}
	return meta, nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps cosine distance [0,2] or L2 distance [0,inf) to [0,1].
func distanceToScore(d float32, metric string) float32 {
	if metric == "l2" {
		return 1 / (1 + d)
	}
	return 1 - d/2
}
