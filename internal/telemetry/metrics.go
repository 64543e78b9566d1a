// Package telemetry records per-query pipeline metrics.
// All data stays local: in memory, optionally flushed to a SQLite file.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/hybridrank/pkg/ensemble"
)

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket returns the bucket for d.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch ms := d.Milliseconds(); {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// Phases whose latency is tracked.
const (
	PhaseRetrieval = "retrieval"
	PhaseRerank    = "rerank"
	PhaseResolve   = "resolve"
	PhaseTotal     = "total"
)

// Outcome labels for failed queries that carry no stage.
const (
	OutcomeValidation = "validation"
	OutcomeOther      = "other"
)

// Counter keys used by Store.
const (
	counterQueries    = "queries"
	counterZeroResult = "zero_result"
	counterRepeats    = "exact_repeats"
	counterCandidates = "candidates"
	counterOverlap    = "overlap"
	prefixFailed      = "failed."
	prefixLatency     = "latency."
)

// Store persists flushed metrics.
type Store interface {
	// AddCounters adds deltas to the named counters for date (YYYY-MM-DD).
	AddCounters(date string, deltas map[string]int64) error

	// Counters sums counters over the inclusive date range.
	Counters(from, to string) (map[string]int64, error)

	AddZeroResultQueries(queries []string, at time.Time) error
	ZeroResultQueries(limit int) ([]string, error)

	Close() error
}

// Config configures Metrics.
type Config struct {
	ZeroResultsCapacity   int           // default 100
	RecentQueriesCapacity int           // default 500
	FlushInterval         time.Duration // 0 disables the background flush
	Logger                *slog.Logger
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         time.Minute,
	}
}

// Snapshot is a point-in-time copy of the in-memory metrics.
type Snapshot struct {
	TotalQueries      int64                              `json:"total_queries"`
	FailedByStage     map[string]int64                   `json:"failed_by_stage"`
	ZeroResultCount   int64                              `json:"zero_result_count"`
	ZeroResultQueries []string                           `json:"zero_result_queries"`
	Latency           map[string]map[LatencyBucket]int64 `json:"latency"`
	ExactRepeatCount  int64                              `json:"exact_repeat_count"`

	// OverlapRate is the share of retrieved candidates that both
	// retrievers returned, i.e. removed by deduplication.
	OverlapRate float64   `json:"overlap_rate"`
	Since       time.Time `json:"since"`
}

// ZeroResultPercentage returns zero-result queries as a percentage.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Metrics aggregates ensemble traces. It implements ensemble.Observer and
// is safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	total       map[string]int64
	zeroResults *ring[string]
	recent      *lru.Cache[string, struct{}]
	since       time.Time

	// Deltas not yet flushed.
	pending     map[string]int64
	pendingZero []string

	store  Store
	logger *slog.Logger
	stopCh chan struct{}
	doneCh chan struct{}
	closed bool
}

var _ ensemble.Observer = (*Metrics)(nil)

// New creates a collector. store may be nil for memory-only metrics.
func New(store Store, cfg Config) *Metrics {
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = 500
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	m := &Metrics{
		total:       make(map[string]int64),
		zeroResults: newRing[string](cfg.ZeroResultsCapacity),
		recent:      recent,
		since:       time.Now(),
		pending:     make(map[string]int64),
		store:       store,
		logger:      cfg.Logger,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	if store != nil && cfg.FlushInterval > 0 {
		go m.flushLoop(cfg.FlushInterval)
	} else {
		close(m.doneCh)
	}
	return m
}

func (m *Metrics) flushLoop(every time.Duration) {
	defer close(m.doneCh)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.Flush(); err != nil {
				m.logger.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		case <-m.stopCh:
			return
		}
	}
}

// ObserveRetrieve records one trace.
func (m *Metrics) ObserveRetrieve(t ensemble.Trace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.add(counterQueries, 1)

	if t.Err != nil {
		m.add(prefixFailed+failureLabel(t.Err), 1)
	} else if t.ResultCount == 0 && t.TopK > 0 {
		m.add(counterZeroResult, 1)
		m.zeroResults.add(t.Query)
		m.pendingZero = append(m.pendingZero, t.Query)
	}

	m.observeLatency(PhaseTotal, t.Total)
	if t.Retrieval > 0 {
		m.observeLatency(PhaseRetrieval, t.Retrieval)
	}
	if t.Rerank > 0 {
		m.observeLatency(PhaseRerank, t.Rerank)
	}
	if t.Resolve > 0 {
		m.observeLatency(PhaseResolve, t.Resolve)
	}

	retrieved := int64(t.LexicalCount + t.VectorCount)
	if retrieved > 0 {
		m.add(counterCandidates, retrieved)
		m.add(counterOverlap, retrieved-int64(t.UniqueCount))
	}

	key := queryKey(t.Query)
	if _, seen := m.recent.Get(key); seen {
		m.add(counterRepeats, 1)
	}
	m.recent.Add(key, struct{}{})
}

// Must be called with mu held.
func (m *Metrics) add(key string, n int64) {
	m.total[key] += n
	m.pending[key] += n
}

func (m *Metrics) observeLatency(phase string, d time.Duration) {
	m.add(prefixLatency+phase+"."+string(LatencyToBucket(d)), 1)
}

func failureLabel(err error) string {
	var se *ensemble.StageError
	switch {
	case errors.As(err, &se):
		return string(se.Stage)
	case errors.Is(err, ensemble.ErrEmptyQuery):
		return OutcomeValidation
	default:
		return OutcomeOther
	}
}

func queryKey(q string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(q))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns the current in-memory metrics.
func (m *Metrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Snapshot{
		TotalQueries:      m.total[counterQueries],
		FailedByStage:     make(map[string]int64),
		ZeroResultCount:   m.total[counterZeroResult],
		ZeroResultQueries: m.zeroResults.items(),
		Latency:           make(map[string]map[LatencyBucket]int64),
		ExactRepeatCount:  m.total[counterRepeats],
		Since:             m.since,
	}
	fillFromCounters(s, m.total)
	return s
}

// fillFromCounters expands prefixed counters into s.
func fillFromCounters(s *Snapshot, counters map[string]int64) {
	for k, v := range counters {
		switch {
		case strings.HasPrefix(k, prefixFailed):
			s.FailedByStage[strings.TrimPrefix(k, prefixFailed)] = v
		case strings.HasPrefix(k, prefixLatency):
			phase, bucket, ok := strings.Cut(strings.TrimPrefix(k, prefixLatency), ".")
			if !ok {
				continue
			}
			if s.Latency[phase] == nil {
				s.Latency[phase] = make(map[LatencyBucket]int64)
			}
			s.Latency[phase][LatencyBucket(bucket)] = v
		}
	}
	if c := counters[counterCandidates]; c > 0 {
		s.OverlapRate = float64(counters[counterOverlap]) / float64(c)
	}
}

// History reads persisted metrics for the inclusive date range.
func History(store Store, from, to string, zeroLimit int) (*Snapshot, error) {
	counters, err := store.Counters(from, to)
	if err != nil {
		return nil, err
	}
	zero, err := store.ZeroResultQueries(zeroLimit)
	if err != nil {
		return nil, err
	}
	s := &Snapshot{
		TotalQueries:      counters[counterQueries],
		FailedByStage:     make(map[string]int64),
		ZeroResultCount:   counters[counterZeroResult],
		ZeroResultQueries: zero,
		Latency:           make(map[string]map[LatencyBucket]int64),
		ExactRepeatCount:  counters[counterRepeats],
	}
	fillFromCounters(s, counters)
	return s, nil
}

// Flush writes unflushed deltas to the store. Deltas are kept on failure.
func (m *Metrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	deltas, zero := m.pending, m.pendingZero
	m.pending, m.pendingZero = make(map[string]int64), nil
	m.mu.Unlock()

	if len(deltas) == 0 && len(zero) == 0 {
		return nil
	}

	now := time.Now()
	err := m.store.AddCounters(now.Format("2006-01-02"), deltas)
	if err == nil && len(zero) > 0 {
		err = m.store.AddZeroResultQueries(zero, now)
		if err != nil {
			// Counters landed; only the queries need another try.
			deltas = nil
		}
	}
	if err != nil {
		m.mu.Lock()
		for k, v := range deltas {
			m.pending[k] += v
		}
		m.pendingZero = append(zero, m.pendingZero...)
		m.mu.Unlock()
		return err
	}
	return nil
}

// Close stops the background flush and flushes once more. The store is
// not closed.
func (m *Metrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh
	return m.Flush()
}

// ring is a fixed-capacity FIFO that evicts the oldest item.
type ring[T any] struct {
	buf  []T
	head int
	size int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) add(item T) {
	r.buf[r.head] = item
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// items returns the contents oldest first.
func (r *ring[T]) items() []T {
	out := make([]T, 0, r.size)
	start := (r.head - r.size + len(r.buf)) % len(r.buf)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// SortedBuckets returns the bucket names in latency order.
func SortedBuckets(m map[LatencyBucket]int64) []LatencyBucket {
	order := map[LatencyBucket]int{BucketP10: 0, BucketP50: 1, BucketP100: 2, BucketP500: 3, BucketP1000: 4}
	out := make([]LatencyBucket, 0, len(m))
	for b := range m {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i]] < order[out[j]] })
	return out
}
