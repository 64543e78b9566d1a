package ensemble

import "strings"

// KeyFunc derives the deduplication key for a passage text.
type KeyFunc func(text string) string

// ExactKey keys passages by their exact bytes. Passages that differ only in
// case or whitespace stay distinct.
func ExactKey(text string) string {
	return text
}

// NormalizedKey keys passages by lowercased text with whitespace runs
// collapsed and the ends trimmed.
func NormalizedKey(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// Deduplicator merges candidate lists into a set of unique texts.
type Deduplicator struct {
	key KeyFunc
}

// DedupOption configures a Deduplicator.
type DedupOption func(*Deduplicator)

// WithKeyFunc sets the deduplication key. A nil func keeps ExactKey.
func WithKeyFunc(fn KeyFunc) DedupOption {
	return func(d *Deduplicator) {
		if fn != nil {
			d.key = fn
		}
	}
}

// WithNormalizedKeys merges passages that differ only in case or whitespace.
// The first text seen for a key is kept, so every member of the set is still
// a text some retriever actually returned.
func WithNormalizedKeys() DedupOption {
	return WithKeyFunc(NormalizedKey)
}

// NewDeduplicator creates a Deduplicator keyed by exact text unless overridden.
func NewDeduplicator(opts ...DedupOption) *Deduplicator {
	d := &Deduplicator{key: ExactKey}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Merge returns each distinct text across all lists exactly once.
// Rank, score and origin are discarded.
func (d *Deduplicator) Merge(lists ...[]Candidate) DeduplicatedSet {
	capacity := 0
	for _, l := range lists {
		capacity += len(l)
	}

	texts := make(map[string]struct{}, capacity)
	seen := make(map[string]struct{}, capacity)
	for _, l := range lists {
		for _, c := range l {
			k := d.key(c.Text)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			texts[c.Text] = struct{}{}
		}
	}
	return DeduplicatedSet{texts: texts}
}

// Merge deduplicates lists by exact text.
func Merge(lists ...[]Candidate) DeduplicatedSet {
	return NewDeduplicator().Merge(lists...)
}
