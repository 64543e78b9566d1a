package retrieve

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/hybridrank/internal/store"
	"github.com/Aman-CERP/hybridrank/pkg/ensemble"
)

// DefaultResolverCacheSize is the number of text-to-ID mappings kept in memory.
const DefaultResolverCacheSize = 4096

// PassageResolver resolves passage text to its registry ID.
// Hits are cached by text hash; misses always go to the registry.
type PassageResolver struct {
	passages store.PassageStore
	cache    *lru.Cache[string, string]
}

var _ ensemble.IdentityResolver = (*PassageResolver)(nil)

// NewPassageResolver creates a resolver. cacheSize <= 0 disables caching.
func NewPassageResolver(passages store.PassageStore, cacheSize int) *PassageResolver {
	r := &PassageResolver{passages: passages}
	if cacheSize > 0 {
		// lru.New only fails for a non-positive size
		r.cache, _ = lru.New[string, string](cacheSize)
	}
	return r
}

// Lookup returns the ID for text. Unknown text yields an error matching
// ensemble.ErrNotFound.
func (r *PassageResolver) Lookup(ctx context.Context, text string) (string, error) {
	key := store.TextHash(text)
	if r.cache != nil {
		if id, ok := r.cache.Get(key); ok {
			return id, nil
		}
	}

	id, err := r.passages.LookupID(ctx, text)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: %w", ensemble.ErrNotFound, err)
	}
	if err != nil {
		return "", fmt.Errorf("lookup passage: %w", err)
	}

	if r.cache != nil {
		r.cache.Add(key, id)
	}
	return id, nil
}

// Purge drops cached mappings. Call after the registry is rewritten.
func (r *PassageResolver) Purge() {
	if r.cache != nil {
		r.cache.Purge()
	}
}
