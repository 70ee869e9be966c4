package fetch

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedFetcher memoizes successful page bodies in a bounded LRU so a
// page that reappears within one run (duplicate pagination cursor,
// driver re-entry after a skipped page) is served from memory instead
// of hitting the storefront again. Errors are never cached.
//
// Cacheable, when set, decides whether a fetched body may enter the
// cache. Challenge pages fetch successfully and are only recognized
// downstream, so without a policy a blocked body would be replayed to
// every retry and the retry could never reach the origin.
type CachedFetcher struct {
	inner     Fetcher
	cache     *lru.Cache[string, []byte]
	Cacheable func(body []byte) bool
}

// NewCachedFetcher wraps inner with an LRU of at most size entries.
func NewCachedFetcher(inner Fetcher, size int) (*CachedFetcher, error) {
	if size <= 0 {
		return nil, fmt.Errorf("fetch: cache size must be positive")
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("create page cache: %w", err)
	}
	return &CachedFetcher{inner: inner, cache: cache}, nil
}

// Fetch returns a cached body when present, otherwise delegates.
func (f *CachedFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if body, ok := f.cache.Get(pageURL); ok {
		return body, nil
	}
	body, err := f.inner.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if f.Cacheable == nil || f.Cacheable(body) {
		f.cache.Add(pageURL, body)
	}
	return body, nil
}

// Len reports the number of cached pages.
func (f *CachedFetcher) Len() int {
	return f.cache.Len()
}
