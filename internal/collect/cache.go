package collect

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/TobiSchelling/xgrowth/internal/store"
)

// CachedFetcher remembers posts it has seen so review lookups avoid a network call.
type CachedFetcher struct {
	inner Fetcher
	posts *cache.Cache
}

// NewCachedFetcher wraps inner with a TTL cache keyed by post id.
func NewCachedFetcher(inner Fetcher, ttl time.Duration) *CachedFetcher {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &CachedFetcher{inner: inner, posts: cache.New(ttl, 2*ttl)}
}

func (c *CachedFetcher) remember(posts []store.Post) {
	for _, p := range posts {
		c.posts.Set(p.ID, p, cache.DefaultExpiration)
	}
}

// ListRecent delegates and caches the results.
func (c *CachedFetcher) ListRecent(ctx context.Context, username string, count int) ([]store.Post, error) {
	posts, err := c.inner.ListRecent(ctx, username, count)
	if err != nil {
		return nil, err
	}
	c.remember(posts)
	return posts, nil
}

// GetByID serves from cache when possible.
func (c *CachedFetcher) GetByID(ctx context.Context, id string) (*store.Post, error) {
	if v, ok := c.posts.Get(id); ok {
		p := v.(store.Post)
		return &p, nil
	}
	p, err := c.inner.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.posts.Set(p.ID, *p, cache.DefaultExpiration)
	return p, nil
}

// Search delegates and caches the results.
func (c *CachedFetcher) Search(ctx context.Context, query string, count int) ([]store.Post, error) {
	posts, err := c.inner.Search(ctx, query, count)
	if err != nil {
		return nil, err
	}
	c.remember(posts)
	return posts, nil
}
