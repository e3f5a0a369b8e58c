package collect

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/xgrowth/internal/store"
)

// Fetcher retrieves posts from a social network.
type Fetcher interface {
	ListRecent(ctx context.Context, username string, count int) ([]store.Post, error)
	GetByID(ctx context.Context, id string) (*store.Post, error)
	Search(ctx context.Context, query string, count int) ([]store.Post, error)
}

// Store is the part of the record store used during collection.
type Store interface {
	LoadAccounts() ([]store.Account, error)
	PostExists(id string) bool
	SavePost(p store.Post) error
	UpdateAccountLastChecked(username string) error
	RecentCommentedAuthors(window time.Duration) (map[string]bool, error)
}

// Options tunes the dedup filter.
type Options struct {
	// PostsPerAccount is how many recent posts to request per account or query.
	PostsPerAccount int
	// MaxAge drops posts created at or before now-MaxAge.
	MaxAge time.Duration
	// AuthorCooldown excludes authors with an approved or published comment
	// generated within the window. Non-positive means all history.
	AuthorCooldown time.Duration
	// OnlyDue skips accounts whose poll interval has not elapsed.
	OnlyDue bool
}

// Result holds the results of a collection run.
type Result struct {
	Accounts    int
	NotDue      int
	Failed      int
	Fetched     int
	TooOld      int
	Duplicates  int
	CoolingDown int
	Posts       []store.Post
}

// Collector polls monitored accounts and keeps only posts not seen before.
type Collector struct {
	fetcher Fetcher
	store   Store
	opts    Options
	now     func() time.Time
}

// NewCollector creates a new post collector.
func NewCollector(fetcher Fetcher, st Store, opts Options) *Collector {
	if opts.PostsPerAccount <= 0 {
		opts.PostsPerAccount = 20
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 30 * time.Minute
	}
	return &Collector{fetcher: fetcher, store: st, opts: opts, now: time.Now}
}

// WithClock replaces the collector's clock and returns the collector.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// batch carries per-run dedup state.
type batch struct {
	cutoff  time.Time
	authors map[string]bool
	seen    map[string]bool
}

func (c *Collector) newBatch() *batch {
	authors, err := c.store.RecentCommentedAuthors(c.opts.AuthorCooldown)
	if err != nil {
		log.Warnf("Some comments could not be read for author cool-down: %v", err)
	}
	return &batch{
		cutoff:  c.now().Add(-c.opts.MaxAge),
		authors: authors,
		seen:    make(map[string]bool),
	}
}

// CollectAccounts polls every stored account. A failing account is logged and
// skipped; its last-checked time is left unchanged.
func (c *Collector) CollectAccounts(ctx context.Context) (*Result, error) {
	accounts, err := c.store.LoadAccounts()
	if err != nil {
		return nil, err
	}

	r := &Result{}
	b := c.newBatch()
	for _, a := range accounts {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		if c.opts.OnlyDue && !a.Due(c.now()) {
			r.NotDue++
			continue
		}
		r.Accounts++

		alog := log.WithField("account", a.Username)
		posts, err := c.fetcher.ListRecent(ctx, a.Username, c.opts.PostsPerAccount)
		if err != nil {
			alog.Warnf("Fetching posts failed: %v", err)
			r.Failed++
			continue
		}

		kept := c.keep(b, posts, r)
		alog.Debugf("Fetched %d posts, %d new", len(posts), len(kept))

		if err := c.store.UpdateAccountLastChecked(a.Username); err != nil {
			alog.Warnf("Updating last-checked failed: %v", err)
		}
	}

	log.Printf("Collection complete: %d accounts, %d fetched, %d new", r.Accounts, r.Fetched, len(r.Posts))
	return r, nil
}

// CollectSearch runs each query through the fetcher and the same dedup filter.
func (c *Collector) CollectSearch(ctx context.Context, queries []string) (*Result, error) {
	r := &Result{}
	b := c.newBatch()
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		posts, err := c.fetcher.Search(ctx, q, c.opts.PostsPerAccount)
		if err != nil {
			log.WithField("query", q).Warnf("Search failed: %v", err)
			r.Failed++
			continue
		}
		c.keep(b, posts, r)
	}
	return r, nil
}

// keep filters fetched posts and persists the survivors.
func (c *Collector) keep(b *batch, posts []store.Post, r *Result) []store.Post {
	r.Fetched += len(posts)

	var kept []store.Post
	for _, p := range posts {
		switch {
		case !p.CreatedAt.After(b.cutoff):
			r.TooOld++
			continue
		case b.seen[p.ID] || c.store.PostExists(p.ID):
			r.Duplicates++
			continue
		case b.authors[p.Author.Key()]:
			r.CoolingDown++
			continue
		}

		if p.DiscoveredAt == nil {
			now := c.now().UTC()
			p.DiscoveredAt = &now
		}
		if err := c.store.SavePost(p); err != nil {
			log.WithField("post", p.ID).Warnf("Saving post failed: %v", err)
			continue
		}
		b.seen[p.ID] = true
		kept = append(kept, p)
	}

	r.Posts = append(r.Posts, kept...)
	return kept
}
