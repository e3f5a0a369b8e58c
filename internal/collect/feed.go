package collect

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/xgrowth/internal/store"
)

// HandlePlaceholder is replaced with the account handle in feed URL templates.
const HandlePlaceholder = "{handle}"

// FeedFetcher reads account timelines from RSS/Atom bridges.
// Feeds carry no engagement counters, so every post scores from its age alone.
type FeedFetcher struct {
	urlTemplate string
	timeout     time.Duration
	parser      *gofeed.Parser
}

// NewFeedFetcher creates a fetcher for feed URLs built from urlTemplate.
func NewFeedFetcher(urlTemplate string, timeout time.Duration) *FeedFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FeedFetcher{
		urlTemplate: urlTemplate,
		timeout:     timeout,
		parser:      gofeed.NewParser(),
	}
}

// FeedURL returns the feed address for a handle.
func (f *FeedFetcher) FeedURL(username string) string {
	return strings.ReplaceAll(f.urlTemplate, HandlePlaceholder, url.PathEscape(username))
}

// ListRecent returns up to count items of the account's feed.
func (f *FeedFetcher) ListRecent(ctx context.Context, username string, count int) ([]store.Post, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	feed, err := f.parser.ParseURLWithContext(f.FeedURL(username), ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("feed for %s: %w", username, ErrTimeout)
		}
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == 429 {
			return nil, fmt.Errorf("feed for %s: %w", username, ErrRateLimited)
		}
		return nil, fmt.Errorf("feed for %s: %w: %v", username, ErrMalformed, err)
	}

	var posts []store.Post
	for _, item := range feed.Items {
		if count > 0 && len(posts) >= count {
			break
		}
		p, ok := parseItem(item, username)
		if !ok {
			continue
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// GetByID is not available from feeds.
func (f *FeedFetcher) GetByID(ctx context.Context, id string) (*store.Post, error) {
	return nil, fmt.Errorf("get post %s: %w", id, ErrUnsupported)
}

// Search is not available from feeds.
func (f *FeedFetcher) Search(ctx context.Context, query string, count int) ([]store.Post, error) {
	return nil, fmt.Errorf("search %q: %w", query, ErrUnsupported)
}

func parseItem(item *gofeed.Item, username string) (store.Post, bool) {
	id := postIDFromLink(item.Link)
	if id == "" {
		id = postIDFromLink(item.GUID)
	}
	if id == "" {
		return store.Post{}, false
	}

	var created time.Time
	switch {
	case item.PublishedParsed != nil:
		created = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		created = *item.UpdatedParsed
	default:
		return store.Post{}, false
	}

	text := stripHTML(item.Description)
	if text == "" {
		text = stripHTML(item.Content)
	}
	if text == "" {
		text = strings.TrimSpace(item.Title)
	}

	name := username
	if item.Author != nil && item.Author.Name != "" {
		name = strings.TrimPrefix(item.Author.Name, "@")
	}

	return store.Post{
		ID:             id,
		Author:         store.Author{Username: username, Name: name},
		Text:           text,
		CreatedAt:      created.UTC(),
		ConversationID: id,
	}, true
}

// postIDFromLink extracts the id from ".../status/<id>" style links.
func postIDFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Path == "" {
		return ""
	}
	p := strings.TrimSuffix(u.Path, "/")
	if !strings.Contains(p, "/status/") {
		return ""
	}
	id := path.Base(p)
	if i := strings.IndexByte(id, '#'); i >= 0 {
		id = id[:i]
	}
	return id
}

func stripHTML(text string) string {
	var result strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
			result.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			result.WriteRune(r)
		}
	}

	s := strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	).Replace(result.String())

	return strings.Join(strings.Fields(s), " ")
}
