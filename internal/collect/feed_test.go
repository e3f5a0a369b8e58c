package collect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>alice / X</title>
  <link>https://x.com/alice</link>
  <item>
    <title>First</title>
    <description>&lt;p&gt;Shipping &amp;amp; testing&lt;/p&gt;</description>
    <link>https://x.com/alice/status/1001#m</link>
    <guid>https://x.com/alice/status/1001</guid>
    <pubDate>Mon, 19 Jan 2026 15:18:00 GMT</pubDate>
  </item>
  <item>
    <title>No status link</title>
    <link>https://x.com/alice</link>
    <pubDate>Mon, 19 Jan 2026 15:10:00 GMT</pubDate>
  </item>
  <item>
    <title>Second</title>
    <link>https://x.com/alice/status/1002</link>
    <pubDate>Mon, 19 Jan 2026 15:00:00 GMT</pubDate>
  </item>
</channel>
</rss>`

func TestFeedFetcherListRecent(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	f := NewFeedFetcher(srv.URL+"/twitter/user/{handle}", 5*time.Second)
	posts, err := f.ListRecent(context.Background(), "alice", 20)
	require.NoError(t, err)
	assert.Equal(t, "/twitter/user/alice", gotPath)

	require.Len(t, posts, 2)
	assert.Equal(t, "1001", posts[0].ID)
	assert.Equal(t, "alice", posts[0].Author.Username)
	assert.Equal(t, "Shipping & testing", posts[0].Text)
	assert.True(t, posts[0].CreatedAt.Equal(time.Date(2026, 1, 19, 15, 18, 0, 0, time.UTC)))
	assert.Equal(t, "1002", posts[1].ID)
	assert.Equal(t, "Second", posts[1].Text)

	posts, err = f.ListRecent(context.Background(), "alice", 1)
	require.NoError(t, err)
	assert.Len(t, posts, 1)
}

func TestFeedFetcherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/limited" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("not a feed"))
	}))
	defer srv.Close()

	_, err := NewFeedFetcher(srv.URL+"/limited", time.Second).ListRecent(context.Background(), "alice", 5)
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = NewFeedFetcher(srv.URL+"/{handle}", time.Second).ListRecent(context.Background(), "alice", 5)
	assert.ErrorIs(t, err, ErrMalformed)

	f := NewFeedFetcher(srv.URL, time.Second)
	_, err = f.GetByID(context.Background(), "1")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = f.Search(context.Background(), "q", 5)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestPostIDFromLink(t *testing.T) {
	assert.Equal(t, "123", postIDFromLink("https://x.com/bob/status/123"))
	assert.Equal(t, "123", postIDFromLink("https://nitter.net/bob/status/123/"))
	assert.Equal(t, "", postIDFromLink("https://x.com/bob"))
	assert.Equal(t, "", postIDFromLink(""))
}
