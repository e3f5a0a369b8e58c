package bird

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/xgrowth/internal/collect"
	"github.com/TobiSchelling/xgrowth/internal/store"
)

type call struct {
	name string
	args []string
}

type result struct {
	stdout, stderr string
	err            error
}

type fakeRunner struct {
	calls   []call
	results []result
	block   bool
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if f.block {
		<-ctx.Done()
		return nil, nil, errors.New("signal: killed")
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return []byte(r.stdout), []byte(r.stderr), r.err
}

const userTweetsJSON = `[
  {
    "id": "1001",
    "authorId": "42",
    "author": {"username": "alice", "name": "Alice"},
    "text": "shipping today",
    "createdAt": "Mon Jan 19 15:18:00 +0000 2026",
    "likeCount": 100,
    "retweetCount": 50,
    "replyCount": 30,
    "conversationId": "1001"
  }
]`

func newTestClient(r *fakeRunner) *Client {
	return New(Options{Runner: r, Timeout: time.Second, RateLimitBackoff: time.Millisecond}, nil)
}

func TestListRecent(t *testing.T) {
	r := &fakeRunner{results: []result{{stdout: userTweetsJSON}}}
	c := newTestClient(r)

	posts, err := c.ListRecent(context.Background(), "@alice", 20)
	require.NoError(t, err)
	require.Len(t, r.calls, 1)
	assert.Equal(t, "bird", r.calls[0].name)
	assert.Equal(t, []string{"user-tweets", "alice", "-n", "20", "--json"}, r.calls[0].args)

	require.Len(t, posts, 1)
	p := posts[0]
	assert.Equal(t, "1001", p.ID)
	assert.Equal(t, store.Author{Username: "alice", UserID: "42", Name: "Alice"}, p.Author)
	assert.Equal(t, 100, p.LikeCount)
	assert.Equal(t, 50, p.RepostCount)
	assert.Equal(t, 30, p.ReplyCount)
	assert.True(t, p.CreatedAt.Equal(time.Date(2026, 1, 19, 15, 18, 0, 0, time.UTC)))
	assert.NotNil(t, p.DiscoveredAt)
}

func TestGetByIDAndSearch(t *testing.T) {
	single := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(userTweetsJSON), "["), "]")
	r := &fakeRunner{results: []result{{stdout: single}, {stdout: "[]"}}}
	c := newTestClient(r)

	p, err := c.GetByID(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Author.Username)
	assert.Equal(t, []string{"read", "1001", "--json"}, r.calls[0].args)

	posts, err := c.Search(context.Background(), "golang", 5)
	require.NoError(t, err)
	assert.Empty(t, posts)
	assert.Equal(t, []string{"search", "golang", "-n", "5", "--json"}, r.calls[1].args)
}

func TestReply(t *testing.T) {
	r := &fakeRunner{results: []result{{stdout: "ok"}, {stdout: "ok"}}}
	c := newTestClient(r)
	require.NoError(t, c.Reply(context.Background(), store.PostRef{ID: "1001", Username: "alice"}, "nice"))
	assert.Equal(t, []string{"reply", "--", "1001", "nice"}, r.calls[0].args)

	require.NoError(t, c.Reply(context.Background(), store.PostRef{ID: "1001"}, "- Great point"))
	assert.Equal(t, []string{"reply", "--", "1001", "- Great point"}, r.calls[1].args)
}

func TestMalformedOutput(t *testing.T) {
	r := &fakeRunner{results: []result{{stdout: "not json"}}}
	_, err := newTestClient(r).ListRecent(context.Background(), "alice", 5)
	assert.ErrorIs(t, err, collect.ErrMalformed)

	r = &fakeRunner{results: []result{{stdout: `[{"id":"1","createdAt":"yesterday"}]`}}}
	_, err = newTestClient(r).ListRecent(context.Background(), "alice", 5)
	assert.ErrorIs(t, err, collect.ErrMalformed)
}

func TestRateLimitRetriesThenFails(t *testing.T) {
	limited := result{stderr: "Error: 429 Too Many Requests", err: errors.New("exit status 1")}
	r := &fakeRunner{results: []result{limited}}
	c := New(Options{Runner: r, RateLimitRetries: 2, RateLimitBackoff: time.Millisecond}, nil)

	_, err := c.ListRecent(context.Background(), "alice", 5)
	assert.ErrorIs(t, err, collect.ErrRateLimited)
	assert.Len(t, r.calls, 3)
}

func TestRateLimitRecovers(t *testing.T) {
	r := &fakeRunner{results: []result{
		{stderr: "rate limit exceeded", err: errors.New("exit status 1")},
		{stdout: userTweetsJSON},
	}}
	c := New(Options{Runner: r, RateLimitRetries: 1, RateLimitBackoff: time.Millisecond}, nil)

	posts, err := c.ListRecent(context.Background(), "alice", 5)
	require.NoError(t, err)
	assert.Len(t, posts, 1)
	assert.Len(t, r.calls, 2)
}

func TestFailureKinds(t *testing.T) {
	notFound := &exec.Error{Name: "bird", Err: exec.ErrNotFound}
	r := &fakeRunner{results: []result{{err: notFound}}}
	_, err := newTestClient(r).ListRecent(context.Background(), "alice", 5)
	assert.ErrorIs(t, err, collect.ErrNotInstalled)

	r = &fakeRunner{results: []result{{stderr: "unauthorized", err: fmt.Errorf("exit status 1")}}}
	err = newTestClient(r).Reply(context.Background(), store.PostRef{ID: "1"}, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
	assert.False(t, errors.Is(err, collect.ErrRateLimited))
}

func TestTimeout(t *testing.T) {
	r := &fakeRunner{block: true}
	c := New(Options{Runner: r, Timeout: 20 * time.Millisecond}, nil)
	_, err := c.ListRecent(context.Background(), "alice", 5)
	assert.ErrorIs(t, err, collect.ErrTimeout)
}

func TestParseWhoAmI(t *testing.T) {
	handle, err := parseWhoAmI("🙋 @growthbot (Growth Bot)\n")
	require.NoError(t, err)
	assert.Equal(t, "growthbot", handle)

	_, err = parseWhoAmI("not logged in")
	assert.ErrorIs(t, err, collect.ErrMalformed)
}

func TestClientSatisfiesFetcher(t *testing.T) {
	var _ collect.Fetcher = New(Options{}, nil)
}
