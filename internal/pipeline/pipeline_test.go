package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/xgrowth/internal/collect"
	"github.com/TobiSchelling/xgrowth/internal/comments"
	"github.com/TobiSchelling/xgrowth/internal/events"
	"github.com/TobiSchelling/xgrowth/internal/history"
	"github.com/TobiSchelling/xgrowth/internal/store"
	"github.com/TobiSchelling/xgrowth/internal/trend"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type fakeFetcher struct {
	posts map[string][]store.Post
	err   error
}

func (f *fakeFetcher) ListRecent(_ context.Context, username string, _ int) ([]store.Post, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.posts[username], nil
}

func (f *fakeFetcher) GetByID(context.Context, string) (*store.Post, error) {
	return nil, store.ErrNotFound
}

func (f *fakeFetcher) Search(_ context.Context, query string, _ int) ([]store.Post, error) {
	return f.posts["search:"+query], nil
}

type fakeDrafter struct {
	got  []store.Post
	fail bool
}

func (d *fakeDrafter) DraftBatch(_ context.Context, posts []store.Post) *comments.BatchResult {
	d.got = posts
	r := &comments.BatchResult{}
	for _, p := range posts {
		if d.fail {
			r.Failed = append(r.Failed, &comments.GenerationError{PostID: p.ID, Err: errors.New("model offline")})
			continue
		}
		r.Drafted = append(r.Drafted, store.Comment{ID: "c-" + p.ID, PostID: p.ID, Status: store.StatusPending})
	}
	return r
}

type fakeRecorder struct {
	runs []history.Run
}

func (r *fakeRecorder) InsertRun(run history.Run) (int64, error) {
	r.runs = append(r.runs, run)
	return int64(len(r.runs)), nil
}

type fakeObserver struct{ calls int }

func (o *fakeObserver) ObserveScan(time.Time, time.Time) { o.calls++ }

func mkPost(id, username string, likes int) store.Post {
	return store.Post{
		ID:        id,
		Author:    store.Author{Username: username, Name: username},
		Text:      "post " + id,
		CreatedAt: now.Add(-10 * time.Minute),
		LikeCount: likes,
	}
}

func setup(t *testing.T, f *fakeFetcher, d *fakeDrafter, opts Options) (*Pipeline, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), store.WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, st.SaveAccounts([]store.Account{
		{Username: "alice", AddedAt: now},
		{Username: "bob", AddedAt: now},
	}))

	collector := collect.NewCollector(f, st, collect.Options{MaxAge: time.Hour}).WithClock(clock)
	scorer := trend.NewScorer(trend.DefaultWeights()).WithClock(clock)
	p := New(st, collector, scorer, d, opts)
	p.now = clock
	return p, st
}

func TestRunCollectsRanksAndDrafts(t *testing.T) {
	f := &fakeFetcher{posts: map[string][]store.Post{
		"alice": {mkPost("1", "alice", 1000), mkPost("2", "alice", 5)},
		"bob":   {mkPost("3", "bob", 600), mkPost("4", "bob", 2)},
	}}
	d := &fakeDrafter{}
	rec := &fakeRecorder{}
	obs := &fakeObserver{}
	p, st := setup(t, f, d, Options{MinScore: 30, MinCount: 1, MaxPosts: 10})
	p.WithRecorder(rec).WithObserver(obs)

	r := p.Run(context.Background())

	require.Len(t, r.Steps, 3)
	for _, s := range r.Steps {
		assert.NoError(t, s.Err, s.Name)
	}
	require.Len(t, d.got, 2)
	assert.Equal(t, "1", d.got[0].ID)
	assert.Equal(t, "3", d.got[1].ID)
	assert.Len(t, r.Drafted, 2)

	saved, err := st.LoadPost("1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, saved.TrendingScore)

	require.Len(t, rec.runs, 1)
	run := rec.runs[0]
	assert.Equal(t, 2, run.Accounts)
	assert.Equal(t, 4, run.Fetched)
	assert.Equal(t, 4, run.Collected)
	assert.Equal(t, 2, run.Selected)
	assert.Equal(t, 2, run.Drafted)
	assert.Empty(t, run.Error)
	assert.Equal(t, 1, obs.calls)
}

func TestRunMinCountSafetyNet(t *testing.T) {
	f := &fakeFetcher{posts: map[string][]store.Post{
		"alice": {mkPost("1", "alice", 3), mkPost("2", "alice", 2)},
		"bob":   {mkPost("3", "bob", 1)},
	}}
	d := &fakeDrafter{}
	p, _ := setup(t, f, d, Options{MinScore: 30, MinCount: 3, MaxPosts: 10})

	p.Run(context.Background())

	require.Len(t, d.got, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{d.got[0].ID, d.got[1].ID, d.got[2].ID})
}

func TestRunCapsSelection(t *testing.T) {
	f := &fakeFetcher{posts: map[string][]store.Post{
		"alice": {mkPost("1", "alice", 900), mkPost("2", "alice", 800)},
		"bob":   {mkPost("3", "bob", 700)},
	}}
	d := &fakeDrafter{}
	p, _ := setup(t, f, d, Options{MinScore: 0, MinCount: 0, MaxPosts: 2})

	r := p.Run(context.Background())

	assert.Len(t, d.got, 2)
	assert.Equal(t, "Selected 2 of 3 posts", r.Steps[1].Summary)
}

func TestRunIncludesSearchResults(t *testing.T) {
	f := &fakeFetcher{posts: map[string][]store.Post{
		"search:golang": {mkPost("9", "carol", 500)},
	}}
	d := &fakeDrafter{}
	p, _ := setup(t, f, d, Options{MinCount: 0, MaxPosts: 10, SearchQueries: []string{"golang"}})

	p.Run(context.Background())

	require.Len(t, d.got, 1)
	assert.Equal(t, "9", d.got[0].ID)
}

func TestRunNoNewPostsSkipsDrafting(t *testing.T) {
	d := &fakeDrafter{}
	rec := &fakeRecorder{}
	p, _ := setup(t, &fakeFetcher{}, d, Options{MinCount: 3})
	p.WithRecorder(rec)

	r := p.Run(context.Background())

	assert.Len(t, r.Steps, 2)
	assert.Equal(t, "No new posts", r.Steps[1].Summary)
	assert.Nil(t, d.got)
	require.Len(t, rec.runs, 1)
	assert.Zero(t, rec.runs[0].Selected)
}

func TestRunAllDraftsFailed(t *testing.T) {
	f := &fakeFetcher{posts: map[string][]store.Post{"alice": {mkPost("1", "alice", 900)}}}
	rec := &fakeRecorder{}
	p, _ := setup(t, f, &fakeDrafter{fail: true}, Options{MaxPosts: 10})
	p.WithRecorder(rec)

	r := p.Run(context.Background())

	require.Len(t, r.Steps, 3)
	assert.Error(t, r.Steps[2].Err)
	assert.Equal(t, 1, rec.runs[0].Failed)
	assert.Contains(t, rec.runs[0].Error, "model offline")
}

func TestRunCollectCancelled(t *testing.T) {
	rec := &fakeRecorder{}
	d := &fakeDrafter{}
	p, _ := setup(t, &fakeFetcher{}, d, Options{})
	p.WithRecorder(rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := p.Run(ctx)

	require.Len(t, r.Steps, 1)
	assert.ErrorIs(t, r.Steps[0].Err, context.Canceled)
	assert.Nil(t, d.got)
	assert.NotEmpty(t, rec.runs[0].Error)
}

func TestRunPublishesCollectedEvents(t *testing.T) {
	f := &fakeFetcher{posts: map[string][]store.Post{"alice": {mkPost("1", "alice", 10), mkPost("2", "alice", 10)}}}
	bus := events.New()
	var mu sync.Mutex
	var ids []string
	bus.Subscribe(events.PostCollected, func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		ids = append(ids, e.PostID)
	})
	p, _ := setup(t, f, &fakeDrafter{}, Options{})
	p.WithBus(bus)

	p.Run(context.Background())

	assert.ElementsMatch(t, []string{"1", "2"}, ids)
}

func TestDryRun(t *testing.T) {
	d := &fakeDrafter{}
	p, st := setup(t, &fakeFetcher{err: errors.New("must not be called")}, d, Options{MinScore: 30, MinCount: 3, MaxPosts: 10})
	require.NoError(t, st.SaveComment(store.Comment{ID: "c1", PostID: "1", Status: store.StatusPending, GeneratedAt: now}))

	r := p.DryRun()

	require.Len(t, r.Steps, 3)
	assert.Contains(t, r.Steps[0].Summary, "2 accounts (2 due)")
	assert.Contains(t, r.Steps[2].Summary, "1 comments already pending")
	assert.Nil(t, d.got)
}
