package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func openTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 1, 19, 15, 30, 0, 0, time.UTC)}
	s, err := Open(t.TempDir(), WithClock(clock.now))
	require.NoError(t, err)
	return s, clock
}

func strPtr(s string) *string { return &s }

func samplePost(id string, created time.Time) Post {
	discovered := created.Add(2 * time.Minute)
	return Post{
		ID:             id,
		Author:         Author{Username: "alice", UserID: "42", Name: "Alice"},
		Text:           "shipping a new release today",
		CreatedAt:      created,
		LikeCount:      100,
		RepostCount:    50,
		ReplyCount:     30,
		ConversationID: id,
		TrendingScore:  87.5,
		DiscoveredAt:   &discovered,
	}
}

func sampleComment(id string, status Status, generated time.Time) Comment {
	return Comment{
		ID:          id,
		PostID:      "1001",
		Content:     "great point",
		GeneratedAt: generated,
		Status:      status,
		SessionID:   strPtr("sess-1"),
		PostAuthor:  strPtr("42"),
	}
}

func commentFileExists(s *Store, status Status, id string) bool {
	_, err := os.Stat(s.commentPath(status, id))
	return err == nil
}

// readOnly makes dir unwritable for the rest of the test. Skips when the
// permission bits are not enforced, as for root.
func readOnly(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { os.Chmod(dir, 0o755) })
	if f, err := os.CreateTemp(dir, "check-*"); err == nil {
		f.Close()
		os.Remove(f.Name())
		t.Skip("directory permissions are not enforced")
	}
}

func TestAccountsRoundTrip(t *testing.T) {
	s, clock := openTestStore(t)

	accounts, err := s.LoadAccounts()
	require.NoError(t, err)
	assert.Empty(t, accounts)

	in := []Account{
		{Username: "alice", UserID: "42", Priority: PriorityHigh, CheckInterval: 10, Tags: []string{"ai", "go"}, Notes: "core", AddedAt: clock.t},
		{Username: "bob", Priority: PriorityLow, CheckInterval: 30, Tags: []string{}, AddedAt: clock.t},
	}
	require.NoError(t, s.SaveAccounts(in))

	out, err := s.LoadAccounts()
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.False(t, s.AccountsModTime().IsZero())
}

func TestUpdateAccountLastChecked(t *testing.T) {
	s, clock := openTestStore(t)
	require.NoError(t, s.SaveAccounts([]Account{
		{Username: "alice", AddedAt: clock.t},
		{Username: "bob", AddedAt: clock.t},
	}))

	clock.t = clock.t.Add(time.Hour)
	require.NoError(t, s.UpdateAccountLastChecked("bob"))

	accounts, err := s.LoadAccounts()
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Nil(t, accounts[0].LastChecked)
	require.NotNil(t, accounts[1].LastChecked)
	assert.True(t, accounts[1].LastChecked.Equal(clock.t))

	err = s.UpdateAccountLastChecked("carol")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateAccounts(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.SaveAccounts([]Account{{Username: "alice"}}))

	require.NoError(t, s.UpdateAccounts(func(existing []Account) ([]Account, error) {
		require.Len(t, existing, 1)
		return append(existing, Account{Username: "bob"}), nil
	}))
	accounts, err := s.LoadAccounts()
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	boom := errors.New("boom")
	err = s.UpdateAccounts(func([]Account) ([]Account, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	accounts, err = s.LoadAccounts()
	require.NoError(t, err)
	assert.Len(t, accounts, 2)
}

func TestAccountDue(t *testing.T) {
	now := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	a := Account{Username: "alice", CheckInterval: 15}
	assert.True(t, a.Due(now), "never checked accounts are due")

	checked := now.Add(-10 * time.Minute)
	a.LastChecked = &checked
	assert.False(t, a.Due(now))

	checked = now.Add(-15 * time.Minute)
	assert.True(t, a.Due(now))
}

func TestPostRoundTrip(t *testing.T) {
	s, clock := openTestStore(t)
	p := samplePost("1001", clock.t.Add(-5*time.Minute))
	require.NoError(t, s.SavePost(p))

	path := filepath.Join(s.Dir(), "posts", "2026-01-19", "alice_1001.json")
	_, err := os.Stat(path)
	require.NoError(t, err)

	loaded, err := s.LoadPost("1001")
	require.NoError(t, err)
	assert.Equal(t, p, *loaded)

	p.TrendingScore = 12
	require.NoError(t, s.SavePost(p))
	loaded, err = s.LoadPost("1001")
	require.NoError(t, err)
	assert.Equal(t, 12.0, loaded.TrendingScore)
}

func TestPostExistsWindow(t *testing.T) {
	s, clock := openTestStore(t)
	day0 := time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SavePost(samplePost("555", day0)))

	clock.t = day0.Add(-24 * time.Hour)
	assert.False(t, s.PostExists("555"), "before the post's day")

	for d := 0; d < PostLookbackDays; d++ {
		clock.t = day0.AddDate(0, 0, d).Add(time.Hour)
		assert.True(t, s.PostExists("555"), "day %d", d)
	}

	clock.t = day0.AddDate(0, 0, PostLookbackDays)
	assert.False(t, s.PostExists("555"), "after the window")

	_, err := s.LoadPost("555")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommentRoundTrip(t *testing.T) {
	s, clock := openTestStore(t)
	c := sampleComment("c1", StatusPending, clock.t)
	require.NoError(t, s.SaveComment(c))

	loaded, err := s.LoadComment("c1")
	require.NoError(t, err)
	assert.Equal(t, c, *loaded)

	bare := Comment{ID: "c2", PostID: "1", Content: "x", GeneratedAt: clock.t, Status: StatusPending}
	require.NoError(t, s.SaveComment(bare))
	loaded, err = s.LoadComment("c2")
	require.NoError(t, err)
	assert.Equal(t, bare, *loaded)
	assert.Nil(t, loaded.SessionID)
	assert.Nil(t, loaded.PublishedAt)
}

func TestSaveCommentRejectsUnknownStatus(t *testing.T) {
	s, clock := openTestStore(t)
	err := s.SaveComment(sampleComment("c1", Status("draft"), clock.t))
	assert.Error(t, err)
}

func TestLoadCommentsByStatusOrder(t *testing.T) {
	s, clock := openTestStore(t)
	for _, id := range []string{"c3", "c1", "c2"} {
		require.NoError(t, s.SaveComment(sampleComment(id, StatusPending, clock.t)))
	}
	require.NoError(t, s.SaveComment(sampleComment("a1", StatusApproved, clock.t)))

	comments, err := s.LoadCommentsByStatus(StatusPending)
	require.NoError(t, err)
	ids := make([]string, len(comments))
	for i, c := range comments {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids)
}

func TestLoadCommentsReportsCorruptRecord(t *testing.T) {
	s, clock := openTestStore(t)
	require.NoError(t, s.SaveComment(sampleComment("good", StatusPending, clock.t)))
	require.NoError(t, os.WriteFile(s.commentPath(StatusPending, "bad"), []byte("{not json"), 0o644))

	comments, err := s.LoadCommentsByStatus(StatusPending)
	require.Len(t, comments, 1)
	assert.Equal(t, "good", comments[0].ID)

	var recErr *RecordError
	require.ErrorAs(t, err, &recErr)
	assert.Contains(t, recErr.Path, "bad.json")
}

func TestLoadCommentNotFound(t *testing.T) {
	s, _ := openTestStore(t)
	_, err := s.LoadComment("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateCommentStatusSinglePartition(t *testing.T) {
	s, clock := openTestStore(t)
	require.NoError(t, s.SaveComment(sampleComment("c1", StatusPending, clock.t)))

	updated, err := s.UpdateCommentStatus("c1", StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, updated.Status)
	assert.Nil(t, updated.PublishedAt)

	present := 0
	for _, status := range Statuses {
		if commentFileExists(s, status, "c1") {
			present++
			assert.Equal(t, StatusApproved, status)
		}
	}
	assert.Equal(t, 1, present)
}

func TestUpdateCommentStatusFailureKeepsOriginal(t *testing.T) {
	s, clock := openTestStore(t)
	require.NoError(t, s.SaveComment(sampleComment("c1", StatusPending, clock.t)))
	readOnly(t, filepath.Dir(s.commentPath(StatusApproved, "c1")))

	_, err := s.UpdateCommentStatus("c1", StatusApproved)
	require.Error(t, err)

	assert.True(t, commentFileExists(s, StatusPending, "c1"))
	assert.False(t, commentFileExists(s, StatusApproved, "c1"))
	c, err := s.LoadComment("c1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, c.Status)
}

func TestUpdateCommentStatusPublishedOnce(t *testing.T) {
	s, clock := openTestStore(t)
	require.NoError(t, s.SaveComment(sampleComment("c1", StatusApproved, clock.t)))

	published, err := s.UpdateCommentStatus("c1", StatusPublished)
	require.NoError(t, err)
	require.NotNil(t, published.PublishedAt)
	first := *published.PublishedAt
	assert.True(t, first.Equal(clock.t))

	clock.t = clock.t.Add(time.Hour)
	again, err := s.UpdateCommentStatus("c1", StatusPublished)
	require.NoError(t, err)
	require.NotNil(t, again.PublishedAt)
	assert.True(t, again.PublishedAt.Equal(first))

	loaded, err := s.LoadComment("c1")
	require.NoError(t, err)
	assert.True(t, loaded.PublishedAt.Equal(first))
	assert.True(t, commentFileExists(s, StatusPublished, "c1"))
	assert.False(t, commentFileExists(s, StatusApproved, "c1"))
}

func TestUpdateCommentStatusMissing(t *testing.T) {
	s, _ := openTestStore(t)
	_, err := s.UpdateCommentStatus("nope", StatusApproved)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteComment(t *testing.T) {
	s, clock := openTestStore(t)
	require.NoError(t, s.SaveComment(sampleComment("c1", StatusRejected, clock.t)))

	require.NoError(t, s.DeleteComment("c1"))
	assert.False(t, commentFileExists(s, StatusRejected, "c1"))
	assert.ErrorIs(t, s.DeleteComment("c1"), ErrNotFound)
}

func TestRecentCommentedAuthors(t *testing.T) {
	s, clock := openTestStore(t)

	recent := sampleComment("a1", StatusApproved, clock.t.Add(-time.Hour))
	recent.PostAuthor = strPtr("author-recent")
	old := sampleComment("p1", StatusPublished, clock.t.Add(-48*time.Hour))
	old.PostAuthor = strPtr("author-old")
	pending := sampleComment("n1", StatusPending, clock.t)
	pending.PostAuthor = strPtr("author-pending")
	rejected := sampleComment("r1", StatusRejected, clock.t)
	rejected.PostAuthor = strPtr("author-rejected")
	noAuthor := sampleComment("a2", StatusApproved, clock.t)
	noAuthor.PostAuthor = nil

	for _, c := range []Comment{recent, old, pending, rejected, noAuthor} {
		require.NoError(t, s.SaveComment(c))
	}

	authors, err := s.RecentCommentedAuthors(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"author-recent": true}, authors)

	authors, err = s.RecentCommentedAuthors(0)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"author-recent": true, "author-old": true}, authors)
}

func TestCommentCountsAndRecentPublished(t *testing.T) {
	s, clock := openTestStore(t)
	require.NoError(t, s.SaveComment(sampleComment("p1", StatusPending, clock.t)))
	require.NoError(t, s.SaveComment(sampleComment("p2", StatusPending, clock.t)))
	require.NoError(t, s.SaveComment(sampleComment("r1", StatusRejected, clock.t)))

	require.NoError(t, s.SaveComment(sampleComment("old", StatusApproved, clock.t)))
	clock.t = clock.t.Add(-30 * time.Hour)
	_, err := s.UpdateCommentStatus("old", StatusPublished)
	require.NoError(t, err)
	clock.t = clock.t.Add(30 * time.Hour)

	require.NoError(t, s.SaveComment(sampleComment("new", StatusApproved, clock.t)))
	_, err = s.UpdateCommentStatus("new", StatusPublished)
	require.NoError(t, err)

	counts, err := s.CommentCounts()
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{
		StatusPending:   2,
		StatusApproved:  0,
		StatusRejected:  1,
		StatusPublished: 2,
	}, counts)

	n, err := s.RecentPublishedCount(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
