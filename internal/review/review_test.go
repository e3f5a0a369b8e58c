package review

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/xgrowth/internal/comments"
	"github.com/TobiSchelling/xgrowth/internal/store"
)

// fakeLifecycle records status changes in memory.
type fakeLifecycle struct {
	status     map[string]store.Status
	publishErr error
	refineErr  error
	refined    int
}

func newFakeLifecycle(ids ...string) *fakeLifecycle {
	f := &fakeLifecycle{status: make(map[string]store.Status)}
	for _, id := range ids {
		f.status[id] = store.StatusPending
	}
	return f
}

func (f *fakeLifecycle) set(id string, s store.Status) (*store.Comment, error) {
	f.status[id] = s
	return &store.Comment{ID: id, Status: s}, nil
}

func (f *fakeLifecycle) Approve(id string) (*store.Comment, error) {
	return f.set(id, store.StatusApproved)
}

func (f *fakeLifecycle) Reject(id string) (*store.Comment, error) {
	return f.set(id, store.StatusRejected)
}

func (f *fakeLifecycle) Refine(_ context.Context, id, feedback string) (*store.Comment, error) {
	if f.refineErr != nil {
		return nil, f.refineErr
	}
	f.refined++
	delete(f.status, id)
	newID := id + "-refined"
	f.status[newID] = store.StatusPending
	return &store.Comment{ID: newID, Content: "refined: " + feedback, Status: store.StatusPending}, nil
}

func (f *fakeLifecycle) Publish(_ context.Context, id string) (*store.Comment, error) {
	if f.publishErr != nil {
		return nil, &comments.PublishError{CommentID: id, Err: f.publishErr}
	}
	return f.set(id, store.StatusPublished)
}

func (f *fakeLifecycle) SettleFailedPublish(id string, keep bool) (*store.Comment, error) {
	if keep {
		return f.Approve(id)
	}
	return f.Reject(id)
}

// scriptedPrompter answers from a fixed script.
type scriptedPrompter struct {
	actions  []Action
	feedback []string
	keep     bool
	shown    []Item
	notes    []string
	cancel   context.CancelFunc
}

func (s *scriptedPrompter) Show(_ context.Context, item Item) error {
	s.shown = append(s.shown, item)
	return nil
}

func (s *scriptedPrompter) Ask(ctx context.Context) (Action, error) {
	if len(s.actions) == 0 {
		if s.cancel != nil {
			s.cancel()
			return "", ctx.Err()
		}
		return "", ErrQuit
	}
	a := s.actions[0]
	s.actions = s.actions[1:]
	return a, nil
}

func (s *scriptedPrompter) Feedback(context.Context) (string, error) {
	f := s.feedback[0]
	s.feedback = s.feedback[1:]
	return f, nil
}

func (s *scriptedPrompter) KeepForLater(context.Context, error) (bool, error) {
	return s.keep, nil
}

func (s *scriptedPrompter) Notify(_ context.Context, msg string) error {
	s.notes = append(s.notes, msg)
	return nil
}

func pending(ids ...string) []store.Comment {
	var out []store.Comment
	for _, id := range ids {
		out = append(out, store.Comment{ID: id, PostID: "p-" + id, Content: "draft " + id, Status: store.StatusPending})
	}
	return out
}

func TestRunAppliesDecisions(t *testing.T) {
	lc := newFakeLifecycle("c1", "c2", "c3")
	p := &scriptedPrompter{actions: []Action{ActionPublish, ActionApprove, ActionSkip}}

	s, err := New(lc, p, nil).Run(context.Background(), pending("c1", "c2", "c3"))
	require.NoError(t, err)

	assert.Equal(t, &Summary{Published: 1, Approved: 1, Skipped: 1}, s)
	assert.Equal(t, store.StatusPublished, lc.status["c1"])
	assert.Equal(t, store.StatusApproved, lc.status["c2"])
	assert.Equal(t, store.StatusRejected, lc.status["c3"])
	require.Len(t, p.shown, 3)
	assert.Equal(t, 3, p.shown[2].Index)
	assert.Equal(t, 3, p.shown[2].Total)
}

func TestQuitRejectsCurrent(t *testing.T) {
	lc := newFakeLifecycle("c1", "c2", "c3")
	p := &scriptedPrompter{actions: []Action{ActionApprove, ActionQuit}}

	s, err := New(lc, p, nil).Run(context.Background(), pending("c1", "c2", "c3"))
	require.NoError(t, err)

	assert.True(t, s.Quit)
	assert.Equal(t, 2, s.Remaining)
	assert.Equal(t, store.StatusRejected, lc.status["c2"])
	assert.Equal(t, store.StatusPending, lc.status["c3"])
}

func TestCancelRejectsCurrent(t *testing.T) {
	lc := newFakeLifecycle("c1", "c2")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &scriptedPrompter{cancel: cancel}

	s, err := New(lc, p, nil).Run(ctx, pending("c1", "c2"))
	require.NoError(t, err)
	assert.True(t, s.Quit)
	assert.Equal(t, store.StatusRejected, lc.status["c1"])
	assert.Equal(t, store.StatusPending, lc.status["c2"])
}

func TestEndOfInputRejectsCurrent(t *testing.T) {
	lc := newFakeLifecycle("c1")
	s, err := New(lc, &scriptedPrompter{}, nil).Run(context.Background(), pending("c1"))
	require.NoError(t, err)
	assert.True(t, s.Quit)
	assert.Equal(t, store.StatusRejected, lc.status["c1"])
}

func TestRefineThenPublish(t *testing.T) {
	lc := newFakeLifecycle("c1")
	p := &scriptedPrompter{
		actions:  []Action{ActionRefine, ActionRefine, ActionPublish},
		feedback: []string{"", "shorter"},
	}

	s, err := New(lc, p, nil).Run(context.Background(), pending("c1"))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Published)
	assert.Equal(t, 1, lc.refined)
	assert.Equal(t, store.StatusPublished, lc.status["c1-refined"])
	require.Len(t, p.shown, 3)
	assert.Equal(t, "refined: shorter", p.shown[2].Comment.Content)
}

func TestRefineFailureKeepsComment(t *testing.T) {
	lc := newFakeLifecycle("c1")
	lc.refineErr = comments.ErrNoContinuation
	p := &scriptedPrompter{actions: []Action{ActionRefine, ActionApprove}, feedback: []string{"funnier"}}

	s, err := New(lc, p, nil).Run(context.Background(), pending("c1"))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Approved)
	assert.Equal(t, store.StatusApproved, lc.status["c1"])
	assert.Contains(t, strings.Join(p.notes, "\n"), "Refinement failed")
}

func TestPublishFailureSettles(t *testing.T) {
	for _, keep := range []bool{true, false} {
		lc := newFakeLifecycle("c1")
		lc.publishErr = errors.New("rate limited")
		p := &scriptedPrompter{actions: []Action{ActionPublish}, keep: keep}

		s, err := New(lc, p, nil).Run(context.Background(), pending("c1"))
		require.NoError(t, err)
		if keep {
			assert.Equal(t, 1, s.Approved)
			assert.Equal(t, store.StatusApproved, lc.status["c1"])
		} else {
			assert.Equal(t, 1, s.Skipped)
			assert.Equal(t, store.StatusRejected, lc.status["c1"])
		}
	}
}

func TestInvalidChoiceReprompts(t *testing.T) {
	lc := newFakeLifecycle("c1")
	p := &scriptedPrompter{actions: []Action{"x", ActionSkip}}

	_, err := New(lc, p, nil).Run(context.Background(), pending("c1"))
	require.NoError(t, err)
	assert.Len(t, p.shown, 2)
	assert.Contains(t, p.notes, "Invalid choice, please try again")
}

func TestLookupAttachesPost(t *testing.T) {
	lc := newFakeLifecycle("c1")
	p := &scriptedPrompter{actions: []Action{ActionSkip}}
	lookup := func(_ context.Context, id string) (*store.Post, error) {
		return &store.Post{ID: id, Author: store.Author{Username: "alice"}}, nil
	}

	_, err := New(lc, p, lookup).Run(context.Background(), pending("c1"))
	require.NoError(t, err)
	require.NotNil(t, p.shown[0].Post)
	assert.Equal(t, "p-c1", p.shown[0].Post.ID)
}

func TestNoPending(t *testing.T) {
	p := &scriptedPrompter{}
	s, err := New(newFakeLifecycle(), p, nil).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, &Summary{}, s)
	assert.Equal(t, []string{"No pending comments to review"}, p.notes)
}

func TestTerminalPrompter(t *testing.T) {
	in := strings.NewReader("A\nmake it shorter\ny\n")
	var out bytes.Buffer
	term := NewTerminal(in, &out)
	term.now = func() time.Time { return time.Date(2026, 1, 1, 12, 10, 0, 0, time.UTC) }

	post := &store.Post{
		ID:        "1001",
		Author:    store.Author{Username: "alice", Name: "Alice"},
		Text:      "hello world",
		CreatedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, term.Show(context.Background(), Item{Post: post, Comment: store.Comment{Content: "nice"}, Index: 1, Total: 2}))
	assert.Contains(t, out.String(), "@alice (Alice)")
	assert.Contains(t, out.String(), "10.0 minutes ago")
	assert.Contains(t, out.String(), "https://x.com/alice/status/1001")

	action, err := term.Ask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionApprove, action)

	fb, err := term.Feedback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "make it shorter", fb)

	keep, err := term.KeepForLater(context.Background(), errors.New("boom"))
	require.NoError(t, err)
	assert.True(t, keep)

	_, err = term.Ask(context.Background())
	assert.ErrorIs(t, err, ErrQuit)
}

func TestTerminalAskCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	term := NewTerminal(pr, &bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := term.Ask(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// fakeBot records sent messages and numbers them from 101.
type fakeBot struct {
	sent     []tgbotapi.Chattable
	requests int
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.sent = append(b.sent, c)
	return tgbotapi.Message{MessageID: 100 + len(b.sent)}, nil
}

func (b *fakeBot) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.requests++
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func callback(chatID int64, messageID int, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		Data:    data,
		Message: &tgbotapi.Message{MessageID: messageID, Chat: &tgbotapi.Chat{ID: chatID}},
	}}
}

func text(chatID int64, s string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{Text: s, Chat: &tgbotapi.Chat{ID: chatID}}}
}

func TestTelegramPrompter(t *testing.T) {
	updates := make(chan tgbotapi.Update, 10)
	bot := &fakeBot{}
	tg := NewTelegram(bot, 7, updates)

	require.NoError(t, tg.Show(context.Background(), Item{Comment: store.Comment{PostID: "1001", Content: "nice"}, Index: 1, Total: 1}))
	msg := bot.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, int64(7), msg.ChatID)
	assert.Contains(t, msg.Text, "Draft:\nnice")
	assert.NotNil(t, msg.ReplyMarkup)

	updates <- callback(99, 101, "p")
	updates <- text(7, "ignored while waiting for a button")
	updates <- callback(7, 101, "r")
	action, err := tg.Ask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionRefine, action)
	assert.Equal(t, 1, bot.requests)

	updates <- text(7, "  more playful ")
	fb, err := tg.Feedback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "more playful", fb)

	// The feedback prompt is message 102, the keep card 103.
	updates <- callback(7, 103, "n")
	keep, err := tg.KeepForLater(context.Background(), errors.New("boom"))
	require.NoError(t, err)
	assert.False(t, keep)

	close(updates)
	_, err = tg.Ask(context.Background())
	assert.ErrorIs(t, err, ErrQuit)
}

func TestTelegramIgnoresSupersededCards(t *testing.T) {
	updates := make(chan tgbotapi.Update, 10)
	bot := &fakeBot{}
	tg := NewTelegram(bot, 7, updates)

	require.NoError(t, tg.Show(context.Background(), Item{Comment: store.Comment{PostID: "1001", Content: "first"}, Index: 1, Total: 2}))
	require.NoError(t, tg.Show(context.Background(), Item{Comment: store.Comment{PostID: "1002", Content: "second"}, Index: 2, Total: 2}))

	updates <- callback(7, 101, "p")
	updates <- callback(7, 102, "s")
	action, err := tg.Ask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, action)
	assert.Equal(t, 2, bot.requests, "stale presses are still acknowledged")

	// An action button pressed while the keep card waits is not a rejection.
	updates <- callback(7, 102, "n")
	updates <- callback(7, 103, "y")
	keep, err := tg.KeepForLater(context.Background(), errors.New("boom"))
	require.NoError(t, err)
	assert.True(t, keep)
}
