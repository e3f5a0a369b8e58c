// Package comments drives a reply comment through its lifecycle: drafting with
// a text generator, refinement, review decisions and publishing.
package comments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/xgrowth/internal/events"
	"github.com/TobiSchelling/xgrowth/internal/llm"
	"github.com/TobiSchelling/xgrowth/internal/store"
)

// Generator produces text and resumes earlier conversations by token.
type Generator interface {
	Generate(ctx context.Context, prompt, system, model string) (llm.Reply, error)
	Continue(ctx context.Context, prompt, token string) (llm.Reply, error)
}

// Publisher posts reply text under a post.
type Publisher interface {
	Reply(ctx context.Context, target store.PostRef, text string) error
}

// LoginChecker is implemented by publishers that need a logged-in session.
type LoginChecker interface {
	EnsureLoggedIn(ctx context.Context) (bool, error)
}

// Excerpter returns context about a link found in text, or "" when there is none.
type Excerpter interface {
	Excerpt(ctx context.Context, text string) (string, error)
}

// DefaultTimeout bounds a single generation call.
const DefaultTimeout = 120 * time.Second

// DefaultMaxConcurrent is the batch draft group size.
const DefaultMaxConcurrent = 3

// Options configures a Controller.
type Options struct {
	Model         string
	System        string
	Timeout       time.Duration
	MaxConcurrent int
}

// transitions lists the statuses each status may move to.
var transitions = map[store.Status][]store.Status{
	store.StatusPending:  {store.StatusApproved, store.StatusRejected, store.StatusPublished},
	store.StatusApproved: {store.StatusPublished, store.StatusRejected},
}

// CanTransition reports whether a comment may move from one status to another.
func CanTransition(from, to store.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s allows no further transitions.
func Terminal(s store.Status) bool {
	return len(transitions[s]) == 0
}

// Controller owns comment state changes and their side effects.
// Callers serialize operations on the same comment id.
type Controller struct {
	store     *store.Store
	generator Generator
	publisher Publisher
	links     Excerpter
	bus       *events.Bus
	opts      Options
	now       func() time.Time

	loginMu  sync.Mutex
	loggedIn bool
}

// Option configures optional Controller collaborators.
type Option func(*Controller)

// WithPublisher sets the capability used by Publish.
func WithPublisher(p Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// WithExcerpter adds linked page context to draft prompts.
func WithExcerpter(e Excerpter) Option {
	return func(c *Controller) { c.links = e }
}

// WithBus publishes lifecycle events to b.
func WithBus(b *events.Bus) Option {
	return func(c *Controller) { c.bus = b }
}

// WithClock overrides the time source used for generated_at.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a controller backed by st and gen.
func NewController(st *store.Store, gen Generator, opts Options, options ...Option) *Controller {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	c := &Controller{store: st, generator: gen, opts: opts, now: time.Now}
	for _, o := range options {
		o(c)
	}
	return c
}

// Draft generates a reply for post and stores it as a pending comment.
func (c *Controller) Draft(ctx context.Context, post store.Post) (*store.Comment, error) {
	excerpt := ""
	if c.links != nil {
		var err error
		excerpt, err = c.links.Excerpt(ctx, post.Text)
		if err != nil {
			log.WithField("post", post.ID).Debugf("No link context: %v", err)
		}
	}

	reply, err := c.generate(ctx, func(gctx context.Context) (llm.Reply, error) {
		return c.generator.Generate(gctx, DraftPrompt(post, excerpt), c.opts.System, c.opts.Model)
	})
	if err != nil {
		c.emit(events.Event{Type: events.CommentDraftFailed, PostID: post.ID, Detail: err.Error()})
		return nil, &GenerationError{PostID: post.ID, Err: err}
	}

	comment := store.Comment{
		ID:          uuid.NewString(),
		PostID:      post.ID,
		Content:     reply.Text,
		GeneratedAt: c.now().UTC(),
		Status:      store.StatusPending,
	}
	if reply.Token != "" {
		comment.SessionID = &reply.Token
	}
	if key := post.Author.Key(); key != "" {
		comment.PostAuthor = &key
	}

	if err := c.store.SaveComment(comment); err != nil {
		return nil, fmt.Errorf("saving draft for post %s: %w", post.ID, err)
	}
	c.emit(events.Event{Type: events.CommentDrafted, PostID: post.ID, CommentID: comment.ID, To: string(comment.Status)})
	return &comment, nil
}

// Refine asks the generator to rewrite a comment following feedback. The
// result is a new pending comment; the old one is deleted after the new one
// is stored.
func (c *Controller) Refine(ctx context.Context, id, feedback string) (*store.Comment, error) {
	old, err := c.store.LoadComment(id)
	if err != nil {
		return nil, err
	}
	if Terminal(old.Status) {
		return nil, &TransitionError{CommentID: id, From: old.Status, To: store.StatusPending}
	}
	token := old.Token()
	if token == "" {
		return nil, fmt.Errorf("refining comment %s: %w", id, ErrNoContinuation)
	}

	reply, err := c.generate(ctx, func(gctx context.Context) (llm.Reply, error) {
		return c.generator.Continue(gctx, RefinePrompt(old.Content, feedback), token)
	})
	if err != nil {
		return nil, &GenerationError{PostID: old.PostID, Err: err}
	}
	if reply.Token != "" {
		token = reply.Token
	}

	refined := store.Comment{
		ID:          uuid.NewString(),
		PostID:      old.PostID,
		Content:     reply.Text,
		GeneratedAt: c.now().UTC(),
		Status:      store.StatusPending,
		SessionID:   &token,
		PostAuthor:  old.PostAuthor,
	}
	if err := c.store.SaveComment(refined); err != nil {
		return nil, fmt.Errorf("saving refined comment for %s: %w", id, err)
	}
	if err := c.store.DeleteComment(id); err != nil {
		return &refined, fmt.Errorf("removing superseded comment %s: %w", id, err)
	}

	c.emit(events.Event{Type: events.CommentRefined, PostID: refined.PostID, CommentID: refined.ID, Detail: id})
	return &refined, nil
}

// generate runs fn under the generation timeout and cleans its text.
func (c *Controller) generate(ctx context.Context, fn func(context.Context) (llm.Reply, error)) (llm.Reply, error) {
	gctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	reply, err := fn(gctx)
	if err != nil {
		if errors.Is(gctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %v", context.DeadlineExceeded, c.opts.Timeout, err)
		}
		return llm.Reply{}, err
	}

	reply.Text = Clean(reply.Text)
	if reply.Text == "" {
		return llm.Reply{}, ErrEmptyDraft
	}
	return reply, nil
}

// Approve marks a pending comment approved.
func (c *Controller) Approve(id string) (*store.Comment, error) {
	return c.transition(id, store.StatusApproved)
}

// Reject marks a pending or approved comment rejected.
func (c *Controller) Reject(id string) (*store.Comment, error) {
	return c.transition(id, store.StatusRejected)
}

func (c *Controller) transition(id string, to store.Status) (*store.Comment, error) {
	current, err := c.store.LoadComment(id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, to) {
		return nil, &TransitionError{CommentID: id, From: current.Status, To: to}
	}

	updated, err := c.store.UpdateCommentStatus(id, to)
	if err != nil {
		return nil, err
	}
	c.emit(events.Event{
		Type:      events.CommentTransitioned,
		PostID:    updated.PostID,
		CommentID: id,
		From:      string(current.Status),
		To:        string(to),
	})
	return updated, nil
}

// Publish posts a pending or approved comment and marks it published. On
// failure the comment keeps its current status and a *PublishError is returned.
func (c *Controller) Publish(ctx context.Context, id string) (*store.Comment, error) {
	if c.publisher == nil {
		return nil, &PublishError{CommentID: id, Err: errors.New("no publisher configured")}
	}
	current, err := c.store.LoadComment(id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, store.StatusPublished) {
		return nil, &TransitionError{CommentID: id, From: current.Status, To: store.StatusPublished}
	}

	if err := c.ensureLoggedIn(ctx); err != nil {
		return nil, c.publishFailed(current, err)
	}
	if err := c.publisher.Reply(ctx, c.target(current), current.Content); err != nil {
		return nil, c.publishFailed(current, err)
	}

	return c.transition(id, store.StatusPublished)
}

func (c *Controller) publishFailed(cm *store.Comment, err error) error {
	c.emit(events.Event{Type: events.CommentPublishFailed, PostID: cm.PostID, CommentID: cm.ID, Detail: err.Error()})
	return &PublishError{CommentID: cm.ID, Err: err}
}

// target resolves the post a comment replies to. The author handle comes from
// the stored post when it is still in the lookback window.
func (c *Controller) target(cm *store.Comment) store.PostRef {
	post, err := c.store.LoadPost(cm.PostID)
	if err != nil {
		log.WithField("post", cm.PostID).Debugf("Post not in store, replying by id: %v", err)
		return store.PostRef{ID: cm.PostID}
	}
	return post.Ref()
}

// ensureLoggedIn checks the publisher login once per controller.
func (c *Controller) ensureLoggedIn(ctx context.Context) error {
	checker, ok := c.publisher.(LoginChecker)
	if !ok {
		return nil
	}

	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if c.loggedIn {
		return nil
	}
	ok, err := checker.EnsureLoggedIn(ctx)
	if err != nil {
		return fmt.Errorf("checking login: %w", err)
	}
	if !ok {
		return ErrLoginRequired
	}
	c.loggedIn = true
	return nil
}

// SettleFailedPublish resolves a comment after a failed publish: keep leaves
// it approved for a later attempt, otherwise it is rejected.
func (c *Controller) SettleFailedPublish(id string, keep bool) (*store.Comment, error) {
	if !keep {
		return c.Reject(id)
	}
	current, err := c.store.LoadComment(id)
	if err != nil {
		return nil, err
	}
	if current.Status == store.StatusApproved {
		return current, nil
	}
	return c.Approve(id)
}

func (c *Controller) emit(e events.Event) {
	c.bus.Publish(e)
}
