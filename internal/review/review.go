// Package review walks a human through pending comments and applies their
// decisions through the comment lifecycle controller.
package review

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/xgrowth/internal/comments"
	"github.com/TobiSchelling/xgrowth/internal/store"
)

// Action is a reviewer decision on one comment.
type Action string

const (
	ActionPublish Action = "p"
	ActionApprove Action = "a"
	ActionRefine  Action = "r"
	ActionSkip    Action = "s"
	ActionQuit    Action = "q"
)

// ErrQuit is returned by prompters when input ends.
var ErrQuit = errors.New("review ended")

// Item is one comment under review with its post, when the post is known.
type Item struct {
	Post    *store.Post
	Comment store.Comment
	Index   int
	Total   int
}

// Prompter shows items to a reviewer and collects decisions.
type Prompter interface {
	Show(ctx context.Context, item Item) error
	Ask(ctx context.Context) (Action, error)
	Feedback(ctx context.Context) (string, error)
	// KeepForLater asks whether a comment that failed to publish should stay
	// approved for a later attempt.
	KeepForLater(ctx context.Context, cause error) (bool, error)
	Notify(ctx context.Context, msg string) error
}

// Lifecycle is the part of the comment controller used during review.
type Lifecycle interface {
	Approve(id string) (*store.Comment, error)
	Reject(id string) (*store.Comment, error)
	Refine(ctx context.Context, id, feedback string) (*store.Comment, error)
	Publish(ctx context.Context, id string) (*store.Comment, error)
	SettleFailedPublish(id string, keep bool) (*store.Comment, error)
}

// PostLookup resolves the post a comment replies to.
type PostLookup func(ctx context.Context, id string) (*store.Post, error)

// Summary holds the results of a review session.
type Summary struct {
	Published int
	Approved  int
	Skipped   int
	Quit      bool
	Remaining int
}

type outcome int

const (
	outcomePublished outcome = iota
	outcomeApproved
	outcomeSkipped
	outcomeQuit
)

// Reviewer runs review sessions.
type Reviewer struct {
	lifecycle Lifecycle
	prompter  Prompter
	lookup    PostLookup
}

// New creates a reviewer. lookup may be nil.
func New(lc Lifecycle, p Prompter, lookup PostLookup) *Reviewer {
	return &Reviewer{lifecycle: lc, prompter: p, lookup: lookup}
}

// Run reviews pending one by one. Quitting, or ctx ending, rejects the comment
// under review before returning.
func (r *Reviewer) Run(ctx context.Context, pending []store.Comment) (*Summary, error) {
	s := &Summary{}
	total := len(pending)
	if total == 0 {
		return s, r.prompter.Notify(ctx, "No pending comments to review")
	}

	for i, c := range pending {
		item := Item{Comment: c, Index: i + 1, Total: total, Post: r.post(ctx, c.PostID)}
		out, err := r.reviewOne(ctx, item)
		switch out {
		case outcomePublished:
			s.Published++
		case outcomeApproved:
			s.Approved++
		case outcomeSkipped:
			s.Skipped++
		case outcomeQuit:
			s.Quit = true
			s.Remaining = total - i
		}
		if err != nil {
			return s, err
		}
		if s.Quit {
			break
		}
	}

	log.Infof("Review complete: %d published, %d approved, %d skipped", s.Published, s.Approved, s.Skipped)
	return s, nil
}

func (r *Reviewer) post(ctx context.Context, id string) *store.Post {
	if r.lookup == nil {
		return nil
	}
	p, err := r.lookup(ctx, id)
	if err != nil {
		log.WithField("post", id).Warnf("Post not available for review: %v", err)
		return nil
	}
	return p
}

// abandon rejects the comment under review so it is not left pending.
func (r *Reviewer) abandon(id string, cause error) (outcome, error) {
	if _, err := r.lifecycle.Reject(id); err != nil {
		return outcomeQuit, errors.Join(cause, fmt.Errorf("rejecting %s on quit: %w", id, err))
	}
	if errors.Is(cause, ErrQuit) || errors.Is(cause, context.Canceled) {
		cause = nil
	}
	return outcomeQuit, cause
}

func (r *Reviewer) reviewOne(ctx context.Context, item Item) (outcome, error) {
	current := item.Comment
	for {
		item.Comment = current
		if err := r.prompter.Show(ctx, item); err != nil {
			return r.abandon(current.ID, err)
		}

		action, err := r.prompter.Ask(ctx)
		if err != nil {
			return r.abandon(current.ID, err)
		}

		switch action {
		case ActionPublish:
			return r.publish(ctx, current)

		case ActionApprove:
			if _, err := r.lifecycle.Approve(current.ID); err != nil {
				return outcomeSkipped, err
			}
			r.notify(ctx, "Comment approved for later publishing")
			return outcomeApproved, nil

		case ActionRefine:
			feedback, err := r.prompter.Feedback(ctx)
			if err != nil {
				return r.abandon(current.ID, err)
			}
			if feedback == "" {
				r.notify(ctx, "No feedback provided, keeping the comment")
				continue
			}
			refined, err := r.lifecycle.Refine(ctx, current.ID, feedback)
			if refined != nil {
				current = *refined
			}
			if err != nil {
				if ctx.Err() != nil {
					return r.abandon(current.ID, ctx.Err())
				}
				r.notify(ctx, fmt.Sprintf("Refinement failed: %v", err))
				continue
			}
			r.notify(ctx, "Comment refined")

		case ActionSkip:
			if _, err := r.lifecycle.Reject(current.ID); err != nil {
				return outcomeSkipped, err
			}
			return outcomeSkipped, nil

		case ActionQuit:
			return r.abandon(current.ID, ErrQuit)

		default:
			r.notify(ctx, "Invalid choice, please try again")
		}
	}
}

func (r *Reviewer) publish(ctx context.Context, c store.Comment) (outcome, error) {
	_, err := r.lifecycle.Publish(ctx, c.ID)
	if err == nil {
		r.notify(ctx, "Comment published")
		return outcomePublished, nil
	}

	var pubErr *comments.PublishError
	if !errors.As(err, &pubErr) {
		return outcomeSkipped, err
	}
	log.WithField("comment", c.ID).Warnf("Publish failed: %v", err)

	keep, askErr := r.prompter.KeepForLater(ctx, err)
	if askErr != nil {
		return r.abandon(c.ID, askErr)
	}
	if _, err := r.lifecycle.SettleFailedPublish(c.ID, keep); err != nil {
		return outcomeSkipped, err
	}
	if keep {
		return outcomeApproved, nil
	}
	return outcomeSkipped, nil
}

func (r *Reviewer) notify(ctx context.Context, msg string) {
	if err := r.prompter.Notify(ctx, msg); err != nil {
		log.Debugf("Review notification failed: %v", err)
	}
}
