package comments

import (
	"errors"
	"fmt"

	"github.com/TobiSchelling/xgrowth/internal/store"
)

var (
	// ErrNoContinuation is returned when refining a comment that has no
	// continuation token.
	ErrNoContinuation = errors.New("comment has no continuation token")
	// ErrLoginRequired is returned when the publisher reports it is not logged in.
	ErrLoginRequired = errors.New("publisher is not logged in")
	// ErrEmptyDraft is returned when generation produced no usable text.
	ErrEmptyDraft = errors.New("generated text is empty")
)

// GenerationError reports a failed draft or refine call.
type GenerationError struct {
	PostID string
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generating comment for post %s: %v", e.PostID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// PublishError reports a failed publish attempt. The comment keeps its status.
type PublishError struct {
	CommentID string
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publishing comment %s: %v", e.CommentID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// TransitionError reports a status change the lifecycle does not allow.
type TransitionError struct {
	CommentID string
	From      store.Status
	To        store.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("comment %s: cannot move from %s to %s", e.CommentID, e.From, e.To)
}

// IsNotFound reports whether err means the comment does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
