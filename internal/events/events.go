// Package events is an in-process publish/subscribe bus. Each handler declares
// at registration whether it runs inline with Publish or in its own goroutine.
package events

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Event types emitted by the pipeline.
const (
	PostCollected        = "post.collected"
	CommentDrafted       = "comment.drafted"
	CommentDraftFailed   = "comment.draft_failed"
	CommentRefined       = "comment.refined"
	CommentTransitioned  = "comment.transitioned"
	CommentPublishFailed = "comment.publish_failed"
)

// Event describes something that happened to a post or comment.
type Event struct {
	Type      string
	PostID    string
	CommentID string
	From      string
	To        string
	Detail    string
	At        time.Time
}

// Handler receives events.
type Handler func(Event)

type subscriber struct {
	handler Handler
	async   bool
}

// Bus dispatches events to subscribers. The zero value is not usable; use New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscriber
	wg     sync.WaitGroup
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// Subscribe registers h to run synchronously inside Publish.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.add(eventType, subscriber{handler: h})
}

// SubscribeAsync registers h to run in a new goroutine per event.
// Close waits for outstanding async handlers.
func (b *Bus) SubscribeAsync(eventType string, h Handler) {
	b.add(eventType, subscriber{handler: h, async: true})
}

func (b *Bus) add(eventType string, s subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], s)
}

// Publish delivers e to every subscriber of e.Type. A nil bus drops events.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := b.subs[e.Type]
	for _, s := range subs {
		if s.async {
			b.wg.Add(1)
		}
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if s.async {
			go func(h Handler) {
				defer b.wg.Done()
				defer recoverHandler(e)
				h(e)
			}(s.handler)
			continue
		}
		func() {
			defer recoverHandler(e)
			s.handler(e)
		}()
	}
}

// Close stops delivery and waits for async handlers to finish.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}

func recoverHandler(e Event) {
	if r := recover(); r != nil {
		log.WithField("event", e.Type).Errorf("Event handler panicked: %v", r)
	}
}
