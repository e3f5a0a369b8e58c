package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
)

// ErrSessionNotFound is returned when a continuation token is unknown.
var ErrSessionNotFound = errors.New("session not found")

// Reply is generated text and the token that continues its conversation.
// Token is empty when the conversation could not be kept.
type Reply struct {
	Text  string
	Token string
}

// Session is a stored conversation addressed by its continuation token.
type Session struct {
	Token     string
	Model     string
	System    string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionStore persists conversations between calls.
type SessionStore interface {
	SaveSession(s Session) error
	LoadSession(token string) (*Session, error)
}

// MemorySessions keeps conversations in process memory with a TTL.
type MemorySessions struct {
	c *cache.Cache
}

// NewMemorySessions creates an in-memory session store.
func NewMemorySessions(ttl time.Duration) *MemorySessions {
	return &MemorySessions{c: cache.New(ttl, ttl/2)}
}

func (m *MemorySessions) SaveSession(s Session) error {
	s.Messages = append([]Message(nil), s.Messages...)
	m.c.Set(s.Token, s, cache.DefaultExpiration)
	return nil
}

func (m *MemorySessions) LoadSession(token string) (*Session, error) {
	v, ok := m.c.Get(token)
	if !ok {
		return nil, fmt.Errorf("%s: %w", token, ErrSessionNotFound)
	}
	s := v.(Session)
	s.Messages = append([]Message(nil), s.Messages...)
	return &s, nil
}

// Generator turns a Provider into a resumable text generator.
type Generator struct {
	provider    Provider
	sessions    SessionStore
	maxTokens   int
	temperature float64
}

// NewGenerator creates a generator storing conversations in sessions.
func NewGenerator(p Provider, sessions SessionStore, maxTokens int, temperature float64) *Generator {
	return &Generator{provider: p, sessions: sessions, maxTokens: maxTokens, temperature: temperature}
}

// Generate starts a new conversation.
func (g *Generator) Generate(ctx context.Context, prompt, system, model string) (Reply, error) {
	msgs := []Message{{Role: RoleUser, Content: prompt}}
	text, err := g.provider.Chat(ctx, Request{
		Model:       model,
		System:      system,
		Messages:    msgs,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return Reply{}, err
	}

	now := time.Now().UTC()
	s := Session{
		Token:     uuid.NewString(),
		Model:     model,
		System:    system,
		Messages:  append(msgs, Message{Role: RoleAssistant, Content: text}),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.sessions.SaveSession(s); err != nil {
		log.Warnf("Saving generation session failed, reply cannot be refined: %v", err)
		return Reply{Text: text}, nil
	}
	return Reply{Text: text, Token: s.Token}, nil
}

// Continue resumes the conversation behind token. The token stays the same.
func (g *Generator) Continue(ctx context.Context, prompt, token string) (Reply, error) {
	s, err := g.sessions.LoadSession(token)
	if err != nil {
		return Reply{}, err
	}

	s.Messages = append(s.Messages, Message{Role: RoleUser, Content: prompt})
	text, err := g.provider.Chat(ctx, Request{
		Model:       s.Model,
		System:      s.System,
		Messages:    s.Messages,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return Reply{}, err
	}

	s.Messages = append(s.Messages, Message{Role: RoleAssistant, Content: text})
	s.UpdatedAt = time.Now().UTC()
	if err := g.sessions.SaveSession(*s); err != nil {
		return Reply{}, fmt.Errorf("saving session %s: %w", token, err)
	}
	return Reply{Text: text, Token: s.Token}, nil
}
