// Package bird drives the bird command-line client for reading and replying to posts.
package bird

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/xgrowth/internal/collect"
	"github.com/TobiSchelling/xgrowth/internal/store"
	"github.com/TobiSchelling/xgrowth/internal/throttle"
)

// CreatedAtLayout is the timestamp format bird emits.
const CreatedAtLayout = "Mon Jan 02 15:04:05 -0700 2006"

// Runner executes a command and returns its output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Options configures a Client.
type Options struct {
	Path             string
	Timeout          time.Duration
	RateLimitRetries int
	RateLimitBackoff time.Duration
	Runner           Runner
}

// Client wraps the bird CLI. All calls share one throttle.
type Client struct {
	path     string
	timeout  time.Duration
	retries  int
	backoff  time.Duration
	runner   Runner
	throttle *throttle.Throttle
}

// New creates a client. th may be shared with other callers of the same account.
func New(opts Options, th *throttle.Throttle) *Client {
	c := &Client{
		path:     opts.Path,
		timeout:  opts.Timeout,
		retries:  opts.RateLimitRetries,
		backoff:  opts.RateLimitBackoff,
		runner:   opts.Runner,
		throttle: th,
	}
	if c.path == "" {
		c.path = "bird"
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if c.backoff <= 0 {
		c.backoff = 30 * time.Second
	}
	if c.runner == nil {
		c.runner = execRunner{}
	}
	return c
}

// tweet is the JSON shape bird prints for a single post.
type tweet struct {
	ID       string `json:"id"`
	AuthorID string `json:"authorId"`
	Author   struct {
		Username string `json:"username"`
		Name     string `json:"name"`
	} `json:"author"`
	Text           string `json:"text"`
	CreatedAt      string `json:"createdAt"`
	LikeCount      int    `json:"likeCount"`
	RetweetCount   int    `json:"retweetCount"`
	ReplyCount     int    `json:"replyCount"`
	ConversationID string `json:"conversationId"`
}

func (t tweet) toPost(discovered time.Time) (store.Post, error) {
	created, err := time.Parse(CreatedAtLayout, t.CreatedAt)
	if err != nil {
		return store.Post{}, fmt.Errorf("%w: createdAt %q", collect.ErrMalformed, t.CreatedAt)
	}
	if t.ID == "" {
		return store.Post{}, fmt.Errorf("%w: post without id", collect.ErrMalformed)
	}
	return store.Post{
		ID: t.ID,
		Author: store.Author{
			Username: t.Author.Username,
			UserID:   t.AuthorID,
			Name:     t.Author.Name,
		},
		Text:           t.Text,
		CreatedAt:      created.UTC(),
		LikeCount:      t.LikeCount,
		RepostCount:    t.RetweetCount,
		ReplyCount:     t.ReplyCount,
		ConversationID: t.ConversationID,
		DiscoveredAt:   &discovered,
	}, nil
}

// run executes one bird command, sleeping and retrying on rate limits.
func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		out, err := c.runOnce(ctx, args...)
		if !errors.Is(err, collect.ErrRateLimited) || attempt >= c.retries {
			return out, err
		}
		log.WithField("command", args[0]).Warnf("Rate limited, retrying in %s", c.backoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.backoff):
		}
	}
}

func (c *Client) runOnce(ctx context.Context, args ...string) ([]byte, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stdout, stderr, err := c.runner.Run(cctx, c.path, args...)
	if err == nil {
		return stdout, nil
	}

	cmd := args[0]
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, exec.ErrNotFound):
		return nil, fmt.Errorf("bird %s: %w (install with: brew install steipete/tap/bird)", cmd, collect.ErrNotInstalled)
	case errors.Is(cctx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("bird %s after %s: %w", cmd, c.timeout, collect.ErrTimeout)
	}

	msg := strings.TrimSpace(string(stderr))
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "rate limit") || strings.Contains(msg, "429") {
		return nil, fmt.Errorf("bird %s: %w: %s", cmd, collect.ErrRateLimited, msg)
	}
	if msg == "" {
		msg = err.Error()
	}
	return nil, fmt.Errorf("bird %s failed: %s", cmd, msg)
}

func (c *Client) listPosts(ctx context.Context, args ...string) ([]store.Post, error) {
	out, err := c.run(ctx, append(args, "--json")...)
	if err != nil {
		return nil, err
	}

	var raw []tweet
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("bird %s: %w: %v", args[0], collect.ErrMalformed, err)
	}

	now := time.Now().UTC()
	posts := make([]store.Post, 0, len(raw))
	for _, t := range raw {
		p, err := t.toPost(now)
		if err != nil {
			return nil, fmt.Errorf("bird %s: %w", args[0], err)
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// ListRecent returns the account's latest posts.
func (c *Client) ListRecent(ctx context.Context, username string, count int) ([]store.Post, error) {
	username = strings.TrimPrefix(username, "@")
	return c.listPosts(ctx, "user-tweets", username, "-n", strconv.Itoa(count))
}

// Search returns posts matching query.
func (c *Client) Search(ctx context.Context, query string, count int) ([]store.Post, error) {
	return c.listPosts(ctx, "search", query, "-n", strconv.Itoa(count))
}

// GetByID reads a single post.
func (c *Client) GetByID(ctx context.Context, id string) (*store.Post, error) {
	out, err := c.run(ctx, "read", id, "--json")
	if err != nil {
		return nil, err
	}
	var t tweet
	if err := json.Unmarshal(out, &t); err != nil {
		return nil, fmt.Errorf("bird read: %w: %v", collect.ErrMalformed, err)
	}
	p, err := t.toPost(time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("bird read: %w", err)
	}
	return &p, nil
}

// Reply posts text as a reply to the referenced post. Drafts may start
// with "-", so the positional arguments follow "--".
func (c *Client) Reply(ctx context.Context, ref store.PostRef, text string) error {
	_, err := c.run(ctx, "reply", "--", ref.ID, text)
	return err
}

// WhoAmI returns the authenticated handle.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "whoami")
	if err != nil {
		return "", err
	}
	return parseWhoAmI(string(out))
}

// parseWhoAmI extracts the handle from output like "🙋 @username (Display Name)".
func parseWhoAmI(out string) (string, error) {
	_, rest, ok := strings.Cut(out, "@")
	if !ok {
		return "", fmt.Errorf("bird whoami: %w: %q", collect.ErrMalformed, strings.TrimSpace(out))
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", fmt.Errorf("bird whoami: %w: %q", collect.ErrMalformed, strings.TrimSpace(out))
	}
	return fields[0], nil
}
