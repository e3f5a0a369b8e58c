// Package linkctx extracts readable text from the first link in a post, to
// give the text generator more context than the post alone.
package linkctx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	readability "github.com/go-shiori/go-readability"
	log "github.com/sirupsen/logrus"
)

// DefaultMaxChars bounds the excerpt length.
const DefaultMaxChars = 1500

// minTextLen is the shortest extracted text treated as real content.
const minTextLen = 100

var linkPattern = regexp.MustCompile(`https?://[^\s"'<>]+`)

// skipHosts are links back to the social network itself.
var skipHosts = map[string]bool{
	"x.com":           true,
	"twitter.com":     true,
	"www.x.com":       true,
	"www.twitter.com": true,
	"mobile.x.com":    true,
}

// Fetcher downloads linked pages and extracts their main text.
type Fetcher struct {
	client   *http.Client
	maxChars int

	mu            sync.Mutex
	failedDomains map[string]struct{}
}

// New creates a fetcher. Zero values select defaults.
func New(timeout time.Duration, maxChars int) *Fetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Fetcher{
		maxChars:      maxChars,
		failedDomains: make(map[string]struct{}),
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// FirstLink returns the first link in text that points off the network, or "".
func FirstLink(text string) string {
	for _, candidate := range linkPattern.FindAllString(text, -1) {
		candidate = strings.TrimRight(candidate, ".,;:!?)")
		u, err := url.Parse(candidate)
		if err != nil || u.Host == "" {
			continue
		}
		if skipHosts[strings.ToLower(u.Host)] {
			continue
		}
		return candidate
	}
	return ""
}

// Excerpt returns readable text from the first link in text. It returns ""
// without error when there is no link or nothing readable behind it. Domains
// that answered with an HTTP error are not retried.
func (f *Fetcher) Excerpt(ctx context.Context, text string) (string, error) {
	link := FirstLink(text)
	if link == "" {
		return "", nil
	}
	u, _ := url.Parse(link)
	domain := strings.ToLower(u.Host)

	f.mu.Lock()
	_, failed := f.failedDomains[domain]
	f.mu.Unlock()
	if failed {
		return "", nil
	}

	content, err := f.fetch(ctx, link)
	if err != nil {
		var he *httpError
		if errors.As(err, &he) {
			f.mu.Lock()
			f.failedDomains[domain] = struct{}{}
			f.mu.Unlock()
			log.WithField("domain", domain).Debugf("HTTP error for %s, skipping domain", link)
		}
		return "", fmt.Errorf("fetching %s: %w", link, err)
	}
	return truncate(content, f.maxChars), nil
}

func (f *Fetcher) fetch(ctx context.Context, link string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "xgrowth/1.0 (link preview)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return "", err
	}

	// Redirects (t.co) change the page URL readability resolves against.
	article, err := readability.FromReader(strings.NewReader(string(body)), resp.Request.URL)
	if err != nil {
		return "", nil
	}

	text := strings.Join(strings.Fields(article.TextContent), " ")
	if len(text) > minTextLen {
		return text, nil
	}
	return "", nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return http.StatusText(e.code)
}
