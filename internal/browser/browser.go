// Package browser publishes replies by driving a Chrome browser over the
// DevTools protocol. Login state comes from a persistent profile directory or
// from an already running browser the user logged in with.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/xgrowth/internal/store"
	"github.com/TobiSchelling/xgrowth/internal/throttle"
)

// ErrNotLoggedIn is returned by Reply when the browser session is logged out.
var ErrNotLoggedIn = errors.New("browser session is not logged in")

const (
	HomeURL  = "https://x.com/home"
	LoginURL = "https://x.com/login"
)

// Page selectors for the reply flow.
const (
	selReplyButton = `[data-testid="reply"]`
	selTextarea    = `[data-testid="tweetTextarea_0"]`
	selPostButton  = `[data-testid="tweetButton"]`
)

// loggedOutMarkers appear on pages shown to visitors without a session.
var loggedOutMarkers = []string{"Log in", "Sign in", "登录"}

// Options configures a Publisher.
type Options struct {
	// ProfileDir is the Chrome user data dir that keeps the login session.
	ProfileDir string
	// RemoteURL connects to a running browser (ws:// or http:// DevTools
	// address) instead of launching one.
	RemoteURL string
	Headless  bool
	ExecPath  string
	// Timeout bounds each page interaction.
	Timeout time.Duration
	// SettleDelay is how long to wait after posting before closing the tab.
	SettleDelay time.Duration
}

// Publisher posts replies through a browser tab per call.
type Publisher struct {
	opts     Options
	throttle *throttle.Throttle

	mu          sync.Mutex
	browserCtx  context.Context
	cancelFuncs []context.CancelFunc
	verified    bool
}

// New creates a publisher. The browser starts on first use.
func New(opts Options, th *throttle.Throttle) *Publisher {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 2 * time.Second
	}
	return &Publisher{opts: opts, throttle: th}
}

// AllocatorOptions returns the launch flags for a locally started browser.
func AllocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1280, 900),
	)
	if opts.ProfileDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.ProfileDir))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	return allocOpts
}

// browser returns the shared browser context, starting it if needed.
func (p *Publisher) browser() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browserCtx != nil {
		return p.browserCtx
	}

	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if p.opts.RemoteURL != "" {
		log.Debugf("Connecting to browser at %s", p.opts.RemoteURL)
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), p.opts.RemoteURL)
	} else {
		log.Debugf("Launching browser with profile %q", p.opts.ProfileDir)
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), AllocatorOptions(p.opts)...)
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	p.browserCtx = browserCtx
	p.cancelFuncs = []context.CancelFunc{browserCancel, allocCancel}
	return browserCtx
}

// tab opens a new tab bounded by the page timeout and by ctx.
func (p *Publisher) tab(ctx context.Context) (context.Context, context.CancelFunc) {
	tabCtx, cancelTab := chromedp.NewContext(p.browser())
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, p.opts.Timeout)
	stop := context.AfterFunc(ctx, cancelTab)
	return tabCtx, func() {
		stop()
		cancelTimeout()
		cancelTab()
	}
}

// EnsureLoggedIn opens the home timeline and reports whether the page belongs
// to a logged-in session. A positive answer is remembered.
func (p *Publisher) EnsureLoggedIn(ctx context.Context) (bool, error) {
	p.mu.Lock()
	verified := p.verified
	p.mu.Unlock()
	if verified {
		return true, nil
	}

	tabCtx, cancel := p.tab(ctx)
	defer cancel()

	var body, location string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(HomeURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(3*time.Second),
		chromedp.Location(&location),
		chromedp.Text("body", &body, chromedp.ByQuery),
	)
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", HomeURL, err)
	}

	ok := LoggedIn(location, body)
	if !ok {
		log.Warnf("Browser is not logged in. Log in at %s with profile %q, then retry.", LoginURL, p.opts.ProfileDir)
	}
	p.mu.Lock()
	p.verified = ok
	p.mu.Unlock()
	return ok, nil
}

// LoggedIn judges a loaded home page by its URL and visible text.
func LoggedIn(location, body string) bool {
	if strings.Contains(location, "/login") || strings.Contains(location, "/i/flow/") {
		return false
	}
	for _, marker := range loggedOutMarkers {
		if strings.Contains(body, marker) {
			return false
		}
	}
	return true
}

// Reply opens the post, types text into the reply box and submits it.
func (p *Publisher) Reply(ctx context.Context, target store.PostRef, text string) error {
	ok, err := p.EnsureLoggedIn(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotLoggedIn
	}
	if err := p.throttle.Wait(ctx); err != nil {
		return err
	}

	tabCtx, cancel := p.tab(ctx)
	defer cancel()

	url := target.URL()
	log.WithField("post", target.ID).Infof("Opening %s", url)
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitVisible(selReplyButton, chromedp.ByQuery),
		chromedp.Click(selReplyButton, chromedp.ByQuery),
		chromedp.WaitVisible(selTextarea, chromedp.ByQuery),
		chromedp.Click(selTextarea, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.InsertText(text).Do(ctx)
		}),
		chromedp.WaitEnabled(selPostButton, chromedp.ByQuery),
		chromedp.Click(selPostButton, chromedp.ByQuery),
		chromedp.Sleep(p.opts.SettleDelay),
	)
	if err != nil {
		return fmt.Errorf("replying to %s: %w", url, err)
	}
	return nil
}

// Close shuts down the browser, or disconnects from a remote one.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.cancelFuncs {
		cancel()
	}
	p.browserCtx = nil
	p.cancelFuncs = nil
	p.verified = false
}
