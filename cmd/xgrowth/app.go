package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/xgrowth/internal/accounts"
	"github.com/TobiSchelling/xgrowth/internal/bird"
	"github.com/TobiSchelling/xgrowth/internal/browser"
	"github.com/TobiSchelling/xgrowth/internal/collect"
	"github.com/TobiSchelling/xgrowth/internal/comments"
	"github.com/TobiSchelling/xgrowth/internal/events"
	"github.com/TobiSchelling/xgrowth/internal/history"
	"github.com/TobiSchelling/xgrowth/internal/linkctx"
	"github.com/TobiSchelling/xgrowth/internal/llm"
	"github.com/TobiSchelling/xgrowth/internal/metrics"
	"github.com/TobiSchelling/xgrowth/internal/pipeline"
	"github.com/TobiSchelling/xgrowth/internal/review"
	"github.com/TobiSchelling/xgrowth/internal/store"
	"github.com/TobiSchelling/xgrowth/internal/throttle"
	"github.com/TobiSchelling/xgrowth/internal/trend"
)

// app holds the components shared by the commands.
type app struct {
	store    *store.Store
	history  *history.DB
	bus      *events.Bus
	metrics  *metrics.Metrics
	fetcher  collect.Fetcher
	comments *comments.Controller

	bird    *bird.Client
	browser *browser.Publisher
}

// needs selects the optional capabilities a command uses.
type needs struct {
	generator bool
	publisher bool
}

func openApp(n needs) (*app, error) {
	dataDir := cfg.GetDataDir()
	st, err := store.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("opening data directory: %w", err)
	}
	db, err := history.Open(filepath.Join(dataDir, history.FileName))
	if err != nil {
		return nil, err
	}

	a := &app{store: st, history: db, bus: events.New()}
	a.metrics = metrics.New(st)
	a.metrics.Subscribe(a.bus)
	db.Subscribe(a.bus)

	a.fetcher = newFetcher()

	var gen comments.Generator
	if n.generator {
		g, err := newGenerator(db)
		if err != nil {
			a.Close()
			return nil, err
		}
		gen = g
	}

	opts := []comments.Option{comments.WithBus(a.bus)}
	if n.publisher {
		opts = append(opts, comments.WithPublisher(a.publisher()))
	}
	if cfg.Generation.LinkContext {
		opts = append(opts, comments.WithExcerpter(linkctx.New(0, 0)))
	}
	a.comments = comments.NewController(st, gen, comments.Options{
		System:        comments.SystemPrompt(profile()),
		Timeout:       time.Duration(cfg.Generation.TimeoutSeconds) * time.Second,
		MaxConcurrent: cfg.RateLimit.MaxConcurrentGenerations,
	}, opts...)

	a.syncAccounts()
	return a, nil
}

// Close flushes pending events and releases resources.
func (a *app) Close() {
	a.bus.Close()
	if a.browser != nil {
		a.browser.Close()
	}
	a.history.Close()
}

func (a *app) syncAccounts() {
	res, err := accounts.SyncIfNewer(a.store, cfg.GetAccountsFile())
	if err != nil {
		log.Warnf("Accounts file not synced: %v", err)
		return
	}
	if res != nil {
		log.Infof("Synced accounts: %d imported (%d new, %d removed, %d invalid)",
			res.Imported, res.New, res.Removed, res.Invalid)
	}
}

func birdClient(delay time.Duration) *bird.Client {
	return bird.New(bird.Options{
		Path:             cfg.Fetcher.BirdPath,
		Timeout:          time.Duration(cfg.Fetcher.TimeoutSeconds) * time.Second,
		RateLimitRetries: cfg.RateLimit.Retries,
		RateLimitBackoff: time.Duration(cfg.RateLimit.BackoffSeconds) * time.Second,
	}, throttle.New(delay))
}

func newFetcher() collect.Fetcher {
	var f collect.Fetcher
	switch cfg.Fetcher.Source {
	case "feed":
		f = collect.NewFeedFetcher(cfg.Fetcher.FeedURLTemplate, time.Duration(cfg.Fetcher.TimeoutSeconds)*time.Second)
	default:
		f = birdClient(cfg.FetchDelay())
	}
	if cfg.Fetcher.CacheMinutes > 0 {
		f = collect.NewCachedFetcher(f, time.Duration(cfg.Fetcher.CacheMinutes)*time.Minute)
	}
	return f
}

// publisher builds the reply capability. Publishing has its own throttle so
// reads never delay a reply and the other way round.
func (a *app) publisher() comments.Publisher {
	if cfg.Publish.Mode == "browser" {
		b := cfg.Publish.Browser
		a.browser = browser.New(browser.Options{
			ProfileDir: b.ProfileDir,
			RemoteURL:  b.RemoteURL,
			Headless:   b.Headless,
			ExecPath:   b.ExecPath,
			Timeout:    time.Duration(b.TimeoutSeconds) * time.Second,
		}, throttle.New(cfg.PublishDelay()))
		return a.browser
	}
	a.bird = birdClient(cfg.PublishDelay())
	return a.bird
}

func newGenerator(sessions llm.SessionStore) (*llm.Generator, error) {
	g := cfg.Generation
	provider := llm.CreateProvider(llm.ProviderConfig{
		Provider:     g.Provider,
		Model:        g.Model,
		OllamaURL:    g.OllamaURL,
		OpenAIModel:  g.OpenAIModel,
		APIKeyEnv:    g.APIKeyEnv,
		GeminiModel:  g.GeminiModel,
		GeminiKeyEnv: g.GeminiKeyEnv,
	})
	if provider == nil {
		return nil, errors.New("no LLM provider available")
	}
	if sessions == nil {
		sessions = llm.NewMemorySessions(time.Duration(g.SessionTTLHours) * time.Hour)
	}
	return llm.NewGenerator(provider, sessions, g.MaxTokens, g.Temperature), nil
}

func profile() comments.Profile {
	p := cfg.Profile
	out := comments.Profile{
		Expertise:     p.Expertise,
		Tone:          p.Tone,
		Keywords:      p.Keywords,
		AvoidKeywords: p.AvoidKeywords,
	}
	for _, e := range p.Examples {
		out.Examples = append(out.Examples, comments.Example{Post: e.Post, Comment: e.Comment})
	}
	return out
}

func (a *app) pipeline(onlyDue bool) *pipeline.Pipeline {
	collector := collect.NewCollector(a.fetcher, a.store, collect.Options{
		PostsPerAccount: cfg.Collection.PostsPerAccount,
		MaxAge:          time.Duration(cfg.Collection.MaxPostAgeMinutes) * time.Minute,
		AuthorCooldown:  cfg.AuthorCooldown(),
		OnlyDue:         onlyDue,
	})
	scorer := trend.NewScorer(trend.Weights{
		Like:   cfg.Trend.LikeWeight,
		Repost: cfg.Trend.RepostWeight,
		Reply:  cfg.Trend.ReplyWeight,
	})
	return pipeline.New(a.store, collector, scorer, a.comments, pipeline.Options{
		MinScore:      cfg.Trend.MinScore,
		MinCount:      cfg.Trend.MinCount,
		MaxPosts:      cfg.Collection.MaxPostsPerScan,
		SearchQueries: cfg.Collection.SearchQueries,
	}).WithBus(a.bus).WithRecorder(a.history).WithObserver(a.metrics)
}

// lookupPost finds a post locally, then asks the fetcher.
func (a *app) lookupPost(ctx context.Context, id string) (*store.Post, error) {
	p, err := a.store.LoadPost(id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	p, err = a.fetcher.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := a.store.SavePost(*p); err != nil {
		log.WithField("post", id).Debugf("Caching fetched post: %v", err)
	}
	return p, nil
}

// prompter builds the configured review front end. stop releases it.
func prompter() (review.Prompter, func(), error) {
	if cfg.Review.Driver == "telegram" {
		token := os.Getenv(cfg.Review.Telegram.TokenEnv)
		if token == "" {
			return nil, nil, fmt.Errorf("%s is not set", cfg.Review.Telegram.TokenEnv)
		}
		if cfg.Review.Telegram.ChatID == 0 {
			return nil, nil, errors.New("review.telegram.chat_id is not set")
		}
		return review.ConnectTelegram(token, cfg.Review.Telegram.ChatID)
	}
	return review.NewTerminal(os.Stdin, os.Stdout), func() {}, nil
}
