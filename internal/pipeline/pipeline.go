package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/TobiSchelling/xgrowth/internal/collect"
	"github.com/TobiSchelling/xgrowth/internal/comments"
	"github.com/TobiSchelling/xgrowth/internal/events"
	"github.com/TobiSchelling/xgrowth/internal/history"
	"github.com/TobiSchelling/xgrowth/internal/store"
	"github.com/TobiSchelling/xgrowth/internal/trend"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a scan run.
type Result struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Steps      []StepResult
	Drafted    []store.Comment
}

// Drafter turns selected posts into pending comments.
type Drafter interface {
	DraftBatch(ctx context.Context, posts []store.Post) *comments.BatchResult
}

// RunRecorder stores a summary of each run.
type RunRecorder interface {
	InsertRun(r history.Run) (int64, error)
}

// ScanObserver is told when a run finishes.
type ScanObserver interface {
	ObserveScan(started, finished time.Time)
}

// Options tunes selection.
type Options struct {
	MinScore      float64
	MinCount      int
	MaxPosts      int
	SearchQueries []string
}

// Pipeline runs the collect, rank and draft steps of a scan.
type Pipeline struct {
	store     *store.Store
	collector *collect.Collector
	scorer    *trend.Scorer
	drafter   Drafter
	opts      Options

	bus      *events.Bus
	recorder RunRecorder
	observer ScanObserver
	now      func() time.Time
}

// New creates a scan pipeline.
func New(st *store.Store, collector *collect.Collector, scorer *trend.Scorer, drafter Drafter, opts Options) *Pipeline {
	return &Pipeline{
		store:     st,
		collector: collector,
		scorer:    scorer,
		drafter:   drafter,
		opts:      opts,
		now:       time.Now,
	}
}

// WithBus publishes a post.collected event per kept post.
func (p *Pipeline) WithBus(b *events.Bus) *Pipeline {
	p.bus = b
	return p
}

// WithRecorder records every run.
func (p *Pipeline) WithRecorder(r RunRecorder) *Pipeline {
	p.recorder = r
	return p
}

// WithObserver reports run timings.
func (p *Pipeline) WithObserver(o ScanObserver) *Pipeline {
	p.observer = o
	return p
}

// Run executes collect, rank and draft. A failed collect ends the run.
func (p *Pipeline) Run(ctx context.Context) *Result {
	r := &Result{StartedAt: p.now()}
	run := history.Run{StartedAt: r.StartedAt}

	defer func() {
		r.FinishedAt = p.now()
		run.FinishedAt = r.FinishedAt
		p.finish(r, run)
	}()

	// Step 1: Collect
	log.Info("Step 1/3: Collecting posts...")
	collected, step := p.runCollect(ctx)
	r.Steps = append(r.Steps, step)
	if collected != nil {
		run.Accounts = collected.Accounts
		run.Fetched = collected.Fetched
		run.Collected = len(collected.Posts)
	}
	if step.Err != nil {
		run.Error = step.Err.Error()
		return r
	}

	// Step 2: Rank
	log.Info("Step 2/3: Ranking posts...")
	selected, step := p.runRank(collected.Posts)
	r.Steps = append(r.Steps, step)
	run.Selected = len(selected)
	if len(selected) == 0 {
		return r
	}

	// Step 3: Draft
	log.Info("Step 3/3: Drafting comments...")
	batch := p.drafter.DraftBatch(ctx, selected)
	r.Drafted = batch.Drafted
	run.Drafted = len(batch.Drafted)
	run.Failed = len(batch.Failed)
	step = StepResult{
		Name:    "Draft",
		Summary: fmt.Sprintf("Drafted %d comments, %d failed", len(batch.Drafted), len(batch.Failed)),
	}
	if len(batch.Drafted) == 0 && len(batch.Failed) > 0 {
		step.Err = errors.Join(batch.Failed...)
		run.Error = step.Err.Error()
	}
	r.Steps = append(r.Steps, step)
	return r
}

func (p *Pipeline) runCollect(ctx context.Context) (*collect.Result, StepResult) {
	res, err := p.collector.CollectAccounts(ctx)
	if err != nil {
		return res, StepResult{Name: "Collect", Err: err}
	}

	if len(p.opts.SearchQueries) > 0 {
		found, err := p.collector.CollectSearch(ctx, p.opts.SearchQueries)
		if err != nil {
			return res, StepResult{Name: "Collect", Err: err}
		}
		res.Fetched += found.Fetched
		res.Failed += found.Failed
		res.TooOld += found.TooOld
		res.Duplicates += found.Duplicates
		res.CoolingDown += found.CoolingDown
		res.Posts = append(res.Posts, found.Posts...)
	}

	for _, post := range res.Posts {
		p.bus.Publish(events.Event{Type: events.PostCollected, PostID: post.ID})
	}

	return res, StepResult{
		Name: "Collect",
		Summary: fmt.Sprintf("Found %d new posts from %d accounts (%d fetched, %d duplicates, %d too old, %d cooling down, %d failed)",
			len(res.Posts), res.Accounts, res.Fetched, res.Duplicates, res.TooOld, res.CoolingDown, res.Failed),
	}
}

// runRank scores posts, applies the minimum-count safety net and caps the
// selection. Selected posts are saved again so their score is stored.
func (p *Pipeline) runRank(posts []store.Post) ([]store.Post, StepResult) {
	if len(posts) == 0 {
		return nil, StepResult{Name: "Rank", Summary: "No new posts"}
	}

	ranked := p.scorer.RankAndFilter(posts, p.opts.MinScore, p.opts.MinCount)
	if p.opts.MaxPosts > 0 && len(ranked) > p.opts.MaxPosts {
		ranked = ranked[:p.opts.MaxPosts]
	}

	for i, post := range ranked {
		if err := p.store.SavePost(post); err != nil {
			log.WithField("post", post.ID).Warnf("Saving score failed: %v", err)
		}
		log.Infof("  %d. @%s: %.2f/100", i+1, post.Author.Username, post.TrendingScore)
	}

	return ranked, StepResult{
		Name:    "Rank",
		Summary: fmt.Sprintf("Selected %d of %d posts", len(ranked), len(posts)),
	}
}

func (p *Pipeline) finish(r *Result, run history.Run) {
	if p.observer != nil {
		p.observer.ObserveScan(r.StartedAt, r.FinishedAt)
	}
	if p.recorder != nil {
		if _, err := p.recorder.InsertRun(run); err != nil {
			log.Warnf("Recording scan run failed: %v", err)
		}
	}
}

// DryRun shows what a scan would work on without calling any capability.
func (p *Pipeline) DryRun() *Result {
	r := &Result{StartedAt: p.now()}

	accounts, err := p.store.LoadAccounts()
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Collect", Err: err})
		return r
	}
	due := 0
	for _, a := range accounts {
		if a.Due(r.StartedAt) {
			due++
		}
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Collect",
		Summary: fmt.Sprintf("[dry-run] %d accounts (%d due), %d search queries", len(accounts), due, len(p.opts.SearchQueries)),
	})
	r.Steps = append(r.Steps, StepResult{
		Name:    "Rank",
		Summary: fmt.Sprintf("[dry-run] min score %.1f, min count %d, max %d posts", p.opts.MinScore, p.opts.MinCount, p.opts.MaxPosts),
	})

	counts, err := p.store.CommentCounts()
	r.Steps = append(r.Steps, StepResult{
		Name:    "Draft",
		Summary: fmt.Sprintf("[dry-run] %d comments already pending review", counts[store.StatusPending]),
		Err:     err,
	})
	r.FinishedAt = p.now()
	return r
}
