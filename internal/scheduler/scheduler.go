// Package scheduler runs scans on a timer for daemon mode, together with the
// housekeeping that keeps a long-running process healthy.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// ScanFunc performs one scan.
type ScanFunc func(ctx context.Context)

// SessionPruner drops continuation sessions not touched since cutoff.
type SessionPruner interface {
	PruneSessions(cutoff time.Time) (int64, error)
}

// Options configures the daemon.
type Options struct {
	// Cron is a standard five-field expression. It wins over Interval.
	Cron string
	// Interval between scans when Cron is empty.
	Interval time.Duration
	// RunOnStart triggers a scan as soon as the daemon starts.
	RunOnStart bool
	// SessionTTL is how long unused continuation sessions are kept.
	SessionTTL time.Duration
	// PruneEvery is the session pruning period. Defaults to one hour.
	PruneEvery time.Duration
	// MetricsAddr serves the metrics handler when set.
	MetricsAddr string
}

// Daemon owns the scheduler and its jobs.
type Daemon struct {
	sched gocron.Scheduler
	scan  ScanFunc
	opts  Options

	pruner       SessionPruner
	metrics      http.Handler
	accountsFile string
	syncAccounts func() error
	now          func() time.Time
}

// Schedule validates the scan schedule and describes it for logs.
func Schedule(cronExpr string, interval time.Duration) (gocron.JobDefinition, string, error) {
	if cronExpr != "" {
		if _, err := cron.ParseStandard(cronExpr); err != nil {
			return nil, "", fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
		}
		return gocron.CronJob(cronExpr, false), "cron " + cronExpr, nil
	}
	if interval <= 0 {
		return nil, "", errors.New("scan interval must be positive")
	}
	return gocron.DurationJob(interval), "every " + interval.String(), nil
}

// NextScan returns the next time a cron expression fires after t. Interval
// schedules return t+interval.
func NextScan(cronExpr string, interval time.Duration, t time.Time) (time.Time, error) {
	if cronExpr == "" {
		return t.Add(interval), nil
	}
	s, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(t), nil
}

// New creates a daemon that calls scan on the configured schedule.
func New(scan ScanFunc, opts Options) (*Daemon, error) {
	if opts.PruneEvery <= 0 {
		opts.PruneEvery = time.Hour
	}
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.Local))
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	return &Daemon{sched: sched, scan: scan, opts: opts, now: time.Now}, nil
}

// WithSessionPruner prunes expired continuation sessions periodically.
func (d *Daemon) WithSessionPruner(p SessionPruner) *Daemon {
	d.pruner = p
	return d
}

// WithAccountsWatch calls sync whenever the accounts file changes.
func (d *Daemon) WithAccountsWatch(path string, sync func() error) *Daemon {
	d.accountsFile = path
	d.syncAccounts = sync
	return d
}

// WithMetrics serves h on the configured metrics address.
func (d *Daemon) WithMetrics(h http.Handler) *Daemon {
	d.metrics = h
	return d
}

// Run registers the jobs, starts them and blocks until ctx ends. A scan
// still running when the next one is due is not overlapped.
func (d *Daemon) Run(ctx context.Context) error {
	def, desc, err := Schedule(d.opts.Cron, d.opts.Interval)
	if err != nil {
		return err
	}

	jobOpts := []gocron.JobOption{
		gocron.WithName("scan"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if d.opts.RunOnStart {
		jobOpts = append(jobOpts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}
	if _, err := d.sched.NewJob(def, gocron.NewTask(func() { d.runScan(ctx) }), jobOpts...); err != nil {
		return fmt.Errorf("scheduling scan: %w", err)
	}

	if d.pruner != nil && d.opts.SessionTTL > 0 {
		_, err := d.sched.NewJob(
			gocron.DurationJob(d.opts.PruneEvery),
			gocron.NewTask(d.prune),
			gocron.WithName("prune-sessions"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("scheduling session pruning: %w", err)
		}
	}

	if d.syncAccounts != nil && d.accountsFile != "" {
		go func() {
			if err := WatchFile(ctx, d.accountsFile, 0, d.syncAccounts); err != nil {
				log.Warnf("Accounts file not watched: %v", err)
			}
		}()
	}

	var srv *http.Server
	if d.metrics != nil && d.opts.MetricsAddr != "" {
		srv = d.serveMetrics()
	}

	d.sched.Start()
	log.Infof("Daemon started, scanning %s", desc)
	if !d.opts.RunOnStart {
		if next, err := NextScan(d.opts.Cron, d.opts.Interval, d.now()); err == nil {
			log.Infof("Next scan at %s", next.Format(time.DateTime))
		}
	}

	<-ctx.Done()
	log.Info("Shutting down daemon...")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Metrics server shutdown: %v", err)
		}
	}
	if err := d.sched.Shutdown(); err != nil {
		return fmt.Errorf("stopping scheduler: %w", err)
	}
	return nil
}

func (d *Daemon) runScan(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := d.now()
	log.Info("Scheduled scan starting")
	d.scan(ctx)
	log.Infof("Scheduled scan finished in %s", d.now().Sub(start).Round(time.Second))
}

func (d *Daemon) prune() {
	n, err := d.pruner.PruneSessions(d.now().Add(-d.opts.SessionTTL))
	if err != nil {
		log.Warnf("Pruning sessions failed: %v", err)
		return
	}
	if n > 0 {
		log.Infof("Pruned %d expired sessions", n)
	}
}

func (d *Daemon) serveMetrics() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics)
	srv := &http.Server{
		Addr:              d.opts.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("Serving metrics on %s/metrics", d.opts.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server: %v", err)
		}
	}()
	return srv
}
