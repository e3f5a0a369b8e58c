package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/xgrowth/internal/accounts"
	"github.com/TobiSchelling/xgrowth/internal/comments"
	"github.com/TobiSchelling/xgrowth/internal/config"
	"github.com/TobiSchelling/xgrowth/internal/logging"
	"github.com/TobiSchelling/xgrowth/internal/pipeline"
	"github.com/TobiSchelling/xgrowth/internal/review"
	"github.com/TobiSchelling/xgrowth/internal/scheduler"
	"github.com/TobiSchelling/xgrowth/internal/server"
	"github.com/TobiSchelling/xgrowth/internal/store"
)

var version = "dev"

var (
	verbose    bool
	jsonLogs   bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "xgrowth",
	Short:   "Reply to trending posts with reviewed, AI-drafted comments",
	Long:    "xgrowth polls the accounts you follow, picks the posts gaining traction, drafts replies with an LLM and publishes only what you approve.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return logging.Setup(logging.Options{Verbose: verbose, JSON: jsonLogs})
		}

		if err := config.LoadEnv(); err != nil {
			return err
		}
		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return logging.Setup(logging.Options{Level: cfg.Logging.Level, Verbose: verbose, JSON: jsonLogs})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Write logs as JSON")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(accountsCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(serveCmd)
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("xgrowth", version)
	},
}

const accountsTemplate = `# Accounts to monitor. Priority is high, medium or low; check_interval is in minutes.
accounts:
  - username: golang
    priority: high
    check_interval: 15
    tags: [go, programming]
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/xgrowth/",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		files := []struct {
			path string
			data []byte
		}{
			{filepath.Join(config.ConfigDir(), "config.yaml"), config.DefaultConfigYAML},
			{filepath.Join(config.ConfigDir(), "accounts.yaml"), []byte(accountsTemplate)},
		}
		for _, f := range files {
			if _, err := os.Stat(f.path); err == nil {
				fmt.Printf("Already exists: %s\n", f.path)
				continue
			}
			if err := os.WriteFile(f.path, f.data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", f.path, err)
			}
			fmt.Printf("Created: %s\n", f.path)
		}
		fmt.Println("Edit them to set your profile, accounts and LLM provider.")
		return nil
	},
}

// --- auth command ---

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Check that the publishing identity is logged in",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(needs{publisher: true})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		if a.browser != nil {
			ok, err := a.browser.EnsureLoggedIn(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("browser session is not logged in")
			}
			fmt.Println("Browser session is logged in.")
			return nil
		}

		handle, err := a.bird.WhoAmI(ctx)
		if err != nil {
			return fmt.Errorf("bird is not authenticated: %w", err)
		}
		fmt.Printf("Logged in as @%s\n", handle)
		return nil
	},
}

// --- scan command ---

var (
	dryRun  bool
	onlyDue bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Collect new posts, rank them and draft comments",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(needs{generator: !dryRun})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		pipe := a.pipeline(onlyDue)
		var result *pipeline.Result
		if dryRun {
			result = pipe.DryRun()
		} else {
			result = pipe.Run(ctx)
		}
		printSteps(result)

		if !dryRun && len(result.Drafted) > 0 {
			fmt.Printf("\n%d comments waiting. Run 'xgrowth review' to go through them.\n", len(result.Drafted))
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	scanCmd.Flags().BoolVar(&onlyDue, "due", false, "Only poll accounts whose check interval has elapsed")
}

func printSteps(result *pipeline.Result) {
	for i, step := range result.Steps {
		fmt.Printf("\nStep %d/3: %s\n", i+1, step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
}

// --- review command ---

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review pending comments one by one",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(needs{generator: true, publisher: true})
		if err != nil {
			return err
		}
		defer a.Close()

		pending, err := a.store.LoadCommentsByStatus(store.StatusPending)
		if err != nil {
			log.Warnf("Some pending comments could not be read: %v", err)
		}

		p, stop, err := prompter()
		if err != nil {
			return err
		}
		defer stop()

		ctx, cancel := signalContext()
		defer cancel()

		summary, err := review.New(a.comments, p, a.lookupPost).Run(ctx, pending)
		if summary != nil {
			fmt.Printf("\nPublished: %d  Approved: %d  Skipped: %d\n", summary.Published, summary.Approved, summary.Skipped)
			if summary.Quit && summary.Remaining > 1 {
				fmt.Printf("%d comments left for the next session.\n", summary.Remaining-1)
			}
		}
		return err
	},
}

// --- publish command ---

var publishCmd = &cobra.Command{
	Use:   "publish [comment-id...]",
	Short: "Publish approved comments, or the given ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(needs{publisher: true})
		if err != nil {
			return err
		}
		defer a.Close()

		ids := args
		if len(ids) == 0 {
			approved, err := a.store.LoadCommentsByStatus(store.StatusApproved)
			if err != nil {
				log.Warnf("Some approved comments could not be read: %v", err)
			}
			for _, c := range approved {
				ids = append(ids, c.ID)
			}
		}
		if len(ids) == 0 {
			fmt.Println("No approved comments to publish.")
			return nil
		}

		ctx, cancel := signalContext()
		defer cancel()

		published, failed := 0, 0
		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			if _, err := a.comments.Publish(ctx, id); err != nil {
				failed++
				fmt.Printf("  %s: %v\n", id, err)
				if errors.Is(err, comments.ErrLoginRequired) {
					break
				}
				continue
			}
			published++
			fmt.Printf("  %s: published\n", id)
		}
		fmt.Printf("\nPublished %d, failed %d\n", published, failed)
		return nil
	},
}

// --- stats command ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show comment counts and the last scan",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(needs{})
		if err != nil {
			return err
		}
		defer a.Close()

		counts, err := a.store.CommentCounts()
		if err != nil {
			return fmt.Errorf("counting comments: %w", err)
		}
		fmt.Println("Comments:")
		for _, s := range store.Statuses {
			fmt.Printf("  %-10s %d\n", s, counts[s])
		}

		lastHour, _ := a.store.RecentPublishedCount(time.Hour)
		lastDay, _ := a.store.RecentPublishedCount(24 * time.Hour)
		fmt.Println("\nPublished:")
		fmt.Printf("  Last hour: %d\n", lastHour)
		fmt.Printf("  Last 24 hours: %d\n", lastDay)

		list, err := a.store.LoadAccounts()
		if err != nil {
			return err
		}
		due := 0
		for _, acc := range list {
			if acc.Due(time.Now()) {
				due++
			}
		}
		fmt.Println("\nAccounts:")
		fmt.Printf("  Monitored: %d\n", len(list))
		fmt.Printf("  Due for a check: %d\n", due)

		run, err := a.history.LastRun()
		if err != nil {
			return err
		}
		fmt.Println("\nLast scan:")
		if run == nil {
			fmt.Println("  Never")
			return nil
		}
		fmt.Printf("  %s (%s)\n", run.StartedAt.Local().Format(time.DateTime), run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
		fmt.Printf("  %d accounts, %d fetched, %d new, %d selected, %d drafted, %d failed\n",
			run.Accounts, run.Fetched, run.Collected, run.Selected, run.Drafted, run.Failed)
		if run.Error != "" {
			fmt.Printf("  Error: %s\n", run.Error)
		}
		return nil
	},
}

// --- accounts command ---

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage monitored accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitored accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(needs{})
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.store.LoadAccounts()
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Printf("No accounts. Add some to %s or run: xgrowth accounts add <username>\n", cfg.GetAccountsFile())
			return nil
		}
		for _, acc := range list {
			last := "never"
			if acc.LastChecked != nil {
				last = acc.LastChecked.Local().Format(time.DateTime)
			}
			fmt.Printf("  @%-20s %-6s every %3dm  last checked %s\n", acc.Username, acc.Priority, acc.CheckInterval, last)
		}
		return nil
	},
}

var accountsImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Replace the account list with a YAML file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.GetDataDir())
		if err != nil {
			return err
		}
		path := cfg.GetAccountsFile()
		if len(args) == 1 {
			path = args[0]
		}
		res, err := accounts.Import(st, path)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d accounts (%d new, %d removed, %d invalid)\n", res.Imported, res.New, res.Removed, res.Invalid)
		return nil
	},
}

var (
	addPriority string
	addInterval int
	addTags     []string
)

var accountsAddCmd = &cobra.Command{
	Use:   "add [username]",
	Short: "Add an account to monitor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.GetDataDir())
		if err != nil {
			return err
		}
		acc, err := accounts.Add(st, accounts.Entry{
			Username:      args[0],
			Priority:      addPriority,
			CheckInterval: addInterval,
			Tags:          addTags,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Added @%s (%s, every %d minutes)\n", acc.Username, acc.Priority, acc.CheckInterval)
		return nil
	},
}

func init() {
	accountsAddCmd.Flags().StringVar(&addPriority, "priority", "medium", "high, medium or low")
	accountsAddCmd.Flags().IntVar(&addInterval, "interval", store.DefaultCheckInterval, "Check interval in minutes")
	accountsAddCmd.Flags().StringSliceVar(&addTags, "tags", nil, "Comma-separated tags")

	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsImportCmd)
	accountsCmd.AddCommand(accountsAddCmd)
}

// --- daemon command ---

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Scan on a schedule until stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(needs{generator: true})
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		pipe := a.pipeline(true)
		d, err := scheduler.New(func(ctx context.Context) {
			a.syncAccounts()
			r := pipe.Run(ctx)
			for _, step := range r.Steps {
				if step.Err != nil {
					log.Errorf("%s: %v", step.Name, step.Err)
					continue
				}
				log.Infof("%s: %s", step.Name, step.Summary)
			}
		}, scheduler.Options{
			Cron:        cfg.Schedule.Cron,
			Interval:    time.Duration(cfg.Schedule.ScanIntervalMinutes) * time.Minute,
			RunOnStart:  true,
			SessionTTL:  time.Duration(cfg.Generation.SessionTTLHours) * time.Hour,
			MetricsAddr: cfg.Metrics.Addr,
		})
		if err != nil {
			return err
		}
		d.WithSessionPruner(a.history)
		if cfg.Schedule.WatchAccounts {
			d.WithAccountsWatch(cfg.GetAccountsFile(), func() error {
				_, err := accounts.SyncIfNewer(a.store, cfg.GetAccountsFile())
				return err
			})
		}
		if cfg.Metrics.Enabled {
			d.WithMetrics(a.metrics.Handler())
		}
		return d.Run(ctx)
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local review dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(needs{publisher: true})
		if err != nil {
			return err
		}
		defer a.Close()

		opts := []server.Option{server.WithHistory(a.history)}
		if cfg.Metrics.Enabled {
			opts = append(opts, server.WithMetrics(a.metrics.Handler()))
		}
		srv, err := server.New(a.store, a.comments, opts...)
		if err != nil {
			return err
		}

		port := servePort
		if !cmd.Flags().Changed("port") && cfg.Server.Port > 0 {
			port = cfg.Server.Port
		}

		ctx, cancel := signalContext()
		defer cancel()

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, srv, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}
