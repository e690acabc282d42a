package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"github.com/0xFlo/prism-sub006/internal/audit"
	"github.com/0xFlo/prism-sub006/internal/config"
	"github.com/0xFlo/prism-sub006/internal/db"
	"github.com/0xFlo/prism-sub006/internal/gsc"
	"github.com/0xFlo/prism-sub006/internal/metrics"
	"github.com/0xFlo/prism-sub006/internal/pipeline"
	"github.com/0xFlo/prism-sub006/internal/progress"
	"github.com/0xFlo/prism-sub006/internal/ratelimit"
	"github.com/0xFlo/prism-sub006/internal/scheduler"
	"github.com/0xFlo/prism-sub006/internal/stats"
)

const dateLayout = "2006-01-02"

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to configuration file (TOML)")
	site := flag.String("site", "", "Site property URL to sync (defaults to all configured sites)")
	startDate := flag.String("start", "", "Start date (YYYY-MM-DD)")
	endDate := flag.String("end", "", "End date (YYYY-MM-DD), defaults to yesterday")
	daemon := flag.Bool("daemon", false, "Run continuously on the configured interval")
	showStats := flag.Bool("stats", false, "Print sync coverage for the site and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting prism search analytics sync")

	// Open database connection with pool settings
	database, err := db.OpenWithConfig(cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err, "driver", cfg.Database.Driver)
		os.Exit(1)
	}
	defer database.Close()

	// Run migrations
	if !cfg.Database.SkipMigrations {
		if err := database.RunMigrations(); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		version, err := database.CurrentVersion()
		if err != nil {
			slog.Error("failed to get schema version", "error", err)
			os.Exit(1)
		}
		slog.Info("database schema ready", "version", version)
	}

	sites := cfg.SearchConsole.Sites
	if *site != "" {
		sites = []string{*site}
	}
	if len(sites) == 0 {
		slog.Error("no site to sync: pass -site or configure searchconsole.sites")
		os.Exit(1)
	}

	if *showStats {
		printStats(database, cfg.SearchConsole.Account, sites)
		return
	}

	// Root context cancelled on SIGINT/SIGTERM; in-flight batch calls
	// finish, further work is suppressed.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Address, cfg.Metrics.Port, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			metricsServer.Shutdown(shutdownCtx)
		}()
	}

	// Rate limiter backend
	limiter, err := newLimiter(cfg.RateLimit)
	if err != nil {
		slog.Error("failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	// Upstream client and batch transport
	client := gsc.NewClient(gsc.Credentials{
		ClientID:     cfg.SearchConsole.ClientID,
		ClientSecret: cfg.SearchConsole.ClientSecret,
		RefreshToken: cfg.SearchConsole.RefreshToken,
	}, cfg.SearchConsole.Endpoint, cfg.SearchConsole.TokenURL)

	transport := gsc.NewBatchTransport(client, cfg.Scheduler.MaxAttempts, cfg.Scheduler.BaseDelay, logger)

	// Audit journal
	auditWriter, err := audit.NewWriter(cfg.Audit, database, logger)
	if err != nil {
		slog.Error("failed to create audit writer", "error", err)
		os.Exit(1)
	}
	auditWriter.Start()
	defer auditWriter.Shutdown()

	// Progress tracker
	tracker := progress.NewTracker(cfg.Progress.HistorySize, logger)
	defer tracker.Close()
	go logProgress(tracker, logger)

	// Query scheduler and pipeline
	sched, err := scheduler.New(cfg.Scheduler, transport, limiter, auditWriter,
		cfg.SearchConsole.Account, logger)
	if err != nil {
		slog.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}

	pipe, err := pipeline.New(cfg.Pipeline, database, sched, client, tracker,
		cfg.SearchConsole.Account, logger)
	if err != nil {
		slog.Error("failed to create pipeline", "error", err)
		os.Exit(1)
	}

	start, end, err := resolveRange(*startDate, *endDate, cfg.Daemon.LookbackDays)
	if err != nil {
		slog.Error("invalid date range", "error", err)
		os.Exit(1)
	}

	if *daemon {
		runDaemon(ctx, pipe, sites, cfg.Daemon)
		return
	}

	for _, s := range sites {
		summary, err := pipe.Run(ctx, s, start, end)
		if err != nil {
			slog.Error("sync aborted", "site", s, "error", err)
			os.Exit(1)
		}
		printSummary(summary)
	}
}

// runDaemon re-syncs the configured lookback window on a fixed interval.
func runDaemon(ctx context.Context, pipe *pipeline.Pipeline, sites []string, cfg config.DaemonConfig) {
	slog.Info("running in daemon mode", "interval", cfg.Interval, "lookback_days", cfg.LookbackDays)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		end := time.Now().AddDate(0, 0, -1)
		start := end.AddDate(0, 0, -(cfg.LookbackDays - 1))

		for _, s := range sites {
			summary, err := pipe.Run(ctx, s, start, end)
			if err != nil {
				if ctx.Err() != nil {
					slog.Info("daemon shutting down")
					return
				}
				slog.Error("sync failed", "site", s, "error", err)
				continue
			}
			printSummary(summary)
		}

		select {
		case <-ctx.Done():
			slog.Info("daemon shutting down")
			return
		case <-ticker.C:
		}
	}
}

// resolveRange turns CLI date flags into a concrete [start, end] range.
func resolveRange(startFlag, endFlag string, lookbackDays int) (time.Time, time.Time, error) {
	end := time.Now().AddDate(0, 0, -1)
	if endFlag != "" {
		parsed, err := time.Parse(dateLayout, endFlag)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing -end: %w", err)
		}
		end = parsed
	}

	start := end.AddDate(0, 0, -(lookbackDays - 1))
	if startFlag != "" {
		parsed, err := time.Parse(dateLayout, startFlag)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing -start: %w", err)
		}
		start = parsed
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s is before start %s",
			end.Format(dateLayout), start.Format(dateLayout))
	}

	return start, end, nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func newLimiter(cfg config.RateLimitConfig) (ratelimit.Limiter, error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return ratelimit.NewRedis(client, cfg.Limit, cfg.Window), nil
	default:
		return ratelimit.NewMemory(cfg.Limit, cfg.Window), nil
	}
}

// logProgress mirrors progress events into the log until the tracker
// closes.
func logProgress(tracker *progress.Tracker, logger *slog.Logger) {
	events, cancel := tracker.Subscribe()
	defer cancel()

	for event := range events {
		logger.Info("progress",
			"type", string(event.Type),
			"job_id", event.Job.ID,
			"completed", event.Job.CompletedSteps,
			"total", event.Job.TotalSteps)
	}
}

func printSummary(summary pipeline.Summary) {
	fmt.Printf("site %s: %d synced, %d failed, %d rows, %d api calls in %d batches",
		summary.Site, summary.Synced, summary.Failed, summary.TotalRows,
		summary.APICalls, summary.BatchCalls)
	if summary.Halted {
		fmt.Printf(" (halted: %s)", summary.HaltReason)
	}
	fmt.Println()
}

func printStats(database *db.DB, account string, sites []string) {
	for _, s := range sites {
		summary, days, err := stats.Collect(database, account, s)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to collect stats for %s: %v\n", s, err)
			continue
		}

		fmt.Printf("site %s (%s — %s): %d complete, %d failed, %d pending, %d in progress\n",
			summary.Site, summary.FirstDate, summary.LastDate,
			summary.DaysComplete, summary.DaysFailed, summary.DaysPending, summary.DaysInProgress)
		fmt.Printf("  rows: %d, api calls: %d, longest empty streak: %d days\n",
			summary.TotalRows, summary.TotalAPICalls, summary.LongestEmptyStreak)

		for _, day := range days {
			line := fmt.Sprintf("  %s  %-11s rows=%d api_calls=%d", day.Date, day.Status, day.Rows, day.APICalls)
			if day.Error != "" {
				line += " error=" + day.Error
			}
			fmt.Println(line)
		}
	}
}
