package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/0xFlo/prism-sub006/internal/db"
	"github.com/0xFlo/prism-sub006/internal/progress"
	"github.com/0xFlo/prism-sub006/internal/scheduler"
)

// Store is the persistence surface the pipeline writes through.
// Implemented by *db.DB.
type Store interface {
	MarkDayInProgress(account, site, date string) error
	MarkDayPending(account, site, date string) error
	MarkDayComplete(account, site, date string, rows, apiCalls int) error
	MarkDayFailed(account, site, date, errMsg string, apiCalls int) error
	ReplaceDayRows(site, date, dimension string, rows []db.SearchRow) error
	ReplaceDiscoveredPages(site, date string, urls []string) error
}

// Fetcher runs the cascading pagination for a set of dates.
// Implemented by *scheduler.Scheduler.
type Fetcher interface {
	FetchAllQueries(ctx context.Context, site string, dates []string, onComplete scheduler.CompleteFunc) (scheduler.Result, error)
}

// Discoverer produces the universe of page URLs with traffic on a date.
// Implemented by *gsc.Client.
type Discoverer interface {
	QueryPages(ctx context.Context, site, date string) ([]string, error)
}

// ProgressSink receives step transitions for dashboards and logs. The
// pipeline never depends on it for control flow.
// Implemented by *progress.Tracker.
type ProgressSink interface {
	Start(totalSteps int) progress.Job
	StepCompleted() progress.Job
	Finish(stats map[string]int) progress.Job
}

// Config defines configuration for the sync pipeline.
type Config struct {
	// Dates processed per pipeline iteration; bounds peak frontier size
	ChunkSize int `toml:"chunk_size"`

	// Halt the sync after this many consecutive zero-row days,
	// evaluated in release order (newest first). Zero disables.
	HaltAfterEmptyDays int `toml:"halt_after_empty_days"`

	// Whether to run the page discovery phase per day
	DiscoverPages bool `toml:"discover_pages"`
}

// DefaultConfig returns pipeline defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:          30,
		HaltAfterEmptyDays: 0,
		DiscoverPages:      true,
	}
}

// validateConfig validates pipeline configuration and returns error if invalid
func validateConfig(config Config) error {
	if config.ChunkSize <= 0 {
		return fmt.Errorf("ChunkSize must be positive, got %d", config.ChunkSize)
	}

	if config.HaltAfterEmptyDays < 0 {
		return fmt.Errorf("HaltAfterEmptyDays must not be negative, got %d", config.HaltAfterEmptyDays)
	}

	return nil
}

// DayOutcome is the released, finalized result of one date.
type DayOutcome struct {
	Date     string
	Status   string // db.SyncComplete or db.SyncFailed
	Rows     int
	APICalls int
	Error    string
}

// Summary is the pipeline run result. Per-date failures never turn the
// run into an error: callers always get the full picture of what
// succeeded and what did not.
type Summary struct {
	Site       string
	Synced     int
	Failed     int
	TotalRows  int
	APICalls   int
	BatchCalls int
	Halted     bool
	HaltReason string
	Days       []DayOutcome // in release order (newest first)
	Duration   time.Duration
}
