package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/0xFlo/prism-sub006/internal/gsc"
)

// FrontierEntry identifies one page fetch: the next required start row
// for one date. An entry exists only when backed by evidence — either
// the date's initial seed at row zero, or a previous page for the same
// date that came back completely full.
type FrontierEntry struct {
	Date     string
	StartRow int
}

// key returns the uniqueness key for in-flight deduplication.
func (e FrontierEntry) key() string {
	return gsc.SubID(e.Date, e.StartRow)
}

// DayResult is delivered to the completion callback the moment a date
// finishes: either its last page arrived (Rows set) or it failed
// terminally (Err set, Rows nil).
type DayResult struct {
	Date     string
	Rows     []gsc.Row
	APICalls int
	Err      error
}

// Signal is the callback's verdict: keep going, or halt seeding of
// dates that have not entered the frontier yet. In-flight dates always
// finish; the first halt reason is preserved.
type Signal struct {
	Halt   bool
	Reason string
}

// Continue reports that the scheduler should keep seeding dates.
func Continue() Signal {
	return Signal{}
}

// Halt requests that no further dates be seeded, with a reason that
// survives verbatim to the run summary.
func Halt(reason string) Signal {
	return Signal{Halt: true, Reason: reason}
}

// CompleteFunc receives each date's outcome as it completes. Delivery
// is at-least-once across pipeline runs; implementations must be
// idempotent per date.
type CompleteFunc func(DayResult) Signal

// DaySummary is the per-date record kept after the date's rows have
// been flushed through the callback.
type DaySummary struct {
	Rows     int
	APICalls int
	Err      error
}

// Result is the outcome of one FetchAllQueries run.
type Result struct {
	Days            map[string]DaySummary
	TotalAPICalls   int
	TotalBatchCalls int
	Halted          bool
	HaltReason      string
}

// Transport sends one batch of sub-requests and returns one response
// per sub-request. Implemented by gsc.BatchTransport.
type Transport interface {
	Send(ctx context.Context, subs []gsc.SubRequest) ([]gsc.SubResponse, error)
}

// Config defines configuration for the query scheduler.
type Config struct {
	// Frontier entries bundled into one outbound batch call
	BatchSize int `toml:"batch_size"`

	// Rows per page; overridable for tests, defaults to the API cap
	PageSize int `toml:"page_size"`

	// Whole-batch retry budget and backoff base for the transport
	MaxAttempts int           `toml:"max_attempts"`
	BaseDelay   time.Duration `toml:"base_delay"`

	// How long to wait before re-checking a denied rate limit
	RateLimitBackoff time.Duration `toml:"rate_limit_backoff"`
}

// DefaultConfig returns scheduler defaults matching the API's limits.
func DefaultConfig() Config {
	return Config{
		BatchSize:        10,
		PageSize:         gsc.PageSize,
		MaxAttempts:      5,
		BaseDelay:        2 * time.Second,
		RateLimitBackoff: 5 * time.Second,
	}
}

// validateConfig validates scheduler configuration and returns error if invalid
func validateConfig(config Config) error {
	if config.BatchSize <= 0 {
		return fmt.Errorf("BatchSize must be positive, got %d", config.BatchSize)
	}

	if config.PageSize <= 0 {
		return fmt.Errorf("PageSize must be positive, got %d", config.PageSize)
	}

	if config.MaxAttempts <= 0 {
		return fmt.Errorf("MaxAttempts must be positive, got %d", config.MaxAttempts)
	}

	if config.BaseDelay <= 0 {
		return fmt.Errorf("BaseDelay must be positive, got %v", config.BaseDelay)
	}

	if config.RateLimitBackoff <= 0 {
		return fmt.Errorf("RateLimitBackoff must be positive, got %v", config.RateLimitBackoff)
	}

	return nil
}
