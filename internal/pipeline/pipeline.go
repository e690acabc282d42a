package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/0xFlo/prism-sub006/internal/db"
	"github.com/0xFlo/prism-sub006/internal/gsc"
	"github.com/0xFlo/prism-sub006/internal/metrics"
	"github.com/0xFlo/prism-sub006/internal/scheduler"
)

const dateLayout = "2006-01-02"

// Pipeline orchestrates a full sync of one site over a date range:
// per chunk of dates it marks days in progress, discovers the page
// universe, runs the query scheduler, and finalizes outcomes in
// chronological (newest-first) order.
type Pipeline struct {
	config     Config
	store      Store
	fetcher    Fetcher
	discoverer Discoverer
	tracker    ProgressSink
	logger     *slog.Logger
	account    string
}

// New creates a sync pipeline. discoverer and tracker may be nil to
// disable page discovery and progress reporting respectively.
func New(config Config, store Store, fetcher Fetcher, discoverer Discoverer, tracker ProgressSink, account string, logger *slog.Logger) (*Pipeline, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return &Pipeline{
		config:     config,
		store:      store,
		fetcher:    fetcher,
		discoverer: discoverer,
		tracker:    tracker,
		logger:     logger,
		account:    account,
	}, nil
}

// Run syncs site for all dates in [start, end], walking newest-first.
// Per-date failures are recorded in the summary, never returned as an
// error; the returned error is reserved for context cancellation and
// total transport breakdown.
func (p *Pipeline) Run(ctx context.Context, site string, start, end time.Time) (Summary, error) {
	runStart := time.Now()
	dates := datesNewestFirst(start, end)

	summary := Summary{Site: site}

	p.logger.Info("starting sync",
		"site", site,
		"dates", len(dates),
		"chunk_size", p.config.ChunkSize)

	if p.tracker != nil {
		p.tracker.Start(len(dates))
	}

	consecutiveEmpty := 0

	for offset := 0; offset < len(dates) && !summary.Halted; offset += p.config.ChunkSize {
		chunkEnd := offset + p.config.ChunkSize
		if chunkEnd > len(dates) {
			chunkEnd = len(dates)
		}
		chunk := dates[offset:chunkEnd]

		if err := p.runChunk(ctx, site, chunk, &summary, &consecutiveEmpty); err != nil {
			p.finishProgress(&summary)
			summary.Duration = time.Since(runStart)
			return summary, err
		}
	}

	p.finishProgress(&summary)
	summary.Duration = time.Since(runStart)

	p.logger.Info("sync finished",
		"site", site,
		"synced", summary.Synced,
		"failed", summary.Failed,
		"rows", summary.TotalRows,
		"api_calls", summary.APICalls,
		"batch_calls", summary.BatchCalls,
		"halted", summary.Halted,
		"duration", summary.Duration)

	return summary, nil
}

// runChunk processes one bounded slice of dates through the scheduler.
func (p *Pipeline) runChunk(ctx context.Context, site string, chunk []string, summary *Summary, consecutiveEmpty *int) error {
	// Step 1: transition every day in the chunk to in_progress.
	for _, date := range chunk {
		if err := p.store.MarkDayInProgress(p.account, site, date); err != nil {
			return err
		}
	}

	// Step 2: discovery phase. Failures here cost the page universe for
	// that day, not the day's query sync.
	if p.config.DiscoverPages && p.discoverer != nil {
		for _, date := range chunk {
			pages, err := p.discoverer.QueryPages(ctx, site, date)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Warn("page discovery failed", "site", site, "date", date, "error", err)
				continue
			}
			if err := p.store.ReplaceDiscoveredPages(site, date, pages); err != nil {
				p.logger.Warn("failed to persist discovered pages", "site", site, "date", date, "error", err)
			}
		}
	}

	// Step 3: fetch query rows for the whole chunk through the
	// cascading scheduler, finalizing in committed order.
	fz := newFinalizer(chunk, func(result scheduler.DayResult) scheduler.Signal {
		return p.finalizeDay(site, result, summary, consecutiveEmpty)
	})

	result, err := p.fetcher.FetchAllQueries(ctx, site, chunk, fz.complete)
	if err != nil {
		return err
	}

	summary.APICalls += result.TotalAPICalls
	summary.BatchCalls += result.TotalBatchCalls

	// Release completions stranded behind a halt gap.
	fz.flushRemaining()

	if result.Halted && !summary.Halted {
		summary.Halted = true
		summary.HaltReason = result.HaltReason
	}

	// Step 4: days the halt kept out of the frontier go back to pending.
	for _, date := range chunk {
		if _, done := result.Days[date]; !done {
			if err := p.store.MarkDayPending(p.account, site, date); err != nil {
				p.logger.Warn("failed to reset unseeded day", "date", date, "error", err)
			}
		}
	}

	return nil
}

// finalizeDay is the release action: persist one date's outcome and
// evaluate the halt threshold. Runs only in committed order.
func (p *Pipeline) finalizeDay(site string, result scheduler.DayResult, summary *Summary, consecutiveEmpty *int) scheduler.Signal {
	if p.tracker != nil {
		defer p.tracker.StepCompleted()
	}

	if result.Err != nil {
		return p.failDay(site, result, summary, result.Err.Error())
	}

	rows := make([]db.SearchRow, len(result.Rows))
	for i, row := range result.Rows {
		rows[i] = searchRowFromAPI(site, result.Date, gsc.DimensionQuery, row)
	}

	if err := p.store.ReplaceDayRows(site, result.Date, gsc.DimensionQuery, rows); err != nil {
		return p.failDay(site, result, summary, "persisting rows: "+err.Error())
	}

	if err := p.store.MarkDayComplete(p.account, site, result.Date, len(rows), result.APICalls); err != nil {
		p.logger.Warn("failed to mark day complete", "date", result.Date, "error", err)
	}

	metrics.SyncDaysTotal.WithLabelValues(site, db.SyncComplete).Inc()
	metrics.SyncRowsTotal.WithLabelValues(site).Add(float64(len(rows)))

	summary.Synced++
	summary.TotalRows += len(rows)
	summary.Days = append(summary.Days, DayOutcome{
		Date:     result.Date,
		Status:   db.SyncComplete,
		Rows:     len(rows),
		APICalls: result.APICalls,
	})

	p.logger.Debug("day synced",
		"site", site,
		"date", result.Date,
		"rows", len(rows),
		"api_calls", result.APICalls)

	// The backfill terminator: enough consecutive empty days in release
	// order means history has run out.
	if p.config.HaltAfterEmptyDays > 0 {
		if len(rows) == 0 {
			*consecutiveEmpty++
			if *consecutiveEmpty >= p.config.HaltAfterEmptyDays {
				return scheduler.Halt(haltReasonEmptyDays(p.config.HaltAfterEmptyDays))
			}
		} else {
			*consecutiveEmpty = 0
		}
	}

	return scheduler.Continue()
}

// failDay records a terminal per-date failure.
func (p *Pipeline) failDay(site string, result scheduler.DayResult, summary *Summary, errMsg string) scheduler.Signal {
	if err := p.store.MarkDayFailed(p.account, site, result.Date, errMsg, result.APICalls); err != nil {
		p.logger.Warn("failed to mark day failed", "date", result.Date, "error", err)
	}

	metrics.SyncDaysTotal.WithLabelValues(site, db.SyncFailed).Inc()

	summary.Failed++
	summary.Days = append(summary.Days, DayOutcome{
		Date:     result.Date,
		Status:   db.SyncFailed,
		APICalls: result.APICalls,
		Error:    errMsg,
	})

	p.logger.Warn("day failed", "site", site, "date", result.Date, "error", errMsg)

	// A single date's failure never stops its siblings.
	return scheduler.Continue()
}

func (p *Pipeline) finishProgress(summary *Summary) {
	if p.tracker == nil {
		return
	}
	p.tracker.Finish(map[string]int{
		"synced":    summary.Synced,
		"failed":    summary.Failed,
		"rows":      summary.TotalRows,
		"api_calls": summary.APICalls,
	})
}

func haltReasonEmptyDays(n int) string {
	return fmt.Sprintf("empty_days_threshold: %d consecutive days with no rows", n)
}

// searchRowFromAPI maps an API row onto the persisted schema. The first
// dimension key becomes the row key.
func searchRowFromAPI(site, date, dimension string, row gsc.Row) db.SearchRow {
	key := ""
	if len(row.Keys) > 0 {
		key = row.Keys[0]
	}
	return db.SearchRow{
		Site:        site,
		Date:        date,
		Dimension:   dimension,
		Key:         key,
		Clicks:      row.Clicks,
		Impressions: row.Impressions,
		CTR:         row.CTR,
		Position:    row.Position,
	}
}

// datesNewestFirst expands [start, end] into YYYY-MM-DD strings in the
// committed release order.
func datesNewestFirst(start, end time.Time) []string {
	start = start.UTC().Truncate(24 * time.Hour)
	end = end.UTC().Truncate(24 * time.Hour)
	if end.Before(start) {
		start, end = end, start
	}

	var dates []string
	for d := end; !d.Before(start); d = d.AddDate(0, 0, -1) {
		dates = append(dates, d.Format(dateLayout))
	}
	return dates
}
