package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/0xFlo/prism-sub006/internal/audit"
	"github.com/0xFlo/prism-sub006/internal/gsc"
	"github.com/0xFlo/prism-sub006/internal/metrics"
	"github.com/0xFlo/prism-sub006/internal/ratelimit"
)

// AuditRecorder receives one telemetry event per batch sub-response.
// Nil-able; a nil recorder disables auditing.
type AuditRecorder interface {
	Record(event audit.Event) error
}

// accumulator collects the pages fetched so far for one date. Chunks
// are kept as-is and concatenated exactly once at flush, so peak memory
// stays bounded by in-flight dates.
type accumulator struct {
	chunks   [][]gsc.Row
	rowCount int
	apiCalls int
}

func (a *accumulator) append(rows []gsc.Row) {
	a.chunks = append(a.chunks, rows)
	a.rowCount += len(rows)
}

// flush concatenates all chunks into one slice.
func (a *accumulator) flush() []gsc.Row {
	rows := make([]gsc.Row, 0, a.rowCount)
	for _, chunk := range a.chunks {
		rows = append(rows, chunk...)
	}
	return rows
}

// Scheduler drives cascading pagination across many dates. It owns the
// frontier, the per-date accumulators, and the call counters; all three
// are mutated only inside the FetchAllQueries loop, so no locking is
// needed. Concurrency lives inside each batch call (many sub-requests
// in one HTTP request), never across overlapping batch calls.
type Scheduler struct {
	config    Config
	transport Transport
	limiter   ratelimit.Limiter
	auditor   AuditRecorder
	logger    *slog.Logger

	// Rate limiter key for the account owning the quota
	tenant string
}

// New creates a query scheduler for one tenant.
func New(config Config, transport Transport, limiter ratelimit.Limiter, auditor AuditRecorder, tenant string, logger *slog.Logger) (*Scheduler, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return &Scheduler{
		config:    config,
		transport: transport,
		limiter:   limiter,
		auditor:   auditor,
		logger:    logger,
		tenant:    tenant,
	}, nil
}

// FetchAllQueries retrieves all query-level rows for the given dates,
// delivering each date's full result through onComplete the moment its
// last page arrives.
//
// The frontier is seeded incrementally: dates enter at startRow 0 only
// as batch capacity frees up, and a follow-up entry for (date,
// startRow+pageSize) is created only when the page at startRow came
// back full. No request is ever speculative.
func (s *Scheduler) FetchAllQueries(ctx context.Context, site string, dates []string, onComplete CompleteFunc) (Result, error) {
	f := newFrontier()
	accumulators := make(map[string]*accumulator)
	result := Result{
		Days: make(map[string]DaySummary, len(dates)),
	}

	unseeded := make([]string, len(dates))
	copy(unseeded, dates)

	for f.len() > 0 || (len(unseeded) > 0 && !result.Halted) {
		// Step 1: top the frontier up to one batch worth of entries.
		// A halt stops seeding; dates already in flight run to
		// completion.
		for !result.Halted && f.len() < s.config.BatchSize && len(unseeded) > 0 {
			date := unseeded[0]
			unseeded = unseeded[1:]
			f.push(FrontierEntry{Date: date, StartRow: 0})
			accumulators[date] = &accumulator{}
		}

		if f.len() == 0 {
			break
		}

		// Step 2: dispatch one batch.
		entries := f.popN(s.config.BatchSize)
		responses, err := s.dispatch(ctx, site, entries)
		if err != nil {
			return result, err
		}
		result.TotalBatchCalls++

		// Step 3: classify every sub-response.
		byID := make(map[string]FrontierEntry, len(entries))
		for _, entry := range entries {
			byID[entry.key()] = entry
		}

		for _, resp := range responses {
			entry, ok := byID[resp.ID]
			if !ok {
				s.logger.Warn("response for unknown sub-request", "id", resp.ID)
				continue
			}

			result.TotalAPICalls++
			metrics.APICallsTotal.WithLabelValues(site).Inc()
			if resp.Err == nil && len(resp.Rows) == 0 {
				metrics.EmptyPagesTotal.WithLabelValues(site).Inc()
			}
			s.recordAudit(site, entry, resp)

			acc := accumulators[entry.Date]
			if acc == nil {
				// Date already finalized (e.g. an earlier error); a
				// stray duplicate response must not resurrect it.
				continue
			}
			acc.apiCalls++

			if resp.Err != nil {
				// The error belongs to this date alone; sibling dates
				// in the same batch are untouched.
				delete(accumulators, entry.Date)
				result.Days[entry.Date] = DaySummary{APICalls: acc.apiCalls, Err: resp.Err}

				signal := s.complete(onComplete, DayResult{
					Date:     entry.Date,
					APICalls: acc.apiCalls,
					Err:      resp.Err,
				})
				s.applyHalt(&result, signal)
				continue
			}

			acc.append(resp.Rows)

			if len(resp.Rows) == s.config.PageSize {
				// Full page: evidence that another page may exist.
				// A date with an exact multiple of pageSize rows costs
				// one extra confirm-empty call here; that is bounded to
				// O(1) per date and cannot be avoided without a total
				// count from the API.
				f.push(FrontierEntry{Date: entry.Date, StartRow: entry.StartRow + s.config.PageSize})
				continue
			}

			// Short page: the date is complete. Flush and drop the
			// accumulator immediately so memory stays bounded.
			rows := acc.flush()
			delete(accumulators, entry.Date)
			result.Days[entry.Date] = DaySummary{Rows: len(rows), APICalls: acc.apiCalls}

			signal := s.complete(onComplete, DayResult{
				Date:     entry.Date,
				Rows:     rows,
				APICalls: acc.apiCalls,
			})
			s.applyHalt(&result, signal)
		}
	}

	return result, nil
}

// dispatch gates one batch on the rate limiter and sends it.
func (s *Scheduler) dispatch(ctx context.Context, site string, entries []FrontierEntry) ([]gsc.SubResponse, error) {
	for {
		allowed, err := s.limiter.Check(ctx, s.tenant)
		if err != nil {
			// A broken limiter backend must not stall the sync; log
			// and proceed.
			s.logger.Warn("rate limiter check failed", "tenant", s.tenant, "error", err)
			break
		}
		if allowed {
			break
		}

		metrics.RateLimitDeniedTotal.WithLabelValues(s.tenant).Inc()
		s.logger.Debug("rate limited, backing off",
			"tenant", s.tenant,
			"backoff", s.config.RateLimitBackoff)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.config.RateLimitBackoff):
		}
	}

	subs := make([]gsc.SubRequest, len(entries))
	for i, entry := range entries {
		subs[i] = gsc.SubRequest{
			ID:         entry.key(),
			Site:       site,
			Date:       entry.Date,
			StartRow:   entry.StartRow,
			Dimensions: []string{gsc.DimensionQuery},
		}
	}

	start := time.Now()
	responses, err := s.transport.Send(ctx, subs)
	metrics.BatchDuration.Observe(time.Since(start).Seconds())
	metrics.BatchCallsTotal.Inc()
	return responses, err
}

// complete invokes the callback, converting a panic inside it into a
// typed halt so the coordinator loop and the batch's other dates
// survive.
func (s *Scheduler) complete(onComplete CompleteFunc, dayResult DayResult) (signal Signal) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("completion callback panicked",
				"date", dayResult.Date,
				"panic", r)
			signal = Halt(fmt.Sprintf("callback_crash: %v", r))
		}
	}()

	return onComplete(dayResult)
}

// applyHalt records a halt signal. The first reason wins: a halt
// already in effect is never overwritten by later signals or errors.
func (s *Scheduler) applyHalt(result *Result, signal Signal) {
	if !signal.Halt || result.Halted {
		return
	}
	result.Halted = true
	result.HaltReason = signal.Reason
	s.logger.Info("halt requested, no further dates will be seeded",
		"reason", signal.Reason)
}

// recordAudit emits the per-sub-response telemetry event.
func (s *Scheduler) recordAudit(site string, entry FrontierEntry, resp gsc.SubResponse) {
	if s.auditor == nil {
		return
	}

	err := s.auditor.Record(audit.Event{
		Batch:        true,
		Site:         site,
		Date:         entry.Date,
		StartRow:     entry.StartRow,
		RowsReturned: len(resp.Rows),
		AttemptCount: resp.Attempts,
		At:           time.Now(),
	})
	if err != nil {
		s.logger.Warn("failed to record audit event", "date", entry.Date, "error", err)
	}
}
