package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/0xFlo/prism-sub006/internal/gsc"
	"github.com/0xFlo/prism-sub006/internal/ratelimit"
	"github.com/0xFlo/prism-sub006/internal/testutil"
)

const testSite = "https://example.com/"

// newTestScheduler builds a scheduler over a fake transport with a
// small page size so page boundaries are cheap to script.
func newTestScheduler(t *testing.T, transport Transport, pageSize, batchSize int) *Scheduler {
	t.Helper()

	config := Config{
		BatchSize:        batchSize,
		PageSize:         pageSize,
		MaxAttempts:      3,
		BaseDelay:        time.Millisecond,
		RateLimitBackoff: time.Millisecond,
	}

	s, err := New(config, transport, ratelimit.NewMemory(1000000, time.Minute), nil,
		"tenant-a", testutil.NewTestLogger().Logger())
	if err != nil {
		t.Fatalf("unexpected error creating scheduler: %v", err)
	}
	return s
}

func keepGoing(DayResult) Signal {
	return Continue()
}

// =============================================================================
// Pagination Cascade Tests
// =============================================================================

// TestFetchAllQueries_SingleShortPage verifies that a date fitting in
// one page costs exactly one API call.
func TestFetchAllQueries_SingleShortPage(t *testing.T) {
	transport := testutil.NewFakeTransport(100)
	transport.SetVolume("2026-08-01", 40)

	s := newTestScheduler(t, transport, 100, 4)

	result, err := s.FetchAllQueries(context.Background(), testSite, []string{"2026-08-01"}, keepGoing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	day := result.Days["2026-08-01"]
	if day.Rows != 40 {
		t.Errorf("expected 40 rows, got %d", day.Rows)
	}
	if day.APICalls != 1 {
		t.Errorf("expected 1 api call, got %d", day.APICalls)
	}
	if result.TotalBatchCalls != 1 {
		t.Errorf("expected 1 batch call, got %d", result.TotalBatchCalls)
	}
}

// TestFetchAllQueries_ExactMultiple verifies the accepted edge case: a
// date holding exactly pageSize rows costs two calls, the second
// confirming the empty follow-up page.
func TestFetchAllQueries_ExactMultiple(t *testing.T) {
	transport := testutil.NewFakeTransport(100)
	transport.SetVolume("2026-08-01", 100)

	s := newTestScheduler(t, transport, 100, 4)

	result, err := s.FetchAllQueries(context.Background(), testSite, []string{"2026-08-01"}, keepGoing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	day := result.Days["2026-08-01"]
	if day.Rows != 100 {
		t.Errorf("expected 100 rows, got %d", day.Rows)
	}
	if day.APICalls != 2 {
		t.Errorf("expected 2 api calls (full page + confirm empty), got %d", day.APICalls)
	}

	startRows := transport.SubRequestsFor("2026-08-01")
	if len(startRows) != 2 || startRows[0] != 0 || startRows[1] != 100 {
		t.Errorf("expected start rows [0 100], got %v", startRows)
	}
}

// TestFetchAllQueries_NoSpeculativeRequests verifies the core
// invariant: every dispatched (date, startRow) is either the seed at
// row zero or follows a page that came back completely full.
func TestFetchAllQueries_NoSpeculativeRequests(t *testing.T) {
	const pageSize = 50

	transport := testutil.NewFakeTransport(pageSize)
	volumes := map[string]int{
		"2026-08-01": 120, // 3 pages
		"2026-08-02": 50,  // exact multiple: full + confirm
		"2026-08-03": 0,   // one empty page
		"2026-08-04": 49,  // one short page
	}
	dates := []string{"2026-08-01", "2026-08-02", "2026-08-03", "2026-08-04"}
	for date, volume := range volumes {
		transport.SetVolume(date, volume)
	}

	s := newTestScheduler(t, transport, pageSize, 3)

	if _, err := s.FetchAllQueries(context.Background(), testSite, dates, keepGoing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, date := range dates {
		startRows := transport.SubRequestsFor(date)
		for i, startRow := range startRows {
			if startRow == 0 {
				continue
			}

			// The previous page for this date must have been full.
			if i == 0 || startRows[i-1] != startRow-pageSize {
				t.Fatalf("date %s: start row %d dispatched without predecessor (saw %v)",
					date, startRow, startRows)
			}

			previousRows := volumes[date] - (startRow - pageSize)
			if previousRows < pageSize {
				t.Errorf("date %s: start row %d dispatched speculatively, previous page had %d rows",
					date, startRow, previousRows)
			}
		}
	}
}

// TestFetchAllQueries_ScenarioVolumes runs the reference scenario:
// five dates with volumes 30000, 50100, 15000, 25000, 8000 at the
// production page size. Expected calls per date: 2, 3, 1, 2, 1 — the
// exact-multiple date (25000) and the boundary dates pay one
// confirm-empty call each.
func TestFetchAllQueries_ScenarioVolumes(t *testing.T) {
	transport := testutil.NewFakeTransport(gsc.PageSize)
	volumes := map[string]int{
		"2026-08-05": 30000,
		"2026-08-04": 50100,
		"2026-08-03": 15000,
		"2026-08-02": 25000,
		"2026-08-01": 8000,
	}
	dates := []string{"2026-08-05", "2026-08-04", "2026-08-03", "2026-08-02", "2026-08-01"}
	for date, volume := range volumes {
		transport.SetVolume(date, volume)
	}

	s := newTestScheduler(t, transport, gsc.PageSize, 4)

	completed := make(map[string]int)
	result, err := s.FetchAllQueries(context.Background(), testSite, dates,
		func(day DayResult) Signal {
			completed[day.Date] = len(day.Rows)
			return Continue()
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedCalls := map[string]int{
		"2026-08-05": 2,
		"2026-08-04": 3,
		"2026-08-03": 1,
		"2026-08-02": 2,
		"2026-08-01": 1,
	}

	totalCalls := 0
	for date, expected := range expectedCalls {
		day := result.Days[date]
		if day.APICalls != expected {
			t.Errorf("date %s: expected %d api calls, got %d", date, expected, day.APICalls)
		}
		if day.Rows != volumes[date] {
			t.Errorf("date %s: expected %d rows, got %d", date, volumes[date], day.Rows)
		}
		if completed[date] != volumes[date] {
			t.Errorf("date %s: callback received %d rows, expected %d", date, completed[date], volumes[date])
		}
		totalCalls += expected
	}

	if result.TotalAPICalls != totalCalls {
		t.Errorf("expected %d total api calls, got %d", totalCalls, result.TotalAPICalls)
	}
	if result.TotalAPICalls != transport.TotalSubRequests() {
		t.Errorf("scheduler counted %d calls, transport saw %d",
			result.TotalAPICalls, transport.TotalSubRequests())
	}
}

// =============================================================================
// Failure Isolation Tests
// =============================================================================

// TestFetchAllQueries_PerDateIsolation verifies that one date's error
// neither blocks nor corrupts its siblings in the same batch.
func TestFetchAllQueries_PerDateIsolation(t *testing.T) {
	transport := testutil.NewFakeTransport(100)
	transport.SetVolume("2026-08-01", 250)
	transport.SetVolume("2026-08-02", 40)
	transport.SetVolume("2026-08-03", 70)
	transport.FailAt("2026-08-02", 0, &gsc.APIError{StatusCode: 403, Message: "forbidden"})

	s := newTestScheduler(t, transport, 100, 4)

	outcomes := make(map[string]DayResult)
	result, err := s.FetchAllQueries(context.Background(), testSite,
		[]string{"2026-08-01", "2026-08-02", "2026-08-03"},
		func(day DayResult) Signal {
			outcomes[day.Date] = day
			return Continue()
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The failing date is reported, not dropped.
	failed, ok := outcomes["2026-08-02"]
	if !ok {
		t.Fatal("expected failing date to be reported via callback")
	}
	if failed.Err == nil {
		t.Error("expected error marker on failing date")
	}

	var apiErr *gsc.APIError
	if !errors.As(result.Days["2026-08-02"].Err, &apiErr) || apiErr.StatusCode != 403 {
		t.Errorf("expected 403 APIError recorded, got %v", result.Days["2026-08-02"].Err)
	}

	// Siblings completed with correct row counts.
	if len(outcomes["2026-08-01"].Rows) != 250 {
		t.Errorf("expected 250 rows for 2026-08-01, got %d", len(outcomes["2026-08-01"].Rows))
	}
	if len(outcomes["2026-08-03"].Rows) != 70 {
		t.Errorf("expected 70 rows for 2026-08-03, got %d", len(outcomes["2026-08-03"].Rows))
	}
	if result.Halted {
		t.Error("per-date error must not halt the run")
	}
}

// =============================================================================
// Halt Tests
// =============================================================================

// TestFetchAllQueries_HaltStopsSeeding verifies that a halt suppresses
// dates that have not entered the frontier while in-flight dates finish.
func TestFetchAllQueries_HaltStopsSeeding(t *testing.T) {
	transport := testutil.NewFakeTransport(100)
	dates := []string{"2026-08-05", "2026-08-04", "2026-08-03", "2026-08-02", "2026-08-01"}
	for _, date := range dates {
		transport.SetVolume(date, 250) // 3 pages each
	}

	// Batch size 2: only two dates are in flight when the first
	// completes and halts.
	s := newTestScheduler(t, transport, 100, 2)

	result, err := s.FetchAllQueries(context.Background(), testSite, dates,
		func(day DayResult) Signal {
			return Halt("stop requested")
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Halted {
		t.Fatal("expected halted result")
	}
	if result.HaltReason != "stop requested" {
		t.Errorf("expected halt reason preserved, got %q", result.HaltReason)
	}

	// The two seeded dates finished completely despite the halt.
	for _, date := range dates[:2] {
		if result.Days[date].Rows != 250 {
			t.Errorf("in-flight date %s should finish, got %d rows", date, result.Days[date].Rows)
		}
	}

	// The remaining dates never saw a single sub-request.
	for _, date := range dates[2:] {
		if calls := transport.SubRequestsFor(date); len(calls) != 0 {
			t.Errorf("unseeded date %s was dispatched: %v", date, calls)
		}
		if _, done := result.Days[date]; done {
			t.Errorf("unseeded date %s should not appear in results", date)
		}
	}
}

// TestFetchAllQueries_HaltReasonNotOverwritten verifies that a per-date
// error after a halt does not replace the original halt reason.
func TestFetchAllQueries_HaltReasonNotOverwritten(t *testing.T) {
	transport := testutil.NewFakeTransport(100)
	transport.SetVolume("2026-08-03", 10)
	transport.SetVolume("2026-08-02", 250)
	transport.FailAt("2026-08-02", 200, &gsc.APIError{StatusCode: 400, Message: "bad request"})
	transport.SetVolume("2026-08-01", 10)

	s := newTestScheduler(t, transport, 100, 2)

	result, err := s.FetchAllQueries(context.Background(), testSite,
		[]string{"2026-08-03", "2026-08-02", "2026-08-01"},
		func(day DayResult) Signal {
			if day.Date == "2026-08-03" {
				return Halt("original reason")
			}
			if day.Err != nil {
				return Halt("late error reason")
			}
			return Continue()
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.HaltReason != "original reason" {
		t.Errorf("first halt reason must win, got %q", result.HaltReason)
	}

	// The in-flight date still reported its error individually.
	if result.Days["2026-08-02"].Err == nil {
		t.Error("expected error recorded for 2026-08-02")
	}
}

// TestFetchAllQueries_CallbackPanicBecomesHalt verifies that a panic in
// the completion callback is converted to a typed halt instead of
// crashing the coordinator loop.
func TestFetchAllQueries_CallbackPanicBecomesHalt(t *testing.T) {
	transport := testutil.NewFakeTransport(100)
	transport.SetVolume("2026-08-02", 10)
	transport.SetVolume("2026-08-01", 10)

	s := newTestScheduler(t, transport, 100, 1)

	calls := 0
	result, err := s.FetchAllQueries(context.Background(), testSite,
		[]string{"2026-08-02", "2026-08-01"},
		func(day DayResult) Signal {
			calls++
			if calls == 1 {
				panic("downstream exploded")
			}
			return Continue()
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Halted {
		t.Fatal("expected callback panic to halt seeding")
	}
	if result.HaltReason != "callback_crash: downstream exploded" {
		t.Errorf("unexpected halt reason %q", result.HaltReason)
	}
}

// =============================================================================
// Rate Limiter Tests
// =============================================================================

// denyNTimes denies the first n checks, then always allows.
type denyNTimes struct {
	remaining int
	checks    int
}

func (d *denyNTimes) Check(_ context.Context, _ string) (bool, error) {
	d.checks++
	if d.remaining > 0 {
		d.remaining--
		return false, nil
	}
	return true, nil
}

// TestFetchAllQueries_BacksOffOnRateLimitDeny verifies that a denied
// check delays dispatch and is retried, never treated as a failure.
func TestFetchAllQueries_BacksOffOnRateLimitDeny(t *testing.T) {
	transport := testutil.NewFakeTransport(100)
	transport.SetVolume("2026-08-01", 10)

	limiter := &denyNTimes{remaining: 2}

	config := Config{
		BatchSize:        4,
		PageSize:         100,
		MaxAttempts:      3,
		BaseDelay:        time.Millisecond,
		RateLimitBackoff: time.Millisecond,
	}
	s, err := New(config, transport, limiter, nil, "tenant-a", testutil.NewTestLogger().Logger())
	if err != nil {
		t.Fatalf("unexpected error creating scheduler: %v", err)
	}

	result, err := s.FetchAllQueries(context.Background(), testSite, []string{"2026-08-01"}, keepGoing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if limiter.checks != 3 {
		t.Errorf("expected 3 limiter checks (2 denies + 1 allow), got %d", limiter.checks)
	}
	if result.Days["2026-08-01"].Rows != 10 {
		t.Errorf("expected date to complete after backoff, got %+v", result.Days["2026-08-01"])
	}
}

// =============================================================================
// Configuration Tests
// =============================================================================

// TestNew_RejectsInvalidConfig verifies constructor validation.
func TestNew_RejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }},
		{"zero page size", func(c *Config) { c.PageSize = 0 }},
		{"zero attempts", func(c *Config) { c.MaxAttempts = 0 }},
		{"zero base delay", func(c *Config) { c.BaseDelay = 0 }},
		{"zero backoff", func(c *Config) { c.RateLimitBackoff = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := DefaultConfig()
			tc.mutate(&config)

			_, err := New(config, testutil.NewFakeTransport(100),
				ratelimit.NewMemory(10, time.Minute), nil, "tenant-a",
				testutil.NewTestLogger().Logger())
			if err == nil {
				t.Error("expected config validation error")
			}
		})
	}
}

// TestFetchAllQueries_FairProgress verifies oldest-first popping: with
// a batch smaller than the date count, the first batch carries the
// first seeded dates.
func TestFetchAllQueries_FairProgress(t *testing.T) {
	transport := testutil.NewFakeTransport(100)
	dates := make([]string, 6)
	for i := range dates {
		dates[i] = fmt.Sprintf("2026-08-%02d", 6-i)
		transport.SetVolume(dates[i], 10)
	}

	s := newTestScheduler(t, transport, 100, 3)

	if _, err := s.FetchAllQueries(context.Background(), testSite, dates, keepGoing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(transport.Batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(transport.Batches))
	}
	for i, sub := range transport.Batches[0] {
		if sub.Date != dates[i] {
			t.Errorf("batch 0 entry %d: expected %s, got %s", i, dates[i], sub.Date)
		}
	}
}
