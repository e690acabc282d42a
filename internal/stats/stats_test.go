package stats

import (
	"errors"
	"testing"

	"github.com/0xFlo/prism-sub006/internal/db"
)

// fakeQuerier returns scripted sync day records, newest first.
type fakeQuerier struct {
	days []db.SyncDay
	err  error
}

func (f *fakeQuerier) GetSyncDays(account, site string) ([]db.SyncDay, error) {
	return f.days, f.err
}

func strPtr(s string) *string { return &s }

func syncDay(date, status string, rows, apiCalls int) db.SyncDay {
	return db.SyncDay{
		Account:  "acct-1",
		Site:     "https://example.com/",
		Date:     date,
		Status:   status,
		Rows:     rows,
		APICalls: apiCalls,
	}
}

// =============================================================================
// Collection Tests
// =============================================================================

func TestCollect_Summarizes(t *testing.T) {
	failed := syncDay("2026-08-03", db.SyncFailed, 0, 2)
	failed.Error = strPtr("quota exceeded")

	q := &fakeQuerier{days: []db.SyncDay{
		syncDay("2026-08-05", db.SyncComplete, 120, 1),
		syncDay("2026-08-04", db.SyncComplete, 80, 2),
		failed,
		syncDay("2026-08-02", db.SyncPending, 0, 0),
		syncDay("2026-08-01", db.SyncInProgress, 0, 1),
	}}

	summary, days, err := Collect(q, "acct-1", "https://example.com/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.DaysComplete != 2 || summary.DaysFailed != 1 ||
		summary.DaysPending != 1 || summary.DaysInProgress != 1 {
		t.Errorf("unexpected status counts %+v", summary)
	}
	if summary.TotalRows != 200 {
		t.Errorf("expected 200 total rows, got %d", summary.TotalRows)
	}
	if summary.TotalAPICalls != 6 {
		t.Errorf("expected 6 total api calls, got %d", summary.TotalAPICalls)
	}
	if summary.LastDate != "2026-08-05" || summary.FirstDate != "2026-08-01" {
		t.Errorf("unexpected date range %s..%s", summary.FirstDate, summary.LastDate)
	}

	if len(days) != 5 {
		t.Fatalf("expected 5 day stats, got %d", len(days))
	}
	if days[0].Date != "2026-08-05" {
		t.Errorf("expected newest first, got %s", days[0].Date)
	}
	if days[2].Error != "quota exceeded" {
		t.Errorf("expected failure message carried over, got %q", days[2].Error)
	}
}

func TestCollect_LongestEmptyStreak(t *testing.T) {
	q := &fakeQuerier{days: []db.SyncDay{
		syncDay("2026-08-07", db.SyncComplete, 50, 1),
		syncDay("2026-08-06", db.SyncComplete, 0, 1),
		syncDay("2026-08-05", db.SyncComplete, 0, 1),
		syncDay("2026-08-04", db.SyncComplete, 0, 1),
		syncDay("2026-08-03", db.SyncComplete, 10, 1),
		syncDay("2026-08-02", db.SyncComplete, 0, 1),
		syncDay("2026-08-01", db.SyncComplete, 0, 1),
	}}

	summary, _, err := Collect(q, "acct-1", "https://example.com/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.LongestEmptyStreak != 3 {
		t.Errorf("expected streak of 3, got %d", summary.LongestEmptyStreak)
	}
}

// TestCollect_EmptyStreakIgnoresFailedDays verifies that only completed
// zero-row days count toward the streak; a failed day breaks it.
func TestCollect_EmptyStreakIgnoresFailedDays(t *testing.T) {
	q := &fakeQuerier{days: []db.SyncDay{
		syncDay("2026-08-04", db.SyncComplete, 0, 1),
		syncDay("2026-08-03", db.SyncFailed, 0, 1),
		syncDay("2026-08-02", db.SyncComplete, 0, 1),
		syncDay("2026-08-01", db.SyncComplete, 0, 1),
	}}

	summary, _, err := Collect(q, "acct-1", "https://example.com/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.LongestEmptyStreak != 2 {
		t.Errorf("expected streak of 2, got %d", summary.LongestEmptyStreak)
	}
}

func TestCollect_NoDays(t *testing.T) {
	summary, days, err := Collect(&fakeQuerier{}, "acct-1", "https://example.com/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.DaysComplete != 0 || summary.FirstDate != "" || summary.LastDate != "" {
		t.Errorf("unexpected summary for empty history %+v", summary)
	}
	if len(days) != 0 {
		t.Errorf("expected no day stats, got %d", len(days))
	}
}

func TestCollect_PropagatesQueryError(t *testing.T) {
	q := &fakeQuerier{err: errors.New("db closed")}
	if _, _, err := Collect(q, "acct-1", "https://example.com/"); err == nil {
		t.Error("expected error propagated")
	}
}
