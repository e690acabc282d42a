package testutil

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/0xFlo/prism-sub006/internal/db"
	"github.com/0xFlo/prism-sub006/internal/gsc"
)

// TestLogger captures log output for assertions while keeping the
// slog API.
type TestLogger struct {
	buf    bytes.Buffer
	logger *slog.Logger
}

func NewTestLogger() *TestLogger {
	l := &TestLogger{}
	l.logger = slog.New(slog.NewTextHandler(&l.buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	return l
}

func (l *TestLogger) Logger() *slog.Logger {
	return l.logger
}

func (l *TestLogger) Output() string {
	return l.buf.String()
}

// FakeTransport is a scripted batch transport. Each date is given a
// total row volume; responses slice that volume into pages exactly the
// way the upstream API would, so the scheduler's evidence-gating can be
// tested against known page boundaries.
type FakeTransport struct {
	mu       sync.Mutex
	pageSize int
	volumes  map[string]int
	errors   map[string]error

	// Batches records every Send call's sub-requests, in order.
	Batches [][]gsc.SubRequest
}

func NewFakeTransport(pageSize int) *FakeTransport {
	return &FakeTransport{
		pageSize: pageSize,
		volumes:  make(map[string]int),
		errors:   make(map[string]error),
	}
}

// SetVolume scripts the total number of rows a date holds.
func (t *FakeTransport) SetVolume(date string, rows int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volumes[date] = rows
}

// FailAt scripts a terminal error for one (date, startRow) sub-request.
func (t *FakeTransport) FailAt(date string, startRow int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors[gsc.SubID(date, startRow)] = err
}

// Send implements scheduler.Transport.
func (t *FakeTransport) Send(_ context.Context, subs []gsc.SubRequest) ([]gsc.SubResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	recorded := make([]gsc.SubRequest, len(subs))
	copy(recorded, subs)
	t.Batches = append(t.Batches, recorded)

	responses := make([]gsc.SubResponse, len(subs))
	for i, sub := range subs {
		if err, ok := t.errors[sub.ID]; ok {
			responses[i] = gsc.SubResponse{ID: sub.ID, StatusCode: 400, Err: err, Attempts: 1}
			continue
		}

		volume := t.volumes[sub.Date]
		remaining := volume - sub.StartRow
		if remaining < 0 {
			remaining = 0
		}
		if remaining > t.pageSize {
			remaining = t.pageSize
		}

		responses[i] = gsc.SubResponse{
			ID:         sub.ID,
			StatusCode: 200,
			Rows:       MakeRows(sub.Date, sub.StartRow, remaining),
			Attempts:   1,
		}
	}

	return responses, nil
}

// TotalSubRequests returns the number of sub-requests dispatched so far.
func (t *FakeTransport) TotalSubRequests() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for _, batch := range t.Batches {
		total += len(batch)
	}
	return total
}

// SubRequestsFor returns the dispatched (date, startRow) pairs for one
// date, in dispatch order.
func (t *FakeTransport) SubRequestsFor(date string) []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var startRows []int
	for _, batch := range t.Batches {
		for _, sub := range batch {
			if sub.Date == date {
				startRows = append(startRows, sub.StartRow)
			}
		}
	}
	return startRows
}

// MakeRows generates n distinct rows for a date starting at startRow.
func MakeRows(date string, startRow, n int) []gsc.Row {
	rows := make([]gsc.Row, n)
	for i := range rows {
		rows[i] = gsc.Row{
			Keys:        []string{fmt.Sprintf("query %s %d", date, startRow+i)},
			Clicks:      1,
			Impressions: 10,
			CTR:         0.1,
			Position:    3.5,
		}
	}
	return rows
}

// MockStore is an in-memory pipeline.Store recording every mutation.
type MockStore struct {
	mu sync.Mutex

	// Statuses maps date → current sync status
	Statuses map[string]string

	// RowCounts maps date → persisted row count (replaced, not added)
	RowCounts map[string]int

	// RowWrites maps date → number of ReplaceDayRows calls
	RowWrites map[string]int

	// Released records MarkDayComplete/MarkDayFailed order
	Released []string

	// Pages maps date → discovered page URLs
	Pages map[string][]string

	// Errors maps date → recorded failure message
	Errors map[string]string

	// ReplaceRowsErr, when set, fails every ReplaceDayRows call
	ReplaceRowsErr error
}

func NewMockStore() *MockStore {
	return &MockStore{
		Statuses:  make(map[string]string),
		RowCounts: make(map[string]int),
		RowWrites: make(map[string]int),
		Pages:     make(map[string][]string),
		Errors:    make(map[string]string),
	}
}

func (m *MockStore) MarkDayInProgress(account, site, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses[date] = db.SyncInProgress
	return nil
}

func (m *MockStore) MarkDayPending(account, site, date string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses[date] = db.SyncPending
	return nil
}

func (m *MockStore) MarkDayComplete(account, site, date string, rows, apiCalls int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses[date] = db.SyncComplete
	m.Released = append(m.Released, date)
	return nil
}

func (m *MockStore) MarkDayFailed(account, site, date, errMsg string, apiCalls int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses[date] = db.SyncFailed
	m.Errors[date] = errMsg
	m.Released = append(m.Released, date)
	return nil
}

func (m *MockStore) ReplaceDayRows(site, date, dimension string, rows []db.SearchRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ReplaceRowsErr != nil {
		return m.ReplaceRowsErr
	}

	m.RowCounts[date] = len(rows)
	m.RowWrites[date]++
	return nil
}

func (m *MockStore) ReplaceDiscoveredPages(site, date string, urls []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pages[date] = urls
	return nil
}
