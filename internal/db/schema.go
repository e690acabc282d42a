package db

import "time"

// Sync day states. A day moves pending → in_progress → {complete,
// failed}; the terminal states are immutable within one run, and a
// re-sync flips a terminal day back to in_progress.
const (
	SyncPending    = "pending"
	SyncInProgress = "in_progress"
	SyncComplete   = "complete"
	SyncFailed     = "failed"
)

// SyncDay is the persisted status record for one (account, site, date).
type SyncDay struct {
	Account     string
	Site        string
	Date        string // YYYY-MM-DD
	Status      string
	Rows        int
	APICalls    int
	Error       *string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// SearchRow is one persisted search analytics row.
type SearchRow struct {
	Site        string
	Date        string
	Dimension   string // query or page
	Key         string
	Clicks      float64
	Impressions float64
	CTR         float64
	Position    float64
}

// DiscoveredPage records a page URL seen with traffic on a date,
// produced by the pipeline's discovery phase.
type DiscoveredPage struct {
	Site string
	Date string
	URL  string
}
