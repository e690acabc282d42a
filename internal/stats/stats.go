// Package stats computes read-side summaries of sync coverage and API
// quota spend from the persisted sync_days records. It never mutates
// state; the CLI's -stats flag and dashboards are its only consumers.
package stats

import (
	"github.com/0xFlo/prism-sub006/internal/db"
)

// Querier is the read surface stats needs. Implemented by *db.DB.
type Querier interface {
	GetSyncDays(account, site string) ([]db.SyncDay, error)
}

// SiteSummary aggregates sync state for one site.
type SiteSummary struct {
	Account string
	Site    string

	DaysComplete   int
	DaysFailed     int
	DaysPending    int
	DaysInProgress int

	TotalRows     int
	TotalAPICalls int

	// Oldest and newest date with any sync record
	FirstDate string
	LastDate  string

	// Longest run of completed days with zero rows, scanning newest
	// first. A long streak at the tail usually marks where the
	// property's history ends.
	LongestEmptyStreak int
}

// DayStat is one day's sync record, trimmed for reporting.
type DayStat struct {
	Date     string
	Status   string
	Rows     int
	APICalls int
	Error    string
}

// Collect builds the site summary and the per-day breakdown, newest
// first.
func Collect(q Querier, account, site string) (SiteSummary, []DayStat, error) {
	days, err := q.GetSyncDays(account, site)
	if err != nil {
		return SiteSummary{}, nil, err
	}

	summary := SiteSummary{Account: account, Site: site}
	dayStats := make([]DayStat, 0, len(days))

	emptyStreak := 0
	for _, day := range days {
		switch day.Status {
		case db.SyncComplete:
			summary.DaysComplete++
		case db.SyncFailed:
			summary.DaysFailed++
		case db.SyncInProgress:
			summary.DaysInProgress++
		default:
			summary.DaysPending++
		}

		summary.TotalRows += day.Rows
		summary.TotalAPICalls += day.APICalls

		// Days arrive newest first, so the last seen is the oldest.
		if summary.LastDate == "" {
			summary.LastDate = day.Date
		}
		summary.FirstDate = day.Date

		if day.Status == db.SyncComplete && day.Rows == 0 {
			emptyStreak++
			if emptyStreak > summary.LongestEmptyStreak {
				summary.LongestEmptyStreak = emptyStreak
			}
		} else {
			emptyStreak = 0
		}

		stat := DayStat{
			Date:     day.Date,
			Status:   day.Status,
			Rows:     day.Rows,
			APICalls: day.APICalls,
		}
		if day.Error != nil {
			stat.Error = *day.Error
		}
		dayStats = append(dayStats, stat)
	}

	return summary, dayStats, nil
}
