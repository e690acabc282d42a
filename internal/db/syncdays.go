package db

import (
	"database/sql"
	"time"
)

// =============================================================================
// Sync Day Operations
// =============================================================================

// MarkDayInProgress transitions a day to in_progress, creating the
// record if this is the first sync of that day. A re-sync of a terminal
// day clears its previous error and outcome.
func (db *DB) MarkDayInProgress(account, site, date string) error {
	now := time.Now()

	query := `
		INSERT INTO sync_days (account, site, date, status, rows, api_calls, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, 0, 0, NULL, ?, NULL)
		ON CONFLICT (account, site, date) DO UPDATE SET
			status = excluded.status,
			rows = 0,
			api_calls = 0,
			error = NULL,
			started_at = excluded.started_at,
			completed_at = NULL
	`

	_, err := db.Exec(query, account, site, date, SyncInProgress, now)
	return translateError(err)
}

// MarkDayPending reverts a day that never got seeded (e.g. after a
// halt) back to pending so a later run picks it up.
func (db *DB) MarkDayPending(account, site, date string) error {
	query := `
		UPDATE sync_days
		SET status = ?, started_at = NULL, completed_at = NULL
		WHERE account = ? AND site = ? AND date = ?
	`

	_, err := db.Exec(query, SyncPending, account, site, date)
	return translateError(err)
}

// MarkDayComplete transitions a day to its terminal complete state.
func (db *DB) MarkDayComplete(account, site, date string, rows, apiCalls int) error {
	query := `
		UPDATE sync_days
		SET status = ?, rows = ?, api_calls = ?, error = NULL, completed_at = ?
		WHERE account = ? AND site = ? AND date = ?
	`

	_, err := db.Exec(query, SyncComplete, rows, apiCalls, time.Now(), account, site, date)
	return translateError(err)
}

// MarkDayFailed transitions a day to its terminal failed state with an
// error summary.
func (db *DB) MarkDayFailed(account, site, date, errMsg string, apiCalls int) error {
	query := `
		UPDATE sync_days
		SET status = ?, api_calls = ?, error = ?, completed_at = ?
		WHERE account = ? AND site = ? AND date = ?
	`

	_, err := db.Exec(query, SyncFailed, apiCalls, errMsg, time.Now(), account, site, date)
	return translateError(err)
}

// GetSyncDay retrieves the status record for one day.
func (db *DB) GetSyncDay(account, site, date string) (*SyncDay, error) {
	day := &SyncDay{}

	query := `
		SELECT account, site, date, status, rows, api_calls, error, started_at, completed_at
		FROM sync_days
		WHERE account = ? AND site = ? AND date = ?
	`

	err := db.QueryRow(query, account, site, date).Scan(
		&day.Account,
		&day.Site,
		&day.Date,
		&day.Status,
		&day.Rows,
		&day.APICalls,
		&day.Error,
		&day.StartedAt,
		&day.CompletedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return day, nil
}

// GetSyncDays retrieves all day records for a site, newest first.
func (db *DB) GetSyncDays(account, site string) ([]SyncDay, error) {
	query := `
		SELECT account, site, date, status, rows, api_calls, error, started_at, completed_at
		FROM sync_days
		WHERE account = ? AND site = ?
		ORDER BY date DESC
	`

	rows, err := db.Query(query, account, site)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []SyncDay
	for rows.Next() {
		var day SyncDay
		err := rows.Scan(
			&day.Account,
			&day.Site,
			&day.Date,
			&day.Status,
			&day.Rows,
			&day.APICalls,
			&day.Error,
			&day.StartedAt,
			&day.CompletedAt,
		)
		if err != nil {
			return nil, err
		}
		days = append(days, day)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	// Return empty slice instead of nil
	if days == nil {
		days = []SyncDay{}
	}

	return days, nil
}
