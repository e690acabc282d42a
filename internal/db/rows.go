package db

import (
	"time"

	"github.com/0xFlo/prism-sub006/internal/audit"
)

// =============================================================================
// Search Row Operations
// =============================================================================

// ReplaceDayRows replaces all persisted rows for one (site, date,
// dimension) inside a single transaction. Delete-then-insert makes
// delivery idempotent: the pipeline guarantees at-least-once per-date
// delivery, so a redelivered day overwrites rather than appends.
func (db *DB) ReplaceDayRows(site, date, dimension string, rows []SearchRow) error {
	return db.WithTx(func(tx *Tx) error {
		_, err := tx.Exec(
			"DELETE FROM search_rows WHERE site = ? AND date = ? AND dimension = ?",
			site, date, dimension)
		if err != nil {
			return err
		}

		stmt, err := tx.Prepare(`
			INSERT INTO search_rows (site, date, dimension, key, clicks, impressions, ctr, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, row := range rows {
			_, err := stmt.Exec(site, date, dimension, row.Key,
				row.Clicks, row.Impressions, row.CTR, row.Position)
			if err != nil {
				return err
			}
		}

		return nil
	})
}

// CountDayRows returns the number of persisted rows for one day.
func (db *DB) CountDayRows(site, date, dimension string) (int, error) {
	var count int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM search_rows WHERE site = ? AND date = ? AND dimension = ?",
		site, date, dimension).Scan(&count)
	return count, err
}

// ReplaceDiscoveredPages replaces the page universe for one day.
func (db *DB) ReplaceDiscoveredPages(site, date string, urls []string) error {
	return db.WithTx(func(tx *Tx) error {
		_, err := tx.Exec(
			"DELETE FROM discovered_pages WHERE site = ? AND date = ?", site, date)
		if err != nil {
			return err
		}

		stmt, err := tx.Prepare(
			"INSERT OR IGNORE INTO discovered_pages (site, date, url) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, u := range urls {
			if _, err := stmt.Exec(site, date, u); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// Audit Event Operations
// =============================================================================

// InsertAuditEvents writes a batch of audit events in one transaction.
// Implements audit.Store.
func (db *DB) InsertAuditEvents(events []audit.Event) error {
	return db.WithTx(func(tx *Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO audit_events (batch, site, date, start_row, rows_returned, attempt_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range events {
			at := e.At
			if at.IsZero() {
				at = time.Now()
			}
			_, err := stmt.Exec(e.Batch, e.Site, e.Date, e.StartRow,
				e.RowsReturned, e.AttemptCount, at)
			if err != nil {
				return err
			}
		}
		return nil
	})
}
