package db

import (
	"fmt"
	"time"
)

// migration is one versioned schema change. Migrations are embedded in
// the binary and applied in order inside transactions.
type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create sync_days",
		SQL: `
			CREATE TABLE IF NOT EXISTS sync_days (
				account      TEXT NOT NULL,
				site         TEXT NOT NULL,
				date         TEXT NOT NULL,
				status       TEXT NOT NULL DEFAULT 'pending',
				rows         INTEGER NOT NULL DEFAULT 0,
				api_calls    INTEGER NOT NULL DEFAULT 0,
				error        TEXT,
				started_at   TIMESTAMP,
				completed_at TIMESTAMP,
				PRIMARY KEY (account, site, date)
			);
		`,
	},
	{
		Version: 2,
		Name:    "create search_rows",
		SQL: `
			CREATE TABLE IF NOT EXISTS search_rows (
				site        TEXT NOT NULL,
				date        TEXT NOT NULL,
				dimension   TEXT NOT NULL,
				key         TEXT NOT NULL,
				clicks      REAL NOT NULL DEFAULT 0,
				impressions REAL NOT NULL DEFAULT 0,
				ctr         REAL NOT NULL DEFAULT 0,
				position    REAL NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_search_rows_site_date
				ON search_rows (site, date, dimension);
		`,
	},
	{
		Version: 3,
		Name:    "create discovered_pages",
		SQL: `
			CREATE TABLE IF NOT EXISTS discovered_pages (
				site TEXT NOT NULL,
				date TEXT NOT NULL,
				url  TEXT NOT NULL,
				PRIMARY KEY (site, date, url)
			);
		`,
	},
	{
		Version: 4,
		Name:    "create audit_events",
		SQL: `
			CREATE TABLE IF NOT EXISTS audit_events (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				batch         INTEGER NOT NULL DEFAULT 1,
				site          TEXT NOT NULL,
				date          TEXT NOT NULL,
				start_row     INTEGER NOT NULL,
				rows_returned INTEGER NOT NULL,
				attempt_count INTEGER NOT NULL,
				created_at    TIMESTAMP NOT NULL
			);
		`,
	},
}

// RunMigrations applies all pending migrations in version order.
func (db *DB) RunMigrations() error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	current, err := db.CurrentVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		err := db.WithTx(func(tx *Tx) error {
			if _, err := tx.Exec(m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(
				"INSERT INTO schema_version (version, name, applied_at) VALUES (?, ?, ?)",
				m.Version, m.Name, time.Now())
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %d (%s): %w", m.Version, m.Name, err)
		}
	}

	return nil
}

// CurrentVersion returns the highest applied migration version.
func (db *DB) CurrentVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}
