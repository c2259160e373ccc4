package history

import (
	"fmt"
)

// Migrate runs all database migrations
func (db *DB) Migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration001},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to run migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
	}

	return nil
}

const migration001 = `
-- Surface scan runs (history)
CREATE TABLE scan_runs (
    id INTEGER PRIMARY KEY,
    drive TEXT NOT NULL,
    session_id TEXT UNIQUE NOT NULL,
    status TEXT NOT NULL DEFAULT 'running',
    started_at DATETIME NOT NULL,
    completed_at DATETIME,
    total_units INTEGER DEFAULT 0,
    scanned_units INTEGER DEFAULT 0,
    bad_units INTEGER DEFAULT 0,
    error_message TEXT
);

CREATE INDEX idx_scan_runs_drive ON scan_runs(drive);
CREATE INDEX idx_scan_runs_started_at ON scan_runs(started_at);

-- Scheduled surface scans
CREATE TABLE scheduled_jobs (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    drive TEXT NOT NULL,
    cron_expression TEXT NOT NULL,
    enabled BOOLEAN DEFAULT 1,
    last_run_at DATETIME,
    next_run_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX idx_scheduled_jobs_next_run ON scheduled_jobs(enabled, next_run_at);
`
