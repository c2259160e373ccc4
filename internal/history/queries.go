package history

import (
	"database/sql"
	"fmt"
	"time"
)

// ScanRun queries

// CreateScanRun creates a new scan run record
func (db *DB) CreateScanRun(drive, sessionID string, totalUnits int64, startedAt time.Time) (*ScanRun, error) {
	result, err := db.Exec(`
		INSERT INTO scan_runs (drive, session_id, status, started_at, total_units)
		VALUES (?, ?, ?, ?, ?)`,
		drive, sessionID, "running", startedAt, totalUnits,
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return db.GetScanRun(id)
}

// GetScanRun retrieves a scan run by ID
func (db *DB) GetScanRun(id int64) (*ScanRun, error) {
	row := db.QueryRow(`
		SELECT id, drive, session_id, status, started_at, completed_at,
			total_units, scanned_units, bad_units, error_message
		FROM scan_runs WHERE id = ?`, id)
	return scanScanRun(row)
}

// GetScanRunBySession retrieves a scan run by its session id
func (db *DB) GetScanRunBySession(sessionID string) (*ScanRun, error) {
	row := db.QueryRow(`
		SELECT id, drive, session_id, status, started_at, completed_at,
			total_units, scanned_units, bad_units, error_message
		FROM scan_runs WHERE session_id = ?`, sessionID)
	return scanScanRun(row)
}

// UpdateScanRunProgress updates the counters of a running scan
func (db *DB) UpdateScanRunProgress(sessionID string, scannedUnits, badUnits int64) error {
	_, err := db.Exec(`
		UPDATE scan_runs SET scanned_units = ?, bad_units = ?
		WHERE session_id = ?`,
		scannedUnits, badUnits, sessionID,
	)
	return err
}

// CompleteScanRun marks a scan run terminal
func (db *DB) CompleteScanRun(sessionID, status string, scannedUnits, badUnits int64, errMsg *string) error {
	_, err := db.Exec(`
		UPDATE scan_runs
		SET status = ?, completed_at = ?, scanned_units = ?, bad_units = ?, error_message = ?
		WHERE session_id = ?`,
		status, time.Now(), scannedUnits, badUnits, errMsg, sessionID,
	)
	return err
}

// ListScanRuns returns scan runs with pagination, newest first. Empty
// drive lists all drives.
func (db *DB) ListScanRuns(drive string, limit, offset int) ([]*ScanRun, error) {
	query := `
		SELECT id, drive, session_id, status, started_at, completed_at,
			total_units, scanned_units, bad_units, error_message
		FROM scan_runs`
	args := []any{}
	if drive != "" {
		query += " WHERE drive = ?"
		args = append(args, drive)
	}
	query += " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*ScanRun
	for rows.Next() {
		r, err := scanScanRunRow(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CleanupOldData removes scan runs older than the retention period
func (db *DB) CleanupOldData(retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	if _, err := db.Exec("DELETE FROM scan_runs WHERE started_at < ?", cutoff); err != nil {
		return fmt.Errorf("cleanup scan_runs: %w", err)
	}
	return nil
}

// ScheduledJob queries

// CreateScheduledJob creates a new scheduled job
func (db *DB) CreateScheduledJob(job *ScheduledJob) (*ScheduledJob, error) {
	result, err := db.Exec(`
		INSERT INTO scheduled_jobs (name, drive, cron_expression, enabled, next_run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.Name, job.Drive, job.CronExpression, job.Enabled, job.NextRunAt, time.Now(),
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return db.GetScheduledJob(id)
}

// GetScheduledJob retrieves a scheduled job by ID
func (db *DB) GetScheduledJob(id int64) (*ScheduledJob, error) {
	row := db.QueryRow(`
		SELECT id, name, drive, cron_expression, enabled, last_run_at, next_run_at, created_at
		FROM scheduled_jobs WHERE id = ?`, id)
	return scanScheduledJob(row)
}

// ListScheduledJobs returns all scheduled jobs
func (db *DB) ListScheduledJobs() ([]*ScheduledJob, error) {
	rows, err := db.Query(`
		SELECT id, name, drive, cron_expression, enabled, last_run_at, next_run_at, created_at
		FROM scheduled_jobs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		j, err := scanScheduledJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ListDueJobs returns enabled jobs whose next run is at or before now
func (db *DB) ListDueJobs(now time.Time) ([]*ScheduledJob, error) {
	rows, err := db.Query(`
		SELECT id, name, drive, cron_expression, enabled, last_run_at, next_run_at, created_at
		FROM scheduled_jobs
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		j, err := scanScheduledJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateJobRun records a job execution and its next scheduled run
func (db *DB) UpdateJobRun(id int64, lastRun, nextRun time.Time) error {
	_, err := db.Exec(`
		UPDATE scheduled_jobs SET last_run_at = ?, next_run_at = ? WHERE id = ?`,
		lastRun, nextRun, id,
	)
	return err
}

// DeleteScheduledJob removes a scheduled job
func (db *DB) DeleteScheduledJob(id int64) error {
	_, err := db.Exec("DELETE FROM scheduled_jobs WHERE id = ?", id)
	return err
}

// Row scanning helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScanRun(row *sql.Row) (*ScanRun, error) {
	return scanScanRunFrom(row)
}

func scanScanRunRow(rows *sql.Rows) (*ScanRun, error) {
	return scanScanRunFrom(rows)
}

func scanScanRunFrom(s rowScanner) (*ScanRun, error) {
	var r ScanRun
	var completedAt sql.NullTime
	var errMsg sql.NullString

	err := s.Scan(&r.ID, &r.Drive, &r.SessionID, &r.Status, &r.StartedAt, &completedAt,
		&r.TotalUnits, &r.ScannedUnits, &r.BadUnits, &errMsg)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	if errMsg.Valid {
		r.ErrorMessage = &errMsg.String
	}
	return &r, nil
}

func scanScheduledJob(row *sql.Row) (*ScheduledJob, error) {
	return scanScheduledJobFrom(row)
}

func scanScheduledJobRow(rows *sql.Rows) (*ScheduledJob, error) {
	return scanScheduledJobFrom(rows)
}

func scanScheduledJobFrom(s rowScanner) (*ScheduledJob, error) {
	var j ScheduledJob
	var lastRun, nextRun sql.NullTime

	err := s.Scan(&j.ID, &j.Name, &j.Drive, &j.CronExpression, &j.Enabled,
		&lastRun, &nextRun, &j.CreatedAt)
	if err != nil {
		return nil, err
	}

	if lastRun.Valid {
		j.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		j.NextRunAt = &nextRun.Time
	}
	return &j, nil
}
