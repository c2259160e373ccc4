package history

import (
	"time"
)

// ScanRun represents one recorded surface scan
type ScanRun struct {
	ID           int64      `json:"id"`
	Drive        string     `json:"drive"`
	SessionID    string     `json:"session"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	TotalUnits   int64      `json:"total_units"`
	ScannedUnits int64      `json:"scanned_units"`
	BadUnits     int64      `json:"bad_units"`
	ErrorMessage *string    `json:"error,omitempty"`
}

// ScheduledJob represents a cron job for automatic scans
type ScheduledJob struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Drive          string     `json:"drive"`
	CronExpression string     `json:"cron"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
