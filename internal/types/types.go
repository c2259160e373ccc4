package types

import "time"

// Event type discriminators as they appear on the wire.
const (
	EventTypeProgress = "scan_progress"
	EventTypeComplete = "scan_complete"
)

// Completion outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCancelled = "cancelled"
)

// Event is anything the scan core publishes for a drive.
type Event interface {
	EventDrive() string
}

// ProgressEvent is one published progress tick for a drive's scan.
// Type, Drive, Progress and BadSectors are the wire contract; the
// remaining fields are additive and safe for consumers to ignore.
type ProgressEvent struct {
	Type         string    `json:"type"`
	Drive        string    `json:"drive"`
	Progress     int       `json:"progress"`
	BadSectors   int64     `json:"bad_sectors"`
	ScannedUnits int64     `json:"scanned_units,omitempty"`
	TotalUnits   int64     `json:"total_units,omitempty"`
	Session      string    `json:"session,omitempty"`
	Timestamp    time.Time `json:"ts,omitempty"`
}

// EventDrive implements Event.
func (e ProgressEvent) EventDrive() string { return e.Drive }

// CompletionEvent is the last event published for a session.
type CompletionEvent struct {
	Type       string    `json:"type"`
	Drive      string    `json:"drive"`
	BadSectors int64     `json:"bad_sectors"`
	Outcome    string    `json:"outcome,omitempty"`
	Error      string    `json:"error,omitempty"`
	Session    string    `json:"session,omitempty"`
	Timestamp  time.Time `json:"ts,omitempty"`
}

// EventDrive implements Event.
func (e CompletionEvent) EventDrive() string { return e.Drive }
