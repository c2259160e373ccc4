package history

import (
	"log"

	"github.com/drivesentry/drivesentry/internal/scan"
)

// DB implements scan.Recorder. Recording failures are logged and dropped:
// persistence problems must never disturb a running scan.

// ScanStarted records a newly running session.
func (db *DB) ScanStarted(snap scan.Snapshot) {
	if _, err := db.CreateScanRun(snap.Drive, snap.SessionID, snap.TotalUnits, snap.StartedAt); err != nil {
		log.Printf("history: record scan start %s: %v", snap.Drive, err)
	}
}

// ScanProgress updates the session's counters.
func (db *DB) ScanProgress(snap scan.Snapshot) {
	if err := db.UpdateScanRunProgress(snap.SessionID, snap.ScannedUnits, snap.BadUnits); err != nil {
		log.Printf("history: record scan progress %s: %v", snap.Drive, err)
	}
}

// ScanFinished records the terminal state. Sessions that failed before
// running (open errors) have no row yet and get one here.
func (db *DB) ScanFinished(snap scan.Snapshot) {
	if _, err := db.GetScanRunBySession(snap.SessionID); err != nil {
		if _, err := db.CreateScanRun(snap.Drive, snap.SessionID, snap.TotalUnits, snap.StartedAt); err != nil {
			log.Printf("history: record scan finish %s: %v", snap.Drive, err)
			return
		}
	}

	var errMsg *string
	if snap.LastError != "" {
		errMsg = &snap.LastError
	}
	if err := db.CompleteScanRun(snap.SessionID, string(snap.Status), snap.ScannedUnits, snap.BadUnits, errMsg); err != nil {
		log.Printf("history: record scan finish %s: %v", snap.Drive, err)
	}
}
