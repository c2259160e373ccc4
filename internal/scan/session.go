package scan

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a scan session's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final. Sessions never leave a
// terminal state; a rescan is a new session.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Snapshot is a point-in-time copy of a session's state.
type Snapshot struct {
	Drive        string     `json:"drive"`
	SessionID    string     `json:"session"`
	Status       Status     `json:"status"`
	TotalUnits   int64      `json:"total_units"`
	ScannedUnits int64      `json:"scanned_units"`
	BadUnits     int64      `json:"bad_units"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	LastError    string     `json:"error,omitempty"`
}

// Percent is integer floor progress. 100 only once every unit is scanned.
func (s Snapshot) Percent() int {
	if s.TotalUnits <= 0 {
		return 0
	}
	return int(s.ScannedUnits * 100 / s.TotalUnits)
}

// Session owns the scan state for exactly one drive. Counters are mutated
// only by the scan goroutine that owns the session; everything else reads
// snapshots.
type Session struct {
	drive string
	id    string

	mu           sync.Mutex
	status       Status
	totalUnits   int64
	scannedUnits int64
	badUnits     int64
	lastError    string
	startedAt    time.Time
	completedAt  *time.Time
	cancel       context.CancelFunc
}

func newSession(drive string) *Session {
	return &Session{
		drive:     drive,
		id:        uuid.NewString(),
		status:    StatusPending,
		startedAt: time.Now(),
	}
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Drive:        s.drive,
		SessionID:    s.id,
		Status:       s.status,
		TotalUnits:   s.totalUnits,
		ScannedUnits: s.scannedUnits,
		BadUnits:     s.badUnits,
		StartedAt:    s.startedAt,
		CompletedAt:  s.completedAt,
		LastError:    s.lastError,
	}
}

func (s *Session) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

func (s *Session) requestCancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) markRunning(totalUnits int64) {
	s.mu.Lock()
	s.status = StatusRunning
	s.totalUnits = totalUnits
	s.mu.Unlock()
}

func (s *Session) recordUnit(bad bool) {
	s.mu.Lock()
	s.scannedUnits++
	if bad {
		s.badUnits++
	}
	s.mu.Unlock()
}

// finish moves the session to a terminal state. The first terminal
// transition wins; later calls are no-ops.
func (s *Session) finish(status Status, errMsg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	now := time.Now()
	s.status = status
	s.completedAt = &now
	s.lastError = errMsg
	return true
}
