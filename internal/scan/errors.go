package scan

import "errors"

var (
	// ErrAlreadyRunning signals normal contention: a scan for the drive is
	// already pending or running. Callers should not retry automatically.
	ErrAlreadyRunning = errors.New("scan already running for drive")

	// ErrNotRunning is returned by Cancel when no active session exists.
	ErrNotRunning = errors.New("no scan running for drive")

	// ErrNotFound is returned by Status when no session, active or
	// retained, exists for the drive.
	ErrNotFound = errors.New("no scan session for drive")
)
