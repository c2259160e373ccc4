// Package scan implements the surface-scan engine: per-drive scan
// sessions, the registry enforcing one active scan per drive, and the
// event bus distributing progress to observers.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/drivesentry/drivesentry/internal/device"
	"github.com/drivesentry/drivesentry/internal/types"
)

// errReadTimeout marks a single unit read that exceeded the read timeout.
// Counted as a bad unit; a run of them escalates to device-unavailable.
var errReadTimeout = errors.New("sector read timed out")

// Options tunes the scan engine.
type Options struct {
	// SectorSize is the unit size in bytes. Default 512.
	SectorSize int64

	// BatchSize is how many units are read between cancellation checks.
	// Default 256.
	BatchSize int64

	// ReadTimeout bounds a single unit read. Default 5s.
	ReadTimeout time.Duration

	// MaxConsecTimeouts is how many timed-out reads in a row escalate to
	// device-unavailable. Default 8.
	MaxConsecTimeouts int

	// ScanTimeout bounds a whole session. Zero means no limit.
	ScanTimeout time.Duration

	// ProgressSteps is how many progress events a full scan publishes,
	// spread evenly across the address space. Default 1000 (one per 0.1%).
	ProgressSteps int64

	// Retention is how long a terminal session stays queryable before
	// eviction. Zero evicts immediately.
	Retention time.Duration
}

func (o Options) withDefaults() Options {
	if o.SectorSize <= 0 {
		o.SectorSize = 512
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 256
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 5 * time.Second
	}
	if o.MaxConsecTimeouts <= 0 {
		o.MaxConsecTimeouts = 8
	}
	if o.ProgressSteps <= 0 {
		o.ProgressSteps = 1000
	}
	return o
}

// Recorder receives session lifecycle callbacks, e.g. for persisting scan
// history. All methods are invoked from the scan goroutine; implementations
// must not block for long. May be nil on the registry.
type Recorder interface {
	ScanStarted(snap Snapshot)
	ScanProgress(snap Snapshot)
	ScanFinished(snap Snapshot)
}

// Registry is the process-wide table of scan sessions. It guarantees at
// most one active session per drive and owns the scan goroutines.
type Registry struct {
	bus  *Bus
	open device.OpenFunc
	rec  Recorder
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
	done     map[string]chan struct{}

	wg sync.WaitGroup
}

// NewRegistry creates a registry publishing to bus and opening devices via
// open. rec may be nil.
func NewRegistry(bus *Bus, open device.OpenFunc, rec Recorder, opts Options) *Registry {
	return &Registry{
		bus:      bus,
		open:     open,
		rec:      rec,
		opts:     opts.withDefaults(),
		sessions: make(map[string]*Session),
		done:     make(map[string]chan struct{}),
	}
}

// Start accepts a scan request for a drive. The check-and-insert is a
// single critical section, so concurrent starts for the same drive yield
// exactly one accepted session. Returns the new session's snapshot, or
// ErrAlreadyRunning while a session's goroutine is still alive.
func (r *Registry) Start(drive string) (Snapshot, error) {
	r.mu.Lock()
	if done, ok := r.done[drive]; ok {
		select {
		case <-done:
			// Previous session fully finished; replace it.
		default:
			r.mu.Unlock()
			return Snapshot{}, ErrAlreadyRunning
		}
	}

	s := newSession(drive)
	done := make(chan struct{})
	r.sessions[drive] = s
	r.done[drive] = done
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(s, done)

	return s.Snapshot(), nil
}

// Cancel requests cooperative cancellation of a drive's active session.
func (r *Registry) Cancel(drive string) error {
	r.mu.Lock()
	s, ok := r.sessions[drive]
	r.mu.Unlock()

	if !ok || s.Snapshot().Status.Terminal() {
		return ErrNotRunning
	}
	s.requestCancel()
	return nil
}

// Status returns a snapshot of the drive's current or retained session.
func (r *Registry) Status(drive string) (Snapshot, error) {
	r.mu.Lock()
	s, ok := r.sessions[drive]
	r.mu.Unlock()

	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return s.Snapshot(), nil
}

// Active reports whether the drive has a non-terminal session.
func (r *Registry) Active(drive string) bool {
	r.mu.Lock()
	s, ok := r.sessions[drive]
	r.mu.Unlock()
	return ok && !s.Snapshot().Status.Terminal()
}

// Wait blocks until all scan goroutines have exited. For shutdown and tests.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// run executes one session from open to terminal state. It is the single
// producer of events for its drive, which gives every subscriber
// non-decreasing progress order with the completion event last.
func (r *Registry) run(s *Session, done chan struct{}) {
	defer r.wg.Done()
	defer close(done)

	ctx := context.Background()
	var cancel context.CancelFunc
	if r.opts.ScanTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.opts.ScanTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	s.setCancel(cancel)

	defer r.scheduleEviction(s)

	rd, err := r.open(s.drive)
	if err != nil {
		log.Printf("scan %s: open failed: %v", s.drive, err)
		r.finish(s, StatusFailed, err.Error())
		return
	}
	defer rd.Close()

	totalUnits := (rd.Size() + r.opts.SectorSize - 1) / r.opts.SectorSize
	if totalUnits <= 0 {
		r.finish(s, StatusFailed, fmt.Sprintf("device %s reports zero size", s.drive))
		return
	}

	s.markRunning(totalUnits)
	if r.rec != nil {
		r.rec.ScanStarted(s.Snapshot())
	}
	log.Printf("scan %s: started, %d units of %d bytes", s.drive, totalUnits, r.opts.SectorSize)

	step := totalUnits / r.opts.ProgressSteps
	if step < 1 {
		step = 1
	}

	buf := make([]byte, r.opts.SectorSize)
	consecTimeouts := 0

	for unit := int64(0); unit < totalUnits; {
		// Cancellation is observed between batches, so a cancel lands
		// within one batch interval.
		if ctx.Err() != nil {
			r.finishInterrupted(s, ctx)
			return
		}

		batchEnd := unit + r.opts.BatchSize
		if batchEnd > totalUnits {
			batchEnd = totalUnits
		}

		for ; unit < batchEnd; unit++ {
			err := r.readUnit(ctx, rd, buf, unit*r.opts.SectorSize)
			switch {
			case err == nil:
				consecTimeouts = 0
				s.recordUnit(false)

			case errors.Is(err, errReadTimeout):
				consecTimeouts++
				s.recordUnit(true)
				// The abandoned read may still write into the old
				// buffer; hand it a fresh one.
				buf = make([]byte, r.opts.SectorSize)
				if consecTimeouts >= r.opts.MaxConsecTimeouts {
					r.finish(s, StatusFailed,
						fmt.Sprintf("device %s unavailable: %d consecutive read timeouts", s.drive, consecTimeouts))
					return
				}

			case errors.Is(err, device.ErrUnavailable):
				r.finish(s, StatusFailed, err.Error())
				return

			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				r.finishInterrupted(s, ctx)
				return

			default:
				// One unreadable unit. Count it and keep scanning;
				// enumerating bad regions is the whole job.
				consecTimeouts = 0
				s.recordUnit(true)
			}

			scanned := unit + 1
			if scanned%step == 0 || scanned == totalUnits {
				r.publishProgress(s)
			}
		}
	}

	r.finish(s, StatusCompleted, "")
}

// readUnit performs one bounded read. The read itself runs in a goroutine
// because file I/O is not context-aware; on timeout the read is abandoned.
func (r *Registry) readUnit(ctx context.Context, rd device.SectorReader, buf []byte, off int64) error {
	res := make(chan error, 1)
	go func() {
		_, err := rd.ReadAt(buf, off)
		res <- err
	}()

	timer := time.NewTimer(r.opts.ReadTimeout)
	defer timer.Stop()

	select {
	case err := <-res:
		return err
	case <-timer.C:
		return errReadTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) publishProgress(s *Session) {
	snap := s.Snapshot()
	r.bus.Publish(s.drive, types.ProgressEvent{
		Type:         types.EventTypeProgress,
		Drive:        snap.Drive,
		Progress:     snap.Percent(),
		BadSectors:   snap.BadUnits,
		ScannedUnits: snap.ScannedUnits,
		TotalUnits:   snap.TotalUnits,
		Session:      snap.SessionID,
		Timestamp:    time.Now(),
	})
	if r.rec != nil {
		r.rec.ScanProgress(snap)
	}
}

// finishInterrupted resolves a context-terminated scan: explicit
// cancellation versus scan-timeout expiry.
func (r *Registry) finishInterrupted(s *Session, ctx context.Context) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.finish(s, StatusFailed, "scan timed out")
		return
	}
	r.finish(s, StatusCancelled, "")
}

// finish moves the session to its terminal state and publishes the one
// completion event, last for the session.
func (r *Registry) finish(s *Session, status Status, errMsg string) {
	if !s.finish(status, errMsg) {
		return
	}
	snap := s.Snapshot()

	outcome := types.OutcomeFailure
	switch status {
	case StatusCompleted:
		outcome = types.OutcomeSuccess
	case StatusCancelled:
		outcome = types.OutcomeCancelled
	}

	r.bus.PublishFinal(s.drive, types.CompletionEvent{
		Type:       types.EventTypeComplete,
		Drive:      snap.Drive,
		BadSectors: snap.BadUnits,
		Outcome:    outcome,
		Error:      errMsg,
		Session:    snap.SessionID,
		Timestamp:  time.Now(),
	})
	if r.rec != nil {
		r.rec.ScanFinished(snap)
	}
	log.Printf("scan %s: %s (%d/%d units, %d bad)",
		s.drive, status, snap.ScannedUnits, snap.TotalUnits, snap.BadUnits)
}

// scheduleEviction drops the terminal session from the registry after the
// retention window, unless a newer session has already replaced it.
func (r *Registry) scheduleEviction(s *Session) {
	evict := func() {
		r.mu.Lock()
		if r.sessions[s.drive] == s {
			delete(r.sessions, s.drive)
			delete(r.done, s.drive)
		}
		r.mu.Unlock()
	}

	if r.opts.Retention <= 0 {
		evict()
		return
	}
	time.AfterFunc(r.opts.Retention, evict)
}
