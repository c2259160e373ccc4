// Package scheduler runs surface scans on cron schedules.
package scheduler

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/drivesentry/drivesentry/internal/history"
	"github.com/drivesentry/drivesentry/internal/scan"
)

// Starter starts scans. Satisfied by *scan.Registry.
type Starter interface {
	Start(drive string) (scan.Snapshot, error)
}

// Scheduler manages scheduled scan jobs
type Scheduler struct {
	store   *history.DB
	starter Starter
	parser  cron.Parser

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a new scheduler
func New(store *history.DB, starter Starter) *Scheduler {
	return &Scheduler{
		store:   store,
		starter: starter,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// NextRun computes the next execution time for a cron expression.
func (s *Scheduler) NextRun(expr string, after time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after), nil
}

// Start starts the scheduler loop
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
}

// Stop stops the scheduler and waits for the loop to exit
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
}

// run is the main scheduler loop
func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	// Check immediately on start
	s.checkJobs()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.checkJobs()
		}
	}
}

// checkJobs starts scans for every due job
func (s *Scheduler) checkJobs() {
	now := time.Now()
	jobs, err := s.store.ListDueJobs(now)
	if err != nil {
		log.Printf("scheduler: failed to get due jobs: %v", err)
		return
	}

	for _, job := range jobs {
		s.runJob(job, now)
	}
}

// runJob starts one scheduled scan and advances the job's schedule. A
// drive that is already being scanned skips this tick; the schedule still
// advances so the job does not fire again immediately.
func (s *Scheduler) runJob(job *history.ScheduledJob, now time.Time) {
	snap, err := s.starter.Start(job.Drive)
	switch {
	case errors.Is(err, scan.ErrAlreadyRunning):
		log.Printf("scheduler: job %d (%s): scan already running on %s, skipping", job.ID, job.Name, job.Drive)
	case err != nil:
		log.Printf("scheduler: job %d (%s): failed to start scan: %v", job.ID, job.Name, err)
	default:
		log.Printf("scheduler: job %d (%s): started scan %s on %s", job.ID, job.Name, snap.SessionID, job.Drive)
	}

	nextRun, err := s.NextRun(job.CronExpression, now)
	if err != nil {
		log.Printf("scheduler: job %d: invalid cron expression %q: %v", job.ID, job.CronExpression, err)
		return
	}
	if err := s.store.UpdateJobRun(job.ID, now, nextRun); err != nil {
		log.Printf("scheduler: job %d: failed to update schedule: %v", job.ID, err)
	}
}
