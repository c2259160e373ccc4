// Package app provides shared application initialization logic for the
// server entry point.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/drivesentry/drivesentry/internal/config"
	"github.com/drivesentry/drivesentry/internal/device"
	"github.com/drivesentry/drivesentry/internal/handlers"
	"github.com/drivesentry/drivesentry/internal/history"
	"github.com/drivesentry/drivesentry/internal/scan"
	"github.com/drivesentry/drivesentry/internal/scheduler"
	"github.com/drivesentry/drivesentry/internal/smart"
)

// Server wraps the HTTP server and associated resources.
type Server struct {
	HTTP      *http.Server
	Config    *config.Config
	Store     *history.DB
	Bus       *scan.Bus
	Registry  *scan.Registry
	Scheduler *scheduler.Scheduler
}

// CreateServer initializes all application components and returns a Server.
// Call Server.Cleanup() when done to release resources.
func CreateServer(cfg *config.Config) (*Server, error) {
	log.Printf("drivesentry starting...")
	log.Printf("  Database: %s", cfg.DBPath)
	log.Printf("  Port: %d", cfg.Port)
	log.Printf("  Retention: %d days", cfg.RetentionDays)

	store, err := history.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	bus := scan.NewBus()
	registry := scan.NewRegistry(bus, device.Open, store, scan.Options{
		SectorSize:        cfg.SectorSize,
		BatchSize:         cfg.BatchSize,
		ReadTimeout:       cfg.ReadTimeout,
		MaxConsecTimeouts: cfg.MaxConsecTimeouts,
		ScanTimeout:       cfg.ScanTimeout,
		Retention:         cfg.SessionRetention,
	})

	smartExec := smart.NewExecutor()
	smartExec.SetBinaryPath(cfg.SmartctlBinary)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := smartExec.CheckInstalled(ctx); err != nil {
		log.Printf("Warning: smartctl not found: %v", err)
		log.Printf("  Install smartmontools to enable SMART reporting")
	}
	cancel()

	eraser := device.NewEraser()
	eraser.SetBinaryPath(cfg.HdparmBinary)

	sched := scheduler.New(store, registry)
	sched.Start()

	h := handlers.New(registry, bus, store, sched, smartExec, eraser, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handlers.WithCORS(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // No timeout for SSE/websocket streams
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		HTTP:      server,
		Config:    cfg,
		Store:     store,
		Bus:       bus,
		Registry:  registry,
		Scheduler: sched,
	}, nil
}

// Cleanup releases all resources held by the server.
func (s *Server) Cleanup() {
	if s.Scheduler != nil {
		s.Scheduler.Stop()
	}
	if s.Store != nil {
		s.Store.Close()
	}
}

// StartCleanupLoop starts a background goroutine that periodically cleans
// up old scan history. Returns a cancel function and a done channel.
func (s *Server) StartCleanupLoop() (cancel func(), done <-chan struct{}) {
	cleanupDone := make(chan struct{})
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())

	go func() {
		defer close(cleanupDone)
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				log.Printf("Running cleanup (retention: %d days)", s.Config.RetentionDays)
				if err := s.Store.CleanupOldData(s.Config.RetentionDays); err != nil {
					log.Printf("Cleanup error: %v", err)
				}
			}
		}
	}()

	return cleanupCancel, cleanupDone
}
