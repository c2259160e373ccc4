// Package handlers exposes the HTTP control surface and the event
// transports (websocket, SSE).
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/drivesentry/drivesentry/internal/device"
	"github.com/drivesentry/drivesentry/internal/history"
	"github.com/drivesentry/drivesentry/internal/scan"
	"github.com/drivesentry/drivesentry/internal/scheduler"
	"github.com/drivesentry/drivesentry/internal/smart"
)

// DriveLister enumerates physical drives; injected so tests can fake it.
type DriveLister func() ([]device.Drive, error)

// Handler holds all HTTP handlers
type Handler struct {
	registry *scan.Registry
	bus      *scan.Bus
	store    *history.DB          // may be nil
	sched    *scheduler.Scheduler // may be nil
	smart    *smart.Executor
	eraser   *device.Eraser
	drives   DriveLister
}

// New creates a new Handler. store and sched may be nil when history and
// scheduling are disabled.
func New(registry *scan.Registry, bus *scan.Bus, store *history.DB, sched *scheduler.Scheduler, smartExec *smart.Executor, eraser *device.Eraser, drives DriveLister) *Handler {
	if drives == nil {
		drives = device.List
	}
	return &Handler{
		registry: registry,
		bus:      bus,
		store:    store,
		sched:    sched,
		smart:    smartExec,
		eraser:   eraser,
		drives:   drives,
	}
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/drives", h.Drives)
	mux.HandleFunc("/api/smart/", h.Smart)
	mux.HandleFunc("/api/scan/", h.ScanRoutes)
	mux.HandleFunc("/api/benchmark/", h.Benchmark)
	mux.HandleFunc("/api/erase/", h.Erase)
	mux.HandleFunc("/api/history", h.History)
	mux.HandleFunc("/api/jobs", h.Jobs)
	mux.HandleFunc("/api/jobs/", h.JobByID)
	mux.HandleFunc("/sse/scan/", h.ScanProgressSSE)
	mux.HandleFunc("/ws", h.WebSocket)
}

// WithCORS wraps a handler with the permissive CORS policy the API serves
// under (the UI is an external collaborator on another origin).
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "x-requested-with, content-type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// respondJSON writes v as a JSON response
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// respondError writes a JSON error body
func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// pathSuffix extracts the path element after prefix, e.g. the drive name
// from /api/smart/sda. Empty string if absent.
func pathSuffix(r *http.Request, prefix string) string {
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	rest = strings.Trim(rest, "/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
