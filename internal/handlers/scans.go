package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/drivesentry/drivesentry/internal/scan"
)

// StartScanResponse acknowledges an accepted scan request
type StartScanResponse struct {
	Status  string `json:"status"`
	Drive   string `json:"drive"`
	Session string `json:"session"`
}

// ScanRoutes dispatches /api/scan/{drive} and /api/scan/{drive}/cancel
func (h *Handler) ScanRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/scan/"), "/")
	parts := strings.Split(rest, "/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	drive := parts[0]

	if len(parts) == 2 && parts[1] == "cancel" && r.Method == http.MethodPost {
		h.cancelScan(w, drive)
		return
	}
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.startScan(w, drive)
	case http.MethodGet:
		h.scanStatus(w, drive)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// startScan accepts or rejects a scan request. Returns immediately; the
// scan runs in the background.
func (h *Handler) startScan(w http.ResponseWriter, drive string) {
	snap, err := h.registry.Start(drive)
	if errors.Is(err, scan.ErrAlreadyRunning) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, StartScanResponse{
		Status:  "scan_started",
		Drive:   drive,
		Session: snap.SessionID,
	})
}

// cancelScan requests best-effort cancellation
func (h *Handler) cancelScan(w http.ResponseWriter, drive string) {
	if err := h.registry.Cancel(drive); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancel_requested", "drive": drive})
}

// scanStatus returns a point-in-time snapshot, the polling fallback for
// observers without a live connection.
func (h *Handler) scanStatus(w http.ResponseWriter, drive string) {
	snap, err := h.registry.Status(drive)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}
