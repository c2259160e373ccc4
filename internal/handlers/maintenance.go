package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/drivesentry/drivesentry/internal/device"
)

// Benchmark handles POST /api/benchmark/{drive}. Optional ?size= bytes.
func (h *Handler) Benchmark(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	drive := pathSuffix(r, "/api/benchmark/")
	if drive == "" {
		http.NotFound(w, r)
		return
	}
	if h.registry.Active(drive) {
		respondError(w, http.StatusConflict, "scan in progress on "+drive)
		return
	}

	var size int64
	if s := r.URL.Query().Get("size"); s != "" {
		size, _ = strconv.ParseInt(s, 10, 64)
	}

	result, err := device.Benchmark(r.Context(), drive, size)
	if err != nil {
		log.Printf("benchmark %s: %v", drive, err)
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Erase handles POST /api/erase/{drive}. Destructive; refused while the
// drive has an active scan session holding the device.
func (h *Handler) Erase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	drive := pathSuffix(r, "/api/erase/")
	if drive == "" {
		http.NotFound(w, r)
		return
	}
	if h.registry.Active(drive) {
		respondError(w, http.StatusConflict, "scan in progress on "+drive)
		return
	}

	output, err := h.eraser.SecureErase(r.Context(), drive)
	if err != nil {
		log.Printf("secure erase %s: %v", drive, err)
		respondJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error(), "output": output})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"drive": drive, "message": output})
}
