package handlers

import (
	"log"
	"net/http"

	"github.com/drivesentry/drivesentry/internal/device"
)

// DrivesResponse lists the detected physical drives
type DrivesResponse struct {
	Drives []device.Drive `json:"drives"`
}

// Drives handles GET /api/drives
func (h *Handler) Drives(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	drives, err := h.drives()
	if err != nil {
		log.Printf("drive enumeration failed: %v", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if drives == nil {
		drives = []device.Drive{}
	}

	respondJSON(w, http.StatusOK, DrivesResponse{Drives: drives})
}
