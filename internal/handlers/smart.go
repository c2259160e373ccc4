package handlers

import (
	"log"
	"net/http"
)

// Smart handles GET /api/smart/{drive}
func (h *Handler) Smart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	drive := pathSuffix(r, "/api/smart/")
	if drive == "" {
		http.NotFound(w, r)
		return
	}

	report, err := h.smart.Attributes(r.Context(), drive)
	if err != nil {
		log.Printf("smart %s: %v", drive, err)
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, report)
}
