package handlers

import (
	"net/http"
	"strconv"

	"github.com/drivesentry/drivesentry/internal/history"
)

// HistoryResponse lists recorded scan runs
type HistoryResponse struct {
	Runs []*history.ScanRun `json:"runs"`
}

// History handles GET /api/history?drive=&limit=&offset=
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.store == nil {
		respondError(w, http.StatusNotImplemented, "history disabled")
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	runs, err := h.store.ListScanRuns(r.URL.Query().Get("drive"), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*history.ScanRun{}
	}
	respondJSON(w, http.StatusOK, HistoryResponse{Runs: runs})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	if s := r.URL.Query().Get(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return defaultVal
}
