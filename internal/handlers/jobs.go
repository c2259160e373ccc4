package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/drivesentry/drivesentry/internal/history"
)

// JobRequest creates a scheduled scan job
type JobRequest struct {
	Name    string `json:"name"`
	Drive   string `json:"drive"`
	Cron    string `json:"cron"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// JobsResponse lists scheduled jobs
type JobsResponse struct {
	Jobs []*history.ScheduledJob `json:"jobs"`
}

// Jobs handles GET and POST /api/jobs
func (h *Handler) Jobs(w http.ResponseWriter, r *http.Request) {
	if h.store == nil || h.sched == nil {
		respondError(w, http.StatusNotImplemented, "scheduling disabled")
		return
	}

	switch r.Method {
	case http.MethodGet:
		jobs, err := h.store.ListScheduledJobs()
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if jobs == nil {
			jobs = []*history.ScheduledJob{}
		}
		respondJSON(w, http.StatusOK, JobsResponse{Jobs: jobs})

	case http.MethodPost:
		h.createJob(w, r)

	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Drive == "" || req.Cron == "" {
		respondError(w, http.StatusBadRequest, "drive and cron are required")
		return
	}

	nextRun, err := h.sched.NextRun(req.Cron, time.Now())
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid cron expression: "+err.Error())
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	name := req.Name
	if name == "" {
		name = "scan " + req.Drive
	}

	job, err := h.store.CreateScheduledJob(&history.ScheduledJob{
		Name:           name,
		Drive:          req.Drive,
		CronExpression: req.Cron,
		Enabled:        enabled,
		NextRunAt:      &nextRun,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, job)
}

// JobByID handles DELETE /api/jobs/{id}
func (h *Handler) JobByID(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusNotImplemented, "scheduling disabled")
		return
	}
	if r.Method != http.MethodDelete {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id, err := strconv.ParseInt(pathSuffix(r, "/api/jobs/"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if err := h.store.DeleteScheduledJob(id); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
