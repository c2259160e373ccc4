package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/drivesentry/drivesentry/internal/scan"
	"github.com/drivesentry/drivesentry/internal/types"
)

// ScanProgressSSE handles SSE connections for one drive's scan progress.
// The stream ends after the session's completion event; the client is
// expected to reconnect for later sessions (EventSource does this
// automatically).
func (h *Handler) ScanProgressSSE(w http.ResponseWriter, r *http.Request) {
	drive := pathSuffix(r, "/sse/scan/")
	if drive == "" {
		http.NotFound(w, r)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	sub := h.bus.Subscribe(drive)
	defer h.bus.Unsubscribe(sub)

	// Send the current snapshot so a late subscriber has initial state. A
	// session that already ended gets its completion event right away; the
	// bus has nothing more to deliver for it.
	if snap, err := h.registry.Status(drive); err == nil {
		h.sendEventJSON(w, flusher, "progress", types.ProgressEvent{
			Type:         types.EventTypeProgress,
			Drive:        snap.Drive,
			Progress:     snap.Percent(),
			BadSectors:   snap.BadUnits,
			ScannedUnits: snap.ScannedUnits,
			TotalUnits:   snap.TotalUnits,
			Session:      snap.SessionID,
		})
		if snap.Status.Terminal() {
			h.sendEventJSON(w, flusher, "complete", completionFromSnapshot(snap))
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				// Bus closed the subscription after the completion
				// event; nothing further will arrive for this session.
				return
			}
			switch ev.(type) {
			case types.CompletionEvent:
				h.sendEventJSON(w, flusher, "complete", ev)
				return
			default:
				h.sendEventJSON(w, flusher, "progress", ev)
			}
		}
	}
}

// completionFromSnapshot rebuilds the completion event for a session that
// ended before this subscriber attached.
func completionFromSnapshot(snap scan.Snapshot) types.CompletionEvent {
	outcome := types.OutcomeFailure
	switch snap.Status {
	case scan.StatusCompleted:
		outcome = types.OutcomeSuccess
	case scan.StatusCancelled:
		outcome = types.OutcomeCancelled
	}
	return types.CompletionEvent{
		Type:       types.EventTypeComplete,
		Drive:      snap.Drive,
		BadSectors: snap.BadUnits,
		Outcome:    outcome,
		Error:      snap.LastError,
		Session:    snap.SessionID,
	}
}

func (h *Handler) sendEventJSON(w http.ResponseWriter, flusher http.Flusher, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}
