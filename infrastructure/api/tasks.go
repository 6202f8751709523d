package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/indiseek/indiseek/domain/task"
)

func (h *Handlers) handleListTasks(w http.ResponseWriter, r *http.Request) {
	snapshots := h.deps.Tasks.List()
	// The listing stays light; full event history rides on the detail
	// endpoint.
	for i := range snapshots {
		snapshots[i].Events = nil
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"tasks": snapshots})
}

func (h *Handlers) handleGetTask(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.Tasks.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// handleTaskStream streams the task's events as server-sent events, one
// JSON object per message. The stream replays retained history first and
// closes after the terminal event. A dropped client does not affect the
// task.
func (h *Handlers) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, cancel, err := h.deps.Tasks.Subscribe(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, r, fmt.Errorf("streaming unsupported by connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			if err := writeSSE(w, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event task.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
	return err
}
