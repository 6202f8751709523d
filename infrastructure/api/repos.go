package api

import (
	"net/http"
)

func (h *Handlers) handleListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := h.deps.Repos.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]repoDTO, 0, len(repos))
	for _, rp := range repos {
		out = append(out, toRepoDTO(rp))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"repos": out})
}

func (h *Handlers) handleAddRepo(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	added, taskID, err := h.deps.Lifecycle.AddRepo(r.Context(), body.Name, body.URL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id": taskID,
		"repo":    toRepoDTO(added),
	})
}

func (h *Handlers) handleGetRepo(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rp, err := h.deps.Repos.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRepoDTO(rp))
}

func (h *Handlers) handleDeleteRepo(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.deps.Lifecycle.DeleteRepo(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleCheckRepo(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	fresh, err := h.deps.Lifecycle.CheckFreshness(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	changed := fresh.ChangedFiles
	if changed == nil {
		changed = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"indexed_sha":    fresh.IndexedSHA,
		"current_sha":    fresh.CurrentSHA,
		"commits_behind": fresh.CommitsBehind,
		"changed_files":  changed,
		"status":         fresh.Status,
	})
}

func (h *Handlers) handleSyncRepo(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	taskID, err := h.deps.Lifecycle.Sync(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{"task_id": taskID})
}
