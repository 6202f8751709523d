package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/indiseek/indiseek/application/agent"
	"github.com/indiseek/indiseek/application/pipeline"
	"github.com/indiseek/indiseek/domain/task"
	"github.com/indiseek/indiseek/internal/apperr"
)

// defaultQueryListLimit bounds the history listing.
const defaultQueryListLimit = 50

// handleRunStage schedules one pipeline stage as a background task.
func (h *Handlers) handleRunStage(w http.ResponseWriter, r *http.Request) {
	stage := chi.URLParam(r, "stage")

	var body struct {
		RepoID     int64  `json:"repo_id"`
		PathFilter string `json:"path_filter"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	repoID := body.RepoID
	if repoID == 0 {
		repoID = defaultRepoID
	}

	rp, err := h.deps.Repos.Get(r.Context(), repoID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var run func(ctx context.Context, progress pipeline.Progress) (map[string]int, error)
	switch stage {
	case pipeline.StageParse:
		run = func(ctx context.Context, progress pipeline.Progress) (map[string]int, error) {
			return h.deps.Pipeline.Parse(ctx, repoID, body.PathFilter, progress)
		}
	case pipeline.StageXrefs:
		run = func(ctx context.Context, progress pipeline.Progress) (map[string]int, error) {
			return h.deps.Pipeline.LoadXrefs(ctx, repoID, progress)
		}
	case pipeline.StageEmbed:
		run = func(ctx context.Context, progress pipeline.Progress) (map[string]int, error) {
			return h.deps.Pipeline.Embed(ctx, repoID, body.PathFilter, progress)
		}
	case pipeline.StageSummarize:
		run = func(ctx context.Context, progress pipeline.Progress) (map[string]int, error) {
			return h.deps.Pipeline.Summarize(ctx, repoID, progress)
		}
	case pipeline.StageLexical:
		run = func(ctx context.Context, progress pipeline.Progress) (map[string]int, error) {
			return h.deps.Pipeline.BuildLexical(ctx, repoID, progress)
		}
	case "all":
		run = func(ctx context.Context, progress pipeline.Progress) (map[string]int, error) {
			return h.deps.Pipeline.IndexAll(ctx, repoID, progress)
		}
	default:
		h.writeError(w, r, apperr.BadRequest("unknown stage %q", stage))
		return
	}

	taskID, err := h.deps.Tasks.Submit(stage+" "+rp.Name(), func(ctx context.Context, progress func(task.ProgressEvent)) (map[string]any, error) {
		counts, err := run(ctx, pipeline.Progress(progress))
		return countsToResult(counts), err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{"task_id": taskID})
}

type queryRequest struct {
	RepoID int64  `json:"repo_id"`
	Prompt string `json:"prompt"`
	Mode   string `json:"mode"`
	Force  bool   `json:"force"`
}

// handleRunQuery answers from the cache when it can, otherwise schedules
// an agent run as a background task.
func (h *Handlers) handleRunQuery(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeQueryRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if cached, ok, err := h.deps.Agent.Lookup(r.Context(), req.RepoID, req.Prompt, req.Force); err != nil {
		h.writeError(w, r, err)
		return
	} else if ok {
		h.writeJSON(w, http.StatusOK, map[string]any{
			"cached":   true,
			"answer":   cached.Answer(),
			"evidence": cached.Evidence(),
			"query_id": cached.ID(),
		})
		return
	}

	rp, err := h.deps.Repos.Get(r.Context(), req.RepoID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	taskID, err := h.deps.Tasks.Submit("query "+rp.Name(), func(ctx context.Context, progress func(task.ProgressEvent)) (map[string]any, error) {
		q, err := h.deps.Agent.Execute(ctx, req.RepoID, req.Prompt, req.Mode, progress)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"query_id": q.ID(),
			"status":   string(q.Status()),
			"answer":   q.Answer(),
		}, nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{"task_id": taskID})
}

// handleSyncQuery runs the query in the request handler and returns the
// finished row.
func (h *Handlers) handleSyncQuery(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeQueryRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if cached, ok, err := h.deps.Agent.Lookup(r.Context(), req.RepoID, req.Prompt, req.Force); err != nil {
		h.writeError(w, r, err)
		return
	} else if ok {
		h.writeJSON(w, http.StatusOK, map[string]any{
			"cached": true,
			"query":  toQueryDTO(cached),
		})
		return
	}

	q, err := h.deps.Agent.Execute(r.Context(), req.RepoID, req.Prompt, req.Mode, nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"cached": false,
		"query":  toQueryDTO(q),
	})
}

func (h *Handlers) decodeQueryRequest(r *http.Request) (queryRequest, error) {
	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		return req, err
	}
	if req.Prompt == "" {
		return req, apperr.BadRequest("missing prompt")
	}
	if req.RepoID == 0 {
		req.RepoID = defaultRepoID
	}
	return req, nil
}

func (h *Handlers) handleListQueries(w http.ResponseWriter, r *http.Request) {
	repoID, err := repoIDFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit := defaultQueryListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			h.writeError(w, r, apperr.BadRequest("invalid limit %q", raw))
			return
		}
	}

	queries, err := h.deps.Queries.List(r.Context(), repoID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]queryDTO, 0, len(queries))
	for _, q := range queries {
		out = append(out, toQueryDTO(q))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"queries": out})
}

func (h *Handlers) handleGetQuery(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q, err := h.deps.Queries.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toQueryDTO(q))
}

func (h *Handlers) handleStrategies(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"strategies": agent.Strategies()})
}

func countsToResult(counts map[string]int) map[string]any {
	if counts == nil {
		return nil
	}
	out := make(map[string]any, len(counts))
	for k, v := range counts {
		out[k] = v
	}
	return out
}
