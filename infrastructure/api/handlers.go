package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/indiseek/indiseek/application/agent"
	"github.com/indiseek/indiseek/application/lifecycle"
	"github.com/indiseek/indiseek/application/pipeline"
	"github.com/indiseek/indiseek/application/retrieval"
	"github.com/indiseek/indiseek/application/taskmgr"
	"github.com/indiseek/indiseek/domain/chunk"
	"github.com/indiseek/indiseek/domain/query"
	"github.com/indiseek/indiseek/domain/repo"
	"github.com/indiseek/indiseek/domain/summary"
	"github.com/indiseek/indiseek/domain/symbol"
	"github.com/indiseek/indiseek/domain/xref"
	"github.com/indiseek/indiseek/infrastructure/lexical"
	"github.com/indiseek/indiseek/infrastructure/vector"
	"github.com/indiseek/indiseek/internal/apperr"
	"github.com/indiseek/indiseek/internal/config"
)

// defaultRepoID is assumed when a request names no repo.
const defaultRepoID int64 = 1

// Deps carries everything the handlers reach.
type Deps struct {
	Repos     repo.Store
	Queries   query.Store
	Symbols   symbol.Store
	Chunks    chunk.Store
	Xrefs     xref.Store
	Summaries summary.Store
	Vectors   *vector.Store
	Lexical   *lexical.Manager

	Lifecycle *lifecycle.Service
	Pipeline  *pipeline.Pipeline
	Tasks     *taskmgr.Manager
	Agent     *agent.Service
	Retrieval *retrieval.Service

	Config  config.AppConfig
	Logger  *slog.Logger
	Version string
}

// Handlers implements the API routes.
type Handlers struct {
	deps   Deps
	logger *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{deps: deps, logger: logger}
}

// Mount registers every route on the router. The dashboard SPA, when
// present on disk, is served from the root.
func (h *Handlers) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.handleHealth)

		r.Get("/repos", h.handleListRepos)
		r.Post("/repos", h.handleAddRepo)
		r.Get("/repos/{id}", h.handleGetRepo)
		r.Delete("/repos/{id}", h.handleDeleteRepo)
		r.Post("/repos/{id}/check", h.handleCheckRepo)
		r.Post("/repos/{id}/sync", h.handleSyncRepo)

		r.Get("/stats", h.handleStats)
		r.Get("/tree", h.handleTree)
		r.Get("/files/*", h.handleFileDetail)
		r.Get("/chunks/{id}", h.handleChunkDetail)
		r.Get("/search", h.handleSearch)

		r.Post("/run/query", h.handleRunQuery)
		r.Post("/run/{stage}", h.handleRunStage)
		r.Post("/query", h.handleSyncQuery)
		r.Get("/queries", h.handleListQueries)
		r.Get("/queries/{id}", h.handleGetQuery)
		r.Get("/strategies", h.handleStrategies)

		r.Get("/tasks", h.handleListTasks)
		r.Get("/tasks/{id}", h.handleGetTask)
		r.Get("/tasks/{id}/stream", h.handleTaskStream)
	})

	if dir := h.deps.Config.DashboardDir(); dir != "" {
		if _, err := os.Stat(dir); err == nil {
			r.Handle("/*", http.FileServer(http.Dir(dir)))
		}
	}
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.deps.Version,
	})
}

// writeJSON serializes v with the given status.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response encoding failed", "error", err)
	}
}

// writeError maps the error taxonomy onto HTTP statuses. Unrecognized
// errors are logged and surfaced as 500.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperr.IsNotFound(err):
		status = http.StatusNotFound
	case apperr.IsConflict(err):
		status = http.StatusConflict
	case apperr.IsBadRequest(err) || errors.Is(err, apperr.ErrProviderAuth):
		status = http.StatusBadRequest
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, status, map[string]any{"error": err.Error()})
}

// repoIDFromQuery reads repo_id from the query string, defaulting to the
// legacy repo.
func repoIDFromQuery(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("repo_id")
	if raw == "" {
		return defaultRepoID, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.BadRequest("invalid repo_id %q", raw)
	}
	return id, nil
}

// pathID parses the {id} route parameter.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.BadRequest("invalid id %q", raw)
	}
	return id, nil
}

// decodeBody decodes a JSON request body into dst. An empty body is
// allowed so POST endpoints with all-optional fields work without one.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		return apperr.BadRequest("malformed request body: %v", err)
	}
	return nil
}

// repoDTO is the wire shape of a repo.
type repoDTO struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	OriginURL     string     `json:"origin_url,omitempty"`
	LocalPath     string     `json:"local_path"`
	Status        string     `json:"status"`
	IndexedSHA    string     `json:"indexed_commit_sha,omitempty"`
	CurrentSHA    string     `json:"current_commit_sha,omitempty"`
	CommitsBehind int        `json:"commits_behind"`
	LastIndexedAt *time.Time `json:"last_indexed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toRepoDTO(r repo.Repo) repoDTO {
	return repoDTO{
		ID:            r.ID(),
		Name:          r.Name(),
		OriginURL:     r.OriginURL(),
		LocalPath:     r.LocalPath(),
		Status:        string(r.Status()),
		IndexedSHA:    r.IndexedSHA(),
		CurrentSHA:    r.CurrentSHA(),
		CommitsBehind: r.CommitsBehind(),
		LastIndexedAt: r.LastIndexedAt(),
		CreatedAt:     r.CreatedAt(),
	}
}

// queryDTO is the wire shape of a query row.
type queryDTO struct {
	ID            int64                `json:"id"`
	RepoID        int64                `json:"repo_id"`
	Prompt        string               `json:"prompt"`
	Strategy      string               `json:"strategy"`
	Status        string               `json:"status"`
	Answer        string               `json:"answer,omitempty"`
	Evidence      []query.EvidenceStep `json:"evidence,omitempty"`
	Error         string               `json:"error,omitempty"`
	Usage         query.UsageStats     `json:"usage"`
	SourceQueryID *int64               `json:"source_query_id,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
	DurationSecs  float64              `json:"duration_secs"`
}

func toQueryDTO(q query.Query) queryDTO {
	return queryDTO{
		ID:            q.ID(),
		RepoID:        q.RepoID(),
		Prompt:        q.Prompt(),
		Strategy:      q.Strategy(),
		Status:        string(q.Status()),
		Answer:        q.Answer(),
		Evidence:      q.Evidence(),
		Error:         q.Error(),
		Usage:         q.Usage(),
		SourceQueryID: q.SourceQueryID(),
		CreatedAt:     q.CreatedAt(),
		CompletedAt:   q.CompletedAt(),
		DurationSecs:  q.DurationSecs(),
	}
}

// chunkDTO is the wire shape of a chunk; Content rides only on the
// single-chunk endpoint.
type chunkDTO struct {
	ID            int64  `json:"id"`
	FilePath      string `json:"file_path"`
	SymbolName    string `json:"symbol_name,omitempty"`
	ChunkType     string `json:"chunk_type"`
	StartLine     int    `json:"start_line"`
	EndLine       int    `json:"end_line"`
	TokenEstimate int    `json:"token_estimate"`
	Embedded      bool   `json:"embedded"`
	Content       string `json:"content,omitempty"`
}

func toChunkDTO(c chunk.Chunk, embedded bool, withContent bool) chunkDTO {
	dto := chunkDTO{
		ID:            c.ID(),
		FilePath:      c.FilePath(),
		SymbolName:    c.SymbolName(),
		ChunkType:     string(c.ChunkType()),
		StartLine:     c.StartLine(),
		EndLine:       c.EndLine(),
		TokenEstimate: c.TokenEstimate(),
		Embedded:      embedded,
	}
	if withContent {
		dto.Content = c.Content()
	}
	return dto
}
