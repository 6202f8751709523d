package api

import (
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/indiseek/indiseek/application/retrieval"
	"github.com/indiseek/indiseek/internal/apperr"
)

// handleStats aggregates counts across every store. The stores are
// independent, so the counts fan out concurrently.
func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	repoID, err := repoIDFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var (
		repos, symbols, chunks, embedded     int64
		xrefSymbols, occurrences             int64
		fileSummaries, dirSummaries, queries int64
		lexicalDocs                          uint64
	)

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		list, err := h.deps.Repos.List(ctx)
		repos = int64(len(list))
		return err
	})
	g.Go(func() (err error) { symbols, err = h.deps.Symbols.Count(ctx, repoID); return })
	g.Go(func() (err error) { chunks, err = h.deps.Chunks.Count(ctx, repoID); return })
	g.Go(func() (err error) { embedded, err = h.deps.Vectors.Count(ctx, repoID); return })
	g.Go(func() (err error) { xrefSymbols, err = h.deps.Xrefs.CountSymbols(ctx, repoID); return })
	g.Go(func() (err error) { occurrences, err = h.deps.Xrefs.CountOccurrences(ctx, repoID); return })
	g.Go(func() (err error) { fileSummaries, err = h.deps.Summaries.CountFileSummaries(ctx, repoID); return })
	g.Go(func() (err error) { dirSummaries, err = h.deps.Summaries.CountDirectorySummaries(ctx, repoID); return })
	g.Go(func() (err error) { queries, err = h.deps.Queries.Count(ctx, repoID); return })
	g.Go(func() (err error) { lexicalDocs, err = h.deps.Lexical.DocCount(repoID); return })
	if err := g.Wait(); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"repo_id":             repoID,
		"repos":               repos,
		"symbols":             symbols,
		"chunks":              chunks,
		"embedded_chunks":     embedded,
		"xref_symbols":        xrefSymbols,
		"occurrences":         occurrences,
		"file_summaries":      fileSummaries,
		"directory_summaries": dirSummaries,
		"queries":             queries,
		"lexical_docs":        lexicalDocs,
	})
}

// treeEntry is one child in a tree listing, with coverage flags showing
// how far the pipeline has carried it.
type treeEntry struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Type       string `json:"type"`
	Summary    string `json:"summary,omitempty"`
	Summarized bool   `json:"summarized"`
	Chunks     int    `json:"chunks,omitempty"`
	Embedded   bool   `json:"embedded,omitempty"`
}

// handleTree lists the one-level children of a directory.
func (h *Handlers) handleTree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	repoID, err := repoIDFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	scope := strings.Trim(r.URL.Query().Get("path"), "/")

	paths, err := h.deps.Summaries.ListFilePaths(ctx, repoID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	fileSummaries, err := h.deps.Summaries.ListFileSummaries(ctx, repoID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	summaryByFile := make(map[string]string, len(fileSummaries))
	for _, fs := range fileSummaries {
		summaryByFile[fs.FilePath()] = fs.Summary()
	}

	dirSummaries, err := h.deps.Summaries.ListDirectorySummaries(ctx, repoID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	summaryByDir := make(map[string]string, len(dirSummaries))
	for _, ds := range dirSummaries {
		summaryByDir[ds.DirPath()] = ds.Summary()
	}

	embeddedIDs, err := h.deps.Vectors.EmbeddedChunkIDs(ctx, repoID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	prefix := ""
	if scope != "" {
		prefix = scope + "/"
	}

	dirs := map[string]bool{}
	var files []string
	for _, p := range paths {
		if prefix != "" && !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			dirs[rest[:i]] = true
		} else {
			files = append(files, rest)
		}
	}

	entries := make([]treeEntry, 0, len(dirs)+len(files))
	for name := range dirs {
		full := prefix + name
		entries = append(entries, treeEntry{
			Name:       name,
			Path:       full,
			Type:       "dir",
			Summary:    summaryByDir[full],
			Summarized: summaryByDir[full] != "",
		})
	}
	for _, name := range files {
		full := prefix + name
		chunks, err := h.deps.Chunks.ListByFile(ctx, repoID, full)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		embedded := len(chunks) > 0
		for _, c := range chunks {
			if !embeddedIDs[c.ID()] {
				embedded = false
				break
			}
		}
		entries = append(entries, treeEntry{
			Name:       name,
			Path:       full,
			Type:       "file",
			Summary:    summaryByFile[full],
			Summarized: summaryByFile[full] != "",
			Chunks:     len(chunks),
			Embedded:   embedded,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Type != entries[j].Type {
			return entries[i].Type == "dir"
		}
		return entries[i].Name < entries[j].Name
	})

	h.writeJSON(w, http.StatusOK, map[string]any{
		"repo_id": repoID,
		"path":    scope,
		"entries": entries,
	})
}

// handleFileDetail returns one file's summary, chunk list and index
// coverage. Chunk contents ride on the chunk endpoint, not here.
func (h *Handlers) handleFileDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	repoID, err := repoIDFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filePath := strings.Trim(chi.URLParam(r, "*"), "/")
	if filePath == "" {
		h.writeError(w, r, apperr.BadRequest("missing file path"))
		return
	}

	content, err := h.deps.Summaries.GetFileContent(ctx, repoID, filePath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	fileSummary := ""
	language := ""
	if fs, err := h.deps.Summaries.GetFileSummary(ctx, repoID, filePath); err == nil {
		fileSummary = fs.Summary()
		language = fs.Language()
	} else if !apperr.IsNotFound(err) {
		h.writeError(w, r, err)
		return
	}

	chunks, err := h.deps.Chunks.ListByFile(ctx, repoID, filePath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	embeddedIDs, err := h.deps.Vectors.EmbeddedChunkIDs(ctx, repoID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	embedded := 0
	chunkDTOs := make([]chunkDTO, 0, len(chunks))
	for _, c := range chunks {
		isEmbedded := embeddedIDs[c.ID()]
		if isEmbedded {
			embedded++
		}
		chunkDTOs = append(chunkDTOs, toChunkDTO(c, isEmbedded, false))
	}

	// The lexical index is rebuilt from all chunks at once, so a built
	// index covers every chunked file.
	lexicalDocs, err := h.deps.Lexical.DocCount(repoID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"repo_id":         repoID,
		"path":            filePath,
		"name":            path.Base(filePath),
		"language":        language,
		"line_count":      content.LineCount(),
		"summary":         fileSummary,
		"chunks":          chunkDTOs,
		"embedded_chunks": embedded,
		"lexical":         lexicalDocs > 0 && len(chunks) > 0,
	})
}

func (h *Handlers) handleChunkDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	repoID, err := repoIDFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.deps.Chunks.Get(ctx, repoID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	embeddedIDs, err := h.deps.Vectors.EmbeddedChunkIDs(ctx, repoID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toChunkDTO(c, embeddedIDs[id], true))
}

func (h *Handlers) handleSearch(w http.ResponseWriter, r *http.Request) {
	repoID, err := repoIDFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.writeError(w, r, apperr.BadRequest("invalid limit %q", raw))
			return
		}
	}

	hits, err := h.deps.Retrieval.SearchCode(r.Context(), repoID,
		q.Get("q"), retrieval.Mode(q.Get("mode")), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if hits == nil {
		hits = []retrieval.Hit{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"repo_id": repoID,
		"hits":    hits,
	})
}
