// Package pipeline implements the indexing stages. Each stage maps
// (repo, store handles) to summary counts, reports progress through a
// callback, and is idempotent: work whose inputs have not changed is
// presence-checked against the relational store and skipped.
package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/indiseek/indiseek/domain/chunk"
	"github.com/indiseek/indiseek/domain/repo"
	"github.com/indiseek/indiseek/domain/summary"
	"github.com/indiseek/indiseek/domain/symbol"
	"github.com/indiseek/indiseek/domain/task"
	"github.com/indiseek/indiseek/domain/xref"
	"github.com/indiseek/indiseek/infrastructure/lexical"
	"github.com/indiseek/indiseek/infrastructure/parser"
	"github.com/indiseek/indiseek/infrastructure/provider"
	"github.com/indiseek/indiseek/infrastructure/vector"
	"github.com/indiseek/indiseek/internal/config"
)

// Progress receives stage events. A nil Progress is valid and discards
// everything.
type Progress func(task.ProgressEvent)

func (p Progress) emit(event task.ProgressEvent) {
	if p != nil {
		p(event)
	}
}

// Toucher records an index mutation for cache invalidation. Stores that
// write through SQLite touch internally; stages that mutate on-disk
// indexes use this instead.
type Toucher interface {
	Touch(ctx context.Context) error
}

// Deps bundles everything the stages need. Provider factories are called
// per stage run so a missing API key fails the request, not startup.
type Deps struct {
	Repos     repo.Store
	Symbols   symbol.Store
	Chunks    chunk.Store
	Xrefs     xref.Store
	Summaries summary.Store
	Vectors   *vector.Store
	Lexical   *lexical.Manager
	Parser    *parser.Parser
	Meta      Toucher

	NewEmbedder  func() (provider.Embedder, error)
	NewGenerator func() (provider.Generator, error)

	Config config.AppConfig
	Logger *slog.Logger
}

// Pipeline runs the indexing stages for one repo at a time.
type Pipeline struct {
	deps   Deps
	logger *slog.Logger
}

// New creates a Pipeline.
func New(deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{deps: deps, logger: logger}
}

// Stage order within one indexing run is fixed.
const (
	StageParse     = "parse"
	StageXrefs     = "xrefs"
	StageEmbed     = "embed"
	StageSummarize = "summarize"
	StageLexical   = "lexical"
)

// IndexAll runs every stage in order and returns the merged counts keyed
// as "stage.count".
func (p *Pipeline) IndexAll(ctx context.Context, repoID int64, progress Progress) (map[string]int, error) {
	merged := make(map[string]int)

	stages := []struct {
		name string
		run  func() (map[string]int, error)
	}{
		{StageParse, func() (map[string]int, error) { return p.Parse(ctx, repoID, "", progress) }},
		{StageXrefs, func() (map[string]int, error) { return p.LoadXrefs(ctx, repoID, progress) }},
		{StageEmbed, func() (map[string]int, error) { return p.Embed(ctx, repoID, "", progress) }},
		{StageSummarize, func() (map[string]int, error) { return p.Summarize(ctx, repoID, progress) }},
		{StageLexical, func() (map[string]int, error) { return p.BuildLexical(ctx, repoID, progress) }},
	}

	for _, stage := range stages {
		counts, err := stage.run()
		for k, v := range counts {
			merged[stage.name+"."+k] = v
		}
		if err != nil {
			return merged, fmt.Errorf("stage %s: %w", stage.name, err)
		}
	}
	return merged, nil
}

// Parse walks the working tree, extracts symbols and chunks from every
// supported file and stores them with the file's content. A non-empty
// pathFilter scopes the stage to that subtree. Index rows for files that
// vanished from the scoped tree are dropped first, so a re-parse clears
// deleted files instead of leaving ghost symbols. Per-file errors are
// counted, logged and skipped; only store failures abort the stage.
func (p *Pipeline) Parse(ctx context.Context, repoID int64, pathFilter string, progress Progress) (map[string]int, error) {
	counts := map[string]int{"files": 0, "symbols": 0, "chunks": 0, "skipped": 0, "removed": 0, "errors": 0}

	r, err := p.deps.Repos.Get(ctx, repoID)
	if err != nil {
		return counts, err
	}

	pathFilter = strings.Trim(pathFilter, "/")
	files, err := p.sourceFiles(r.LocalPath(), pathFilter)
	if err != nil {
		return counts, err
	}

	removed, err := p.removeVanished(ctx, repoID, pathFilter, files)
	if err != nil {
		return counts, err
	}
	counts["removed"] = removed

	for i, rel := range files {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		progress.emit(task.Progress(StageParse, i+1, len(files), rel))

		data, err := os.ReadFile(filepath.Join(r.LocalPath(), rel))
		if err != nil {
			p.logger.Warn("unreadable source file", "path", rel, "error", err)
			counts["errors"]++
			continue
		}
		content := string(data)

		// Unchanged content means unchanged symbols and chunks.
		if existing, err := p.deps.Summaries.GetFileContent(ctx, repoID, rel); err == nil && existing.Content() == content {
			counts["skipped"]++
			continue
		}

		result, err := p.deps.Parser.Parse(ctx, repoID, rel, data)
		if err != nil {
			p.logger.Warn("parse failed", "path", rel, "error", err)
			counts["errors"]++
			continue
		}

		if _, err := p.deps.Symbols.ReplaceForFile(ctx, repoID, rel, result.Symbols); err != nil {
			return counts, err
		}
		if _, err := p.deps.Chunks.ReplaceForFile(ctx, repoID, rel, result.Chunks); err != nil {
			return counts, err
		}
		lineCount := strings.Count(content, "\n") + 1
		if err := p.deps.Summaries.UpsertFileContent(ctx, summary.NewFileContent(repoID, rel, content, lineCount)); err != nil {
			return counts, err
		}

		counts["files"]++
		counts["symbols"] += len(result.Symbols)
		counts["chunks"] += len(result.Chunks)
	}

	p.logger.Info("parse stage finished", "repo_id", repoID,
		"files", counts["files"], "skipped", counts["skipped"],
		"removed", counts["removed"], "errors", counts["errors"])
	return counts, nil
}

// removeVanished drops index rows for previously parsed files that no
// longer exist on disk within the stage's scope. The lexical index keeps
// its stale documents until the next rebuild; it has no per-file delete.
func (p *Pipeline) removeVanished(ctx context.Context, repoID int64, pathFilter string, onDisk []string) (int, error) {
	stored, err := p.deps.Summaries.ListFilePaths(ctx, repoID)
	if err != nil {
		return 0, err
	}

	present := make(map[string]bool, len(onDisk))
	for _, rel := range onDisk {
		present[rel] = true
	}
	var vanished []string
	for _, fp := range stored {
		if underFilter(fp, pathFilter) && !present[fp] {
			vanished = append(vanished, fp)
		}
	}
	if len(vanished) == 0 {
		return 0, nil
	}

	if err := p.deps.Symbols.DeleteByFiles(ctx, repoID, vanished); err != nil {
		return 0, err
	}
	if err := p.deps.Chunks.DeleteByFiles(ctx, repoID, vanished); err != nil {
		return 0, err
	}
	if err := p.deps.Summaries.DeleteFileSummariesByFiles(ctx, repoID, vanished); err != nil {
		return 0, err
	}
	if err := p.deps.Summaries.DeleteFileContentsByFiles(ctx, repoID, vanished); err != nil {
		return 0, err
	}
	if err := p.deps.Vectors.DeleteByFiles(ctx, repoID, vanished); err != nil {
		return 0, err
	}
	return len(vanished), nil
}

// sourceFiles lists repo-relative paths of supported source files,
// honoring .gitignore and skipping the .git directory.
func (p *Pipeline) sourceFiles(root, pathFilter string) ([]string, error) {
	var matcher *ignore.GitIgnore
	if compiled, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		matcher = compiled
	}

	pathFilter = strings.Trim(pathFilter, "/")

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if d.Name() == ".git" || (matcher != nil && matcher.MatchesPath(rel)) {
				return filepath.SkipDir
			}
			return nil
		}

		if !p.deps.Parser.Supports(rel) {
			return nil
		}
		if matcher != nil && matcher.MatchesPath(rel) {
			return nil
		}
		if !underFilter(rel, pathFilter) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

func underFilter(rel, pathFilter string) bool {
	if pathFilter == "" {
		return true
	}
	return rel == pathFilter || strings.HasPrefix(rel, pathFilter+"/")
}
