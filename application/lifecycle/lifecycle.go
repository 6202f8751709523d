// Package lifecycle implements repo management: cloning, freshness
// checks, incremental sync and deletion. Long-running work goes through
// the task manager; everything else is synchronous.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/indiseek/indiseek/application/pipeline"
	"github.com/indiseek/indiseek/application/taskmgr"
	"github.com/indiseek/indiseek/domain/chunk"
	"github.com/indiseek/indiseek/domain/repo"
	"github.com/indiseek/indiseek/domain/summary"
	"github.com/indiseek/indiseek/domain/symbol"
	"github.com/indiseek/indiseek/domain/task"
	"github.com/indiseek/indiseek/domain/xref"
	"github.com/indiseek/indiseek/infrastructure/gitrepo"
	"github.com/indiseek/indiseek/infrastructure/lexical"
	"github.com/indiseek/indiseek/infrastructure/parser"
	"github.com/indiseek/indiseek/infrastructure/vector"
	"github.com/indiseek/indiseek/internal/apperr"
	"github.com/indiseek/indiseek/internal/config"
)

// FreshnessStatus describes how a repo's index relates to its remote.
type FreshnessStatus string

// FreshnessStatus values.
const (
	FreshnessCurrent    FreshnessStatus = "current"
	FreshnessStale      FreshnessStatus = "stale"
	FreshnessNotIndexed FreshnessStatus = "not_indexed"
)

// Freshness is the result of a freshness check.
type Freshness struct {
	IndexedSHA    string
	CurrentSHA    string
	CommitsBehind int
	ChangedFiles  []string
	Status        FreshnessStatus
}

// Service manages repo lifecycle operations.
type Service struct {
	repos     repo.Store
	symbols   symbol.Store
	chunks    chunk.Store
	xrefs     xref.Store
	summaries summary.Store
	vectors   *vector.Store
	lexical   *lexical.Manager
	git       *gitrepo.Client
	pipeline  *pipeline.Pipeline
	tasks     *taskmgr.Manager
	cfg       config.AppConfig
	logger    *slog.Logger
}

// Deps bundles the Service's dependencies.
type Deps struct {
	Repos     repo.Store
	Symbols   symbol.Store
	Chunks    chunk.Store
	Xrefs     xref.Store
	Summaries summary.Store
	Vectors   *vector.Store
	Lexical   *lexical.Manager
	Git       *gitrepo.Client
	Pipeline  *pipeline.Pipeline
	Tasks     *taskmgr.Manager
	Config    config.AppConfig
	Logger    *slog.Logger
}

// NewService creates a Service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repos:     deps.Repos,
		symbols:   deps.Symbols,
		chunks:    deps.Chunks,
		xrefs:     deps.Xrefs,
		summaries: deps.Summaries,
		vectors:   deps.Vectors,
		lexical:   deps.Lexical,
		git:       deps.Git,
		pipeline:  deps.Pipeline,
		tasks:     deps.Tasks,
		cfg:       deps.Config,
		logger:    logger,
	}
}

// AddRepo records the repo and schedules a background clone. The repo row
// exists immediately with status cloning; the task flips it to active once
// the clone lands and its HEAD is known.
func (s *Service) AddRepo(ctx context.Context, name, originURL string) (repo.Repo, string, error) {
	if name == "" || originURL == "" {
		return repo.Repo{}, "", apperr.BadRequest("name and url are required")
	}
	if _, err := s.repos.GetByName(ctx, name); err == nil {
		return repo.Repo{}, "", apperr.Conflict("repo %s already exists", name)
	} else if !apperr.IsNotFound(err) {
		return repo.Repo{}, "", err
	}

	created, err := s.repos.Create(ctx, repo.NewRepo(name, originURL, ""))
	if err != nil {
		return repo.Repo{}, "", err
	}
	localPath := s.cfg.RepoDir(created.ID())
	created = created.WithLocalPath(localPath)
	if err := s.repos.Update(ctx, created); err != nil {
		return repo.Repo{}, "", err
	}

	repoID := created.ID()
	taskID, err := s.tasks.Submit("clone "+name, func(taskCtx context.Context, progress func(task.ProgressEvent)) (map[string]any, error) {
		progress(task.Progress("clone", 0, 1, originURL))
		if err := s.git.Clone(taskCtx, originURL, localPath); err != nil {
			return nil, err
		}
		head, err := s.git.HeadSHA(taskCtx, localPath)
		if err != nil {
			return nil, err
		}

		r, err := s.repos.Get(taskCtx, repoID)
		if err != nil {
			return nil, err
		}
		r = r.WithCurrentSHA(head).WithStatus(repo.StatusActive)
		if err := s.repos.Update(taskCtx, r); err != nil {
			return nil, err
		}
		progress(task.Progress("clone", 1, 1, head))
		return map[string]any{"repo_id": repoID, "head": head}, nil
	})
	if err != nil {
		// The slot is taken; do not leave a repo row that will never clone.
		_ = s.repos.Delete(ctx, repoID)
		return repo.Repo{}, "", err
	}
	return created, taskID, nil
}

// CheckFreshness fetches the remote and reports how far the index is
// behind. It mutates only the repo row's freshness fields, never the
// indexed data, so repeated checks are idempotent.
func (s *Service) CheckFreshness(ctx context.Context, repoID int64) (Freshness, error) {
	r, err := s.repos.Get(ctx, repoID)
	if err != nil {
		return Freshness{}, err
	}
	if r.Status() != repo.StatusActive {
		return Freshness{}, apperr.BadRequest("repo %s is %s", r.Name(), r.Status())
	}

	if err := s.git.Fetch(ctx, r.LocalPath()); err != nil {
		s.logger.Warn("fetch failed, checking against local refs", "repo", r.Name(), "error", err)
	}
	current, err := s.git.RemoteHeadSHA(ctx, r.LocalPath())
	if err != nil {
		return Freshness{}, err
	}

	out := Freshness{
		IndexedSHA: r.IndexedSHA(),
		CurrentSHA: current,
	}
	switch {
	case r.IndexedSHA() == "":
		out.CommitsBehind = repo.CommitsBehindUnknown
		out.Status = FreshnessNotIndexed
	case r.IndexedSHA() == current:
		out.CommitsBehind = 0
		out.Status = FreshnessCurrent
	default:
		behind, err := s.git.CommitsBehind(ctx, r.LocalPath(), r.IndexedSHA(), current)
		if err != nil {
			return Freshness{}, err
		}
		changed, err := s.git.ChangedFiles(ctx, r.LocalPath(), r.IndexedSHA(), current)
		if err != nil {
			return Freshness{}, err
		}
		out.CommitsBehind = behind
		out.ChangedFiles = changed
		out.Status = FreshnessStale
	}

	if err := s.repos.Update(ctx, r.WithFreshness(current, out.CommitsBehind)); err != nil {
		return Freshness{}, err
	}
	return out, nil
}

// Index schedules a full index of the repo through every pipeline stage.
func (s *Service) Index(ctx context.Context, repoID int64) (string, error) {
	r, err := s.repos.Get(ctx, repoID)
	if err != nil {
		return "", err
	}
	return s.tasks.Submit("index "+r.Name(), func(taskCtx context.Context, progress func(task.ProgressEvent)) (map[string]any, error) {
		counts, err := s.pipeline.IndexAll(taskCtx, repoID, pipeline.Progress(progress))
		if err != nil {
			return toResult(counts), err
		}
		if err := s.markIndexed(taskCtx, repoID); err != nil {
			return toResult(counts), err
		}
		return toResult(counts), nil
	})
}

// Sync schedules an incremental re-index: pull, drop data for deleted
// files, then re-run the stages. Parse, embed and summarize skip
// everything whose inputs are unchanged, so only the diff is re-processed;
// the lexical index and cross-references are rebuilt whole because neither
// updates incrementally.
func (s *Service) Sync(ctx context.Context, repoID int64) (string, error) {
	r, err := s.repos.Get(ctx, repoID)
	if err != nil {
		return "", err
	}
	if r.Status() != repo.StatusActive {
		return "", apperr.BadRequest("repo %s is %s", r.Name(), r.Status())
	}

	return s.tasks.Submit("sync "+r.Name(), func(taskCtx context.Context, progress func(task.ProgressEvent)) (map[string]any, error) {
		return s.runSync(taskCtx, repoID, pipeline.Progress(progress))
	})
}

func (s *Service) runSync(ctx context.Context, repoID int64, progress pipeline.Progress) (map[string]any, error) {
	r, err := s.repos.Get(ctx, repoID)
	if err != nil {
		return nil, err
	}

	if err := s.git.Pull(ctx, r.LocalPath()); err != nil {
		return nil, err
	}
	head, err := s.git.HeadSHA(ctx, r.LocalPath())
	if err != nil {
		return nil, err
	}
	if r.IndexedSHA() == head {
		return map[string]any{"up_to_date": true, "head": head}, nil
	}

	// A never-indexed repo has no diff to scope by; index everything.
	if r.IndexedSHA() != "" {
		if err := s.dropStaleData(ctx, r, head); err != nil {
			return nil, err
		}
	}

	counts, err := s.pipeline.IndexAll(ctx, repoID, progress)
	if err != nil {
		return toResult(counts), err
	}
	if err := s.markIndexed(ctx, repoID); err != nil {
		return toResult(counts), err
	}

	result := toResult(counts)
	result["head"] = head
	return result, nil
}

// dropStaleData removes rows invalidated by the diff between the indexed
// SHA and head: all rows of deleted files, plus the summaries of changed
// files and their ancestor directories so summarization regenerates them.
func (s *Service) dropStaleData(ctx context.Context, r repo.Repo, head string) error {
	changed, err := s.git.ChangedFiles(ctx, r.LocalPath(), r.IndexedSHA(), head)
	if err != nil {
		return err
	}
	deleted, err := s.git.DeletedFiles(ctx, r.LocalPath(), r.IndexedSHA(), head)
	if err != nil {
		return err
	}
	repoID := r.ID()

	if len(deleted) > 0 {
		if err := s.symbols.DeleteByFiles(ctx, repoID, deleted); err != nil {
			return err
		}
		if err := s.chunks.DeleteByFiles(ctx, repoID, deleted); err != nil {
			return err
		}
		if err := s.summaries.DeleteFileSummariesByFiles(ctx, repoID, deleted); err != nil {
			return err
		}
		if err := s.summaries.DeleteFileContentsByFiles(ctx, repoID, deleted); err != nil {
			return err
		}
		if err := s.xrefs.DeleteOccurrencesByFiles(ctx, repoID, deleted); err != nil {
			return err
		}
		if err := s.vectors.DeleteByFiles(ctx, repoID, deleted); err != nil {
			return err
		}
	}

	var modified []string
	deletedSet := make(map[string]bool, len(deleted))
	for _, f := range deleted {
		deletedSet[f] = true
	}
	for _, f := range changed {
		if !deletedSet[f] && parser.LanguageFor(f) != "" {
			modified = append(modified, f)
		}
	}
	if len(modified) > 0 {
		// Stale file summaries would be skipped as already present.
		if err := s.summaries.DeleteFileSummariesByFiles(ctx, repoID, modified); err != nil {
			return err
		}
	}

	dirs := ancestorDirs(append(modified, deleted...))
	if len(dirs) > 0 {
		if err := s.summaries.DeleteDirectorySummaries(ctx, repoID, dirs); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRepo marks the repo deleted and removes everything derived from
// it: the clone, the vector table, the lexical index and all relational
// rows.
func (s *Service) DeleteRepo(ctx context.Context, repoID int64) error {
	r, err := s.repos.Get(ctx, repoID)
	if err != nil {
		return err
	}
	if err := s.repos.Update(ctx, r.WithStatus(repo.StatusDeleted)); err != nil {
		return err
	}

	if r.LocalPath() != "" {
		if err := os.RemoveAll(r.LocalPath()); err != nil {
			return fmt.Errorf("remove clone: %w", err)
		}
	}
	if err := s.vectors.DropRepo(ctx, repoID); err != nil {
		return err
	}
	if err := s.lexical.DeleteRepo(repoID); err != nil {
		return err
	}
	if err := s.symbols.DeleteByRepo(ctx, repoID); err != nil {
		return err
	}
	if err := s.chunks.DeleteByRepo(ctx, repoID); err != nil {
		return err
	}
	if err := s.xrefs.DeleteByRepo(ctx, repoID); err != nil {
		return err
	}
	if err := s.summaries.DeleteByRepo(ctx, repoID); err != nil {
		return err
	}

	s.logger.Info("repo deleted", "repo_id", repoID, "name", r.Name())
	return nil
}

// EnsureLegacyRepo inserts the id=1 repo row when the repos table is empty
// but indexed data exists, pointing at the configured legacy path. This
// keeps an index built before repos were first-class usable without a
// re-index.
func (s *Service) EnsureLegacyRepo(ctx context.Context) error {
	if s.cfg.RepoPath() == "" {
		return nil
	}
	existing, err := s.repos.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	count, err := s.symbols.Count(ctx, 1)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	name := path.Base(s.cfg.RepoPath())
	r, err := s.repos.Create(ctx, repo.NewLocalRepo(name, s.cfg.RepoPath()))
	if err != nil {
		return err
	}
	if r.ID() != 1 {
		return fmt.Errorf("legacy repo got id %d, expected 1", r.ID())
	}
	s.logger.Info("adopted legacy single-repo index", "name", name, "path", s.cfg.RepoPath())
	return nil
}

func (s *Service) markIndexed(ctx context.Context, repoID int64) error {
	r, err := s.repos.Get(ctx, repoID)
	if err != nil {
		return err
	}
	head, err := s.git.HeadSHA(ctx, r.LocalPath())
	if err != nil {
		return err
	}
	r = r.WithIndexed(head, time.Now().UTC()).WithFreshness(head, 0)
	return s.repos.Update(ctx, r)
}

// ancestorDirs returns every ancestor directory of the given files,
// excluding the root.
func ancestorDirs(files []string) []string {
	seen := make(map[string]bool)
	for _, f := range files {
		for dir := path.Dir(f); dir != "." && dir != "/"; dir = path.Dir(dir) {
			seen[dir] = true
		}
	}
	dirs := make([]string, 0, len(seen))
	for dir := range seen {
		dirs = append(dirs, dir)
	}
	return dirs
}

func toResult(counts map[string]int) map[string]any {
	out := make(map[string]any, len(counts))
	for k, v := range counts {
		out[k] = v
	}
	return out
}
