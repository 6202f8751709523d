package agent

import (
	"context"
	"log/slog"

	"github.com/indiseek/indiseek/application/querycache"
	"github.com/indiseek/indiseek/domain/query"
	"github.com/indiseek/indiseek/domain/task"
)

// Service runs queries end to end: cache lookup, agent run, query row
// bookkeeping.
type Service struct {
	runner  *Runner
	queries query.Store
	cache   *querycache.Cache
	logger  *slog.Logger
}

// NewService creates a Service.
func NewService(runner *Runner, queries query.Store, cache *querycache.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{runner: runner, queries: queries, cache: cache, logger: logger}
}

// Lookup consults the query cache. force bypasses it.
func (s *Service) Lookup(ctx context.Context, repoID int64, prompt string, force bool) (query.Query, bool, error) {
	if force {
		return query.Query{}, false, nil
	}
	return s.cache.Lookup(ctx, repoID, prompt)
}

// Execute runs the agent and persists the query row through its
// lifecycle. A failed run is recorded on the row, not returned as an
// error; callers distinguish by the row's status.
func (s *Service) Execute(ctx context.Context, repoID int64, prompt, strategyName string, progress func(task.ProgressEvent)) (query.Query, error) {
	strategy, err := SelectStrategy(strategyName, prompt)
	if err != nil {
		return query.Query{}, err
	}

	q, err := s.queries.Create(ctx, query.NewQuery(repoID, prompt, strategy.Name))
	if err != nil {
		return query.Query{}, err
	}

	result := s.runner.Run(ctx, repoID, prompt, strategy, progress)
	if result.Err != "" {
		q = q.Failed(result.Err)
	} else {
		q = q.Completed(result.Answer, result.Evidence, result.Usage)
	}
	if err := s.queries.Update(ctx, q); err != nil {
		return query.Query{}, err
	}

	s.logger.Info("query finished",
		"query_id", q.ID(), "repo_id", repoID, "strategy", strategy.Name,
		"status", q.Status(), "tool_calls", len(q.Evidence()),
		"cost", q.Usage().EstimatedCost)
	return q, nil
}
