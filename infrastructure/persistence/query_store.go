package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/indiseek/indiseek/domain/query"
	"github.com/indiseek/indiseek/internal/apperr"
	"github.com/indiseek/indiseek/internal/database"
	"gorm.io/gorm"
)

// QueryStore implements query.Store using GORM. Query rows are history, not
// index state, so writes here do not touch last_index_at.
type QueryStore struct {
	db database.Database
}

// NewQueryStore creates a QueryStore.
func NewQueryStore(db database.Database) QueryStore {
	return QueryStore{db: db}
}

var _ query.Store = QueryStore{}

// Create inserts a new query row and returns it with its assigned id.
func (s QueryStore) Create(ctx context.Context, q query.Query) (query.Query, error) {
	model, err := queryToModel(q)
	if err != nil {
		return query.Query{}, err
	}
	model.ID = 0
	if err := s.db.Session(ctx).Create(&model).Error; err != nil {
		return query.Query{}, fmt.Errorf("create query: %w", err)
	}
	return queryToDomain(model)
}

// Update saves all fields of the query.
func (s QueryStore) Update(ctx context.Context, q query.Query) error {
	model, err := queryToModel(q)
	if err != nil {
		return err
	}
	if err := s.db.Session(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("update query %d: %w", q.ID(), err)
	}
	return nil
}

// Get returns the query with the given id.
func (s QueryStore) Get(ctx context.Context, id int64) (query.Query, error) {
	var model QueryModel
	err := s.db.Session(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return query.Query{}, apperr.NotFound("query %d", id)
	}
	if err != nil {
		return query.Query{}, fmt.Errorf("get query %d: %w", id, err)
	}
	return queryToDomain(model)
}

// List returns the repo's queries, newest first, capped at limit when
// limit > 0.
func (s QueryStore) List(ctx context.Context, repoID int64, limit int) ([]query.Query, error) {
	tx := s.db.Session(ctx).
		Where("repo_id = ?", repoID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var models []QueryModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list queries: %w", err)
	}
	return queriesToDomain(models)
}

// CompletedSince returns completed queries for the repo whose completed_at
// is after the given time, newest first.
func (s QueryStore) CompletedSince(ctx context.Context, repoID int64, since time.Time) ([]query.Query, error) {
	var models []QueryModel
	err := s.db.Session(ctx).
		Where("repo_id = ? AND status = ? AND completed_at > ?", repoID, string(query.StatusCompleted), since).
		Order("completed_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("completed queries since %s: %w", since.Format(time.RFC3339), err)
	}
	return queriesToDomain(models)
}

// Count returns the repo's query count.
func (s QueryStore) Count(ctx context.Context, repoID int64) (int64, error) {
	var count int64
	err := s.db.Session(ctx).Model(&QueryModel{}).Where("repo_id = ?", repoID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count queries: %w", err)
	}
	return count, nil
}

func queryToModel(q query.Query) (QueryModel, error) {
	evidence, err := q.EvidenceJSON()
	if err != nil {
		return QueryModel{}, fmt.Errorf("marshal evidence: %w", err)
	}
	usage := q.Usage()
	return QueryModel{
		ID:               q.ID(),
		RepoID:           q.RepoID(),
		Prompt:           q.Prompt(),
		Answer:           q.Answer(),
		EvidenceJSON:     evidence,
		Status:           string(q.Status()),
		Error:            q.Error(),
		CreatedAt:        q.CreatedAt(),
		CompletedAt:      q.CompletedAt(),
		DurationSecs:     q.DurationSecs(),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		ThinkingTokens:   usage.ThinkingTokens,
		EstimatedCost:    usage.EstimatedCost,
		SourceQueryID:    q.SourceQueryID(),
		Strategy:         q.Strategy(),
	}, nil
}

func queryToDomain(m QueryModel) (query.Query, error) {
	var evidence []query.EvidenceStep
	if m.EvidenceJSON != "" {
		if err := json.Unmarshal([]byte(m.EvidenceJSON), &evidence); err != nil {
			return query.Query{}, fmt.Errorf("unmarshal evidence for query %d: %w", m.ID, err)
		}
	}
	usage := query.UsageStats{
		PromptTokens:     m.PromptTokens,
		CompletionTokens: m.CompletionTokens,
		ThinkingTokens:   m.ThinkingTokens,
		EstimatedCost:    m.EstimatedCost,
	}
	return query.ReconstructQuery(
		m.ID,
		m.RepoID,
		m.Prompt,
		m.Answer,
		evidence,
		query.Status(m.Status),
		m.Error,
		m.CreatedAt,
		m.CompletedAt,
		m.DurationSecs,
		usage,
		m.SourceQueryID,
		m.Strategy,
	), nil
}

func queriesToDomain(models []QueryModel) ([]query.Query, error) {
	out := make([]query.Query, len(models))
	for i, m := range models {
		q, err := queryToDomain(m)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}
