package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/indiseek/indiseek/domain/repo"
	"github.com/indiseek/indiseek/internal/apperr"
	"github.com/indiseek/indiseek/internal/database"
	"gorm.io/gorm"
)

// RepoStore implements repo.Store using GORM.
type RepoStore struct {
	db database.Database
}

// NewRepoStore creates a RepoStore.
func NewRepoStore(db database.Database) RepoStore {
	return RepoStore{db: db}
}

var _ repo.Store = RepoStore{}

// Create inserts a new repo. Duplicate names surface as Conflict.
func (s RepoStore) Create(ctx context.Context, r repo.Repo) (repo.Repo, error) {
	model := repoToModel(r)
	if err := s.db.Session(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return repo.Repo{}, apperr.Conflict("repo name %s already exists", r.Name())
		}
		return repo.Repo{}, fmt.Errorf("create repo: %w", err)
	}
	return repoToDomain(model), nil
}

// Get returns the repo with the given id.
func (s RepoStore) Get(ctx context.Context, id int64) (repo.Repo, error) {
	var model RepoModel
	err := s.db.Session(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repo.Repo{}, apperr.NotFound("repo %d", id)
	}
	if err != nil {
		return repo.Repo{}, fmt.Errorf("get repo %d: %w", id, err)
	}
	return repoToDomain(model), nil
}

// GetByName returns the repo with the given unique name.
func (s RepoStore) GetByName(ctx context.Context, name string) (repo.Repo, error) {
	var model RepoModel
	err := s.db.Session(ctx).First(&model, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repo.Repo{}, apperr.NotFound("repo %s", name)
	}
	if err != nil {
		return repo.Repo{}, fmt.Errorf("get repo %s: %w", name, err)
	}
	return repoToDomain(model), nil
}

// List returns all repos ordered by id.
func (s RepoStore) List(ctx context.Context) ([]repo.Repo, error) {
	var models []RepoModel
	if err := s.db.Session(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	repos := make([]repo.Repo, len(models))
	for i, m := range models {
		repos[i] = repoToDomain(m)
	}
	return repos, nil
}

// Update saves all fields of the repo.
func (s RepoStore) Update(ctx context.Context, r repo.Repo) error {
	model := repoToModel(r)
	if err := s.db.Session(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("update repo %d: %w", r.ID(), err)
	}
	return nil
}

// Delete removes the repo row.
func (s RepoStore) Delete(ctx context.Context, id int64) error {
	if err := s.db.Session(ctx).Delete(&RepoModel{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete repo %d: %w", id, err)
	}
	return nil
}

func repoToModel(r repo.Repo) RepoModel {
	return RepoModel{
		ID:               r.ID(),
		Name:             r.Name(),
		OriginURL:        r.OriginURL(),
		LocalPath:        r.LocalPath(),
		CreatedAt:        r.CreatedAt(),
		LastIndexedAt:    r.LastIndexedAt(),
		IndexedCommitSHA: r.IndexedSHA(),
		CurrentCommitSHA: r.CurrentSHA(),
		CommitsBehind:    r.CommitsBehind(),
		Status:           string(r.Status()),
	}
}

func repoToDomain(m RepoModel) repo.Repo {
	return repo.ReconstructRepo(
		m.ID,
		m.Name,
		m.OriginURL,
		m.LocalPath,
		m.CreatedAt,
		m.LastIndexedAt,
		m.IndexedCommitSHA,
		m.CurrentCommitSHA,
		m.CommitsBehind,
		repo.Status(m.Status),
	)
}

// isUniqueViolation detects sqlite unique-constraint failures without
// depending on driver error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
