package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/indiseek/indiseek/domain/chunk"
	"github.com/indiseek/indiseek/internal/apperr"
	"github.com/indiseek/indiseek/internal/database"
	"gorm.io/gorm"
)

// ChunkStore implements chunk.Store using GORM.
type ChunkStore struct {
	db database.Database
}

// NewChunkStore creates a ChunkStore.
func NewChunkStore(db database.Database) ChunkStore {
	return ChunkStore{db: db}
}

var _ chunk.Store = ChunkStore{}

// ReplaceForFile deletes the file's previous chunks and inserts the new set
// in one transaction, returning the inserted chunks with their assigned ids.
func (s ChunkStore) ReplaceForFile(ctx context.Context, repoID int64, filePath string, chunks []chunk.Chunk) ([]chunk.Chunk, error) {
	inserted := make([]chunk.Chunk, 0, len(chunks))
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Delete(&ChunkModel{}, "repo_id = ? AND file_path = ?", repoID, filePath).Error; err != nil {
			return fmt.Errorf("clear chunks for %s: %w", filePath, err)
		}
		for _, c := range chunks {
			model := chunkToModel(c)
			model.ID = 0
			model.RepoID = repoID
			model.FilePath = filePath
			if err := tx.Create(&model).Error; err != nil {
				return fmt.Errorf("insert chunk %s:%d: %w", filePath, c.StartLine(), err)
			}
			inserted = append(inserted, chunkToDomain(model))
		}
		return touchLastIndexAt(tx)
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// Get returns one chunk by id, scoped to the repo.
func (s ChunkStore) Get(ctx context.Context, repoID, id int64) (chunk.Chunk, error) {
	var model ChunkModel
	err := s.db.Session(ctx).First(&model, "repo_id = ? AND id = ?", repoID, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return chunk.Chunk{}, apperr.NotFound("chunk %d", id)
	}
	if err != nil {
		return chunk.Chunk{}, fmt.Errorf("get chunk %d: %w", id, err)
	}
	return chunkToDomain(model), nil
}

// ListByRepo returns every chunk of the repo ordered by file and line.
func (s ChunkStore) ListByRepo(ctx context.Context, repoID int64) ([]chunk.Chunk, error) {
	var models []ChunkModel
	err := s.db.Session(ctx).
		Where("repo_id = ?", repoID).
		Order("file_path, start_line").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list chunks for repo %d: %w", repoID, err)
	}
	return chunksToDomain(models), nil
}

// ListByFile returns the file's chunks ordered by start line.
func (s ChunkStore) ListByFile(ctx context.Context, repoID int64, filePath string) ([]chunk.Chunk, error) {
	var models []ChunkModel
	err := s.db.Session(ctx).
		Where("repo_id = ? AND file_path = ?", repoID, filePath).
		Order("start_line").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list chunks for %s: %w", filePath, err)
	}
	return chunksToDomain(models), nil
}

// ListByFiles returns chunks for the given paths ordered by file and line.
func (s ChunkStore) ListByFiles(ctx context.Context, repoID int64, filePaths []string) ([]chunk.Chunk, error) {
	if len(filePaths) == 0 {
		return nil, nil
	}
	var models []ChunkModel
	err := s.db.Session(ctx).
		Where("repo_id = ? AND file_path IN ?", repoID, filePaths).
		Order("file_path, start_line").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list chunks by files: %w", err)
	}
	return chunksToDomain(models), nil
}

// ListByIDs returns the chunks with the given ids. Missing ids are silently
// skipped so retrieval tolerates vector hits that point at deleted chunks.
func (s ChunkStore) ListByIDs(ctx context.Context, repoID int64, ids []int64) ([]chunk.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var models []ChunkModel
	err := s.db.Session(ctx).
		Where("repo_id = ? AND id IN ?", repoID, ids).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list chunks by ids: %w", err)
	}
	return chunksToDomain(models), nil
}

// DeleteByFiles removes all chunks for the given paths.
func (s ChunkStore) DeleteByFiles(ctx context.Context, repoID int64, filePaths []string) error {
	if len(filePaths) == 0 {
		return nil
	}
	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Delete(&ChunkModel{}, "repo_id = ? AND file_path IN ?", repoID, filePaths).Error; err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		return touchLastIndexAt(tx)
	})
}

// DeleteByRepo removes all chunks for the repo.
func (s ChunkStore) DeleteByRepo(ctx context.Context, repoID int64) error {
	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Delete(&ChunkModel{}, "repo_id = ?", repoID).Error; err != nil {
			return fmt.Errorf("delete chunks for repo %d: %w", repoID, err)
		}
		return touchLastIndexAt(tx)
	})
}

// Count returns the repo's chunk count.
func (s ChunkStore) Count(ctx context.Context, repoID int64) (int64, error) {
	var count int64
	err := s.db.Session(ctx).Model(&ChunkModel{}).Where("repo_id = ?", repoID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

func chunkToModel(c chunk.Chunk) ChunkModel {
	return ChunkModel{
		ID:            c.ID(),
		RepoID:        c.RepoID(),
		FilePath:      c.FilePath(),
		SymbolName:    c.SymbolName(),
		ChunkType:     string(c.ChunkType()),
		StartLine:     c.StartLine(),
		EndLine:       c.EndLine(),
		Content:       c.Content(),
		TokenEstimate: c.TokenEstimate(),
	}
}

func chunkToDomain(m ChunkModel) chunk.Chunk {
	return chunk.ReconstructChunk(
		m.ID,
		m.RepoID,
		m.FilePath,
		m.SymbolName,
		chunk.Type(m.ChunkType),
		m.StartLine,
		m.EndLine,
		m.Content,
		m.TokenEstimate,
	)
}

func chunksToDomain(models []ChunkModel) []chunk.Chunk {
	out := make([]chunk.Chunk, len(models))
	for i, m := range models {
		out[i] = chunkToDomain(m)
	}
	return out
}
