package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/indiseek/indiseek/domain/summary"
	"github.com/indiseek/indiseek/internal/apperr"
	"github.com/indiseek/indiseek/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SummaryStore implements summary.Store using GORM.
type SummaryStore struct {
	db database.Database
}

// NewSummaryStore creates a SummaryStore.
func NewSummaryStore(db database.Database) SummaryStore {
	return SummaryStore{db: db}
}

var _ summary.Store = SummaryStore{}

// UpsertFileSummary inserts or replaces the file's summary.
func (s SummaryStore) UpsertFileSummary(ctx context.Context, fs summary.FileSummary) error {
	model := FileSummaryModel{
		RepoID:    fs.RepoID(),
		FilePath:  fs.FilePath(),
		Summary:   fs.Summary(),
		Language:  fs.Language(),
		LineCount: fs.LineCount(),
	}
	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "repo_id"}, {Name: "file_path"}},
			DoUpdates: clause.AssignmentColumns([]string{"summary", "language", "line_count"}),
		}).Create(&model).Error
		if err != nil {
			return fmt.Errorf("upsert file summary %s: %w", fs.FilePath(), err)
		}
		return touchLastIndexAt(tx)
	})
}

// GetFileSummary returns the file's summary.
func (s SummaryStore) GetFileSummary(ctx context.Context, repoID int64, filePath string) (summary.FileSummary, error) {
	var model FileSummaryModel
	err := s.db.Session(ctx).First(&model, "repo_id = ? AND file_path = ?", repoID, filePath).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return summary.FileSummary{}, apperr.NotFound("file summary %s", filePath)
	}
	if err != nil {
		return summary.FileSummary{}, fmt.Errorf("get file summary %s: %w", filePath, err)
	}
	return fileSummaryToDomain(model), nil
}

// ListFileSummaries returns all file summaries of the repo ordered by path.
func (s SummaryStore) ListFileSummaries(ctx context.Context, repoID int64) ([]summary.FileSummary, error) {
	var models []FileSummaryModel
	err := s.db.Session(ctx).
		Where("repo_id = ?", repoID).
		Order("file_path").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list file summaries: %w", err)
	}
	out := make([]summary.FileSummary, len(models))
	for i, m := range models {
		out[i] = fileSummaryToDomain(m)
	}
	return out, nil
}

// DeleteFileSummariesByFiles removes summaries for the given paths.
func (s SummaryStore) DeleteFileSummariesByFiles(ctx context.Context, repoID int64, filePaths []string) error {
	if len(filePaths) == 0 {
		return nil
	}
	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Delete(&FileSummaryModel{}, "repo_id = ? AND file_path IN ?", repoID, filePaths).Error; err != nil {
			return fmt.Errorf("delete file summaries: %w", err)
		}
		return touchLastIndexAt(tx)
	})
}

// UpsertDirectorySummary inserts or replaces the directory's summary.
func (s SummaryStore) UpsertDirectorySummary(ctx context.Context, ds summary.DirectorySummary) error {
	model := DirectorySummaryModel{
		RepoID:  ds.RepoID(),
		DirPath: ds.DirPath(),
		Summary: ds.Summary(),
	}
	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "repo_id"}, {Name: "dir_path"}},
			DoUpdates: clause.AssignmentColumns([]string{"summary"}),
		}).Create(&model).Error
		if err != nil {
			return fmt.Errorf("upsert directory summary %s: %w", ds.DirPath(), err)
		}
		return touchLastIndexAt(tx)
	})
}

// GetDirectorySummary returns the directory's summary.
func (s SummaryStore) GetDirectorySummary(ctx context.Context, repoID int64, dirPath string) (summary.DirectorySummary, error) {
	var model DirectorySummaryModel
	err := s.db.Session(ctx).First(&model, "repo_id = ? AND dir_path = ?", repoID, dirPath).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return summary.DirectorySummary{}, apperr.NotFound("directory summary %s", dirPath)
	}
	if err != nil {
		return summary.DirectorySummary{}, fmt.Errorf("get directory summary %s: %w", dirPath, err)
	}
	return summary.NewDirectorySummary(model.RepoID, model.DirPath, model.Summary), nil
}

// ListDirectorySummaries returns all directory summaries of the repo ordered
// by path.
func (s SummaryStore) ListDirectorySummaries(ctx context.Context, repoID int64) ([]summary.DirectorySummary, error) {
	var models []DirectorySummaryModel
	err := s.db.Session(ctx).
		Where("repo_id = ?", repoID).
		Order("dir_path").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list directory summaries: %w", err)
	}
	out := make([]summary.DirectorySummary, len(models))
	for i, m := range models {
		out[i] = summary.NewDirectorySummary(m.RepoID, m.DirPath, m.Summary)
	}
	return out, nil
}

// DeleteDirectorySummaries removes summaries for the given directories.
func (s SummaryStore) DeleteDirectorySummaries(ctx context.Context, repoID int64, dirPaths []string) error {
	if len(dirPaths) == 0 {
		return nil
	}
	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Delete(&DirectorySummaryModel{}, "repo_id = ? AND dir_path IN ?", repoID, dirPaths).Error; err != nil {
			return fmt.Errorf("delete directory summaries: %w", err)
		}
		return touchLastIndexAt(tx)
	})
}

// UpsertFileContent inserts or replaces the stored file content.
func (s SummaryStore) UpsertFileContent(ctx context.Context, fc summary.FileContent) error {
	model := FileContentModel{
		RepoID:    fc.RepoID(),
		FilePath:  fc.FilePath(),
		Content:   fc.Content(),
		LineCount: fc.LineCount(),
	}
	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "repo_id"}, {Name: "file_path"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "line_count"}),
		}).Create(&model).Error
		if err != nil {
			return fmt.Errorf("upsert file content %s: %w", fc.FilePath(), err)
		}
		return touchLastIndexAt(tx)
	})
}

// GetFileContent returns the stored content of the file.
func (s SummaryStore) GetFileContent(ctx context.Context, repoID int64, filePath string) (summary.FileContent, error) {
	var model FileContentModel
	err := s.db.Session(ctx).First(&model, "repo_id = ? AND file_path = ?", repoID, filePath).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return summary.FileContent{}, apperr.NotFound("file %s", filePath)
	}
	if err != nil {
		return summary.FileContent{}, fmt.Errorf("get file content %s: %w", filePath, err)
	}
	return summary.NewFileContent(model.RepoID, model.FilePath, model.Content, model.LineCount), nil
}

// ListFilePaths returns every stored file path of the repo, sorted.
func (s SummaryStore) ListFilePaths(ctx context.Context, repoID int64) ([]string, error) {
	var paths []string
	err := s.db.Session(ctx).Model(&FileContentModel{}).
		Where("repo_id = ?", repoID).
		Order("file_path").
		Pluck("file_path", &paths).Error
	if err != nil {
		return nil, fmt.Errorf("list file paths: %w", err)
	}
	return paths, nil
}

// DeleteFileContentsByFiles removes stored contents for the given paths.
func (s SummaryStore) DeleteFileContentsByFiles(ctx context.Context, repoID int64, filePaths []string) error {
	if len(filePaths) == 0 {
		return nil
	}
	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Delete(&FileContentModel{}, "repo_id = ? AND file_path IN ?", repoID, filePaths).Error; err != nil {
			return fmt.Errorf("delete file contents: %w", err)
		}
		return touchLastIndexAt(tx)
	})
}

// DeleteByRepo removes all summaries and contents for the repo.
func (s SummaryStore) DeleteByRepo(ctx context.Context, repoID int64) error {
	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Delete(&FileSummaryModel{}, "repo_id = ?", repoID).Error; err != nil {
			return fmt.Errorf("delete file summaries for repo %d: %w", repoID, err)
		}
		if err := tx.Delete(&DirectorySummaryModel{}, "repo_id = ?", repoID).Error; err != nil {
			return fmt.Errorf("delete directory summaries for repo %d: %w", repoID, err)
		}
		if err := tx.Delete(&FileContentModel{}, "repo_id = ?", repoID).Error; err != nil {
			return fmt.Errorf("delete file contents for repo %d: %w", repoID, err)
		}
		return touchLastIndexAt(tx)
	})
}

// CountFileSummaries returns the repo's file summary count.
func (s SummaryStore) CountFileSummaries(ctx context.Context, repoID int64) (int64, error) {
	var count int64
	err := s.db.Session(ctx).Model(&FileSummaryModel{}).Where("repo_id = ?", repoID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count file summaries: %w", err)
	}
	return count, nil
}

// CountDirectorySummaries returns the repo's directory summary count.
func (s SummaryStore) CountDirectorySummaries(ctx context.Context, repoID int64) (int64, error) {
	var count int64
	err := s.db.Session(ctx).Model(&DirectorySummaryModel{}).Where("repo_id = ?", repoID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count directory summaries: %w", err)
	}
	return count, nil
}

func fileSummaryToDomain(m FileSummaryModel) summary.FileSummary {
	return summary.NewFileSummary(m.RepoID, m.FilePath, m.Summary, m.Language, m.LineCount)
}
