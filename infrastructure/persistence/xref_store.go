package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/indiseek/indiseek/domain/symbol"
	"github.com/indiseek/indiseek/domain/xref"
	"github.com/indiseek/indiseek/internal/apperr"
	"github.com/indiseek/indiseek/internal/database"
	"gorm.io/gorm"
)

// XrefStore implements xref.Store using GORM.
type XrefStore struct {
	db database.Database
}

// NewXrefStore creates an XrefStore.
func NewXrefStore(db database.Database) XrefStore {
	return XrefStore{db: db}
}

var _ xref.Store = XrefStore{}

// UpsertSymbol inserts the symbol or returns the existing row for the same
// (symbol_string, repo_id). The lookup-first path keeps databases that
// predate the composite unique index consistent; the insert-race fallback
// handles concurrent loaders on fresh databases.
func (s XrefStore) UpsertSymbol(ctx context.Context, sym xref.CrossRefSymbol) (xref.CrossRefSymbol, error) {
	session := s.db.Session(ctx)

	var existing XrefSymbolModel
	err := session.First(&existing, "repo_id = ? AND symbol_string = ?", sym.RepoID(), sym.SymbolString()).Error
	if err == nil {
		return xrefSymbolToDomain(existing), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return xref.CrossRefSymbol{}, fmt.Errorf("lookup xref symbol: %w", err)
	}

	model := XrefSymbolModel{
		RepoID:        sym.RepoID(),
		SymbolString:  sym.SymbolString(),
		Documentation: sym.Documentation(),
	}
	if err := session.Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			if err := session.First(&existing, "repo_id = ? AND symbol_string = ?", sym.RepoID(), sym.SymbolString()).Error; err != nil {
				return xref.CrossRefSymbol{}, fmt.Errorf("lookup xref symbol after conflict: %w", err)
			}
			return xrefSymbolToDomain(existing), nil
		}
		return xref.CrossRefSymbol{}, fmt.Errorf("insert xref symbol: %w", err)
	}
	return xrefSymbolToDomain(model), nil
}

// InsertOccurrences bulk-inserts occurrences in one transaction.
func (s XrefStore) InsertOccurrences(ctx context.Context, occs []xref.Occurrence) error {
	if len(occs) == 0 {
		return nil
	}
	models := make([]OccurrenceModel, len(occs))
	for i, o := range occs {
		models[i] = occurrenceToModel(o)
		models[i].ID = 0
	}
	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(models, 500).Error; err != nil {
			return fmt.Errorf("insert occurrences: %w", err)
		}
		return touchLastIndexAt(tx)
	})
}

// InsertRelationships bulk-inserts relationships in one transaction.
func (s XrefStore) InsertRelationships(ctx context.Context, rels []xref.Relationship) error {
	if len(rels) == 0 {
		return nil
	}
	models := make([]RelationshipModel, len(rels))
	for i, r := range rels {
		models[i] = RelationshipModel{
			XrefSymbolID:        r.XrefSymbolID(),
			RelatedXrefSymbolID: r.RelatedID(),
			Kind:                string(r.Kind()),
			RepoID:              r.RepoID(),
		}
	}
	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(models, 500).Error; err != nil {
			return fmt.Errorf("insert relationships: %w", err)
		}
		return touchLastIndexAt(tx)
	})
}

// FindSymbols returns symbols whose symbol_string contains name.
func (s XrefStore) FindSymbols(ctx context.Context, repoID int64, name string) ([]xref.CrossRefSymbol, error) {
	var models []XrefSymbolModel
	err := s.db.Session(ctx).
		Where("repo_id = ? AND symbol_string LIKE ?", repoID, "%"+name+"%").
		Order("symbol_string").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("find xref symbols %q: %w", name, err)
	}
	out := make([]xref.CrossRefSymbol, len(models))
	for i, m := range models {
		out[i] = xrefSymbolToDomain(m)
	}
	return out, nil
}

// GetSymbol returns one cross-reference symbol by id, scoped to the repo.
func (s XrefStore) GetSymbol(ctx context.Context, repoID, id int64) (xref.CrossRefSymbol, error) {
	var model XrefSymbolModel
	err := s.db.Session(ctx).First(&model, "repo_id = ? AND id = ?", repoID, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return xref.CrossRefSymbol{}, apperr.NotFound("xref symbol %d", id)
	}
	if err != nil {
		return xref.CrossRefSymbol{}, fmt.Errorf("get xref symbol %d: %w", id, err)
	}
	return xrefSymbolToDomain(model), nil
}

// OccurrencesBySymbol returns occurrences of the symbol with the given role,
// ordered by file and line.
func (s XrefStore) OccurrencesBySymbol(ctx context.Context, xrefSymbolID int64, role xref.Role) ([]xref.Occurrence, error) {
	var models []OccurrenceModel
	err := s.db.Session(ctx).
		Where("xref_symbol_id = ? AND role = ?", xrefSymbolID, string(role)).
		Order("file_path, start_line").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("occurrences for symbol %d: %w", xrefSymbolID, err)
	}
	return occurrencesToDomain(models), nil
}

// OccurrencesInRange returns occurrences of the given role whose start line
// falls within [startLine, endLine] of the file.
func (s XrefStore) OccurrencesInRange(ctx context.Context, repoID int64, filePath string, startLine, endLine int, role xref.Role) ([]xref.Occurrence, error) {
	var models []OccurrenceModel
	err := s.db.Session(ctx).
		Where("repo_id = ? AND file_path = ? AND role = ? AND start_line BETWEEN ? AND ?",
			repoID, filePath, string(role), startLine, endLine).
		Order("start_line, start_col").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("occurrences in %s:%d-%d: %w", filePath, startLine, endLine, err)
	}
	return occurrencesToDomain(models), nil
}

// DeleteOccurrencesByFiles removes occurrences for the given paths. Symbol
// rows stay; whole-repo reloads clear them through DeleteByRepo.
func (s XrefStore) DeleteOccurrencesByFiles(ctx context.Context, repoID int64, filePaths []string) error {
	if len(filePaths) == 0 {
		return nil
	}
	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Delete(&OccurrenceModel{}, "repo_id = ? AND file_path IN ?", repoID, filePaths).Error; err != nil {
			return fmt.Errorf("delete occurrences: %w", err)
		}
		return touchLastIndexAt(tx)
	})
}

// DeleteByRepo removes the repo's symbols, occurrences and relationships.
func (s XrefStore) DeleteByRepo(ctx context.Context, repoID int64) error {
	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Delete(&OccurrenceModel{}, "repo_id = ?", repoID).Error; err != nil {
			return fmt.Errorf("delete occurrences for repo %d: %w", repoID, err)
		}
		if err := tx.Delete(&RelationshipModel{}, "repo_id = ?", repoID).Error; err != nil {
			return fmt.Errorf("delete relationships for repo %d: %w", repoID, err)
		}
		if err := tx.Delete(&XrefSymbolModel{}, "repo_id = ?", repoID).Error; err != nil {
			return fmt.Errorf("delete xref symbols for repo %d: %w", repoID, err)
		}
		return touchLastIndexAt(tx)
	})
}

// CountSymbols returns the repo's cross-reference symbol count.
func (s XrefStore) CountSymbols(ctx context.Context, repoID int64) (int64, error) {
	var count int64
	err := s.db.Session(ctx).Model(&XrefSymbolModel{}).Where("repo_id = ?", repoID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count xref symbols: %w", err)
	}
	return count, nil
}

// CountOccurrences returns the repo's occurrence count.
func (s XrefStore) CountOccurrences(ctx context.Context, repoID int64) (int64, error) {
	var count int64
	err := s.db.Session(ctx).Model(&OccurrenceModel{}).Where("repo_id = ?", repoID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count occurrences: %w", err)
	}
	return count, nil
}

func xrefSymbolToDomain(m XrefSymbolModel) xref.CrossRefSymbol {
	return xref.ReconstructCrossRefSymbol(m.ID, m.RepoID, m.SymbolString, m.Documentation)
}

func occurrenceToModel(o xref.Occurrence) OccurrenceModel {
	r := o.Range()
	return OccurrenceModel{
		ID:           o.ID(),
		XrefSymbolID: o.XrefSymbolID(),
		RepoID:       o.RepoID(),
		FilePath:     o.FilePath(),
		StartLine:    r.StartLine(),
		StartCol:     r.StartCol(),
		EndLine:      r.EndLine(),
		EndCol:       r.EndCol(),
		Role:         string(o.Role()),
	}
}

func occurrencesToDomain(models []OccurrenceModel) []xref.Occurrence {
	out := make([]xref.Occurrence, len(models))
	for i, m := range models {
		out[i] = xref.ReconstructOccurrence(
			m.ID,
			m.XrefSymbolID,
			m.RepoID,
			m.FilePath,
			symbol.NewRange(m.StartLine, m.StartCol, m.EndLine, m.EndCol),
			xref.Role(m.Role),
		)
	}
	return out
}
