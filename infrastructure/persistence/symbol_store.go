package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/indiseek/indiseek/domain/symbol"
	"github.com/indiseek/indiseek/internal/apperr"
	"github.com/indiseek/indiseek/internal/database"
	"gorm.io/gorm"
)

// SymbolStore implements symbol.Store using GORM.
type SymbolStore struct {
	db database.Database
}

// NewSymbolStore creates a SymbolStore.
func NewSymbolStore(db database.Database) SymbolStore {
	return SymbolStore{db: db}
}

var _ symbol.Store = SymbolStore{}

// ReplaceForFile deletes the file's previous symbols and inserts the new
// set in one transaction. Parent links are derived from range containment
// within the batch: each symbol's parent is the innermost other symbol
// whose range strictly contains it.
func (s SymbolStore) ReplaceForFile(ctx context.Context, repoID int64, filePath string, symbols []symbol.Symbol) ([]symbol.Symbol, error) {
	inserted := make([]symbol.Symbol, 0, len(symbols))
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Delete(&SymbolModel{}, "repo_id = ? AND file_path = ?", repoID, filePath).Error; err != nil {
			return fmt.Errorf("clear symbols for %s: %w", filePath, err)
		}
		for _, sym := range symbols {
			model := symbolToModel(sym)
			model.ID = 0
			model.RepoID = repoID
			model.FilePath = filePath
			model.ParentSymbolID = nil
			if err := tx.Create(&model).Error; err != nil {
				return fmt.Errorf("insert symbol %s: %w", sym.Name(), err)
			}
			inserted = append(inserted, symbolToDomain(model))
		}
		for i, sym := range inserted {
			parent := innermostEnclosing(inserted, i)
			if parent == nil {
				continue
			}
			parentID := parent.ID()
			err := tx.Model(&SymbolModel{}).Where("id = ?", sym.ID()).
				Update("parent_symbol_id", parentID).Error
			if err != nil {
				return fmt.Errorf("link symbol %s to parent: %w", sym.Name(), err)
			}
			inserted[i] = sym.WithParentID(parentID)
		}
		return touchLastIndexAt(tx)
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// innermostEnclosing returns the symbol in the batch whose range strictly
// contains symbols[i] and is the tightest such container, or nil.
func innermostEnclosing(symbols []symbol.Symbol, i int) *symbol.Symbol {
	target := symbols[i].Range()
	var best *symbol.Symbol
	bestSpan := -1
	for j := range symbols {
		if j == i {
			continue
		}
		r := symbols[j].Range()
		contains := r.StartLine() <= target.StartLine() && r.EndLine() >= target.EndLine()
		strict := r.StartLine() != target.StartLine() || r.EndLine() != target.EndLine()
		if !contains || !strict {
			continue
		}
		span := r.EndLine() - r.StartLine()
		if bestSpan == -1 || span < bestSpan {
			best = &symbols[j]
			bestSpan = span
		}
	}
	return best
}

// ListByFile returns the file's symbols ordered by start line.
func (s SymbolStore) ListByFile(ctx context.Context, repoID int64, filePath string) ([]symbol.Symbol, error) {
	var models []SymbolModel
	err := s.db.Session(ctx).
		Where("repo_id = ? AND file_path = ?", repoID, filePath).
		Order("start_line").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list symbols for %s: %w", filePath, err)
	}
	return symbolsToDomain(models), nil
}

// FindByName returns all symbols in the repo with the exact name.
func (s SymbolStore) FindByName(ctx context.Context, repoID int64, name string) ([]symbol.Symbol, error) {
	var models []SymbolModel
	err := s.db.Session(ctx).
		Where("repo_id = ? AND name = ?", repoID, name).
		Order("file_path, start_line").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("find symbols named %s: %w", name, err)
	}
	return symbolsToDomain(models), nil
}

// EnclosingSymbol returns the innermost symbol whose range contains the
// line. Innermost = the containing symbol with the highest start line.
func (s SymbolStore) EnclosingSymbol(ctx context.Context, repoID int64, filePath string, line int) (symbol.Symbol, error) {
	var model SymbolModel
	err := s.db.Session(ctx).
		Where("repo_id = ? AND file_path = ? AND start_line <= ? AND end_line >= ?", repoID, filePath, line, line).
		Order("start_line DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return symbol.Symbol{}, apperr.NotFound("no symbol enclosing %s:%d", filePath, line)
	}
	if err != nil {
		return symbol.Symbol{}, fmt.Errorf("enclosing symbol at %s:%d: %w", filePath, line, err)
	}
	return symbolToDomain(model), nil
}

// DeleteByFiles removes all symbols for the given paths.
func (s SymbolStore) DeleteByFiles(ctx context.Context, repoID int64, filePaths []string) error {
	if len(filePaths) == 0 {
		return nil
	}
	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Delete(&SymbolModel{}, "repo_id = ? AND file_path IN ?", repoID, filePaths).Error; err != nil {
			return fmt.Errorf("delete symbols: %w", err)
		}
		return touchLastIndexAt(tx)
	})
}

// DeleteByRepo removes all symbols for the repo.
func (s SymbolStore) DeleteByRepo(ctx context.Context, repoID int64) error {
	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Delete(&SymbolModel{}, "repo_id = ?", repoID).Error; err != nil {
			return fmt.Errorf("delete symbols for repo %d: %w", repoID, err)
		}
		return touchLastIndexAt(tx)
	})
}

// Count returns the repo's symbol count.
func (s SymbolStore) Count(ctx context.Context, repoID int64) (int64, error) {
	var count int64
	err := s.db.Session(ctx).Model(&SymbolModel{}).Where("repo_id = ?", repoID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count symbols: %w", err)
	}
	return count, nil
}

func symbolToModel(sym symbol.Symbol) SymbolModel {
	r := sym.Range()
	return SymbolModel{
		ID:             sym.ID(),
		RepoID:         sym.RepoID(),
		FilePath:       sym.FilePath(),
		Name:           sym.Name(),
		Kind:           string(sym.Kind()),
		StartLine:      r.StartLine(),
		StartCol:       r.StartCol(),
		EndLine:        r.EndLine(),
		EndCol:         r.EndCol(),
		Signature:      sym.Signature(),
		ParentSymbolID: sym.ParentID(),
	}
}

func symbolToDomain(m SymbolModel) symbol.Symbol {
	return symbol.ReconstructSymbol(
		m.ID,
		m.RepoID,
		m.FilePath,
		m.Name,
		symbol.Kind(m.Kind),
		symbol.NewRange(m.StartLine, m.StartCol, m.EndLine, m.EndCol),
		m.Signature,
		m.ParentSymbolID,
	)
}

func symbolsToDomain(models []SymbolModel) []symbol.Symbol {
	out := make([]symbol.Symbol, len(models))
	for i, m := range models {
		out[i] = symbolToDomain(m)
	}
	return out
}
