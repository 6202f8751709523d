// Package persistence provides database storage implementations.
package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/indiseek/indiseek/internal/database"
)

// allModels returns every GORM model that AutoMigrate manages.
func allModels() []any {
	return []any{
		&RepoModel{},
		&SymbolModel{},
		&ChunkModel{},
		&XrefSymbolModel{},
		&OccurrenceModel{},
		&RelationshipModel{},
		&FileSummaryModel{},
		&DirectorySummaryModel{},
		&FileContentModel{},
		&QueryModel{},
		&MetadataModel{},
	}
}

// AutoMigrate runs GORM auto migration for all models and then applies the
// idempotent legacy-column migrations.
func AutoMigrate(db database.Database) error {
	if err := db.GORM().AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return migrateLegacyColumns(context.Background(), db)
}

// migrateLegacyColumns adds columns that postdate the single-repo era.
// Each addition checks the catalog first, so re-running is a no-op. Existing
// rows get the legacy default (repo_id=1).
func migrateLegacyColumns(ctx context.Context, db database.Database) error {
	additions := []struct {
		table      string
		column     string
		definition string
	}{
		{"symbols", "repo_id", "INTEGER NOT NULL DEFAULT 1"},
		{"chunks", "repo_id", "INTEGER NOT NULL DEFAULT 1"},
		{"xref_symbols", "repo_id", "INTEGER NOT NULL DEFAULT 1"},
		{"occurrences", "repo_id", "INTEGER NOT NULL DEFAULT 1"},
		{"xref_relationships", "repo_id", "INTEGER NOT NULL DEFAULT 1"},
		{"file_summaries", "repo_id", "INTEGER NOT NULL DEFAULT 1"},
		{"directory_summaries", "repo_id", "INTEGER NOT NULL DEFAULT 1"},
		{"file_contents", "repo_id", "INTEGER NOT NULL DEFAULT 1"},
		{"queries", "repo_id", "INTEGER NOT NULL DEFAULT 1"},
		{"repos", "commits_behind", "INTEGER NOT NULL DEFAULT -1"},
		{"queries", "strategy", "TEXT NOT NULL DEFAULT ''"},
		{"queries", "prompt_tokens", "INTEGER NOT NULL DEFAULT 0"},
		{"queries", "completion_tokens", "INTEGER NOT NULL DEFAULT 0"},
		{"queries", "thinking_tokens", "INTEGER NOT NULL DEFAULT 0"},
		{"queries", "estimated_cost", "REAL NOT NULL DEFAULT 0"},
	}
	for _, a := range additions {
		added, err := database.AddColumnIfMissing(ctx, db, a.table, a.column, a.definition)
		if err != nil {
			return err
		}
		if added {
			slog.Info("schema migration: column added", "table", a.table, "column", a.column)
		}
	}
	return nil
}
