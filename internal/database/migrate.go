package database

import (
	"context"
	"fmt"
)

// HasColumn reports whether the given table has the named column.
func HasColumn(ctx context.Context, db Database, table, column string) (bool, error) {
	var count int64
	err := db.Session(ctx).
		Raw("SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).
		Scan(&count).Error
	if err != nil {
		return false, fmt.Errorf("inspect %s.%s: %w", table, column, err)
	}
	return count > 0, nil
}

// AddColumnIfMissing performs an idempotent ALTER TABLE ... ADD COLUMN.
// Databases created before the column existed get it added with the
// definition's DEFAULT; fresh databases already have it from AutoMigrate and
// are left untouched. Returns true when the column was added.
func AddColumnIfMissing(ctx context.Context, db Database, table, column, definition string) (bool, error) {
	has, err := HasColumn(ctx, db, table, column)
	if err != nil {
		return false, err
	}
	if has {
		return false, nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if err := db.Session(ctx).Exec(stmt).Error; err != nil {
		return false, fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return true, nil
}

// TableExists reports whether a table with the given name exists.
func TableExists(ctx context.Context, db Database, table string) (bool, error) {
	var count int64
	err := db.Session(ctx).
		Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).
		Scan(&count).Error
	if err != nil {
		return false, fmt.Errorf("inspect table %s: %w", table, err)
	}
	return count > 0, nil
}
