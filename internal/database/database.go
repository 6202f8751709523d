// Package database provides database connection and session management using GORM.
package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ErrNotFound indicates the requested entity was not found.
var ErrNotFound = errors.New("entity not found")

// Database wraps a GORM connection to the embedded SQLite file.
type Database struct {
	db *gorm.DB
}

// NewDatabase opens (creating if necessary) the SQLite database at path.
// Pass ":memory:" for an in-memory database. WAL journaling and a busy
// timeout are applied so concurrent readers do not block the writer.
func NewDatabase(ctx context.Context, path string) (Database, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: slogGormLogger{},
	})
	if err != nil {
		return Database{}, fmt.Errorf("open database %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return Database{}, fmt.Errorf("get underlying db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return Database{}, fmt.Errorf("ping database: %w", err)
	}

	// A single writer plus concurrent readers is the access pattern here;
	// WAL makes that work without SQLITE_BUSY storms.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if err := db.WithContext(ctx).Exec(pragma).Error; err != nil {
			return Database{}, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return Database{db: db}, nil
}

// Session returns a GORM session with the given context.
func (d Database) Session(ctx context.Context) *gorm.DB {
	return d.db.WithContext(ctx)
}

// GORM returns the raw GORM handle.
func (d Database) GORM() *gorm.DB {
	return d.db
}

// Close closes the database connection.
func (d Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("get underlying db: %w", err)
	}
	return sqlDB.Close()
}
