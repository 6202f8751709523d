// Package vector provides the per-repo embedding store backed by SQLite
// tables with JSON-encoded vectors and in-process cosine search.
package vector

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/indiseek/indiseek/internal/database"
)

// Float64Slice is a custom type for JSON serialization of []float64 in
// SQLite.
type Float64Slice []float64

// Scan implements sql.Scanner for reading JSON from SQLite.
func (f *Float64Slice) Scan(value any) error {
	if value == nil {
		*f = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Float64Slice", value)
	}

	return json.Unmarshal(data, f)
}

// Value implements driver.Valuer for writing JSON to SQLite.
func (f Float64Slice) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	return json.Marshal(f)
}

// EmbeddingRow is one stored chunk embedding. Table routing happens via
// .Table(name) at the call site because GORM caches schemas by type and a
// dynamic TableName() cannot serve multiple tables for one struct.
type EmbeddingRow struct {
	ID         int64        `gorm:"column:id;primaryKey;autoIncrement"`
	ChunkID    int64        `gorm:"column:chunk_id;uniqueIndex"`
	FilePath   string       `gorm:"column:file_path"`
	SymbolName string       `gorm:"column:symbol_name"`
	ChunkType  string       `gorm:"column:chunk_type"`
	Content    string       `gorm:"column:content"`
	Embedding  Float64Slice `gorm:"column:embedding;type:json"`
}

// Entry is one chunk embedding to store.
type Entry struct {
	ChunkID    int64
	FilePath   string
	SymbolName string
	ChunkType  string
	Content    string
	Embedding  []float64
}

// ErrDimensionMismatch indicates an embedding whose dimensionality differs
// from the one the repo's table was first written with.
var ErrDimensionMismatch = fmt.Errorf("embedding dimensionality mismatch")

// Store keeps one `chunks_{repo_id}` table per repo. Rows reference chunk
// ids in the relational chunks table; stale rows are tolerated by readers
// and cleared on the next re-embed of the file.
type Store struct {
	db     database.Database
	logger *slog.Logger

	mu      sync.Mutex
	created map[int64]bool
}

// NewStore creates a Store.
func NewStore(db database.Database, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:      db,
		logger:  logger,
		created: make(map[int64]bool),
	}
}

func tableName(repoID int64) string {
	return fmt.Sprintf("chunks_%d", repoID)
}

// ensureTable creates the repo's embedding table on first use. Raw SQL
// because AutoMigrate caches schemas by type, which conflicts with dynamic
// table names.
func (s *Store) ensureTable(ctx context.Context, repoID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.created[repoID] {
		return nil
	}

	createSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chunk_id INTEGER NOT NULL UNIQUE,
    file_path TEXT NOT NULL,
    symbol_name TEXT NOT NULL DEFAULT '',
    chunk_type TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    embedding JSON NOT NULL
)`, tableName(repoID))
	if err := s.db.Session(ctx).Exec(createSQL).Error; err != nil {
		return fmt.Errorf("create vector table for repo %d: %w", repoID, err)
	}

	s.created[repoID] = true
	return nil
}

// Upsert stores embeddings for the given chunks, replacing any previous
// vector for the same chunk id. The repo's dimensionality is pinned on
// first write; later writes with a different dimensionality fail.
func (s *Store) Upsert(ctx context.Context, repoID int64, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := s.ensureTable(ctx, repoID); err != nil {
		return err
	}
	if err := s.checkDims(ctx, repoID, entries); err != nil {
		return err
	}

	table := tableName(repoID)
	session := s.db.Session(ctx)
	for _, e := range entries {
		emb := make(Float64Slice, len(e.Embedding))
		copy(emb, e.Embedding)
		raw, err := json.Marshal(emb)
		if err != nil {
			return fmt.Errorf("marshal embedding for chunk %d: %w", e.ChunkID, err)
		}
		upsertSQL := fmt.Sprintf(`
INSERT INTO %s (chunk_id, file_path, symbol_name, chunk_type, content, embedding) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(chunk_id) DO UPDATE SET
    file_path = excluded.file_path,
    symbol_name = excluded.symbol_name,
    chunk_type = excluded.chunk_type,
    content = excluded.content,
    embedding = excluded.embedding`, table)
		if err := session.Exec(upsertSQL, e.ChunkID, e.FilePath, e.SymbolName, e.ChunkType, e.Content, string(raw)).Error; err != nil {
			return fmt.Errorf("upsert embedding for chunk %d: %w", e.ChunkID, err)
		}
	}
	return s.touchLastIndexAt(ctx)
}

// checkDims pins the repo's embedding dimensionality on first write and
// rejects mismatched writes afterwards.
func (s *Store) checkDims(ctx context.Context, repoID int64, entries []Entry) error {
	dims := len(entries[0].Embedding)
	for _, e := range entries {
		if len(e.Embedding) != dims {
			return fmt.Errorf("%w: batch mixes %d and %d", ErrDimensionMismatch, dims, len(e.Embedding))
		}
	}

	key := fmt.Sprintf("embedding_dims_%d", repoID)
	session := s.db.Session(ctx)

	var stored string
	err := session.Raw("SELECT value FROM metadata WHERE key = ?", key).Scan(&stored).Error
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if stored == "" {
		err := session.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, strconv.Itoa(dims)).Error
		if err != nil {
			return fmt.Errorf("pin %s: %w", key, err)
		}
		return nil
	}
	pinned, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	if pinned != dims {
		return fmt.Errorf("%w: repo %d pinned at %d, got %d", ErrDimensionMismatch, repoID, pinned, dims)
	}
	return nil
}

// Search returns the limit most similar chunk ids to the query embedding.
// Similarity is computed in-process over all stored vectors of the repo.
func (s *Store) Search(ctx context.Context, repoID int64, query []float64, limit int) ([]Match, error) {
	if len(query) == 0 {
		return []Match{}, nil
	}
	if limit <= 0 {
		limit = 10
	}
	if err := s.ensureTable(ctx, repoID); err != nil {
		return nil, err
	}

	var rows []EmbeddingRow
	err := s.db.Session(ctx).Table(tableName(repoID)).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load vectors for repo %d: %w", repoID, err)
	}

	vectors := make([]StoredVector, 0, len(rows))
	for _, r := range rows {
		if len(r.Embedding) == 0 {
			s.logger.Warn("skipping empty embedding", "chunk_id", r.ChunkID)
			continue
		}
		vectors = append(vectors, NewStoredVector(r.ChunkID, r.Embedding))
	}

	return TopKSimilar(query, vectors, limit), nil
}

// EmbeddedChunkIDs returns the set of chunk ids that already have a stored
// vector. The embed stage uses it to skip unchanged chunks.
func (s *Store) EmbeddedChunkIDs(ctx context.Context, repoID int64) (map[int64]bool, error) {
	if err := s.ensureTable(ctx, repoID); err != nil {
		return nil, err
	}

	var ids []int64
	err := s.db.Session(ctx).Table(tableName(repoID)).Pluck("chunk_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list embedded chunk ids for repo %d: %w", repoID, err)
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// DeleteByFiles removes vectors for chunks of the given paths.
func (s *Store) DeleteByFiles(ctx context.Context, repoID int64, filePaths []string) error {
	if len(filePaths) == 0 {
		return nil
	}
	if err := s.ensureTable(ctx, repoID); err != nil {
		return err
	}

	err := s.db.Session(ctx).Table(tableName(repoID)).
		Where("file_path IN ?", filePaths).
		Delete(&EmbeddingRow{}).Error
	if err != nil {
		return fmt.Errorf("delete vectors by files for repo %d: %w", repoID, err)
	}
	return s.touchLastIndexAt(ctx)
}

// DropRepo removes the repo's embedding table entirely.
func (s *Store) DropRepo(ctx context.Context, repoID int64) error {
	s.mu.Lock()
	delete(s.created, repoID)
	s.mu.Unlock()

	dropSQL := fmt.Sprintf("DROP TABLE IF EXISTS %s", tableName(repoID))
	if err := s.db.Session(ctx).Exec(dropSQL).Error; err != nil {
		return fmt.Errorf("drop vector table for repo %d: %w", repoID, err)
	}
	key := fmt.Sprintf("embedding_dims_%d", repoID)
	if err := s.db.Session(ctx).Exec("DELETE FROM metadata WHERE key = ?", key).Error; err != nil {
		return fmt.Errorf("clear %s: %w", key, err)
	}
	return s.touchLastIndexAt(ctx)
}

// Count returns the number of stored vectors for the repo.
func (s *Store) Count(ctx context.Context, repoID int64) (int64, error) {
	if err := s.ensureTable(ctx, repoID); err != nil {
		return 0, err
	}

	var count int64
	err := s.db.Session(ctx).Table(tableName(repoID)).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count vectors for repo %d: %w", repoID, err)
	}
	return count, nil
}

// touchLastIndexAt records the mutation in the shared metadata table so the
// query cache invalidates. Raw SQL keeps this package independent of the
// persistence stores.
func (s *Store) touchLastIndexAt(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := s.db.Session(ctx).Exec(`
INSERT INTO metadata (key, value) VALUES ('last_index_at', ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, now).Error
	if err != nil {
		return fmt.Errorf("touch last_index_at: %w", err)
	}
	return nil
}
