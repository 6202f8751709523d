package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/indiseek/indiseek/internal/apperr"
	"github.com/indiseek/indiseek/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Metadata keys.
const (
	// LastIndexAtKey holds the timestamp of the most recent index mutation,
	// used for wholesale query-cache invalidation.
	LastIndexAtKey = "last_index_at"
)

// EmbeddingDimsKey returns the metadata key pinning a repo's embedding
// dimensionality.
func EmbeddingDimsKey(repoID int64) string {
	return fmt.Sprintf("embedding_dims_%d", repoID)
}

// MetadataStore persists the global metadata key-value table.
type MetadataStore struct {
	db database.Database
}

// NewMetadataStore creates a MetadataStore.
func NewMetadataStore(db database.Database) MetadataStore {
	return MetadataStore{db: db}
}

// Get returns the value for key, apperr.ErrNotFound when absent.
func (s MetadataStore) Get(ctx context.Context, key string) (string, error) {
	var model MetadataModel
	err := s.db.Session(ctx).First(&model, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperr.NotFound("metadata key %s", key)
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}
	return model.Value, nil
}

// Set upserts the value for key.
func (s MetadataStore) Set(ctx context.Context, key, value string) error {
	model := MetadataModel{Key: key, Value: value}
	err := s.db.Session(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&model).Error
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

// Touch records the current UTC time as the last index mutation.
func (s MetadataStore) Touch(ctx context.Context) error {
	return s.Set(ctx, LastIndexAtKey, time.Now().UTC().Format(time.RFC3339Nano))
}

// LastIndexAt returns the last index mutation time, zero when the index has
// never been mutated.
func (s MetadataStore) LastIndexAt(ctx context.Context) (time.Time, error) {
	raw, err := s.Get(ctx, LastIndexAtKey)
	if apperr.IsNotFound(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", LastIndexAtKey, err)
	}
	return t, nil
}

// touchLastIndexAt upserts last_index_at inside an existing session. Store
// mutations call it so every index change invalidates the query cache.
func touchLastIndexAt(tx *gorm.DB) error {
	model := MetadataModel{Key: LastIndexAtKey, Value: time.Now().UTC().Format(time.RFC3339Nano)}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&model).Error
}
