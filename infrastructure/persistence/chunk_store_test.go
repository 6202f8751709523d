package persistence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiseek/indiseek/domain/chunk"
	"github.com/indiseek/indiseek/infrastructure/persistence"
	"github.com/indiseek/indiseek/internal/apperr"
	"github.com/indiseek/indiseek/internal/testdb"
)

func TestChunkStore_ReplaceForFile(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewChunkStore(testdb.New(t))

	inserted, err := store.ReplaceForFile(ctx, 1, "main.go", []chunk.Chunk{
		chunk.NewChunk(1, "main.go", "main", chunk.TypeFunction, 5, 20, "func main() {}", 8),
		chunk.NewChunk(1, "main.go", "", chunk.TypeFile, 1, 4, "package main", 3),
	})
	require.NoError(t, err)
	require.Len(t, inserted, 2)
	assert.NotZero(t, inserted[0].ID())
	assert.Equal(t, 8, inserted[0].TokenEstimate())

	// Second replace wins completely.
	_, err = store.ReplaceForFile(ctx, 1, "main.go", []chunk.Chunk{
		chunk.NewChunk(1, "main.go", "main", chunk.TypeFunction, 5, 25, "func main() { run() }", 10),
	})
	require.NoError(t, err)

	listed, err := store.ListByFile(ctx, 1, "main.go")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, 25, listed[0].EndLine())
}

func TestChunkStore_GetAndListByIDs(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewChunkStore(testdb.New(t))

	inserted, err := store.ReplaceForFile(ctx, 1, "a.go", []chunk.Chunk{
		chunk.NewChunk(1, "a.go", "A", chunk.TypeFunction, 1, 10, "func A() {}", 5),
		chunk.NewChunk(1, "a.go", "B", chunk.TypeFunction, 12, 20, "func B() {}", 5),
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, 1, inserted[0].ID())
	require.NoError(t, err)
	assert.Equal(t, "A", got.SymbolName())

	// Unknown ids are skipped, not errors.
	byIDs, err := store.ListByIDs(ctx, 1, []int64{inserted[1].ID(), 9999})
	require.NoError(t, err)
	require.Len(t, byIDs, 1)
	assert.Equal(t, "B", byIDs[0].SymbolName())

	// Wrong repo scope yields not found.
	_, err = store.Get(ctx, 2, inserted[0].ID())
	assert.True(t, apperr.IsNotFound(err))
}

func TestChunkStore_ListByFiles(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewChunkStore(testdb.New(t))

	for _, path := range []string{"x.go", "y.go"} {
		_, err := store.ReplaceForFile(ctx, 1, path, []chunk.Chunk{
			chunk.NewChunk(1, path, "f", chunk.TypeFunction, 1, 2, "...", 1),
		})
		require.NoError(t, err)
	}

	chunks, err := store.ListByFiles(ctx, 1, []string{"x.go"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "x.go", chunks[0].FilePath())

	chunks, err = store.ListByFiles(ctx, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	all, err := store.ListByRepo(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestChunkStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewChunkStore(testdb.New(t))

	_, err := store.ReplaceForFile(ctx, 1, "x.go", []chunk.Chunk{
		chunk.NewChunk(1, "x.go", "f", chunk.TypeFunction, 1, 2, "...", 1),
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteByFiles(ctx, 1, []string{"x.go"}))
	count, err := store.Count(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, count)
}
