package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiseek/indiseek/domain/repo"
	"github.com/indiseek/indiseek/infrastructure/persistence"
	"github.com/indiseek/indiseek/internal/apperr"
	"github.com/indiseek/indiseek/internal/testdb"
)

func TestRepoStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewRepoStore(testdb.New(t))

	created, err := store.Create(ctx, repo.NewRepo("indiseek", "https://example.com/indiseek.git", "/data/repos/indiseek"))
	require.NoError(t, err)
	assert.NotZero(t, created.ID())
	assert.Equal(t, repo.StatusCloning, created.Status())
	assert.Equal(t, repo.CommitsBehindUnknown, created.CommitsBehind())

	got, err := store.Get(ctx, created.ID())
	require.NoError(t, err)
	assert.Equal(t, "indiseek", got.Name())
	assert.Equal(t, "https://example.com/indiseek.git", got.OriginURL())

	byName, err := store.GetByName(ctx, "indiseek")
	require.NoError(t, err)
	assert.Equal(t, created.ID(), byName.ID())
}

func TestRepoStore_DuplicateNameIsConflict(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewRepoStore(testdb.New(t))

	_, err := store.Create(ctx, repo.NewRepo("dup", "", "/tmp/dup"))
	require.NoError(t, err)

	_, err = store.Create(ctx, repo.NewRepo("dup", "", "/tmp/dup2"))
	assert.True(t, apperr.IsConflict(err))
}

func TestRepoStore_GetMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewRepoStore(testdb.New(t))

	_, err := store.Get(ctx, 42)
	assert.True(t, apperr.IsNotFound(err))

	_, err = store.GetByName(ctx, "nope")
	assert.True(t, apperr.IsNotFound(err))
}

func TestRepoStore_UpdateFreshness(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewRepoStore(testdb.New(t))

	created, err := store.Create(ctx, repo.NewRepo("fresh", "", "/tmp/fresh"))
	require.NoError(t, err)

	indexedAt := time.Now().UTC()
	require.NoError(t, store.Update(ctx, created.WithStatus(repo.StatusActive).WithIndexed("abc123", indexedAt)))

	got, err := store.Get(ctx, created.ID())
	require.NoError(t, err)
	assert.Equal(t, repo.StatusActive, got.Status())
	assert.Equal(t, "abc123", got.IndexedSHA())
	assert.Equal(t, "abc123", got.CurrentSHA())
	assert.Equal(t, 0, got.CommitsBehind())
	require.NotNil(t, got.LastIndexedAt())
}

func TestRepoStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewRepoStore(testdb.New(t))

	a, err := store.Create(ctx, repo.NewRepo("a", "", "/tmp/a"))
	require.NoError(t, err)
	_, err = store.Create(ctx, repo.NewRepo("b", "", "/tmp/b"))
	require.NoError(t, err)

	repos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 2)
	assert.Equal(t, "a", repos[0].Name())

	require.NoError(t, store.Delete(ctx, a.ID()))
	repos, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, repos, 1)
}
