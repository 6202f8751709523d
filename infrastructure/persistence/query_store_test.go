package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiseek/indiseek/domain/query"
	"github.com/indiseek/indiseek/infrastructure/persistence"
	"github.com/indiseek/indiseek/internal/apperr"
	"github.com/indiseek/indiseek/internal/testdb"
)

func TestQueryStore_CreateAndComplete(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewQueryStore(testdb.New(t))

	created, err := store.Create(ctx, query.NewQuery(1, "how does auth work?", "single"))
	require.NoError(t, err)
	assert.NotZero(t, created.ID())
	assert.Equal(t, query.StatusRunning, created.Status())

	evidence := []query.EvidenceStep{
		{ToolName: "search_code", Args: map[string]any{"query": "auth"}, Summary: "3 hits"},
	}
	usage := query.UsageStats{PromptTokens: 1200, CompletionTokens: 300, EstimatedCost: 0.004}
	require.NoError(t, store.Update(ctx, created.Completed("Auth uses JWT middleware.", evidence, usage)))

	got, err := store.Get(ctx, created.ID())
	require.NoError(t, err)
	assert.Equal(t, query.StatusCompleted, got.Status())
	assert.Equal(t, "Auth uses JWT middleware.", got.Answer())
	require.Len(t, got.Evidence(), 1)
	assert.Equal(t, "search_code", got.Evidence()[0].ToolName)
	assert.Equal(t, 1200, got.Usage().PromptTokens)
	require.NotNil(t, got.CompletedAt())
}

func TestQueryStore_Failed(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewQueryStore(testdb.New(t))

	created, err := store.Create(ctx, query.NewQuery(1, "q", "classic"))
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, created.Failed("provider timeout")))

	got, err := store.Get(ctx, created.ID())
	require.NoError(t, err)
	assert.Equal(t, query.StatusFailed, got.Status())
	assert.Equal(t, "provider timeout", got.Error())
}

func TestQueryStore_List(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewQueryStore(testdb.New(t))

	for _, prompt := range []string{"first", "second", "third"} {
		_, err := store.Create(ctx, query.NewQuery(1, prompt, "single"))
		require.NoError(t, err)
	}
	_, err := store.Create(ctx, query.NewQuery(2, "other repo", "single"))
	require.NoError(t, err)

	queries, err := store.List(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, queries, 2)
	assert.Equal(t, "third", queries[0].Prompt())

	all, err := store.List(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	count, err := store.Count(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestQueryStore_CompletedSince(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewQueryStore(testdb.New(t))

	old, err := store.Create(ctx, query.NewQuery(1, "old", "single"))
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, old.Completed("old answer", nil, query.UsageStats{})))

	cutoff := time.Now().UTC()
	time.Sleep(5 * time.Millisecond)

	fresh, err := store.Create(ctx, query.NewQuery(1, "fresh", "single"))
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, fresh.Completed("fresh answer", nil, query.UsageStats{})))

	running, err := store.Create(ctx, query.NewQuery(1, "running", "single"))
	require.NoError(t, err)
	_ = running

	recent, err := store.CompletedSince(ctx, 1, cutoff)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "fresh", recent[0].Prompt())
}

func TestQueryStore_CachedRowKeepsSource(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewQueryStore(testdb.New(t))

	src, err := store.Create(ctx, query.NewQuery(1, "original", "single"))
	require.NoError(t, err)
	src = src.Completed("answer", []query.EvidenceStep{{ToolName: "read_file", Summary: "read main.go"}}, query.UsageStats{})
	require.NoError(t, store.Update(ctx, src))

	cached, err := store.Create(ctx, query.CachedFrom(src, "original question rephrased"))
	require.NoError(t, err)

	got, err := store.Get(ctx, cached.ID())
	require.NoError(t, err)
	assert.Equal(t, query.StatusCached, got.Status())
	assert.Equal(t, "answer", got.Answer())
	require.NotNil(t, got.SourceQueryID())
	assert.Equal(t, src.ID(), *got.SourceQueryID())
	require.Len(t, got.Evidence(), 1)
}

func TestQueryStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewQueryStore(testdb.New(t))

	_, err := store.Get(ctx, 99)
	assert.True(t, apperr.IsNotFound(err))
}
