package persistence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiseek/indiseek/domain/symbol"
	"github.com/indiseek/indiseek/infrastructure/persistence"
	"github.com/indiseek/indiseek/internal/apperr"
	"github.com/indiseek/indiseek/internal/testdb"
)

func TestSymbolStore_ReplaceForFile(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewSymbolStore(testdb.New(t))

	first := []symbol.Symbol{
		symbol.NewSymbol(1, "pkg/a.go", "Parse", symbol.KindFunction, symbol.NewRange(10, 0, 30, 1), "func Parse(src []byte) (*File, error)"),
		symbol.NewSymbol(1, "pkg/a.go", "File", symbol.KindType, symbol.NewRange(3, 0, 8, 1), "type File struct"),
	}
	inserted, err := store.ReplaceForFile(ctx, 1, "pkg/a.go", first)
	require.NoError(t, err)
	require.Len(t, inserted, 2)
	assert.NotZero(t, inserted[0].ID())

	// Replacing drops the old rows entirely.
	second := []symbol.Symbol{
		symbol.NewSymbol(1, "pkg/a.go", "ParseAll", symbol.KindFunction, symbol.NewRange(10, 0, 40, 1), ""),
	}
	_, err = store.ReplaceForFile(ctx, 1, "pkg/a.go", second)
	require.NoError(t, err)

	listed, err := store.ListByFile(ctx, 1, "pkg/a.go")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "ParseAll", listed[0].Name())

	count, err := store.Count(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestSymbolStore_FindByName(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewSymbolStore(testdb.New(t))

	_, err := store.ReplaceForFile(ctx, 1, "a.go", []symbol.Symbol{
		symbol.NewSymbol(1, "a.go", "Run", symbol.KindFunction, symbol.NewRange(1, 0, 5, 1), ""),
	})
	require.NoError(t, err)
	_, err = store.ReplaceForFile(ctx, 1, "b.go", []symbol.Symbol{
		symbol.NewSymbol(1, "b.go", "Run", symbol.KindMethod, symbol.NewRange(7, 0, 9, 1), ""),
	})
	require.NoError(t, err)

	found, err := store.FindByName(ctx, 1, "Run")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "a.go", found[0].FilePath())

	// Other repos are invisible.
	found, err = store.FindByName(ctx, 2, "Run")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestSymbolStore_EnclosingSymbol(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewSymbolStore(testdb.New(t))

	_, err := store.ReplaceForFile(ctx, 1, "svc.go", []symbol.Symbol{
		symbol.NewSymbol(1, "svc.go", "Service", symbol.KindClass, symbol.NewRange(1, 0, 100, 1), ""),
		symbol.NewSymbol(1, "svc.go", "Start", symbol.KindMethod, symbol.NewRange(20, 4, 40, 5), ""),
	})
	require.NoError(t, err)

	// A line inside both spans resolves to the innermost symbol.
	enclosing, err := store.EnclosingSymbol(ctx, 1, "svc.go", 25)
	require.NoError(t, err)
	assert.Equal(t, "Start", enclosing.Name())

	enclosing, err = store.EnclosingSymbol(ctx, 1, "svc.go", 50)
	require.NoError(t, err)
	assert.Equal(t, "Service", enclosing.Name())

	_, err = store.EnclosingSymbol(ctx, 1, "svc.go", 200)
	assert.True(t, apperr.IsNotFound(err))
}

func TestSymbolStore_ParentLinks(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewSymbolStore(testdb.New(t))

	inserted, err := store.ReplaceForFile(ctx, 1, "svc.py", []symbol.Symbol{
		symbol.NewSymbol(1, "svc.py", "Service", symbol.KindClass, symbol.NewRange(1, 0, 100, 1), ""),
		symbol.NewSymbol(1, "svc.py", "start", symbol.KindMethod, symbol.NewRange(20, 4, 40, 5), ""),
		symbol.NewSymbol(1, "svc.py", "helper", symbol.KindFunction, symbol.NewRange(110, 0, 120, 1), ""),
	})
	require.NoError(t, err)
	require.Len(t, inserted, 3)

	assert.Nil(t, inserted[0].ParentID())
	require.NotNil(t, inserted[1].ParentID())
	assert.Equal(t, inserted[0].ID(), *inserted[1].ParentID())
	assert.Nil(t, inserted[2].ParentID())

	// The link survives a round trip through the store.
	listed, err := store.ListByFile(ctx, 1, "svc.py")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	require.NotNil(t, listed[1].ParentID())
	assert.Equal(t, listed[0].ID(), *listed[1].ParentID())
}

func TestSymbolStore_DeleteByFiles(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewSymbolStore(testdb.New(t))

	for _, path := range []string{"a.go", "b.go", "c.go"} {
		_, err := store.ReplaceForFile(ctx, 1, path, []symbol.Symbol{
			symbol.NewSymbol(1, path, "X", symbol.KindFunction, symbol.NewRange(1, 0, 2, 1), ""),
		})
		require.NoError(t, err)
	}

	require.NoError(t, store.DeleteByFiles(ctx, 1, []string{"a.go", "c.go"}))

	count, err := store.Count(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	require.NoError(t, store.DeleteByRepo(ctx, 1))
	count, err = store.Count(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, count)
}
