package lexical_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiseek/indiseek/infrastructure/lexical"
)

func testDocs() []lexical.Document {
	return []lexical.Document{
		{ChunkID: 1, FilePath: "auth/jwt.go", SymbolName: "ValidateToken", Language: "go",
			Content: "func ValidateToken(token string) error { return verifySignature(token) }"},
		{ChunkID: 2, FilePath: "auth/middleware.go", SymbolName: "AuthMiddleware", Language: "go",
			Content: "func AuthMiddleware(next http.Handler) http.Handler { token := r.Header.Get(\"Authorization\") }"},
		{ChunkID: 3, FilePath: "storage/db.go", SymbolName: "OpenDatabase", Language: "go",
			Content: "func OpenDatabase(path string) (*sql.DB, error) { return sql.Open(\"sqlite\", path) }"},
	}
}

func TestManager_RebuildAndSearch(t *testing.T) {
	ctx := context.Background()
	m := lexical.NewManager(t.TempDir(), nil)
	defer m.Close()

	require.NoError(t, m.Rebuild(ctx, 1, testDocs()))

	count, err := m.DocCount(1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	hits, err := m.Search(ctx, 1, "token", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	ids := make(map[int64]bool)
	for _, h := range hits {
		assert.Positive(t, h.Score())
		ids[h.ChunkID()] = true
	}
	assert.True(t, ids[1])
	assert.False(t, ids[3])
}

func TestManager_SearchMatchesSymbolNames(t *testing.T) {
	ctx := context.Background()
	m := lexical.NewManager(t.TempDir(), nil)
	defer m.Close()

	require.NoError(t, m.Rebuild(ctx, 1, testDocs()))

	hits, err := m.Search(ctx, 1, "OpenDatabase", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.EqualValues(t, 3, hits[0].ChunkID())
}

func TestManager_RebuildReplacesIndex(t *testing.T) {
	ctx := context.Background()
	m := lexical.NewManager(t.TempDir(), nil)
	defer m.Close()

	require.NoError(t, m.Rebuild(ctx, 1, testDocs()))
	require.NoError(t, m.Rebuild(ctx, 1, []lexical.Document{
		{ChunkID: 9, FilePath: "new.go", SymbolName: "Fresh", Language: "go", Content: "func Fresh() {}"},
	}))

	count, err := m.DocCount(1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	hits, err := m.Search(ctx, 1, "token", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestManager_MissingIndexYieldsNoHits(t *testing.T) {
	ctx := context.Background()
	m := lexical.NewManager(t.TempDir(), nil)
	defer m.Close()

	hits, err := m.Search(ctx, 42, "anything", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	count, err := m.DocCount(42)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestManager_DeleteRepo(t *testing.T) {
	ctx := context.Background()
	m := lexical.NewManager(t.TempDir(), nil)
	defer m.Close()

	require.NoError(t, m.Rebuild(ctx, 1, testDocs()))
	require.NoError(t, m.DeleteRepo(1))

	hits, err := m.Search(ctx, 1, "token", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestManager_ReposAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := lexical.NewManager(t.TempDir(), nil)
	defer m.Close()

	require.NoError(t, m.Rebuild(ctx, 1, testDocs()))
	require.NoError(t, m.Rebuild(ctx, 2, []lexical.Document{
		{ChunkID: 50, FilePath: "other.go", SymbolName: "Other", Language: "go", Content: "completely unrelated words"},
	}))

	hits, err := m.Search(ctx, 2, "token", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = m.Search(ctx, 2, "unrelated", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.EqualValues(t, 50, hits[0].ChunkID())
}
