package retrieval_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiseek/indiseek/application/retrieval"
	"github.com/indiseek/indiseek/domain/chunk"
	"github.com/indiseek/indiseek/domain/summary"
	"github.com/indiseek/indiseek/domain/symbol"
	"github.com/indiseek/indiseek/domain/xref"
	"github.com/indiseek/indiseek/infrastructure/lexical"
	"github.com/indiseek/indiseek/infrastructure/persistence"
	"github.com/indiseek/indiseek/infrastructure/provider"
	"github.com/indiseek/indiseek/infrastructure/vector"
	"github.com/indiseek/indiseek/internal/apperr"
	"github.com/indiseek/indiseek/internal/config"
	"github.com/indiseek/indiseek/internal/testdb"
)

// keywordEmbedder maps texts onto a tiny fixed vocabulary so semantic
// search is deterministic without a provider.
type keywordEmbedder struct {
	fail bool
}

var vocabulary = []string{"parse", "render", "config"}

func (e keywordEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, provider.Usage, error) {
	if e.fail {
		return nil, provider.Usage{}, fmt.Errorf("%w: embedder down", apperr.ErrProviderTransient)
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, len(vocabulary))
		lower := strings.ToLower(text)
		for j, word := range vocabulary {
			if strings.Contains(lower, word) {
				vec[j] = 1
			}
		}
		out[i] = vec
	}
	return out, provider.Usage{}, nil
}

func (keywordEmbedder) Model() string { return "keyword" }
func (keywordEmbedder) Dims() int     { return len(vocabulary) }

type env struct {
	svc       *retrieval.Service
	chunks    chunk.Store
	symbols   symbol.Store
	xrefs     xref.Store
	summaries summary.Store
	vectors   *vector.Store
	lex       *lexical.Manager
	embedder  *keywordEmbedder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testdb.New(t)
	lex := lexical.NewManager(t.TempDir(), nil)
	t.Cleanup(func() { _ = lex.Close() })

	e := &env{
		chunks:    persistence.NewChunkStore(db),
		symbols:   persistence.NewSymbolStore(db),
		xrefs:     persistence.NewXrefStore(db),
		summaries: persistence.NewSummaryStore(db),
		vectors:   vector.NewStore(db, nil),
		lex:       lex,
		embedder:  &keywordEmbedder{},
	}
	e.svc = retrieval.NewService(retrieval.Deps{
		Symbols:     e.symbols,
		Chunks:      e.chunks,
		Xrefs:       e.xrefs,
		Summaries:   e.summaries,
		Vectors:     e.vectors,
		Lexical:     e.lex,
		NewEmbedder: func() (provider.Embedder, error) { return e.embedder, nil },
		Config:      config.NewAppConfig(),
	})
	return e
}

// seedChunks stores chunks relationally, embeds them through the keyword
// embedder and rebuilds the lexical index.
func (e *env) seedChunks(t *testing.T, byFile map[string][]chunk.Chunk) map[string]int64 {
	t.Helper()
	ctx := context.Background()

	ids := make(map[string]int64)
	var docs []lexical.Document
	var entries []vector.Entry
	for filePath, chunks := range byFile {
		inserted, err := e.chunks.ReplaceForFile(ctx, 1, filePath, chunks)
		require.NoError(t, err)
		for _, c := range inserted {
			ids[c.SymbolName()] = c.ID()
			vecs, _, err := e.embedder.Embed(ctx, []string{c.Content()})
			require.NoError(t, err)
			entries = append(entries, vector.Entry{
				ChunkID:    c.ID(),
				FilePath:   c.FilePath(),
				SymbolName: c.SymbolName(),
				ChunkType:  string(c.ChunkType()),
				Content:    c.Content(),
				Embedding:  vecs[0],
			})
			docs = append(docs, lexical.Document{
				ChunkID:    c.ID(),
				FilePath:   c.FilePath(),
				SymbolName: c.SymbolName(),
				Content:    c.Content(),
			})
		}
	}
	require.NoError(t, e.vectors.Upsert(ctx, 1, entries))
	require.NoError(t, e.lex.Rebuild(ctx, 1, docs))
	return ids
}

func TestService_ReadMap(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	for _, fp := range []string{"src/app/main.go", "src/app/util.go", "src/lib/parse.go", "README.md"} {
		require.NoError(t, e.summaries.UpsertFileContent(ctx, summary.NewFileContent(1, fp, "content\n", 1)))
	}
	require.NoError(t, e.summaries.UpsertFileSummary(ctx,
		summary.NewFileSummary(1, "src/lib/parse.go", "Parses input.", "go", 1)))
	require.NoError(t, e.summaries.UpsertDirectorySummary(ctx,
		summary.NewDirectorySummary(1, "src/lib", "Parsing helpers.")))

	out, err := e.svc.ReadMap(ctx, 1, "")
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	// Directories come before files at each level.
	assert.Equal(t, "src/", lines[0])
	assert.Contains(t, out, "  app/")
	assert.Contains(t, out, "  lib/ — Parsing helpers.")
	assert.Contains(t, out, "    parse.go — Parses input.")
	assert.Equal(t, "README.md", lines[len(lines)-1])
}

func TestService_ReadMapScoped(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	for _, fp := range []string{"src/lib/parse.go", "docs/guide.md"} {
		require.NoError(t, e.summaries.UpsertFileContent(ctx, summary.NewFileContent(1, fp, "x\n", 1)))
	}

	out, err := e.svc.ReadMap(ctx, 1, "src/lib")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "src/lib/"))
	assert.Contains(t, out, "parse.go")
	assert.NotContains(t, out, "guide.md")

	out, err = e.svc.ReadMap(ctx, 1, "nonexistent")
	require.NoError(t, err)
	assert.Equal(t, "no indexed files under nonexistent", out)
}

func TestService_SearchCodeModes(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	e.seedChunks(t, map[string][]chunk.Chunk{
		"parse.go": {
			chunk.NewChunk(1, "parse.go", "Parse", chunk.TypeFunction, 1, 10, "func Parse() { // parse tokens }", 8),
		},
		"render.go": {
			chunk.NewChunk(1, "render.go", "Render", chunk.TypeFunction, 1, 10, "func Render() { // render output }", 8),
		},
	})

	semantic, err := e.svc.SearchCode(ctx, 1, "parse the source", retrieval.ModeSemantic, 5)
	require.NoError(t, err)
	require.NotEmpty(t, semantic)
	assert.Equal(t, "parse.go", semantic[0].FilePath)
	assert.Equal(t, retrieval.MatchSemantic, semantic[0].MatchType)

	lexicalHits, err := e.svc.SearchCode(ctx, 1, "render", retrieval.ModeLexical, 5)
	require.NoError(t, err)
	require.NotEmpty(t, lexicalHits)
	assert.Equal(t, "render.go", lexicalHits[0].FilePath)

	hybrid, err := e.svc.SearchCode(ctx, 1, "parse", retrieval.ModeHybrid, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hybrid)
	assert.Equal(t, "parse.go", hybrid[0].FilePath)
	// Found by both backends.
	assert.Equal(t, retrieval.MatchHybrid, hybrid[0].MatchType)

	_, err = e.svc.SearchCode(ctx, 1, "", retrieval.ModeHybrid, 5)
	assert.True(t, apperr.IsBadRequest(err))
}

func TestService_SearchCodeHybridDegrades(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	e.seedChunks(t, map[string][]chunk.Chunk{
		"parse.go": {
			chunk.NewChunk(1, "parse.go", "Parse", chunk.TypeFunction, 1, 10, "func Parse() {}", 4),
		},
	})

	e.embedder.fail = true
	hits, err := e.svc.SearchCode(ctx, 1, "parse", retrieval.ModeHybrid, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, retrieval.MatchLexical, hits[0].MatchType)
}

func TestService_ResolveSymbolDefinition(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.symbols.ReplaceForFile(ctx, 1, "a.go", []symbol.Symbol{
		symbol.NewSymbol(1, "a.go", "Run", symbol.KindFunction, symbol.NewRange(10, 0, 20, 1), "func Run() error"),
	})
	require.NoError(t, err)
	_, err = e.symbols.ReplaceForFile(ctx, 1, "b.go", []symbol.Symbol{
		symbol.NewSymbol(1, "b.go", "Run", symbol.KindMethod, symbol.NewRange(5, 0, 9, 1), "func (s *Server) Run() error"),
	})
	require.NoError(t, err)

	out, err := e.svc.ResolveSymbol(ctx, 1, "Run", retrieval.ActionDefinition)
	require.NoError(t, err)
	// Ambiguity is disclosed.
	assert.Contains(t, out, `2 definitions of "Run"`)
	assert.Contains(t, out, "a.go:10")
	assert.Contains(t, out, "b.go:5")

	out, err = e.svc.ResolveSymbol(ctx, 1, "Missing", retrieval.ActionDefinition)
	require.NoError(t, err)
	assert.Contains(t, out, "no definition found")
}

func TestService_ResolveSymbolReferencesAndCallers(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	// handler.go declares Process (lines 1-30) which calls Validate.
	_, err := e.symbols.ReplaceForFile(ctx, 1, "handler.go", []symbol.Symbol{
		symbol.NewSymbol(1, "handler.go", "Process", symbol.KindFunction, symbol.NewRange(1, 0, 30, 1), ""),
	})
	require.NoError(t, err)

	validate, err := e.xrefs.UpsertSymbol(ctx, xref.NewCrossRefSymbol(1, "pkg/validate/Validate().", "Validates input."))
	require.NoError(t, err)
	require.NoError(t, e.xrefs.InsertOccurrences(ctx, []xref.Occurrence{
		xref.NewOccurrence(validate.ID(), 1, "validate.go", symbol.NewRange(3, 5, 3, 13), xref.RoleDefinition),
		xref.NewOccurrence(validate.ID(), 1, "handler.go", symbol.NewRange(12, 8, 12, 16), xref.RoleReference),
	}))

	refs, err := e.svc.ResolveSymbol(ctx, 1, "Validate", retrieval.ActionReferences)
	require.NoError(t, err)
	assert.Contains(t, refs, "handler.go:12")

	callers, err := e.svc.ResolveSymbol(ctx, 1, "Validate", retrieval.ActionCallers)
	require.NoError(t, err)
	assert.Contains(t, callers, "function Process at handler.go:1")

	callees, err := e.svc.ResolveSymbol(ctx, 1, "Process", retrieval.ActionCallees)
	require.NoError(t, err)
	assert.Contains(t, callees, "pkg/validate/Validate().")

	none, err := e.svc.ResolveSymbol(ctx, 1, "Unknown", retrieval.ActionReferences)
	require.NoError(t, err)
	assert.Contains(t, none, "no cross-reference entry")
}

func TestService_ReadFile(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	var lines []string
	for i := 1; i <= 400; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	content := strings.Join(lines, "\n")
	require.NoError(t, e.summaries.UpsertFileContent(ctx, summary.NewFileContent(1, "big.go", content, 400)))

	// A small request is widened to 150 lines centered on it.
	out, err := e.svc.ReadFile(ctx, 1, "big.go", 200, 210)
	require.NoError(t, err)
	assert.Contains(t, out, "lines 130-279 of 400")
	assert.Contains(t, out, "  205 | line 205")

	// Near the top the window clamps at line 1.
	out, err = e.svc.ReadFile(ctx, 1, "big.go", 1, 10)
	require.NoError(t, err)
	assert.Contains(t, out, "lines 1-150 of 400")

	// Large explicit requests are not widened, only capped.
	out, err = e.svc.ReadFile(ctx, 1, "big.go", 1, 400)
	require.NoError(t, err)
	assert.Contains(t, out, "lines 1-400 of 400")

	_, err = e.svc.ReadFile(ctx, 1, "absent.go", 0, 0)
	assert.True(t, apperr.IsNotFound(err))
}

func TestService_ReadFileCap(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	var lines []string
	for i := 1; i <= 900; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	require.NoError(t, e.summaries.UpsertFileContent(ctx, summary.NewFileContent(1, "huge.go", strings.Join(lines, "\n"), 900)))

	out, err := e.svc.ReadFile(ctx, 1, "huge.go", 1, 900)
	require.NoError(t, err)
	assert.Contains(t, out, "lines 1-500 of 900")
	assert.NotContains(t, out, "line 501")
}
