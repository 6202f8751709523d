package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiseek/indiseek/application/agent"
	"github.com/indiseek/indiseek/application/lifecycle"
	"github.com/indiseek/indiseek/application/pipeline"
	"github.com/indiseek/indiseek/application/querycache"
	"github.com/indiseek/indiseek/application/retrieval"
	"github.com/indiseek/indiseek/application/taskmgr"
	"github.com/indiseek/indiseek/domain/chunk"
	"github.com/indiseek/indiseek/domain/query"
	"github.com/indiseek/indiseek/domain/repo"
	"github.com/indiseek/indiseek/domain/summary"
	"github.com/indiseek/indiseek/domain/symbol"
	"github.com/indiseek/indiseek/domain/task"
	"github.com/indiseek/indiseek/domain/xref"
	"github.com/indiseek/indiseek/infrastructure/api"
	"github.com/indiseek/indiseek/infrastructure/gitrepo"
	"github.com/indiseek/indiseek/infrastructure/lexical"
	"github.com/indiseek/indiseek/infrastructure/parser"
	"github.com/indiseek/indiseek/infrastructure/persistence"
	"github.com/indiseek/indiseek/infrastructure/provider"
	"github.com/indiseek/indiseek/infrastructure/vector"
	"github.com/indiseek/indiseek/internal/config"
	"github.com/indiseek/indiseek/internal/testdb"
)

type stubEmbedder struct{}

var vocabulary = []string{"parse", "render"}

func (stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, provider.Usage, error) {
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

func (stubEmbedder) Model() string { return "stub" }
func (stubEmbedder) Dims() int     { return len(vocabulary) }

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, instruction, content string) (string, provider.Usage, error) {
	return "Stub summary.", provider.Usage{}, nil
}

// answerChat answers every turn without tool calls.
type answerChat struct {
	answer string
}

func (c answerChat) Chat(ctx context.Context, req provider.ChatRequest) (provider.ChatResponse, error) {
	return provider.ChatResponse{
		Text:  c.answer,
		Usage: provider.Usage{PromptTokens: 10, CompletionTokens: 5},
	}, nil
}

func (answerChat) Model() string { return "gpt-4o" }

type env struct {
	repos     repo.Store
	queries   query.Store
	symbols   symbol.Store
	chunks    chunk.Store
	xrefs     xref.Store
	summaries summary.Store
	vectors   *vector.Store
	lex       *lexical.Manager
	tasks     *taskmgr.Manager
	embedder  stubEmbedder

	server *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testdb.New(t)
	cfg := config.NewAppConfigWithOptions(
		config.WithDataDir(t.TempDir()),
		config.WithSummaryDelay(0),
	)

	lex := lexical.NewManager(t.TempDir(), nil)
	t.Cleanup(func() { _ = lex.Close() })

	e := &env{
		repos:     persistence.NewRepoStore(db),
		queries:   persistence.NewQueryStore(db),
		symbols:   persistence.NewSymbolStore(db),
		chunks:    persistence.NewChunkStore(db),
		xrefs:     persistence.NewXrefStore(db),
		summaries: persistence.NewSummaryStore(db),
		vectors:   vector.NewStore(db, nil),
		lex:       lex,
		tasks:     taskmgr.NewManager(nil),
	}
	meta := persistence.NewMetadataStore(db)

	pipe := pipeline.New(pipeline.Deps{
		Repos:        e.repos,
		Symbols:      e.symbols,
		Chunks:       e.chunks,
		Xrefs:        e.xrefs,
		Summaries:    e.summaries,
		Vectors:      e.vectors,
		Lexical:      e.lex,
		Parser:       parser.NewParser(nil),
		Meta:         meta,
		NewEmbedder:  func() (provider.Embedder, error) { return e.embedder, nil },
		NewGenerator: func() (provider.Generator, error) { return stubGenerator{}, nil },
		Config:       cfg,
	})

	lifecycleSvc := lifecycle.NewService(lifecycle.Deps{
		Repos:     e.repos,
		Symbols:   e.symbols,
		Chunks:    e.chunks,
		Xrefs:     e.xrefs,
		Summaries: e.summaries,
		Vectors:   e.vectors,
		Lexical:   e.lex,
		Git:       gitrepo.NewClient(nil),
		Pipeline:  pipe,
		Tasks:     e.tasks,
		Config:    cfg,
	})

	retrievalSvc := retrieval.NewService(retrieval.Deps{
		Symbols:     e.symbols,
		Chunks:      e.chunks,
		Xrefs:       e.xrefs,
		Summaries:   e.summaries,
		Vectors:     e.vectors,
		Lexical:     e.lex,
		NewEmbedder: func() (provider.Embedder, error) { return e.embedder, nil },
		Config:      cfg,
	})

	runner := agent.NewRunner(retrievalSvc,
		func() (provider.ChatClient, error) { return answerChat{answer: "The parser walks the tree."}, nil }, nil)
	cache := querycache.New(e.queries, meta, cfg.CacheSimilarity(), nil)
	agentSvc := agent.NewService(runner, e.queries, cache, nil)

	handlers := api.NewHandlers(api.Deps{
		Repos:     e.repos,
		Queries:   e.queries,
		Symbols:   e.symbols,
		Chunks:    e.chunks,
		Xrefs:     e.xrefs,
		Summaries: e.summaries,
		Vectors:   e.vectors,
		Lexical:   e.lex,
		Lifecycle: lifecycleSvc,
		Pipeline:  pipe,
		Tasks:     e.tasks,
		Agent:     agentSvc,
		Retrieval: retrievalSvc,
		Config:    cfg,
		Version:   "test",
	})
	server := api.NewServer("127.0.0.1:0", handlers, nil)

	e.server = httptest.NewServer(server.Router())
	t.Cleanup(e.server.Close)
	return e
}

// createRepo inserts an active local repo row (id 1 in a fresh database).
func (e *env) createRepo(t *testing.T) repo.Repo {
	t.Helper()
	r, err := e.repos.Create(context.Background(), repo.NewLocalRepo("demo", t.TempDir()))
	require.NoError(t, err)
	return r
}

// seedIndexed stores two files with chunks, embeddings, a lexical index
// and summaries, as a completed pipeline run would.
func (e *env) seedIndexed(t *testing.T) map[string]int64 {
	t.Helper()
	ctx := context.Background()

	byFile := map[string][]chunk.Chunk{
		"src/parse.go": {
			chunk.NewChunk(1, "src/parse.go", "Parse", chunk.TypeFunction, 1, 10, "func Parse() {} // parse input", 8),
		},
		"render.go": {
			chunk.NewChunk(1, "render.go", "Render", chunk.TypeFunction, 1, 5, "func Render() {} // render output", 8),
		},
	}

	ids := make(map[string]int64)
	var docs []lexical.Document
	var entries []vector.Entry
	for filePath, chunks := range byFile {
		require.NoError(t, e.summaries.UpsertFileContent(ctx,
			summary.NewFileContent(1, filePath, chunks[0].Content()+"\n", 1)))
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

	require.NoError(t, e.summaries.UpsertFileSummary(ctx,
		summary.NewFileSummary(1, "src/parse.go", "Parses input.", "go", 1)))
	require.NoError(t, e.summaries.UpsertDirectorySummary(ctx,
		summary.NewDirectorySummary(1, "src", "Parsing code.")))
	return ids
}

func (e *env) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeObject(t, resp.Body)
}

func (e *env) post(t *testing.T, path string, payload any) (int, map[string]any) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeObject(t, resp.Body)
}

func (e *env) delete(t *testing.T, path string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, e.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func decodeObject(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r)
	require.NoError(t, err)
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	return out
}

// waitForTask polls the task endpoint until the task reaches a terminal
// status.
func (e *env) waitForTask(t *testing.T, taskID string) map[string]any {
	t.Helper()
	var body map[string]any
	require.Eventually(t, func() bool {
		status, got := e.get(t, "/api/tasks/"+taskID)
		if status != http.StatusOK {
			return false
		}
		body = got
		s, _ := got["status"].(string)
		return task.Status(s).Terminal()
	}, 10*time.Second, 20*time.Millisecond)
	return body
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	status, body := e.get(t, "/api/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestRepoEndpoints(t *testing.T) {
	e := newEnv(t)
	e.createRepo(t)

	status, body := e.get(t, "/api/repos")
	require.Equal(t, http.StatusOK, status)
	repos := body["repos"].([]any)
	require.Len(t, repos, 1)
	assert.Equal(t, "demo", repos[0].(map[string]any)["name"])

	status, body = e.get(t, "/api/repos/1")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "active", body["status"])

	status, _ = e.get(t, "/api/repos/99")
	assert.Equal(t, http.StatusNotFound, status)

	assert.Equal(t, http.StatusNoContent, e.delete(t, "/api/repos/1"))
	_, body = e.get(t, "/api/repos/1")
	assert.Equal(t, "deleted", body["status"])
}

func TestSearchEndpoint(t *testing.T) {
	e := newEnv(t)
	e.createRepo(t)
	e.seedIndexed(t)

	status, body := e.get(t, "/api/search?q=render&mode=lexical")
	require.Equal(t, http.StatusOK, status)
	hits := body["hits"].([]any)
	require.NotEmpty(t, hits)
	assert.Equal(t, "render.go", hits[0].(map[string]any)["file_path"])

	status, _ = e.get(t, "/api/search?q=render&mode=bogus")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = e.get(t, "/api/search?mode=lexical")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestTreeEndpoint(t *testing.T) {
	e := newEnv(t)
	e.createRepo(t)
	e.seedIndexed(t)

	status, body := e.get(t, "/api/tree")
	require.Equal(t, http.StatusOK, status)
	entries := body["entries"].([]any)
	require.Len(t, entries, 2)

	first := entries[0].(map[string]any)
	assert.Equal(t, "src", first["name"])
	assert.Equal(t, "dir", first["type"])
	assert.Equal(t, "Parsing code.", first["summary"])

	second := entries[1].(map[string]any)
	assert.Equal(t, "render.go", second["name"])
	assert.Equal(t, "file", second["type"])
	assert.Equal(t, true, second["embedded"])
	assert.Equal(t, false, second["summarized"])

	status, body = e.get(t, "/api/tree?path=src")
	require.Equal(t, http.StatusOK, status)
	entries = body["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "src/parse.go", entries[0].(map[string]any)["path"])
}

func TestFileAndChunkEndpoints(t *testing.T) {
	e := newEnv(t)
	e.createRepo(t)
	ids := e.seedIndexed(t)

	status, body := e.get(t, "/api/files/src/parse.go")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Parses input.", body["summary"])
	assert.Equal(t, "go", body["language"])
	assert.Equal(t, true, body["lexical"])
	assert.Equal(t, float64(1), body["embedded_chunks"])
	chunks := body["chunks"].([]any)
	require.Len(t, chunks, 1)
	// Contents ride only on the chunk endpoint.
	_, hasContent := chunks[0].(map[string]any)["content"]
	assert.False(t, hasContent)

	status, _ = e.get(t, "/api/files/nope.go")
	assert.Equal(t, http.StatusNotFound, status)

	chunkID := ids["Parse"]
	status, body = e.get(t, fmt.Sprintf("/api/chunks/%d", chunkID))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body["content"], "func Parse()")
	assert.Equal(t, true, body["embedded"])

	status, _ = e.get(t, "/api/chunks/99999")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStatsEndpoint(t *testing.T) {
	e := newEnv(t)
	e.createRepo(t)
	e.seedIndexed(t)

	status, body := e.get(t, "/api/stats")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["repos"])
	assert.Equal(t, float64(2), body["chunks"])
	assert.Equal(t, float64(2), body["embedded_chunks"])
	assert.Equal(t, float64(2), body["lexical_docs"])
	assert.Equal(t, float64(1), body["file_summaries"])
	assert.Equal(t, float64(1), body["directory_summaries"])
}

func TestRunStageEndpoint(t *testing.T) {
	e := newEnv(t)
	e.createRepo(t)
	e.seedIndexed(t)

	status, body := e.post(t, "/api/run/lexical", map[string]any{})
	require.Equal(t, http.StatusAccepted, status)
	taskID := body["task_id"].(string)

	snap := e.waitForTask(t, taskID)
	assert.Equal(t, "completed", snap["status"])
	assert.Equal(t, "lexical demo", snap["name"])

	status, _ = e.post(t, "/api/run/bogus", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = e.post(t, "/api/run/parse", map[string]any{"repo_id": 99})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRunStageConflict(t *testing.T) {
	e := newEnv(t)
	e.createRepo(t)

	release := make(chan struct{})
	_, err := e.tasks.Submit("blocker", func(ctx context.Context, progress func(task.ProgressEvent)) (map[string]any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	defer close(release)

	status, body := e.post(t, "/api/run/lexical", map[string]any{})
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, body["error"], "already running")
}

func TestTaskStream(t *testing.T) {
	e := newEnv(t)

	taskID, err := e.tasks.Submit("demo", func(ctx context.Context, progress func(task.ProgressEvent)) (map[string]any, error) {
		progress(task.Progress("demo", 1, 2, "warming up"))
		return map[string]any{"done": 1}, nil
	})
	require.NoError(t, err)

	resp, err := http.Get(e.server.URL + "/api/tasks/" + taskID + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The stream closes after the terminal event, so the body reads to EOF.
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, `"subject":"warming up"`)
	assert.Contains(t, body, "event: done")
	assert.Contains(t, body, `"type":"done"`)

	_, getErr := http.Get(e.server.URL + "/api/tasks/unknown/stream")
	require.NoError(t, getErr)
}

func TestQueryEndpoints(t *testing.T) {
	e := newEnv(t)
	e.createRepo(t)
	e.seedIndexed(t)

	// Synchronous run.
	status, body := e.post(t, "/api/query", map[string]any{"prompt": "what parses input?"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["cached"])
	q := body["query"].(map[string]any)
	assert.Equal(t, "completed", q["status"])
	assert.Equal(t, "The parser walks the tree.", q["answer"])
	firstID := q["id"].(float64)

	// The same prompt now hits the cache through run/query.
	status, body = e.post(t, "/api/run/query", map[string]any{"prompt": "what parses input?"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["cached"])
	assert.Equal(t, "The parser walks the tree.", body["answer"])

	// force re-executes as a background task.
	status, body = e.post(t, "/api/run/query", map[string]any{"prompt": "what parses input?", "force": true})
	require.Equal(t, http.StatusAccepted, status)
	snap := e.waitForTask(t, body["task_id"].(string))
	assert.Equal(t, "completed", snap["status"])
	result := snap["result"].(map[string]any)
	assert.Equal(t, "completed", result["status"])

	// History and detail.
	status, body = e.get(t, "/api/queries")
	require.Equal(t, http.StatusOK, status)
	assert.GreaterOrEqual(t, len(body["queries"].([]any)), 3)

	status, body = e.get(t, fmt.Sprintf("/api/queries/%d", int64(firstID)))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "what parses input?", body["prompt"])

	status, _ = e.post(t, "/api/query", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStrategiesEndpoint(t *testing.T) {
	e := newEnv(t)
	status, body := e.get(t, "/api/strategies")
	require.Equal(t, http.StatusOK, status)
	strategies := body["strategies"].([]any)
	require.Len(t, strategies, 3)
	names := make([]string, 0, 3)
	for _, s := range strategies {
		names = append(names, s.(map[string]any)["name"].(string))
	}
	assert.ElementsMatch(t, []string{"single", "classic", "multi"}, names)
}
