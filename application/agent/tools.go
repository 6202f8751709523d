package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/indiseek/indiseek/application/querycache"
	"github.com/indiseek/indiseek/application/retrieval"
	"github.com/indiseek/indiseek/infrastructure/provider"
)

const (
	// toolResultMaxChars truncates tool output before it enters the
	// conversation.
	toolResultMaxChars = 15000

	// searchDedupeThreshold reuses a previous search result when a new
	// query's token set is this similar to one already run.
	searchDedupeThreshold = 0.85

	toolMemoSize = 128
)

// Tool names exposed to the model.
const (
	toolReadMap       = "read_map"
	toolSearchCode    = "search_code"
	toolResolveSymbol = "resolve_symbol"
	toolReadFile      = "read_file"
)

// toolSchemas describes the four research tools in JSON Schema form.
func toolSchemas() []provider.ToolSchema {
	return []provider.ToolSchema{
		{
			Name:        toolReadMap,
			Description: "Render the repository tree annotated with file and directory summaries. Use first to orient.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Optional subtree to scope the map to, e.g. \"src/server\".",
					},
				},
			},
		},
		{
			Name:        toolSearchCode,
			Description: "Search indexed code. Hybrid mode fuses semantic and keyword ranking; use lexical for exact identifiers.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
					"mode": map[string]any{
						"type": "string",
						"enum": []string{"semantic", "lexical", "hybrid"},
					},
					"limit": map[string]any{"type": "integer"},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        toolResolveSymbol,
			Description: "Resolve a symbol name to its definition, references, callers or callees.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string"},
					"action": map[string]any{
						"type": "string",
						"enum": []string{"definition", "references", "callers", "callees"},
					},
				},
				"required": []string{"name", "action"},
			},
		},
		{
			Name:        toolReadFile,
			Description: "Read an indexed file with line numbers. Small ranges are widened automatically; reads cap at 500 lines.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":  map[string]any{"type": "string"},
					"start": map[string]any{"type": "integer"},
					"end":   map[string]any{"type": "integer"},
				},
				"required": []string{"path"},
			},
		},
	}
}

// toolset dispatches tool calls for one run. Results are memoized on
// their arguments so repeated identical calls cost nothing, and search
// queries additionally dedupe on near-identical wording.
type toolset struct {
	retrieval *retrieval.Service
	repoID    int64
	logger    *slog.Logger

	memo *lru.Cache[string, string]

	// searchSeen maps prior search queries' token sets to their memo keys.
	searchSeen []searchEntry
}

type searchEntry struct {
	tokens map[string]bool
	key    string
}

func newToolset(svc *retrieval.Service, repoID int64, logger *slog.Logger) *toolset {
	memo, _ := lru.New[string, string](toolMemoSize)
	return &toolset{
		retrieval: svc,
		repoID:    repoID,
		logger:    logger,
		memo:      memo,
	}
}

// dispatch executes one tool call and returns its (possibly truncated)
// result text. Tool failures are returned as text so the loop can
// continue; only context cancellation propagates as an error.
func (t *toolset) dispatch(ctx context.Context, name string, args map[string]any) (string, error) {
	key := memoKey(name, args)
	if name == toolSearchCode {
		key = t.searchKey(stringArg(args, "query"), key)
	}
	if cached, ok := t.memo.Get(key); ok {
		return cached, nil
	}

	result, err := t.run(ctx, name, args)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		t.logger.Warn("tool call failed", "tool", name, "error", err)
		result = fmt.Sprintf("tool error: %v", err)
	}
	result = truncate(result, toolResultMaxChars)
	t.memo.Add(key, result)
	return result, nil
}

func (t *toolset) run(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case toolReadMap:
		return t.retrieval.ReadMap(ctx, t.repoID, stringArg(args, "path"))
	case toolSearchCode:
		mode := retrieval.Mode(stringArg(args, "mode"))
		hits, err := t.retrieval.SearchCode(ctx, t.repoID, stringArg(args, "query"), mode, intArg(args, "limit"))
		if err != nil {
			return "", err
		}
		return formatHits(hits), nil
	case toolResolveSymbol:
		return t.retrieval.ResolveSymbol(ctx, t.repoID,
			stringArg(args, "name"), retrieval.Action(stringArg(args, "action")))
	case toolReadFile:
		return t.retrieval.ReadFile(ctx, t.repoID,
			stringArg(args, "path"), intArg(args, "start"), intArg(args, "end"))
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

// searchKey redirects near-duplicate search queries to the first
// equivalent query's memo slot.
func (t *toolset) searchKey(query, key string) string {
	tokens := querycache.Tokenize(query)
	for _, prev := range t.searchSeen {
		if querycache.Jaccard(tokens, prev.tokens) >= searchDedupeThreshold {
			return prev.key
		}
	}
	t.searchSeen = append(t.searchSeen, searchEntry{tokens: tokens, key: key})
	return key
}

func formatHits(hits []retrieval.Hit) string {
	if len(hits) == 0 {
		return "no results"
	}
	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "%d. %s:%d-%d", i+1, h.FilePath, h.StartLine, h.EndLine)
		if h.SymbolName != "" {
			fmt.Fprintf(&b, " %s", h.SymbolName)
		}
		fmt.Fprintf(&b, " (%s, %s)\n%s\n\n", h.ChunkType, h.MatchType, h.Preview)
	}
	return strings.TrimRight(b.String(), "\n")
}

func memoKey(name string, args map[string]any) string {
	encoded, err := json.Marshal(args)
	if err != nil {
		return name
	}
	return name + ":" + string(encoded)
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func truncate(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	return s[:maxChars] + "\n[truncated]"
}
