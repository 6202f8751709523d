package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryCompleted(t *testing.T) {
	q := NewQuery(1, "how does the module graph handle cycles?", "classic")
	assert.Equal(t, StatusRunning, q.Status())

	evidence := []EvidenceStep{{ToolName: "search_code", Args: map[string]any{"query": "module graph"}, Summary: "3 hits"}}
	usage := UsageStats{PromptTokens: 100, CompletionTokens: 50}
	done := q.Completed("answer text", evidence, usage)

	assert.Equal(t, StatusCompleted, done.Status())
	assert.Equal(t, "answer text", done.Answer())
	assert.Len(t, done.Evidence(), 1)
	require.NotNil(t, done.CompletedAt())
	assert.Equal(t, usage, done.Usage())
}

func TestCachedFrom(t *testing.T) {
	src := NewQuery(1, "original prompt", "classic").
		WithID(7).
		Completed("the answer", []EvidenceStep{{ToolName: "read_map", Summary: "tree"}}, UsageStats{})

	cached := CachedFrom(src, "Original Prompt")

	assert.Equal(t, StatusCached, cached.Status())
	assert.Equal(t, "Original Prompt", cached.Prompt())
	assert.Equal(t, "the answer", cached.Answer())
	require.NotNil(t, cached.SourceQueryID())
	assert.Equal(t, int64(7), *cached.SourceQueryID())
	assert.Equal(t, src.RepoID(), cached.RepoID())
	assert.Len(t, cached.Evidence(), 1)
}

func TestEvidenceJSON(t *testing.T) {
	q := NewQuery(1, "p", "single")
	s, err := q.EvidenceJSON()
	require.NoError(t, err)
	assert.Empty(t, s)

	q = q.Completed("a", []EvidenceStep{{ToolName: "read_file", Args: map[string]any{"path": "src/a.ts"}, Summary: "150 lines"}}, UsageStats{})
	s, err = q.EvidenceJSON()
	require.NoError(t, err)
	assert.Contains(t, s, `"tool_name":"read_file"`)
}

func TestUsageStatsAdd(t *testing.T) {
	var u UsageStats
	u.Add(10, 5, 2)
	u.Add(1, 1, 0)
	assert.Equal(t, 11, u.PromptTokens)
	assert.Equal(t, 6, u.CompletionTokens)
	assert.Equal(t, 2, u.ThinkingTokens)
}
