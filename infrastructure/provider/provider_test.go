package provider

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiseek/indiseek/internal/apperr"
	"github.com/indiseek/indiseek/internal/config"
)

func TestRetryPolicy_RetriesTransientOnly(t *testing.T) {
	policy := retryPolicy{maxRetries: 3, initialDelay: time.Millisecond, backoffFactor: 1}

	attempts := 0
	err := policy.do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("%w: rate limited", apperr.ErrProviderTransient)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = policy.do(context.Background(), func() error {
		attempts++
		return fmt.Errorf("%w: bad key", apperr.ErrProviderAuth)
	})
	require.ErrorIs(t, err, apperr.ErrProviderAuth)
	assert.Equal(t, 1, attempts, "auth errors abort immediately")
}

func TestRetryPolicy_ExhaustsRetries(t *testing.T) {
	policy := retryPolicy{maxRetries: 2, initialDelay: time.Millisecond, backoffFactor: 1}

	attempts := 0
	err := policy.do(context.Background(), func() error {
		attempts++
		return fmt.Errorf("%w: still down", apperr.ErrProviderTransient)
	})
	require.ErrorIs(t, err, apperr.ErrProviderTransient)
	assert.Equal(t, 3, attempts)
}

func TestClassifyOpenAIError(t *testing.T) {
	auth := classifyOpenAIError(&openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"})
	assert.ErrorIs(t, auth, apperr.ErrProviderAuth)

	limited := classifyOpenAIError(&openai.APIError{HTTPStatusCode: http.StatusTooManyRequests})
	assert.ErrorIs(t, limited, apperr.ErrProviderTransient)

	down := classifyOpenAIError(&openai.APIError{HTTPStatusCode: http.StatusServiceUnavailable})
	assert.ErrorIs(t, down, apperr.ErrProviderTransient)

	// Invalid requests are neither retried nor reported as auth failures.
	bad := classifyOpenAIError(&openai.APIError{HTTPStatusCode: http.StatusBadRequest})
	assert.NotErrorIs(t, bad, apperr.ErrProviderAuth)
	assert.NotErrorIs(t, bad, apperr.ErrProviderTransient)

	assert.NoError(t, classifyOpenAIError(nil))
}

func TestClassifyAnthropicError(t *testing.T) {
	auth := classifyAnthropicError(&anthropic.APIError{Type: "authentication_error", Message: "bad key"})
	assert.ErrorIs(t, auth, apperr.ErrProviderAuth)

	overloaded := classifyAnthropicError(&anthropic.APIError{Type: "overloaded_error"})
	assert.ErrorIs(t, overloaded, apperr.ErrProviderTransient)

	assert.NoError(t, classifyAnthropicError(nil))
}

func TestToOpenAIMessages_ToolFlow(t *testing.T) {
	messages := []Message{
		SystemMessage("be terse"),
		UserMessage("where is the parser?"),
		AssistantMessage("", []ToolCall{{ID: "call_1", Name: "search_code", Args: map[string]any{"query": "parser"}}}),
		ToolResultMessage("call_1", "infrastructure/parser/parser.go"),
	}

	out := toOpenAIMessages(messages)
	require.Len(t, out, 4)

	assert.Equal(t, openai.ChatMessageRoleSystem, out[0].Role)

	require.Len(t, out[2].ToolCalls, 1)
	assert.Equal(t, "call_1", out[2].ToolCalls[0].ID)
	assert.Equal(t, "search_code", out[2].ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"query":"parser"}`, out[2].ToolCalls[0].Function.Arguments)
	assert.NotEmpty(t, out[2].Content, "assistant content must not serialize as null")

	assert.Equal(t, openai.ChatMessageRoleTool, out[3].Role)
	assert.Equal(t, "call_1", out[3].ToolCallID)
}

func TestToAnthropicMessages_ToolFlow(t *testing.T) {
	messages := []Message{
		SystemMessage("be terse"),
		UserMessage("where is the parser?"),
		AssistantMessage("looking", []ToolCall{{ID: "toolu_1", Name: "search_code", Args: map[string]any{"query": "parser"}}}),
		ToolResultMessage("toolu_1", "infrastructure/parser/parser.go"),
	}

	system, out := toAnthropicMessages(messages)
	require.Len(t, system, 1)
	assert.Equal(t, "be terse", system[0].Text)

	require.Len(t, out, 3)
	assert.Equal(t, anthropic.RoleUser, out[0].Role)
	assert.Equal(t, anthropic.RoleAssistant, out[1].Role)
	require.Len(t, out[1].Content, 2, "text block plus tool_use block")
	// Tool results ride in a user turn.
	assert.Equal(t, anthropic.RoleUser, out[2].Role)
}

func TestFromOpenAIToolCalls(t *testing.T) {
	calls := fromOpenAIToolCalls([]openai.ToolCall{
		{ID: "call_9", Function: openai.FunctionCall{Name: "read_file", Arguments: `{"path":"a.go"}`}},
		{Function: openai.FunctionCall{Name: "read_map", Arguments: ""}},
		{ID: "call_x", Function: openai.FunctionCall{Name: "broken", Arguments: "{nope"}},
	}, nil)
	require.Len(t, calls, 3)

	assert.Equal(t, "call_9", calls[0].ID)
	assert.Equal(t, map[string]any{"path": "a.go"}, calls[0].Args)

	assert.NotEmpty(t, calls[1].ID, "missing ids are generated")
	assert.Empty(t, calls[1].Args)

	assert.Empty(t, calls[2].Args, "malformed arguments degrade to empty args")
}

func TestNewChatClient(t *testing.T) {
	_, err := NewChatClient(config.NewEndpointWithOptions(config.WithProvider(config.ProviderOpenAI)), nil)
	require.ErrorIs(t, err, apperr.ErrBadRequest, "missing key is a bad request")

	client, err := NewChatClient(config.NewEndpointWithOptions(
		config.WithProvider(config.ProviderAnthropic),
		config.WithAPIKey("k"),
		config.WithModel("claude-sonnet-4-20250514"),
	), nil)
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, client)
	assert.Equal(t, "claude-sonnet-4-20250514", client.Model())

	gemini, err := NewEmbedder(config.NewEndpointWithOptions(
		config.WithProvider(config.ProviderGemini),
		config.WithAPIKey("k"),
		config.WithBaseURL(config.GeminiOpenAIBaseURL),
		config.WithModel("gemini-embedding-001"),
		config.WithDims(768),
	), nil)
	require.NoError(t, err)
	assert.Equal(t, 768, gemini.Dims())

	_, err = NewEmbedder(config.NewEndpointWithOptions(
		config.WithProvider(config.ProviderAnthropic),
		config.WithAPIKey("k"),
	), nil)
	require.ErrorIs(t, err, apperr.ErrBadRequest, "anthropic does not embed")
}

func TestEstimateCost(t *testing.T) {
	usage := Usage{PromptTokens: 1_000_000, CompletionTokens: 500_000}

	cost := EstimateCost("gpt-4o", usage)
	assert.InDelta(t, 2.50+5.00, cost, 1e-9)

	// Dated releases match by family prefix.
	dated := EstimateCost("claude-sonnet-4-20250514", usage)
	assert.InDelta(t, 3.00+7.50, dated, 1e-9)

	// The longest prefix wins over shorter family names.
	mini := EstimateCost("gpt-4.1-mini", Usage{PromptTokens: 1_000_000})
	assert.InDelta(t, 0.40, mini, 1e-9)

	assert.Zero(t, EstimateCost("some-local-model", usage))
}

func TestUsage_Add(t *testing.T) {
	total := Usage{PromptTokens: 10, CompletionTokens: 5, ThinkingTokens: 4, TotalTokens: 15}.
		Add(Usage{PromptTokens: 1, CompletionTokens: 2, ThinkingTokens: 1, TotalTokens: 3})
	assert.Equal(t, Usage{PromptTokens: 11, CompletionTokens: 7, ThinkingTokens: 5, TotalTokens: 18}, total)
}

func TestUsageFromOpenAI(t *testing.T) {
	plain := usageFromOpenAI(openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	assert.Equal(t, Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, plain)

	thinking := usageFromOpenAI(openai.Usage{
		PromptTokens:     10,
		CompletionTokens: 25,
		TotalTokens:      35,
		CompletionTokensDetails: &openai.CompletionTokensDetails{
			ReasoningTokens: 20,
		},
	})
	assert.Equal(t, 20, thinking.ThinkingTokens)
	assert.Equal(t, 25, thinking.CompletionTokens)
}

func TestChatRequest_AppliesThinkingLevel(t *testing.T) {
	client := NewOpenAIClient(config.NewEndpointWithOptions(
		config.WithProvider(config.ProviderGemini),
		config.WithAPIKey("k"),
		config.WithModel("gemini-2.5-flash"),
		config.WithThinkingLevel("low"),
	), nil)

	req := client.chatRequest(ChatRequest{Messages: []Message{UserMessage("hi")}})
	assert.Equal(t, "low", req.ReasoningEffort)

	// No configured level leaves the field off the wire.
	bare := NewOpenAIClient(config.NewEndpointWithOptions(
		config.WithProvider(config.ProviderOpenAI),
		config.WithAPIKey("k"),
		config.WithModel("gpt-4o"),
	), nil)
	assert.Empty(t, bare.chatRequest(ChatRequest{}).ReasoningEffort)
}
