// Package provider adapts the LLM provider SDKs to one canonical chat,
// embedding and generation contract. Each client converts between the
// canonical message shape and its wire format so the agent loop never sees
// provider specifics.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/indiseek/indiseek/internal/apperr"
	"github.com/indiseek/indiseek/internal/config"
)

// Role identifies the author of a message.
type Role string

// Role values.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a provider-issued request to invoke a tool. IDs are always
// set; when a provider does not require them one is generated, so a single
// agent loop works against all providers.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Message is one canonical conversation entry.
type Message struct {
	Role    Role
	Content string
	// ToolCalls is set on assistant messages that requested tool use.
	ToolCalls []ToolCall
	// ToolCallID links a tool-result message to the call it answers.
	ToolCallID string
}

// SystemMessage builds a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant message with optional tool calls.
func AssistantMessage(content string, toolCalls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// ToolResultMessage builds the result entry for one tool call.
func ToolResultMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// ToolSchema describes one tool offered to the model.
type ToolSchema struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object.
	Parameters map[string]any
}

// Usage is token accounting for one provider call. ThinkingTokens counts
// the reasoning tokens that thinking-capable models report inside the
// completion side of the bill; models without a reasoning split leave it 0.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	ThinkingTokens   int
	TotalTokens      int
}

// Add returns the element-wise sum.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		ThinkingTokens:   u.ThinkingTokens + other.ThinkingTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// ChatRequest is one canonical chat completion call.
type ChatRequest struct {
	Messages []Message
	Tools    []ToolSchema
}

// ChatResponse is the canonical chat completion result.
type ChatResponse struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// ChatClient is a tool-calling chat completion provider.
type ChatClient interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	Model() string
}

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, Usage, error)
	Model() string
	// Dims returns the configured dimensionality, 0 for the model default.
	Dims() int
}

// Generator produces free text from an instruction and content. The
// summarize stage is its only consumer.
type Generator interface {
	Generate(ctx context.Context, instruction, content string) (string, Usage, error)
}

// NewChatClient builds the chat client for the configured provider.
// A missing API key is a bad request: the HTTP surface reports it as 400.
func NewChatClient(cfg config.Endpoint, logger *slog.Logger) (ChatClient, error) {
	if !cfg.IsConfigured() {
		return nil, apperr.BadRequest("missing API key for provider %s", cfg.Provider())
	}
	switch cfg.Provider() {
	case config.ProviderOpenAI, config.ProviderGemini:
		return NewOpenAIClient(cfg, logger), nil
	case config.ProviderAnthropic:
		return NewAnthropicClient(cfg, logger), nil
	default:
		return nil, apperr.BadRequest("unknown chat provider %q", cfg.Provider())
	}
}

// NewEmbedder builds the embedding client for the configured provider.
// Gemini embeds through its OpenAI-compatible endpoint.
func NewEmbedder(cfg config.Endpoint, logger *slog.Logger) (Embedder, error) {
	if !cfg.IsConfigured() {
		return nil, apperr.BadRequest("missing API key for provider %s", cfg.Provider())
	}
	switch cfg.Provider() {
	case config.ProviderOpenAI, config.ProviderGemini:
		return NewOpenAIClient(cfg, logger), nil
	default:
		return nil, apperr.BadRequest("unknown embedding provider %q", cfg.Provider())
	}
}

// NewGenerator builds the generation client for the configured provider.
func NewGenerator(cfg config.Endpoint, logger *slog.Logger) (Generator, error) {
	if !cfg.IsConfigured() {
		return nil, apperr.BadRequest("missing API key for provider %s", cfg.Provider())
	}
	switch cfg.Provider() {
	case config.ProviderOpenAI, config.ProviderGemini:
		return NewOpenAIClient(cfg, logger), nil
	case config.ProviderAnthropic:
		return NewAnthropicClient(cfg, logger), nil
	default:
		return nil, apperr.BadRequest("unknown generation provider %q", cfg.Provider())
	}
}

// retryPolicy retries transient provider errors with exponential backoff.
// Auth errors and other permanent failures are returned immediately.
type retryPolicy struct {
	maxRetries    int
	initialDelay  time.Duration
	backoffFactor float64
}

func policyFromEndpoint(cfg config.Endpoint) retryPolicy {
	return retryPolicy{
		maxRetries:    cfg.MaxRetries(),
		initialDelay:  cfg.InitialDelay(),
		backoffFactor: cfg.BackoffFactor(),
	}
}

func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	delay := p.initialDelay
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, apperr.ErrProviderTransient) {
			return lastErr
		}

		if attempt < p.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * p.backoffFactor)
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
