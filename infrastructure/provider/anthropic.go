package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/indiseek/indiseek/internal/apperr"
	"github.com/indiseek/indiseek/internal/config"
)

// anthropicDefaultMaxTokens applies when no output cap is configured; the
// Anthropic API requires max_tokens on every request.
const anthropicDefaultMaxTokens = 4096

// AnthropicClient serves chat and generation through the Anthropic
// Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	cfg    config.Endpoint
	retry  retryPolicy
	logger *slog.Logger
}

// NewAnthropicClient creates a client for the endpoint.
func NewAnthropicClient(cfg config.Endpoint, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicClient{
		client: anthropic.NewClient(cfg.APIKey()),
		cfg:    cfg,
		retry:  policyFromEndpoint(cfg),
		logger: logger,
	}
}

var (
	_ ChatClient = (*AnthropicClient)(nil)
	_ Generator  = (*AnthropicClient)(nil)
)

// Model returns the configured model identifier.
func (c *AnthropicClient) Model() string { return c.cfg.Model() }

// Chat runs one tool-calling chat completion.
func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	system, messages := toAnthropicMessages(req.Messages)

	maxTokens := c.cfg.MaxOutputTokens()
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	anthropicReq := anthropic.MessagesRequest{
		Model:     anthropic.Model(c.cfg.Model()),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		anthropicReq.MultiSystem = system
	}
	if temp, ok := parseTemperature(c.cfg.Temperature()); ok {
		anthropicReq.Temperature = &temp
	}
	for _, t := range req.Tools {
		anthropicReq.Tools = append(anthropicReq.Tools, anthropic.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	var resp anthropic.MessagesResponse
	err := c.retry.do(ctx, func() error {
		var callErr error
		resp, callErr = c.client.CreateMessages(ctx, anthropicReq)
		return classifyAnthropicError(callErr)
	})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("chat completion: %w", err)
	}

	var text string
	var toolCalls []ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil {
				text += *block.Text
			}
		case anthropic.MessagesContentTypeToolUse:
			if block.MessageContentToolUse == nil {
				continue
			}
			use := block.MessageContentToolUse
			args := map[string]any{}
			if len(use.Input) > 0 {
				if err := json.Unmarshal(use.Input, &args); err != nil {
					c.logger.Warn("unparseable tool call arguments",
						"tool", use.Name, "error", err)
					args = map[string]any{}
				}
			}
			toolCalls = append(toolCalls, ToolCall{ID: use.ID, Name: use.Name, Args: args})
		}
	}

	finish := string(resp.StopReason)
	if len(toolCalls) > 0 {
		finish = "tool_calls"
	}

	return ChatResponse{
		Text:         text,
		ToolCalls:    toolCalls,
		FinishReason: finish,
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// Generate runs a tool-free completion with a system instruction.
func (c *AnthropicClient) Generate(ctx context.Context, instruction, content string) (string, Usage, error) {
	resp, err := c.Chat(ctx, ChatRequest{Messages: []Message{
		SystemMessage(instruction),
		UserMessage(content),
	}})
	if err != nil {
		return "", Usage{}, err
	}
	return resp.Text, resp.Usage, nil
}

// toAnthropicMessages splits canonical messages into the system parts and
// conversation turns the Messages API expects. Tool results become user
// turns carrying a tool_result block, per the API's pairing rules.
func toAnthropicMessages(messages []Message) ([]anthropic.MessageSystemPart, []anthropic.Message) {
	var system []anthropic.MessageSystemPart
	var out []anthropic.Message

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, anthropic.MessageSystemPart{
				Type: "text",
				Text: msg.Content,
			})
		case RoleUser:
			out = append(out, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(msg.Content)},
			})
		case RoleAssistant:
			var content []anthropic.MessageContent
			if msg.Content != "" {
				content = append(content, anthropic.NewTextMessageContent(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Args)
				content = append(content, anthropic.NewToolUseMessageContent(
					tc.ID, tc.Name, json.RawMessage(args),
				))
			}
			out = append(out, anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: content,
			})
		case RoleTool:
			content := msg.Content
			if content == "" {
				content = "{}"
			}
			out = append(out, anthropic.Message{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewToolResultMessageContent(msg.ToolCallID, content, false),
				},
			})
		}
	}
	return system, out
}

// classifyAnthropicError maps SDK errors onto the shared error kinds.
func classifyAnthropicError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Type {
		case "authentication_error", "permission_error":
			return fmt.Errorf("%w: %s", apperr.ErrProviderAuth, apiErr.Message)
		case "rate_limit_error", "overloaded_error", "api_error":
			return fmt.Errorf("%w: %s", apperr.ErrProviderTransient, apiErr.Message)
		}
		return err
	}

	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", apperr.ErrProviderAuth, err)
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %v", apperr.ErrProviderTransient, err)
		}
		return err
	}

	return fmt.Errorf("%w: %v", apperr.ErrProviderTransient, err)
}
