package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/indiseek/indiseek/internal/apperr"
	"github.com/indiseek/indiseek/internal/config"
)

// OpenAIClient serves chat, embedding and generation through the OpenAI
// API surface. Gemini uses the same client pointed at its
// OpenAI-compatible base URL.
type OpenAIClient struct {
	client *openai.Client
	cfg    config.Endpoint
	retry  retryPolicy
	logger *slog.Logger
}

// NewOpenAIClient creates a client for the endpoint.
func NewOpenAIClient(cfg config.Endpoint, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey())
	if cfg.BaseURL() != "" {
		clientCfg.BaseURL = cfg.BaseURL()
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		retry:  policyFromEndpoint(cfg),
		logger: logger,
	}
}

var (
	_ ChatClient = (*OpenAIClient)(nil)
	_ Embedder   = (*OpenAIClient)(nil)
	_ Generator  = (*OpenAIClient)(nil)
)

// Model returns the configured model identifier.
func (c *OpenAIClient) Model() string { return c.cfg.Model() }

// Dims returns the configured embedding dimensionality.
func (c *OpenAIClient) Dims() int { return c.cfg.Dims() }

// Chat runs one tool-calling chat completion.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	openaiReq := c.chatRequest(req)

	var resp openai.ChatCompletionResponse
	err := c.retry.do(ctx, func() error {
		var callErr error
		resp, callErr = c.client.CreateChatCompletion(ctx, openaiReq)
		return classifyOpenAIError(callErr)
	})
	if err != nil {
		return ChatResponse{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, fmt.Errorf("chat completion: empty choices from %s", c.cfg.Model())
	}

	choice := resp.Choices[0]
	return ChatResponse{
		Text:         choice.Message.Content,
		ToolCalls:    fromOpenAIToolCalls(choice.Message.ToolCalls, c.logger),
		FinishReason: string(choice.FinishReason),
		Usage:        usageFromOpenAI(resp.Usage),
	}, nil
}

// chatRequest maps the canonical request plus the endpoint knobs onto the
// wire request. The configured thinking level rides as reasoning_effort,
// which Gemini's OpenAI-compatible endpoint also honors.
func (c *OpenAIClient) chatRequest(req ChatRequest) openai.ChatCompletionRequest {
	openaiReq := openai.ChatCompletionRequest{
		Model:    c.cfg.Model(),
		Messages: toOpenAIMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		openaiReq.Tools = toOpenAITools(req.Tools)
		openaiReq.ToolChoice = "auto"
	}
	if temp, ok := parseTemperature(c.cfg.Temperature()); ok {
		openaiReq.Temperature = temp
	}
	if c.cfg.MaxOutputTokens() > 0 {
		openaiReq.MaxTokens = c.cfg.MaxOutputTokens()
	}
	if level := c.cfg.ThinkingLevel(); level != "" {
		openaiReq.ReasoningEffort = level
	}
	return openaiReq
}

// usageFromOpenAI flattens the SDK usage block. Reasoning tokens arrive in
// a nested details struct that is nil for non-thinking models.
func usageFromOpenAI(u openai.Usage) Usage {
	out := Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if u.CompletionTokensDetails != nil {
		out.ThinkingTokens = u.CompletionTokensDetails.ReasoningTokens
	}
	return out
}

// Embed returns one vector per input text, in input order.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float64, Usage, error) {
	if len(texts) == 0 {
		return [][]float64{}, Usage{}, nil
	}

	openaiReq := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.cfg.Model()),
		Input: texts,
	}
	if c.cfg.Dims() > 0 {
		openaiReq.Dimensions = c.cfg.Dims()
	}

	var resp openai.EmbeddingResponse
	err := c.retry.do(ctx, func() error {
		var callErr error
		resp, callErr = c.client.CreateEmbeddings(ctx, openaiReq)
		if callErr != nil {
			return classifyOpenAIError(callErr)
		}
		// Partial responses happen under transient upstream load behind a
		// 200 status, so they are retried rather than failed.
		if len(resp.Data) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d texts", apperr.ErrProviderTransient, len(resp.Data), len(texts))
		}
		return nil
	})
	if err != nil {
		return nil, Usage{}, fmt.Errorf("embed: %w", err)
	}

	vectors := make([][]float64, len(resp.Data))
	for i, data := range resp.Data {
		vectors[i] = make([]float64, len(data.Embedding))
		for j, v := range data.Embedding {
			vectors[i][j] = float64(v)
		}
	}
	usage := Usage{PromptTokens: resp.Usage.PromptTokens, TotalTokens: resp.Usage.TotalTokens}
	return vectors, usage, nil
}

// Generate runs a tool-free completion with a system instruction.
func (c *OpenAIClient) Generate(ctx context.Context, instruction, content string) (string, Usage, error) {
	resp, err := c.Chat(ctx, ChatRequest{Messages: []Message{
		SystemMessage(instruction),
		UserMessage(content),
	}})
	if err != nil {
		return "", Usage{}, err
	}
	return resp.Text, resp.Usage, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})
		case RoleUser:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		case RoleAssistant:
			// A bare empty string serializes as null and is rejected when
			// tool calls are present.
			content := msg.Content
			if content == "" && len(msg.ToolCalls) > 0 {
				content = " "
			}
			var toolCalls []openai.ToolCall
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Args)
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   content,
				ToolCalls: toolCalls,
			})
		case RoleTool:
			content := msg.Content
			if content == "" {
				content = "{}"
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: msg.ToolCallID,
				Content:    content,
			})
		}
	}
	return out
}

func toOpenAITools(tools []ToolSchema) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}

func fromOpenAIToolCalls(calls []openai.ToolCall, logger *slog.Logger) []ToolCall {
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]ToolCall, 0, len(calls))
	for _, tc := range calls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				logger.Warn("unparseable tool call arguments",
					"tool", tc.Function.Name, "error", err)
				args = map[string]any{}
			}
		}
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		out = append(out, ToolCall{ID: id, Name: tc.Function.Name, Args: args})
	}
	return out
}

func parseTemperature(raw string) (float32, bool) {
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		return 0, false
	}
	return float32(v), true
}

// classifyOpenAIError maps SDK errors onto the shared error kinds: auth
// failures are permanent, rate limits and upstream outages are transient.
func classifyOpenAIError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", apperr.ErrProviderAuth, apiErr.Message)
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %s", apperr.ErrProviderTransient, apiErr.Message)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", apperr.ErrProviderTransient, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: %v", apperr.ErrProviderTransient, err)
	}

	return err
}
