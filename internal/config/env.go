// Package config provides application configuration.
package config

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvConfig holds all environment-based configuration. Field names map to
// unprefixed environment variables, matching the service's .env conventions.
type EnvConfig struct {
	// Host is the server host to bind to.
	// Env: HOST (default: 0.0.0.0)
	Host string `envconfig:"HOST" default:"0.0.0.0"`

	// Port is the server port to listen on.
	// Env: PORT (default: 8420)
	Port int `envconfig:"PORT" default:"8420"`

	// DataDir is the root for every on-disk store.
	// Env: DATA_DIR (default: ./data)
	DataDir string `envconfig:"DATA_DIR" default:"./data"`

	// ReposDir is the per-repo clone root.
	// Env: REPOS_DIR (default: {DATA_DIR}/repos)
	ReposDir string `envconfig:"REPOS_DIR"`

	// RepoPath is the legacy single-repo local path. When set and the repos
	// table is empty but indexed data exists, repo id 1 is inserted pointing
	// at it.
	// Env: REPO_PATH
	RepoPath string `envconfig:"REPO_PATH"`

	// LogLevel is the log verbosity level.
	// Env: LOG_LEVEL (default: INFO)
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	// LogFormat is the log output format (pretty or json).
	// Env: LOG_FORMAT (default: pretty)
	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// LLMProvider selects the chat provider: gemini, openai or anthropic.
	// Env: LLM_PROVIDER (default: gemini)
	LLMProvider string `envconfig:"LLM_PROVIDER" default:"gemini"`

	// EmbeddingProvider selects the embedding provider: gemini or openai.
	// Env: EMBEDDING_PROVIDER (default: gemini)
	EmbeddingProvider string `envconfig:"EMBEDDING_PROVIDER" default:"gemini"`

	// GeminiAPIKey authenticates against the Gemini API.
	// Env: GEMINI_API_KEY
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`

	// OpenAIAPIKey authenticates against the OpenAI API.
	// Env: OPENAI_API_KEY
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`

	// AnthropicAPIKey authenticates against the Anthropic API.
	// Env: ANTHROPIC_API_KEY
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`

	// GeminiModel is the Gemini chat model.
	// Env: GEMINI_MODEL (default: gemini-2.5-flash)
	GeminiModel string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`

	// OpenAIModel is the OpenAI chat model.
	// Env: OPENAI_MODEL (default: gpt-4o-mini)
	OpenAIModel string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`

	// AnthropicModel is the Anthropic chat model.
	// Env: ANTHROPIC_MODEL (default: claude-sonnet-4-5)
	AnthropicModel string `envconfig:"ANTHROPIC_MODEL" default:"claude-sonnet-4-5"`

	// GeminiEmbeddingModel is the Gemini embedding model.
	// Env: GEMINI_EMBEDDING_MODEL (default: text-embedding-004)
	GeminiEmbeddingModel string `envconfig:"GEMINI_EMBEDDING_MODEL" default:"text-embedding-004"`

	// OpenAIEmbeddingModel is the OpenAI embedding model.
	// Env: OPENAI_EMBEDDING_MODEL (default: text-embedding-3-small)
	OpenAIEmbeddingModel string `envconfig:"OPENAI_EMBEDDING_MODEL" default:"text-embedding-3-small"`

	// GeminiEmbeddingDims is the embedding dimensionality for Gemini.
	// Env: GEMINI_EMBEDDING_DIMS (default: 768)
	GeminiEmbeddingDims int `envconfig:"GEMINI_EMBEDDING_DIMS" default:"768"`

	// OpenAIEmbeddingDims is the embedding dimensionality for OpenAI.
	// Env: OPENAI_EMBEDDING_DIMS (default: 1536)
	OpenAIEmbeddingDims int `envconfig:"OPENAI_EMBEDDING_DIMS" default:"1536"`

	// GeminiTemperature overrides the generation temperature when set.
	// Env: GEMINI_TEMPERATURE (empty = API default)
	GeminiTemperature string `envconfig:"GEMINI_TEMPERATURE"`

	// GeminiThinkingLevel selects the thinking budget for normal queries.
	// Env: GEMINI_THINKING_LEVEL (empty = API default)
	GeminiThinkingLevel string `envconfig:"GEMINI_THINKING_LEVEL"`

	// GeminiThinkingResearch selects the thinking budget for research
	// strategies.
	// Env: GEMINI_THINKING_RESEARCH (empty = API default)
	GeminiThinkingResearch string `envconfig:"GEMINI_THINKING_RESEARCH"`

	// GeminiMaxOutputTokens caps generated output when set.
	// Env: GEMINI_MAX_OUTPUT_TOKENS (0 = API default)
	GeminiMaxOutputTokens int `envconfig:"GEMINI_MAX_OUTPUT_TOKENS"`

	// EmbedBatchSize is the number of texts embedded per provider call.
	// Env: EMBED_BATCH_SIZE (default: 32)
	EmbedBatchSize int `envconfig:"EMBED_BATCH_SIZE" default:"32"`

	// SummaryDelayMS is the inter-call delay for summarization in
	// milliseconds.
	// Env: SUMMARY_DELAY_MS (default: 500)
	SummaryDelayMS int `envconfig:"SUMMARY_DELAY_MS" default:"500"`

	// CacheSimilarity is the jaccard threshold for query cache hits.
	// Env: CACHE_SIMILARITY (default: 0.8)
	CacheSimilarity float64 `envconfig:"CACHE_SIMILARITY" default:"0.8"`

	// RRFK is the reciprocal rank fusion constant for hybrid search.
	// Env: RRF_K (default: 60)
	RRFK float64 `envconfig:"RRF_K" default:"60"`
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

// ToAppConfig converts EnvConfig to AppConfig.
func (e EnvConfig) ToAppConfig() AppConfig {
	opts := []AppConfigOption{
		WithHost(e.Host),
		WithPort(e.Port),
		WithDataDir(e.DataDir),
		WithLogLevel(e.LogLevel),
		WithLogFormat(parseLogFormat(e.LogFormat)),
		WithChatEndpoint(e.chatEndpoint()),
		WithEmbeddingEndpoint(e.embeddingEndpoint()),
		WithThinkingResearch(e.GeminiThinkingResearch),
		WithEmbedBatchSize(e.EmbedBatchSize),
		WithSummaryDelay(time.Duration(e.SummaryDelayMS) * time.Millisecond),
		WithCacheSimilarity(e.CacheSimilarity),
		WithRRFK(e.RRFK),
	}
	if e.ReposDir != "" {
		opts = append(opts, WithReposDir(e.ReposDir))
	}
	if e.RepoPath != "" {
		opts = append(opts, WithRepoPath(e.RepoPath))
	}
	return NewAppConfigWithOptions(opts...)
}

// chatEndpoint builds the chat endpoint from the selected provider.
func (e EnvConfig) chatEndpoint() Endpoint {
	switch strings.ToLower(strings.TrimSpace(e.LLMProvider)) {
	case ProviderOpenAI:
		return NewEndpointWithOptions(
			WithProvider(ProviderOpenAI),
			WithModel(e.OpenAIModel),
			WithAPIKey(e.OpenAIAPIKey),
		)
	case ProviderAnthropic:
		return NewEndpointWithOptions(
			WithProvider(ProviderAnthropic),
			WithModel(e.AnthropicModel),
			WithAPIKey(e.AnthropicAPIKey),
			WithMaxOutputTokens(e.GeminiMaxOutputTokens),
		)
	default:
		return NewEndpointWithOptions(
			WithProvider(ProviderGemini),
			WithBaseURL(GeminiOpenAIBaseURL),
			WithModel(e.GeminiModel),
			WithAPIKey(e.GeminiAPIKey),
			WithTemperature(e.GeminiTemperature),
			WithThinkingLevel(e.GeminiThinkingLevel),
			WithMaxOutputTokens(e.GeminiMaxOutputTokens),
		)
	}
}

// embeddingEndpoint builds the embedding endpoint from the selected provider.
func (e EnvConfig) embeddingEndpoint() Endpoint {
	if strings.EqualFold(strings.TrimSpace(e.EmbeddingProvider), ProviderOpenAI) {
		return NewEndpointWithOptions(
			WithProvider(ProviderOpenAI),
			WithModel(e.OpenAIEmbeddingModel),
			WithAPIKey(e.OpenAIAPIKey),
			WithDims(e.OpenAIEmbeddingDims),
		)
	}
	return NewEndpointWithOptions(
		WithProvider(ProviderGemini),
		WithBaseURL(GeminiOpenAIBaseURL),
		WithModel(e.GeminiEmbeddingModel),
		WithAPIKey(e.GeminiAPIKey),
		WithDims(e.GeminiEmbeddingDims),
	)
}

// parseLogFormat parses a log format string.
func parseLogFormat(s string) LogFormat {
	switch strings.ToLower(s) {
	case "json":
		return LogFormatJSON
	default:
		return LogFormatPretty
	}
}
