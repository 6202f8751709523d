// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Default configuration values.
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8420
	DefaultLogLevel        = "INFO"
	DefaultCloneSubdir     = "repos"
	DefaultDatabaseFile    = "indiseek.db"
	DefaultMaxRetries      = 5
	DefaultInitialDelay    = 2 * time.Second
	DefaultBackoffFactor   = 2.0
	DefaultEmbedBatchSize  = 32
	DefaultSummaryDelay    = 500 * time.Millisecond
	DefaultCacheSimilarity = 0.8
	DefaultRRFK            = 60.0
)

// Provider identifiers accepted by LLM_PROVIDER and EMBEDDING_PROVIDER.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// GeminiOpenAIBaseURL is Gemini's OpenAI-compatible endpoint.
const GeminiOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// LogFormat represents the log output format.
type LogFormat string

// LogFormat values.
const (
	LogFormatPretty LogFormat = "pretty"
	LogFormatJSON   LogFormat = "json"
)

// Endpoint configures an AI provider endpoint.
type Endpoint struct {
	provider        string
	baseURL         string
	model           string
	apiKey          string
	dims            int
	maxRetries      int
	initialDelay    time.Duration
	backoffFactor   float64
	temperature     string
	thinkingLevel   string
	maxOutputTokens int
}

// NewEndpoint creates a new Endpoint with defaults.
func NewEndpoint() Endpoint {
	return Endpoint{
		maxRetries:    DefaultMaxRetries,
		initialDelay:  DefaultInitialDelay,
		backoffFactor: DefaultBackoffFactor,
	}
}

// Provider returns the provider identifier (gemini, openai, anthropic).
func (e Endpoint) Provider() string { return e.provider }

// BaseURL returns the base URL for the endpoint.
func (e Endpoint) BaseURL() string { return e.baseURL }

// Model returns the model identifier.
func (e Endpoint) Model() string { return e.model }

// APIKey returns the API key.
func (e Endpoint) APIKey() string { return e.apiKey }

// Dims returns the embedding dimensionality (embedding endpoints only).
func (e Endpoint) Dims() int { return e.dims }

// MaxRetries returns the maximum retry count.
func (e Endpoint) MaxRetries() int { return e.maxRetries }

// InitialDelay returns the initial retry delay.
func (e Endpoint) InitialDelay() time.Duration { return e.initialDelay }

// BackoffFactor returns the retry backoff multiplier.
func (e Endpoint) BackoffFactor() float64 { return e.backoffFactor }

// Temperature returns the generation temperature override, empty for the
// API default.
func (e Endpoint) Temperature() string { return e.temperature }

// ThinkingLevel returns the thinking budget selector, empty for the API
// default.
func (e Endpoint) ThinkingLevel() string { return e.thinkingLevel }

// MaxOutputTokens returns the output token cap, zero for the API default.
func (e Endpoint) MaxOutputTokens() int { return e.maxOutputTokens }

// IsConfigured returns true if the endpoint has an API key.
func (e Endpoint) IsConfigured() bool {
	return e.apiKey != ""
}

// EndpointOption is a functional option for Endpoint.
type EndpointOption func(*Endpoint)

// WithProvider sets the provider identifier.
func WithProvider(p string) EndpointOption {
	return func(e *Endpoint) { e.provider = p }
}

// WithBaseURL sets the base URL.
func WithBaseURL(url string) EndpointOption {
	return func(e *Endpoint) { e.baseURL = url }
}

// WithModel sets the model.
func WithModel(model string) EndpointOption {
	return func(e *Endpoint) { e.model = model }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) EndpointOption {
	return func(e *Endpoint) { e.apiKey = key }
}

// WithDims sets the embedding dimensionality.
func WithDims(n int) EndpointOption {
	return func(e *Endpoint) { e.dims = n }
}

// WithMaxRetries sets the maximum retry count.
func WithMaxRetries(n int) EndpointOption {
	return func(e *Endpoint) { e.maxRetries = n }
}

// WithInitialDelay sets the initial retry delay.
func WithInitialDelay(d time.Duration) EndpointOption {
	return func(e *Endpoint) { e.initialDelay = d }
}

// WithBackoffFactor sets the retry backoff multiplier.
func WithBackoffFactor(f float64) EndpointOption {
	return func(e *Endpoint) { e.backoffFactor = f }
}

// WithTemperature sets the generation temperature override.
func WithTemperature(t string) EndpointOption {
	return func(e *Endpoint) { e.temperature = t }
}

// WithThinkingLevel sets the thinking budget selector.
func WithThinkingLevel(l string) EndpointOption {
	return func(e *Endpoint) { e.thinkingLevel = l }
}

// WithMaxOutputTokens sets the output token cap.
func WithMaxOutputTokens(n int) EndpointOption {
	return func(e *Endpoint) { e.maxOutputTokens = n }
}

// NewEndpointWithOptions creates an Endpoint with functional options.
func NewEndpointWithOptions(opts ...EndpointOption) Endpoint {
	e := NewEndpoint()
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// AppConfig holds the main application configuration.
type AppConfig struct {
	host             string
	port             int
	dataDir          string
	reposDir         string
	repoPath         string
	logLevel         string
	logFormat        LogFormat
	chat             Endpoint
	embedding        Endpoint
	thinkingResearch string
	embedBatchSize   int
	summaryDelay     time.Duration
	cacheSimilarity  float64
	rrfK             float64
}

// NewAppConfig creates a new AppConfig with defaults.
func NewAppConfig() AppConfig {
	return AppConfig{
		host:            DefaultHost,
		port:            DefaultPort,
		dataDir:         "./data",
		logLevel:        DefaultLogLevel,
		logFormat:       LogFormatPretty,
		chat:            NewEndpoint(),
		embedding:       NewEndpoint(),
		embedBatchSize:  DefaultEmbedBatchSize,
		summaryDelay:    DefaultSummaryDelay,
		cacheSimilarity: DefaultCacheSimilarity,
		rrfK:            DefaultRRFK,
	}
}

// Host returns the server host to bind to.
func (c AppConfig) Host() string { return c.host }

// Port returns the server port to listen on.
func (c AppConfig) Port() int { return c.port }

// Addr returns the combined host:port address.
func (c AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

// DataDir returns the data directory path.
func (c AppConfig) DataDir() string { return c.dataDir }

// ReposDir returns the per-repo clone root.
func (c AppConfig) ReposDir() string {
	if c.reposDir != "" {
		return c.reposDir
	}
	return filepath.Join(c.dataDir, DefaultCloneSubdir)
}

// RepoPath returns the legacy single-repo local path.
func (c AppConfig) RepoPath() string { return c.repoPath }

// LogLevel returns the log level.
func (c AppConfig) LogLevel() string { return c.logLevel }

// LogFormat returns the log format.
func (c AppConfig) LogFormat() LogFormat { return c.logFormat }

// Chat returns the chat endpoint config.
func (c AppConfig) Chat() Endpoint { return c.chat }

// Embedding returns the embedding endpoint config.
func (c AppConfig) Embedding() Endpoint { return c.embedding }

// ThinkingResearch returns the thinking budget selector used by research
// strategies, empty for the API default.
func (c AppConfig) ThinkingResearch() string { return c.thinkingResearch }

// EmbedBatchSize returns the number of texts embedded per provider call.
func (c AppConfig) EmbedBatchSize() int { return c.embedBatchSize }

// SummaryDelay returns the inter-call delay for summarization.
func (c AppConfig) SummaryDelay() time.Duration { return c.summaryDelay }

// CacheSimilarity returns the jaccard threshold for query cache hits.
func (c AppConfig) CacheSimilarity() float64 { return c.cacheSimilarity }

// RRFK returns the reciprocal rank fusion constant.
func (c AppConfig) RRFK() float64 { return c.rrfK }

// DBPath returns the relational database file path.
func (c AppConfig) DBPath() string {
	return filepath.Join(c.dataDir, DefaultDatabaseFile)
}

// RepoDir returns the clone working tree for a repo.
func (c AppConfig) RepoDir(repoID int64) string {
	return filepath.Join(c.ReposDir(), fmt.Sprintf("%d", repoID))
}

// LexicalDir returns the per-repo lexical index directory.
func (c AppConfig) LexicalDir(repoID int64) string {
	return filepath.Join(c.dataDir, fmt.Sprintf("lexical_%d", repoID))
}

// DashboardDir returns the static dashboard directory.
func (c AppConfig) DashboardDir() string {
	return filepath.Join(c.dataDir, "dashboard")
}

// EnsureDirs creates the data and clone directories if missing.
func (c AppConfig) EnsureDirs() error {
	for _, dir := range []string{c.dataDir, c.ReposDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Validate checks provider selections. Missing API keys are not a startup
// error; endpoints that need a provider fail at request time instead.
func (c AppConfig) Validate() error {
	switch c.chat.Provider() {
	case ProviderGemini, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.chat.Provider())
	}
	switch c.embedding.Provider() {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.embedding.Provider())
	}
	return nil
}

// AppConfigOption is a functional option for AppConfig.
type AppConfigOption func(*AppConfig)

// WithHost sets the server host.
func WithHost(host string) AppConfigOption {
	return func(c *AppConfig) { c.host = host }
}

// WithPort sets the server port.
func WithPort(port int) AppConfigOption {
	return func(c *AppConfig) { c.port = port }
}

// WithDataDir sets the data directory.
func WithDataDir(dir string) AppConfigOption {
	return func(c *AppConfig) { c.dataDir = dir }
}

// WithReposDir sets the clone root directory.
func WithReposDir(dir string) AppConfigOption {
	return func(c *AppConfig) { c.reposDir = dir }
}

// WithRepoPath sets the legacy single-repo local path.
func WithRepoPath(path string) AppConfigOption {
	return func(c *AppConfig) { c.repoPath = path }
}

// WithLogLevel sets the log level.
func WithLogLevel(level string) AppConfigOption {
	return func(c *AppConfig) { c.logLevel = level }
}

// WithLogFormat sets the log format.
func WithLogFormat(format LogFormat) AppConfigOption {
	return func(c *AppConfig) { c.logFormat = format }
}

// WithChatEndpoint sets the chat endpoint.
func WithChatEndpoint(e Endpoint) AppConfigOption {
	return func(c *AppConfig) { c.chat = e }
}

// WithEmbeddingEndpoint sets the embedding endpoint.
func WithEmbeddingEndpoint(e Endpoint) AppConfigOption {
	return func(c *AppConfig) { c.embedding = e }
}

// WithThinkingResearch sets the research thinking budget selector.
func WithThinkingResearch(l string) AppConfigOption {
	return func(c *AppConfig) { c.thinkingResearch = l }
}

// WithEmbedBatchSize sets the embedding batch size.
func WithEmbedBatchSize(n int) AppConfigOption {
	return func(c *AppConfig) {
		if n > 0 {
			c.embedBatchSize = n
		}
	}
}

// WithSummaryDelay sets the inter-call delay for summarization.
func WithSummaryDelay(d time.Duration) AppConfigOption {
	return func(c *AppConfig) {
		if d >= 0 {
			c.summaryDelay = d
		}
	}
}

// WithCacheSimilarity sets the jaccard threshold for query cache hits.
func WithCacheSimilarity(t float64) AppConfigOption {
	return func(c *AppConfig) {
		if t > 0 && t <= 1 {
			c.cacheSimilarity = t
		}
	}
}

// WithRRFK sets the reciprocal rank fusion constant.
func WithRRFK(k float64) AppConfigOption {
	return func(c *AppConfig) {
		if k > 0 {
			c.rrfK = k
		}
	}
}

// NewAppConfigWithOptions creates an AppConfig with functional options.
func NewAppConfigWithOptions(opts ...AppConfigOption) AppConfig {
	c := NewAppConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Apply returns a copy with the options applied, for layering flag
// overrides on top of a loaded config.
func (c AppConfig) Apply(opts ...AppConfigOption) AppConfig {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// LogAttrs returns slog attributes for logging the configuration.
// API keys are shown as presence flags only.
func (c AppConfig) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("data_dir", c.dataDir),
		slog.String("repos_dir", c.ReposDir()),
		slog.String("db_path", c.DBPath()),
		slog.String("log_level", c.logLevel),
		slog.String("llm_provider", c.chat.Provider()),
		slog.String("llm_model", c.chat.Model()),
		slog.Bool("llm_key_set", c.chat.IsConfigured()),
		slog.String("embedding_provider", c.embedding.Provider()),
		slog.String("embedding_model", c.embedding.Model()),
		slog.Int("embedding_dims", c.embedding.Dims()),
		slog.Bool("embedding_key_set", c.embedding.IsConfigured()),
	}
}
