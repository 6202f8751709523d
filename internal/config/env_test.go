package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnvVars blanks every variable the loader reads so host environment
// leakage cannot affect the test. t.Setenv restores originals on cleanup.
func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"HOST", "PORT", "DATA_DIR", "REPOS_DIR", "REPO_PATH",
		"LOG_LEVEL", "LOG_FORMAT",
		"LLM_PROVIDER", "EMBEDDING_PROVIDER",
		"GEMINI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"GEMINI_MODEL", "OPENAI_MODEL", "ANTHROPIC_MODEL",
		"GEMINI_EMBEDDING_MODEL", "OPENAI_EMBEDDING_MODEL",
		"GEMINI_EMBEDDING_DIMS", "OPENAI_EMBEDDING_DIMS",
		"GEMINI_TEMPERATURE", "GEMINI_THINKING_LEVEL",
		"GEMINI_THINKING_RESEARCH", "GEMINI_MAX_OUTPUT_TOKENS",
		"EMBED_BATCH_SIZE", "SUMMARY_DELAY_MS", "CACHE_SIMILARITY", "RRF_K",
	}
	for _, v := range vars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, "pretty", cfg.LogFormat)
	assert.Equal(t, ProviderGemini, cfg.LLMProvider)
	assert.Equal(t, ProviderGemini, cfg.EmbeddingProvider)
	assert.Equal(t, 768, cfg.GeminiEmbeddingDims)
	assert.Equal(t, 1536, cfg.OpenAIEmbeddingDims)
	assert.Equal(t, DefaultEmbedBatchSize, cfg.EmbedBatchSize)
	assert.Equal(t, 500, cfg.SummaryDelayMS)
	assert.Equal(t, DefaultCacheSimilarity, cfg.CacheSimilarity)
	assert.Equal(t, DefaultRRFK, cfg.RRFK)
}

func TestLoadFromEnv_OverrideValues(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9000")
	t.Setenv("DATA_DIR", "/var/lib/indiseek")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CACHE_SIMILARITY", "0.9")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/var/lib/indiseek", cfg.DataDir)
	assert.Equal(t, "openai", cfg.LLMProvider)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
	assert.Equal(t, 0.9, cfg.CacheSimilarity)
}

func TestToAppConfig_GeminiEndpoints(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("GEMINI_THINKING_LEVEL", "low")
	t.Setenv("GEMINI_MAX_OUTPUT_TOKENS", "2048")

	envCfg, err := LoadFromEnv()
	require.NoError(t, err)
	cfg := envCfg.ToAppConfig()

	chat := cfg.Chat()
	assert.Equal(t, ProviderGemini, chat.Provider())
	assert.Equal(t, GeminiOpenAIBaseURL, chat.BaseURL())
	assert.Equal(t, "gemini-2.5-flash", chat.Model())
	assert.Equal(t, "g-key", chat.APIKey())
	assert.Equal(t, "low", chat.ThinkingLevel())
	assert.Equal(t, 2048, chat.MaxOutputTokens())

	emb := cfg.Embedding()
	assert.Equal(t, ProviderGemini, emb.Provider())
	assert.Equal(t, "text-embedding-004", emb.Model())
	assert.Equal(t, 768, emb.Dims())
}

func TestToAppConfig_ProviderSelection(t *testing.T) {
	tests := []struct {
		name         string
		llmProvider  string
		wantProvider string
		wantModel    string
	}{
		{"openai", "openai", ProviderOpenAI, "gpt-4o-mini"},
		{"anthropic", "anthropic", ProviderAnthropic, "claude-sonnet-4-5"},
		{"gemini explicit", "gemini", ProviderGemini, "gemini-2.5-flash"},
		{"unknown falls back to gemini", "mystery", ProviderGemini, "gemini-2.5-flash"},
		{"case insensitive", "OpenAI", ProviderOpenAI, "gpt-4o-mini"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars(t)
			t.Setenv("LLM_PROVIDER", tt.llmProvider)

			envCfg, err := LoadFromEnv()
			require.NoError(t, err)
			chat := envCfg.ToAppConfig().Chat()
			assert.Equal(t, tt.wantProvider, chat.Provider())
			assert.Equal(t, tt.wantModel, chat.Model())
		})
	}
}

func TestToAppConfig_OpenAIEmbedding(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_EMBEDDING_DIMS", "3072")

	envCfg, err := LoadFromEnv()
	require.NoError(t, err)
	emb := envCfg.ToAppConfig().Embedding()

	assert.Equal(t, ProviderOpenAI, emb.Provider())
	assert.Equal(t, "text-embedding-3-small", emb.Model())
	assert.Equal(t, "sk-test", emb.APIKey())
	assert.Equal(t, 3072, emb.Dims())
	assert.Empty(t, emb.BaseURL())
}

func TestLoadDotEnv(t *testing.T) {
	t.Run("missing file is not an error", func(t *testing.T) {
		err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env"))
		assert.NoError(t, err)
	})

	t.Run("loads variables without overriding environment", func(t *testing.T) {
		clearEnvVars(t)
		t.Setenv("PORT", "7777")

		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("PORT=1111\nDATA_DIR=/from/dotenv\n"), 0o644))
		require.NoError(t, LoadDotEnv(path))

		cfg, err := LoadFromEnv()
		require.NoError(t, err)
		assert.Equal(t, 7777, cfg.Port)
		assert.Equal(t, "/from/dotenv", cfg.DataDir)
	})
}

func TestToAppConfig_DurationsAndPaths(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("DATA_DIR", "/data")
	t.Setenv("SUMMARY_DELAY_MS", "250")

	envCfg, err := LoadFromEnv()
	require.NoError(t, err)
	cfg := envCfg.ToAppConfig()

	assert.Equal(t, 250*time.Millisecond, cfg.SummaryDelay())
	assert.Equal(t, filepath.Join("/data", "repos"), cfg.ReposDir())
	assert.Equal(t, filepath.Join("/data", "indiseek.db"), cfg.DBPath())
	assert.Equal(t, filepath.Join("/data", "lexical_3"), cfg.LexicalDir(3))
	assert.Equal(t, filepath.Join("/data", "repos", "3"), cfg.RepoDir(3))
}
