package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/indiseek/indiseek"
	"github.com/indiseek/indiseek/infrastructure/api"
	"github.com/indiseek/indiseek/internal/config"
	"github.com/indiseek/indiseek/internal/log"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		envFile string
		host    string
		port    int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the HTTP API server.

Configuration is loaded in the following order (later sources override earlier):
  1. Default values
  2. .env file (if --env-file specified or .env exists in current directory)
  3. Environment variables
  4. Command line flags

Environment variables:
  HOST                  Server host to bind to (default: 0.0.0.0)
  PORT                  Server port to listen on (default: 8420)
  DATA_DIR              Data directory (default: ./data)
  REPOS_DIR             Clone root for registered repos (default: {data_dir}/repos)
  REPO_PATH             Legacy single-repo path, adopted as repo id 1
  LOG_LEVEL             Log level: DEBUG, INFO, WARN, ERROR (default: INFO)
  LOG_FORMAT            Log format: pretty, json (default: pretty)

  LLM_PROVIDER          Chat/agent provider: gemini, openai, anthropic (default: gemini)
  EMBEDDING_PROVIDER    Embedding provider: gemini, openai (default: gemini)
  GEMINI_API_KEY        API key for the Gemini provider
  OPENAI_API_KEY        API key for the OpenAI provider
  ANTHROPIC_API_KEY     API key for the Anthropic provider
  GEMINI_MODEL          Chat model (default: gemini-2.5-flash)
  OPENAI_MODEL          Chat model (default: gpt-4o-mini)
  ANTHROPIC_MODEL       Chat model (default: claude-sonnet-4-5)

  EMBED_BATCH_SIZE      Chunks per embedding request (default: 32)
  SUMMARY_DELAY_MS      Pause between summary LLM calls (default: 500)
  CACHE_SIMILARITY      Jaccard threshold for the query cache (default: 0.8)
  RRF_K                 Reciprocal rank fusion constant (default: 60)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(envFile, host, port)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to .env file (default: .env in current directory)")
	cmd.Flags().StringVar(&host, "host", "", "Server host to bind to (default: 0.0.0.0)")
	cmd.Flags().IntVar(&port, "port", 0, "Server port to listen on (default: 8420)")

	return cmd
}

func runServe(envFile, host string, port int) error {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}

	// Flags take precedence over env vars.
	cfg = applyServeOverrides(cfg, host, port)

	logger := log.NewLogger(cfg)
	logger.SetDefault()
	slogger := logger.Slog()

	attrs := append([]slog.Attr{slog.String("version", version)}, cfg.LogAttrs()...)
	slogger.LogAttrs(context.Background(), slog.LevelInfo, "starting indiseek", attrs...)

	app, err := indiseek.New(
		indiseek.WithConfig(cfg),
		indiseek.WithLogger(slogger),
	)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			slogger.Error("close app", slog.Any("error", err))
		}
	}()

	handlers := api.NewHandlers(api.Deps{
		Repos:     app.Repos,
		Queries:   app.Queries,
		Symbols:   app.Symbols,
		Chunks:    app.Chunks,
		Xrefs:     app.Xrefs,
		Summaries: app.Summaries,
		Vectors:   app.Vectors,
		Lexical:   app.Lexical,
		Lifecycle: app.Lifecycle,
		Pipeline:  app.Pipeline,
		Tasks:     app.Tasks,
		Agent:     app.Agent,
		Retrieval: app.Retrieval,
		Config:    app.Config(),
		Logger:    slogger,
		Version:   version,
	})
	server := api.NewServer(cfg.Addr(), handlers, slogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slogger.Info("shutting down server")
		cancel()
		if err := server.Shutdown(ctx); err != nil {
			slogger.Error("shutdown error", slog.Any("error", err))
		}
	}()

	slogger.Info("starting server", slog.String("addr", cfg.Addr()))
	if err := server.Start(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// applyServeOverrides applies command line flag overrides to the config.
func applyServeOverrides(cfg config.AppConfig, host string, port int) config.AppConfig {
	var opts []config.AppConfigOption

	if host != "" {
		opts = append(opts, config.WithHost(host))
	}
	if port != 0 {
		opts = append(opts, config.WithPort(port))
	}

	return cfg.Apply(opts...)
}
