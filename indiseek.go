// Package indiseek wires the code research service together: stores,
// pipeline, lifecycle, retrieval and the agent, behind one App.
//
// Typical use:
//
//	app, err := indiseek.New(indiseek.WithConfig(cfg))
//	...
//	app.Lifecycle.AddRepo(ctx, "name", "https://...")
//	app.Retrieval.SearchCode(ctx, 1, "query", retrieval.ModeHybrid, 10)
package indiseek

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/indiseek/indiseek/application/agent"
	"github.com/indiseek/indiseek/application/lifecycle"
	"github.com/indiseek/indiseek/application/pipeline"
	"github.com/indiseek/indiseek/application/querycache"
	"github.com/indiseek/indiseek/application/retrieval"
	"github.com/indiseek/indiseek/application/taskmgr"
	"github.com/indiseek/indiseek/domain/chunk"
	"github.com/indiseek/indiseek/domain/query"
	"github.com/indiseek/indiseek/domain/repo"
	"github.com/indiseek/indiseek/domain/summary"
	"github.com/indiseek/indiseek/domain/symbol"
	"github.com/indiseek/indiseek/domain/xref"
	"github.com/indiseek/indiseek/infrastructure/gitrepo"
	"github.com/indiseek/indiseek/infrastructure/lexical"
	"github.com/indiseek/indiseek/infrastructure/parser"
	"github.com/indiseek/indiseek/infrastructure/persistence"
	"github.com/indiseek/indiseek/infrastructure/provider"
	"github.com/indiseek/indiseek/infrastructure/vector"
	"github.com/indiseek/indiseek/internal/config"
	"github.com/indiseek/indiseek/internal/database"
)

// App is the assembled service. Stores and services are exposed as
// fields; HTTP handlers and tests reach them directly.
type App struct {
	Repos     repo.Store
	Queries   query.Store
	Symbols   symbol.Store
	Chunks    chunk.Store
	Xrefs     xref.Store
	Summaries summary.Store
	Vectors   *vector.Store
	Lexical   *lexical.Manager
	Meta      persistence.MetadataStore

	Tasks     *taskmgr.Manager
	Pipeline  *pipeline.Pipeline
	Lifecycle *lifecycle.Service
	Retrieval *retrieval.Service
	Agent     *agent.Service

	db     database.Database
	cfg    config.AppConfig
	logger *slog.Logger
	closed atomic.Bool
}

// New builds the App: opens the database, runs migrations, constructs
// every store and service, and adopts a legacy single-repo index when
// REPO_PATH points at one.
func New(opts ...Option) (*App, error) {
	settings := newSettings()
	for _, opt := range opts {
		opt(settings)
	}
	cfg := settings.cfg

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	logger := settings.logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx := context.Background()
	db, err := database.NewDatabase(ctx, cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := persistence.AutoMigrate(db); err != nil {
		return nil, errors.Join(fmt.Errorf("migrate: %w", err), db.Close())
	}

	app := &App{
		Repos:     persistence.NewRepoStore(db),
		Queries:   persistence.NewQueryStore(db),
		Symbols:   persistence.NewSymbolStore(db),
		Chunks:    persistence.NewChunkStore(db),
		Xrefs:     persistence.NewXrefStore(db),
		Summaries: persistence.NewSummaryStore(db),
		Vectors:   vector.NewStore(db, logger),
		Lexical:   lexical.NewManager(cfg.DataDir(), logger),
		Meta:      persistence.NewMetadataStore(db),
		Tasks:     taskmgr.NewManager(logger),
		db:        db,
		cfg:       cfg,
		logger:    logger,
	}

	// Provider construction is lazy: a missing API key surfaces when an
	// endpoint actually needs the provider, not at startup.
	newEmbedder := func() (provider.Embedder, error) {
		return provider.NewEmbedder(cfg.Embedding(), logger)
	}
	newGenerator := func() (provider.Generator, error) {
		return provider.NewGenerator(cfg.Chat(), logger)
	}
	newChat := func() (provider.ChatClient, error) {
		return provider.NewChatClient(cfg.Chat(), logger)
	}

	app.Pipeline = pipeline.New(pipeline.Deps{
		Repos:        app.Repos,
		Symbols:      app.Symbols,
		Chunks:       app.Chunks,
		Xrefs:        app.Xrefs,
		Summaries:    app.Summaries,
		Vectors:      app.Vectors,
		Lexical:      app.Lexical,
		Parser:       parser.NewParser(logger),
		Meta:         app.Meta,
		NewEmbedder:  newEmbedder,
		NewGenerator: newGenerator,
		Config:       cfg,
		Logger:       logger,
	})

	app.Lifecycle = lifecycle.NewService(lifecycle.Deps{
		Repos:     app.Repos,
		Symbols:   app.Symbols,
		Chunks:    app.Chunks,
		Xrefs:     app.Xrefs,
		Summaries: app.Summaries,
		Vectors:   app.Vectors,
		Lexical:   app.Lexical,
		Git:       gitrepo.NewClient(logger),
		Pipeline:  app.Pipeline,
		Tasks:     app.Tasks,
		Config:    cfg,
		Logger:    logger,
	})

	app.Retrieval = retrieval.NewService(retrieval.Deps{
		Symbols:     app.Symbols,
		Chunks:      app.Chunks,
		Xrefs:       app.Xrefs,
		Summaries:   app.Summaries,
		Vectors:     app.Vectors,
		Lexical:     app.Lexical,
		NewEmbedder: newEmbedder,
		Config:      cfg,
		Logger:      logger,
	})

	runner := agent.NewRunner(app.Retrieval, newChat, logger)
	cache := querycache.New(app.Queries, app.Meta, cfg.CacheSimilarity(), logger)
	app.Agent = agent.NewService(runner, app.Queries, cache, logger)

	if err := app.Lifecycle.EnsureLegacyRepo(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("adopt legacy repo: %w", err), db.Close())
	}

	return app, nil
}

// Config returns the effective configuration.
func (a *App) Config() config.AppConfig { return a.cfg }

// Logger returns the app logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Close releases the database and lexical indexes. Safe to call twice.
func (a *App) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	return errors.Join(a.Lexical.Close(), a.db.Close())
}
