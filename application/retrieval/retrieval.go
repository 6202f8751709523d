// Package retrieval implements the four research tools the agent and the
// HTTP layer consume: the annotated repo map, hybrid code search, symbol
// resolution and indexed file reads.
package retrieval

import (
	"log/slog"

	"github.com/indiseek/indiseek/domain/chunk"
	"github.com/indiseek/indiseek/domain/summary"
	"github.com/indiseek/indiseek/domain/symbol"
	"github.com/indiseek/indiseek/domain/xref"
	"github.com/indiseek/indiseek/infrastructure/lexical"
	"github.com/indiseek/indiseek/infrastructure/provider"
	"github.com/indiseek/indiseek/infrastructure/vector"
	"github.com/indiseek/indiseek/internal/config"
)

// Service answers retrieval requests against the indexed stores only; it
// never reads the working tree.
type Service struct {
	symbols   symbol.Store
	chunks    chunk.Store
	xrefs     xref.Store
	summaries summary.Store
	vectors   *vector.Store
	lexical   *lexical.Manager

	newEmbedder func() (provider.Embedder, error)

	cfg    config.AppConfig
	logger *slog.Logger
}

// Deps bundles the Service's dependencies.
type Deps struct {
	Symbols   symbol.Store
	Chunks    chunk.Store
	Xrefs     xref.Store
	Summaries summary.Store
	Vectors   *vector.Store
	Lexical   *lexical.Manager

	NewEmbedder func() (provider.Embedder, error)

	Config config.AppConfig
	Logger *slog.Logger
}

// NewService creates a Service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		symbols:     deps.Symbols,
		chunks:      deps.Chunks,
		xrefs:       deps.Xrefs,
		summaries:   deps.Summaries,
		vectors:     deps.Vectors,
		lexical:     deps.Lexical,
		newEmbedder: deps.NewEmbedder,
		cfg:         deps.Config,
		logger:      logger,
	}
}
