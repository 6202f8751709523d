package indiseek

import (
	"log/slog"

	"github.com/indiseek/indiseek/internal/config"
)

// settings holds construction-time knobs for New. Use the Option
// functions; defaults come from internal/config.
type settings struct {
	cfg    config.AppConfig
	logger *slog.Logger
}

func newSettings() *settings {
	return &settings{cfg: config.NewAppConfig()}
}

// Option configures the App.
type Option func(*settings)

// WithConfig replaces the whole configuration, usually one loaded from
// the environment.
func WithConfig(cfg config.AppConfig) Option {
	return func(s *settings) { s.cfg = cfg }
}

// WithDataDir sets the root directory for all on-disk stores.
func WithDataDir(dir string) Option {
	return func(s *settings) { s.cfg = s.cfg.Apply(config.WithDataDir(dir)) }
}

// WithReposDir sets the per-repo clone root. Defaults to {dataDir}/repos.
func WithReposDir(dir string) Option {
	return func(s *settings) { s.cfg = s.cfg.Apply(config.WithReposDir(dir)) }
}

// WithRepoPath sets the legacy single-repo local path, enabling the id=1
// adoption on startup.
func WithRepoPath(path string) Option {
	return func(s *settings) { s.cfg = s.cfg.Apply(config.WithRepoPath(path)) }
}

// WithChatEndpoint sets the chat provider endpoint.
func WithChatEndpoint(e config.Endpoint) Option {
	return func(s *settings) { s.cfg = s.cfg.Apply(config.WithChatEndpoint(e)) }
}

// WithEmbeddingEndpoint sets the embedding provider endpoint.
func WithEmbeddingEndpoint(e config.Endpoint) Option {
	return func(s *settings) { s.cfg = s.cfg.Apply(config.WithEmbeddingEndpoint(e)) }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}
