package pipeline

import (
	"context"

	"github.com/indiseek/indiseek/domain/task"
	"github.com/indiseek/indiseek/infrastructure/lexical"
	"github.com/indiseek/indiseek/infrastructure/parser"
)

// BuildLexical rebuilds the repo's keyword index from the stored chunks.
// The index lives outside the relational store, so the mutation is
// recorded explicitly for cache invalidation.
func (p *Pipeline) BuildLexical(ctx context.Context, repoID int64, progress Progress) (map[string]int, error) {
	counts := map[string]int{"documents": 0}

	chunks, err := p.deps.Chunks.ListByRepo(ctx, repoID)
	if err != nil {
		return counts, err
	}

	docs := make([]lexical.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = lexical.Document{
			ChunkID:    c.ID(),
			FilePath:   c.FilePath(),
			SymbolName: c.SymbolName(),
			Language:   parser.LanguageFor(c.FilePath()),
			Content:    c.Content(),
		}
	}

	progress.emit(task.Progress(StageLexical, 0, len(docs), "rebuilding keyword index"))
	if err := p.deps.Lexical.Rebuild(ctx, repoID, docs); err != nil {
		return counts, err
	}
	counts["documents"] = len(docs)
	progress.emit(task.Progress(StageLexical, len(docs), len(docs), "keyword index rebuilt"))

	if err := p.deps.Meta.Touch(ctx); err != nil {
		return counts, err
	}

	p.logger.Info("lexical stage finished", "repo_id", repoID, "documents", len(docs))
	return counts, nil
}
