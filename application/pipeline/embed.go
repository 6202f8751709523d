package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/indiseek/indiseek/domain/chunk"
	"github.com/indiseek/indiseek/domain/task"
	"github.com/indiseek/indiseek/infrastructure/vector"
	"github.com/indiseek/indiseek/internal/apperr"
)

// embedMaxConsecutiveFailures aborts the stage once this many batches fail
// in a row; isolated failures are counted and the stage moves on.
const embedMaxConsecutiveFailures = 3

// Embed computes vectors for chunks that do not have one yet. Batches run
// sequentially so the consecutive-failure cutoff sees a stable order. An
// auth failure aborts immediately; no amount of retrying fixes a bad key.
func (p *Pipeline) Embed(ctx context.Context, repoID int64, pathFilter string, progress Progress) (map[string]int, error) {
	counts := map[string]int{"embedded": 0, "skipped": 0, "failed_batches": 0}

	embedder, err := p.deps.NewEmbedder()
	if err != nil {
		return counts, err
	}

	chunks, err := p.deps.Chunks.ListByRepo(ctx, repoID)
	if err != nil {
		return counts, err
	}
	existing, err := p.deps.Vectors.EmbeddedChunkIDs(ctx, repoID)
	if err != nil {
		return counts, err
	}

	var pending []chunk.Chunk
	for _, c := range chunks {
		if !underFilter(c.FilePath(), pathFilter) {
			continue
		}
		if existing[c.ID()] {
			counts["skipped"]++
			continue
		}
		pending = append(pending, c)
	}

	batchSize := p.deps.Config.EmbedBatchSize()
	consecutiveFailures := 0

	for start := 0; start < len(pending); start += batchSize {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		end := min(start+batchSize, len(pending))
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content()
		}

		progress.emit(task.Progress(StageEmbed, end, len(pending), batch[0].FilePath()))

		vectors, _, err := embedder.Embed(ctx, texts)
		if err != nil {
			if errors.Is(err, apperr.ErrProviderAuth) {
				return counts, fmt.Errorf("embedding aborted: %w", err)
			}
			p.logger.Warn("embedding batch failed", "repo_id", repoID, "error", err)
			counts["failed_batches"]++
			consecutiveFailures++
			if consecutiveFailures >= embedMaxConsecutiveFailures {
				return counts, fmt.Errorf("embedding aborted after %d consecutive batch failures: %w",
					consecutiveFailures, err)
			}
			continue
		}
		consecutiveFailures = 0

		entries := make([]vector.Entry, len(batch))
		for i, c := range batch {
			entries[i] = vector.Entry{
				ChunkID:    c.ID(),
				FilePath:   c.FilePath(),
				SymbolName: c.SymbolName(),
				ChunkType:  string(c.ChunkType()),
				Content:    c.Content(),
				Embedding:  vectors[i],
			}
		}
		if err := p.deps.Vectors.Upsert(ctx, repoID, entries); err != nil {
			return counts, err
		}
		counts["embedded"] += len(batch)
	}

	p.logger.Info("embed stage finished", "repo_id", repoID, "model", embedder.Model(),
		"embedded", counts["embedded"], "skipped", counts["skipped"],
		"failed_batches", counts["failed_batches"])
	return counts, nil
}
