// Package querycache serves repeated questions from completed query rows.
// Similarity is Jaccard over normalized token sets, and any index mutation
// invalidates everything at once through the last_index_at watermark.
package querycache

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/indiseek/indiseek/domain/query"
)

// Watermark reads the last index mutation time.
type Watermark interface {
	LastIndexAt(ctx context.Context) (time.Time, error)
}

// Cache finds reusable answers among completed queries.
type Cache struct {
	queries   query.Store
	watermark Watermark
	threshold float64
	logger    *slog.Logger
}

// New creates a Cache with the given similarity threshold.
func New(queries query.Store, watermark Watermark, threshold float64, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		queries:   queries,
		watermark: watermark,
		threshold: threshold,
		logger:    logger,
	}
}

// Lookup returns a new cached query row copied from the best matching
// completed query, or ok=false when nothing clears the threshold. Only
// queries completed after the last index mutation are candidates; older
// answers may describe code that no longer exists.
func (c *Cache) Lookup(ctx context.Context, repoID int64, prompt string) (query.Query, bool, error) {
	since, err := c.watermark.LastIndexAt(ctx)
	if err != nil {
		return query.Query{}, false, err
	}
	candidates, err := c.queries.CompletedSince(ctx, repoID, since)
	if err != nil {
		return query.Query{}, false, err
	}
	if len(candidates) == 0 {
		return query.Query{}, false, nil
	}

	promptTokens := Tokenize(prompt)
	var best query.Query
	bestScore := 0.0
	for _, candidate := range candidates {
		score := Jaccard(promptTokens, Tokenize(candidate.Prompt()))
		if score > bestScore {
			best = candidate
			bestScore = score
		}
	}
	if bestScore < c.threshold {
		return query.Query{}, false, nil
	}

	c.logger.Info("query cache hit",
		"repo_id", repoID, "source_query_id", best.ID(), "similarity", bestScore)
	cached, err := c.queries.Create(ctx, query.CachedFrom(best, prompt))
	if err != nil {
		return query.Query{}, false, err
	}
	return cached, true, nil
}

// Tokenize normalizes a prompt into its token set: lowercase, punctuation
// stripped (underscores kept), split on whitespace.
func Tokenize(prompt string) map[string]bool {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return r
		default:
			return ' '
		}
	}, prompt)

	tokens := make(map[string]bool)
	for _, tok := range strings.Fields(cleaned) {
		tokens[tok] = true
	}
	return tokens
}

// Jaccard returns |a ∩ b| / |a ∪ b|; two empty sets count as identical.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
