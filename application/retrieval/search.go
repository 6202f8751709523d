package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/indiseek/indiseek/domain/chunk"
	"github.com/indiseek/indiseek/internal/apperr"
)

// Mode selects the search backend.
type Mode string

// Mode values.
const (
	ModeSemantic Mode = "semantic"
	ModeLexical  Mode = "lexical"
	ModeHybrid   Mode = "hybrid"
)

// MatchType records which backend produced a hit.
type MatchType string

// MatchType values.
const (
	MatchSemantic MatchType = "semantic"
	MatchLexical  MatchType = "lexical"
	MatchHybrid   MatchType = "hybrid"
)

const (
	defaultSearchLimit = 10
	previewMaxChars    = 240
)

// Hit is one ranked search result with enough context to decide what to
// read next.
type Hit struct {
	ChunkID    int64     `json:"chunk_id"`
	FilePath   string    `json:"file_path"`
	SymbolName string    `json:"symbol_name,omitempty"`
	ChunkType  string    `json:"chunk_type"`
	StartLine  int       `json:"start_line"`
	EndLine    int       `json:"end_line"`
	Preview    string    `json:"preview"`
	Score      float64   `json:"score"`
	MatchType  MatchType `json:"match_type"`
}

// SearchCode runs a ranked code search. Hybrid mode fuses both backends by
// reciprocal rank fusion and degrades to whichever backend is available
// when the other cannot serve.
func (s *Service) SearchCode(ctx context.Context, repoID int64, query string, mode Mode, limit int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.BadRequest("empty search query")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	switch mode {
	case ModeSemantic:
		return s.searchSemantic(ctx, repoID, query, limit)
	case ModeLexical:
		return s.searchLexical(ctx, repoID, query, limit)
	case ModeHybrid, "":
		return s.searchHybrid(ctx, repoID, query, limit)
	default:
		return nil, apperr.BadRequest("unknown search mode %q", mode)
	}
}

// rankedID is one entry of a backend's ranked list.
type rankedID struct {
	chunkID int64
	score   float64
}

func (s *Service) searchSemantic(ctx context.Context, repoID int64, query string, limit int) ([]Hit, error) {
	ranked, err := s.semanticRanks(ctx, repoID, query, limit)
	if err != nil {
		return nil, err
	}
	return s.toHits(ctx, repoID, ranked, MatchSemantic)
}

func (s *Service) searchLexical(ctx context.Context, repoID int64, query string, limit int) ([]Hit, error) {
	ranked, err := s.lexicalRanks(ctx, repoID, query, limit)
	if err != nil {
		return nil, err
	}
	return s.toHits(ctx, repoID, ranked, MatchLexical)
}

// searchHybrid fuses both backends: score(chunk) = sum of 1/(k + rank)
// over the lists it appears in. A chunk present in both lists is marked
// hybrid.
func (s *Service) searchHybrid(ctx context.Context, repoID int64, query string, limit int) ([]Hit, error) {
	semantic, semErr := s.semanticRanks(ctx, repoID, query, limit)
	lexical, lexErr := s.lexicalRanks(ctx, repoID, query, limit)

	if semErr != nil && lexErr != nil {
		return nil, fmt.Errorf("both search backends failed: %v; %w", semErr, lexErr)
	}
	if semErr != nil {
		s.logger.Warn("semantic backend unavailable, degrading to lexical", "error", semErr)
		return s.toHits(ctx, repoID, lexical, MatchLexical)
	}
	if lexErr != nil {
		s.logger.Warn("lexical backend unavailable, degrading to semantic", "error", lexErr)
		return s.toHits(ctx, repoID, semantic, MatchSemantic)
	}

	k := s.cfg.RRFK()
	fused := make(map[int64]float64)
	inSemantic := make(map[int64]bool)
	inLexical := make(map[int64]bool)
	for rank, r := range semantic {
		fused[r.chunkID] += 1.0 / (k + float64(rank))
		inSemantic[r.chunkID] = true
	}
	for rank, r := range lexical {
		fused[r.chunkID] += 1.0 / (k + float64(rank))
		inLexical[r.chunkID] = true
	}

	ranked := make([]rankedID, 0, len(fused))
	for id, score := range fused {
		ranked = append(ranked, rankedID{chunkID: id, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].chunkID < ranked[j].chunkID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	hits, err := s.toHits(ctx, repoID, ranked, MatchHybrid)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		switch {
		case inSemantic[hits[i].ChunkID] && inLexical[hits[i].ChunkID]:
			hits[i].MatchType = MatchHybrid
		case inSemantic[hits[i].ChunkID]:
			hits[i].MatchType = MatchSemantic
		default:
			hits[i].MatchType = MatchLexical
		}
	}
	return hits, nil
}

func (s *Service) semanticRanks(ctx context.Context, repoID int64, query string, limit int) ([]rankedID, error) {
	embedder, err := s.newEmbedder()
	if err != nil {
		return nil, err
	}
	vecs, _, err := embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 query vector, got %d", len(vecs))
	}
	matches, err := s.vectors.Search(ctx, repoID, vecs[0], limit)
	if err != nil {
		return nil, err
	}
	ranked := make([]rankedID, len(matches))
	for i, m := range matches {
		ranked[i] = rankedID{chunkID: m.ChunkID(), score: m.Score()}
	}
	return ranked, nil
}

func (s *Service) lexicalRanks(ctx context.Context, repoID int64, query string, limit int) ([]rankedID, error) {
	hits, err := s.lexical.Search(ctx, repoID, query, limit)
	if err != nil {
		return nil, err
	}
	ranked := make([]rankedID, len(hits))
	for i, h := range hits {
		ranked[i] = rankedID{chunkID: h.ChunkID(), score: h.Score()}
	}
	return ranked, nil
}

// toHits hydrates ranked chunk ids from the relational store. Ids whose
// chunk row is gone (stale index entries) are dropped.
func (s *Service) toHits(ctx context.Context, repoID int64, ranked []rankedID, matchType MatchType) ([]Hit, error) {
	hits := make([]Hit, 0, len(ranked))
	for _, r := range ranked {
		c, err := s.chunks.Get(ctx, repoID, r.chunkID)
		if apperr.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{
			ChunkID:    c.ID(),
			FilePath:   c.FilePath(),
			SymbolName: c.SymbolName(),
			ChunkType:  string(c.ChunkType()),
			StartLine:  c.StartLine(),
			EndLine:    c.EndLine(),
			Preview:    preview(c),
			Score:      r.score,
			MatchType:  matchType,
		})
	}
	return hits, nil
}

func preview(c chunk.Chunk) string {
	content := c.Content()
	if utf8.RuneCountInString(content) <= previewMaxChars {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewMaxChars]) + "…"
}
