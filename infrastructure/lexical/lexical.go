// Package lexical provides the per-repo BM25 index backed by bleve, with
// atomic full rebuilds.
package lexical

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Document is one chunk prepared for lexical indexing.
type Document struct {
	ChunkID    int64
	FilePath   string
	SymbolName string
	Language   string
	Content    string
}

// Hit is one lexical search result.
type Hit struct {
	chunkID int64
	score   float64
}

// ChunkID returns the matched chunk id.
func (h Hit) ChunkID() int64 { return h.chunkID }

// Score returns the BM25 relevance score.
func (h Hit) Score() float64 { return h.score }

// Manager owns one bleve index directory per repo under the data root.
// Rebuilds write into a sibling .tmp directory and swap it in with a rename,
// so readers never observe a half-built index.
type Manager struct {
	root   string
	logger *slog.Logger

	mu      sync.Mutex
	indexes map[int64]bleve.Index
}

// NewManager creates a Manager rooted at the given data directory.
func NewManager(root string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		root:    root,
		logger:  logger,
		indexes: make(map[int64]bleve.Index),
	}
}

func (m *Manager) indexPath(repoID int64) string {
	return filepath.Join(m.root, fmt.Sprintf("lexical_%d", repoID))
}

// buildIndexMapping creates the chunk document mapping: identity fields use
// the keyword analyzer, searchable text uses the standard analyzer.
func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	chunkMapping := bleve.NewDocumentMapping()

	filePathField := bleve.NewTextFieldMapping()
	filePathField.Analyzer = keyword.Name
	filePathField.Store = true
	chunkMapping.AddFieldMappingsAt("file_path", filePathField)

	languageField := bleve.NewTextFieldMapping()
	languageField.Analyzer = keyword.Name
	languageField.Store = true
	chunkMapping.AddFieldMappingsAt("language", languageField)

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	contentField.Store = false
	chunkMapping.AddFieldMappingsAt("content", contentField)

	symbolField := bleve.NewTextFieldMapping()
	symbolField.Analyzer = standard.Name
	symbolField.Store = false
	chunkMapping.AddFieldMappingsAt("symbol_name", symbolField)

	indexMapping.DefaultMapping = chunkMapping
	return indexMapping
}

// Rebuild replaces the repo's lexical index with one built from the given
// documents. The new index is built beside the live one and swapped in
// atomically.
func (m *Manager) Rebuild(ctx context.Context, repoID int64, docs []Document) error {
	final := m.indexPath(repoID)
	tmp := final + ".tmp"

	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("clear stale build dir: %w", err)
	}

	index, err := bleve.New(tmp, buildIndexMapping())
	if err != nil {
		return fmt.Errorf("create lexical index for repo %d: %w", repoID, err)
	}

	batch := index.NewBatch()
	for i, d := range docs {
		if err := ctx.Err(); err != nil {
			_ = index.Close()
			_ = os.RemoveAll(tmp)
			return err
		}
		doc := map[string]any{
			"file_path":   d.FilePath,
			"language":    d.Language,
			"content":     d.Content,
			"symbol_name": d.SymbolName,
		}
		if err := batch.Index(strconv.FormatInt(d.ChunkID, 10), doc); err != nil {
			_ = index.Close()
			_ = os.RemoveAll(tmp)
			return fmt.Errorf("batch chunk %d: %w", d.ChunkID, err)
		}
		// Flush periodically so one huge repo does not hold the whole
		// batch in memory.
		if i%1000 == 999 {
			if err := index.Batch(batch); err != nil {
				_ = index.Close()
				_ = os.RemoveAll(tmp)
				return fmt.Errorf("index batch: %w", err)
			}
			batch = index.NewBatch()
		}
	}
	if err := index.Batch(batch); err != nil {
		_ = index.Close()
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("index batch: %w", err)
	}
	if err := index.Close(); err != nil {
		return fmt.Errorf("close built index: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if open, ok := m.indexes[repoID]; ok {
		if err := open.Close(); err != nil {
			m.logger.Warn("closing live lexical index", "repo_id", repoID, "error", err)
		}
		delete(m.indexes, repoID)
	}
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("remove old lexical index: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("swap lexical index: %w", err)
	}

	m.logger.Info("lexical index rebuilt", "repo_id", repoID, "documents", len(docs))
	return nil
}

// open returns the repo's live index, opening it on first use.
func (m *Manager) open(repoID int64) (bleve.Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index, ok := m.indexes[repoID]; ok {
		return index, nil
	}
	index, err := bleve.Open(m.indexPath(repoID))
	if err != nil {
		return nil, fmt.Errorf("open lexical index for repo %d: %w", repoID, err)
	}
	m.indexes[repoID] = index
	return index, nil
}

// Search runs a BM25 match query over chunk content and symbol names.
// A missing index yields no hits rather than an error: the repo may simply
// not have reached the lexical stage yet.
func (m *Manager) Search(ctx context.Context, repoID int64, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}

	index, err := m.open(repoID)
	if err != nil {
		if _, statErr := os.Stat(m.indexPath(repoID)); os.IsNotExist(statErr) {
			return nil, nil
		}
		return nil, err
	}

	contentQuery := bleve.NewMatchQuery(query)
	contentQuery.SetField("content")
	symbolQuery := bleve.NewMatchQuery(query)
	symbolQuery.SetField("symbol_name")

	request := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(contentQuery, symbolQuery))
	request.Size = limit

	result, err := index.SearchInContext(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("lexical search for repo %d: %w", repoID, err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		chunkID, err := strconv.ParseInt(h.ID, 10, 64)
		if err != nil {
			m.logger.Warn("non-numeric lexical doc id", "id", h.ID)
			continue
		}
		hits = append(hits, Hit{chunkID: chunkID, score: h.Score})
	}
	return hits, nil
}

// DocCount returns the number of indexed documents, 0 when the repo has no
// index yet.
func (m *Manager) DocCount(repoID int64) (uint64, error) {
	index, err := m.open(repoID)
	if err != nil {
		if _, statErr := os.Stat(m.indexPath(repoID)); os.IsNotExist(statErr) {
			return 0, nil
		}
		return 0, err
	}
	return index.DocCount()
}

// DeleteRepo closes and removes the repo's index directory.
func (m *Manager) DeleteRepo(repoID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index, ok := m.indexes[repoID]; ok {
		if err := index.Close(); err != nil {
			m.logger.Warn("closing lexical index for delete", "repo_id", repoID, "error", err)
		}
		delete(m.indexes, repoID)
	}
	if err := os.RemoveAll(m.indexPath(repoID)); err != nil {
		return fmt.Errorf("remove lexical index for repo %d: %w", repoID, err)
	}
	return os.RemoveAll(m.indexPath(repoID) + ".tmp")
}

// Close closes all open indexes.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for repoID, index := range m.indexes {
		if err := index.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close lexical index for repo %d: %w", repoID, err)
		}
		delete(m.indexes, repoID)
	}
	return firstErr
}
