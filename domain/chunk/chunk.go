// Package chunk provides AST-scoped chunk domain types, the unit of
// embedding and lexical indexing.
package chunk

import "context"

// Type classifies how a chunk was scoped.
type Type string

// Type values.
const (
	TypeFunction Type = "function"
	TypeClass    Type = "class"
	TypeMethod   Type = "method"
	TypeBlock    Type = "block"
	TypeFile     Type = "file"
)

// Chunk is a contiguous source region bounded by syntactic scope.
type Chunk struct {
	id            int64
	repoID        int64
	filePath      string
	symbolName    string
	chunkType     Type
	startLine     int
	endLine       int
	content       string
	tokenEstimate int
}

// NewChunk creates a Chunk for a freshly parsed file.
func NewChunk(repoID int64, filePath, symbolName string, chunkType Type, startLine, endLine int, content string, tokenEstimate int) Chunk {
	return Chunk{
		repoID:        repoID,
		filePath:      filePath,
		symbolName:    symbolName,
		chunkType:     chunkType,
		startLine:     startLine,
		endLine:       endLine,
		content:       content,
		tokenEstimate: tokenEstimate,
	}
}

// ReconstructChunk recreates a Chunk from persistence.
func ReconstructChunk(id, repoID int64, filePath, symbolName string, chunkType Type, startLine, endLine int, content string, tokenEstimate int) Chunk {
	return Chunk{
		id:            id,
		repoID:        repoID,
		filePath:      filePath,
		symbolName:    symbolName,
		chunkType:     chunkType,
		startLine:     startLine,
		endLine:       endLine,
		content:       content,
		tokenEstimate: tokenEstimate,
	}
}

// ID returns the database identifier.
func (c Chunk) ID() int64 { return c.id }

// RepoID returns the owning repo.
func (c Chunk) RepoID() int64 { return c.repoID }

// FilePath returns the repo-relative source path.
func (c Chunk) FilePath() string { return c.filePath }

// SymbolName returns the enclosing symbol name, empty for file-level chunks.
func (c Chunk) SymbolName() string { return c.symbolName }

// ChunkType returns the chunk type.
func (c Chunk) ChunkType() Type { return c.chunkType }

// StartLine returns the 1-based first line.
func (c Chunk) StartLine() int { return c.startLine }

// EndLine returns the 1-based last line.
func (c Chunk) EndLine() int { return c.endLine }

// Content returns the chunk source text.
func (c Chunk) Content() string { return c.content }

// TokenEstimate returns the approximate token count, 0 when not computed.
func (c Chunk) TokenEstimate() int { return c.tokenEstimate }

// Store persists chunks. Chunks are rebuilt per file like symbols.
type Store interface {
	ReplaceForFile(ctx context.Context, repoID int64, filePath string, chunks []Chunk) ([]Chunk, error)
	Get(ctx context.Context, repoID, id int64) (Chunk, error)
	ListByRepo(ctx context.Context, repoID int64) ([]Chunk, error)
	ListByFile(ctx context.Context, repoID int64, filePath string) ([]Chunk, error)
	ListByFiles(ctx context.Context, repoID int64, filePaths []string) ([]Chunk, error)
	ListByIDs(ctx context.Context, repoID int64, ids []int64) ([]Chunk, error)
	DeleteByFiles(ctx context.Context, repoID int64, filePaths []string) error
	DeleteByRepo(ctx context.Context, repoID int64) error
	Count(ctx context.Context, repoID int64) (int64, error)
}
