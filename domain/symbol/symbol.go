// Package symbol provides source symbol domain types.
package symbol

import "context"

// Kind classifies a source symbol.
type Kind string

// Kind values.
const (
	KindFunction  Kind = "function"
	KindClass     Kind = "class"
	KindMethod    Kind = "method"
	KindInterface Kind = "interface"
	KindType      Kind = "type"
	KindEnum      Kind = "enum"
	KindVariable  Kind = "variable"
)

// Range is a source span with 0-based columns and 1-based lines.
type Range struct {
	startLine int
	startCol  int
	endLine   int
	endCol    int
}

// NewRange creates a Range.
func NewRange(startLine, startCol, endLine, endCol int) Range {
	return Range{startLine: startLine, startCol: startCol, endLine: endLine, endCol: endCol}
}

// StartLine returns the first line.
func (r Range) StartLine() int { return r.startLine }

// StartCol returns the start column.
func (r Range) StartCol() int { return r.startCol }

// EndLine returns the last line.
func (r Range) EndLine() int { return r.endLine }

// EndCol returns the end column.
func (r Range) EndCol() int { return r.endCol }

// ContainsLine reports whether the given line falls inside the range.
func (r Range) ContainsLine(line int) bool {
	return line >= r.startLine && line <= r.endLine
}

// Symbol represents a named declaration extracted from a source file.
type Symbol struct {
	id        int64
	repoID    int64
	filePath  string
	name      string
	kind      Kind
	rng       Range
	signature string
	parentID  *int64
}

// NewSymbol creates a Symbol for a freshly parsed file.
func NewSymbol(repoID int64, filePath, name string, kind Kind, rng Range, signature string) Symbol {
	return Symbol{
		repoID:    repoID,
		filePath:  filePath,
		name:      name,
		kind:      kind,
		rng:       rng,
		signature: signature,
	}
}

// ReconstructSymbol recreates a Symbol from persistence.
func ReconstructSymbol(
	id, repoID int64,
	filePath, name string,
	kind Kind,
	rng Range,
	signature string,
	parentID *int64,
) Symbol {
	return Symbol{
		id:        id,
		repoID:    repoID,
		filePath:  filePath,
		name:      name,
		kind:      kind,
		rng:       rng,
		signature: signature,
		parentID:  parentID,
	}
}

// ID returns the database identifier.
func (s Symbol) ID() int64 { return s.id }

// RepoID returns the owning repo.
func (s Symbol) RepoID() int64 { return s.repoID }

// FilePath returns the repo-relative source path.
func (s Symbol) FilePath() string { return s.filePath }

// Name returns the declared name.
func (s Symbol) Name() string { return s.name }

// Kind returns the symbol kind.
func (s Symbol) Kind() Kind { return s.kind }

// Range returns the source span of the declaration.
func (s Symbol) Range() Range { return s.rng }

// Signature returns the declaration signature, empty when unavailable.
func (s Symbol) Signature() string { return s.signature }

// ParentID returns the enclosing symbol's id, nil for top-level symbols.
func (s Symbol) ParentID() *int64 { return s.parentID }

// WithParentID returns a copy nested under the given symbol.
func (s Symbol) WithParentID(id int64) Symbol {
	s.parentID = &id
	return s
}

// Store persists symbols. Symbols are rebuilt per file: ReplaceForFile
// deletes the file's previous rows before inserting the new set.
type Store interface {
	ReplaceForFile(ctx context.Context, repoID int64, filePath string, symbols []Symbol) ([]Symbol, error)
	ListByFile(ctx context.Context, repoID int64, filePath string) ([]Symbol, error)
	FindByName(ctx context.Context, repoID int64, name string) ([]Symbol, error)
	// EnclosingSymbol returns the innermost symbol whose range contains the
	// line in the given file.
	EnclosingSymbol(ctx context.Context, repoID int64, filePath string, line int) (Symbol, error)
	DeleteByFiles(ctx context.Context, repoID int64, filePaths []string) error
	DeleteByRepo(ctx context.Context, repoID int64) error
	Count(ctx context.Context, repoID int64) (int64, error)
}
