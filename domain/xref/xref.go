// Package xref provides cross-reference domain types backed by an external
// cross-reference index.
package xref

import (
	"context"

	"github.com/indiseek/indiseek/domain/symbol"
)

// Role classifies an occurrence.
type Role string

// Role values.
const (
	RoleDefinition Role = "definition"
	RoleReference  Role = "reference"
)

// RelationshipKind classifies a symbol-to-symbol edge.
type RelationshipKind string

// RelationshipKind values.
const (
	RelImplementation RelationshipKind = "implementation"
	RelReference      RelationshipKind = "reference"
	RelTypeDefinition RelationshipKind = "type_definition"
)

// CrossRefSymbol is a canonical symbol identity from the cross-reference
// index. symbol_string is unique per repo, enforced at insert time.
type CrossRefSymbol struct {
	id            int64
	repoID        int64
	symbolString  string
	documentation string
}

// NewCrossRefSymbol creates a CrossRefSymbol.
func NewCrossRefSymbol(repoID int64, symbolString, documentation string) CrossRefSymbol {
	return CrossRefSymbol{
		repoID:        repoID,
		symbolString:  symbolString,
		documentation: documentation,
	}
}

// ReconstructCrossRefSymbol recreates a CrossRefSymbol from persistence.
func ReconstructCrossRefSymbol(id, repoID int64, symbolString, documentation string) CrossRefSymbol {
	return CrossRefSymbol{
		id:            id,
		repoID:        repoID,
		symbolString:  symbolString,
		documentation: documentation,
	}
}

// ID returns the database identifier.
func (s CrossRefSymbol) ID() int64 { return s.id }

// RepoID returns the owning repo.
func (s CrossRefSymbol) RepoID() int64 { return s.repoID }

// SymbolString returns the opaque fully-qualified identifier.
func (s CrossRefSymbol) SymbolString() string { return s.symbolString }

// Documentation returns attached documentation, empty when absent.
func (s CrossRefSymbol) Documentation() string { return s.documentation }

// Occurrence is one appearance of a cross-reference symbol in a file.
type Occurrence struct {
	id           int64
	xrefSymbolID int64
	repoID       int64
	filePath     string
	rng          symbol.Range
	role         Role
}

// NewOccurrence creates an Occurrence.
func NewOccurrence(xrefSymbolID, repoID int64, filePath string, rng symbol.Range, role Role) Occurrence {
	return Occurrence{
		xrefSymbolID: xrefSymbolID,
		repoID:       repoID,
		filePath:     filePath,
		rng:          rng,
		role:         role,
	}
}

// ReconstructOccurrence recreates an Occurrence from persistence.
func ReconstructOccurrence(id, xrefSymbolID, repoID int64, filePath string, rng symbol.Range, role Role) Occurrence {
	return Occurrence{
		id:           id,
		xrefSymbolID: xrefSymbolID,
		repoID:       repoID,
		filePath:     filePath,
		rng:          rng,
		role:         role,
	}
}

// ID returns the database identifier.
func (o Occurrence) ID() int64 { return o.id }

// XrefSymbolID returns the owning cross-reference symbol.
func (o Occurrence) XrefSymbolID() int64 { return o.xrefSymbolID }

// RepoID returns the owning repo.
func (o Occurrence) RepoID() int64 { return o.repoID }

// FilePath returns the repo-relative path of the occurrence.
func (o Occurrence) FilePath() string { return o.filePath }

// Range returns the occurrence span.
func (o Occurrence) Range() symbol.Range { return o.rng }

// Role returns whether this is a definition or reference.
func (o Occurrence) Role() Role { return o.role }

// Relationship is a typed edge between two cross-reference symbols.
type Relationship struct {
	id           int64
	xrefSymbolID int64
	relatedID    int64
	kind         RelationshipKind
	repoID       int64
}

// NewRelationship creates a Relationship.
func NewRelationship(xrefSymbolID, relatedID int64, kind RelationshipKind, repoID int64) Relationship {
	return Relationship{
		xrefSymbolID: xrefSymbolID,
		relatedID:    relatedID,
		kind:         kind,
		repoID:       repoID,
	}
}

// ReconstructRelationship recreates a Relationship from persistence.
func ReconstructRelationship(id, xrefSymbolID, relatedID int64, kind RelationshipKind, repoID int64) Relationship {
	return Relationship{
		id:           id,
		xrefSymbolID: xrefSymbolID,
		relatedID:    relatedID,
		kind:         kind,
		repoID:       repoID,
	}
}

// ID returns the database identifier.
func (r Relationship) ID() int64 { return r.id }

// XrefSymbolID returns the source symbol of the edge.
func (r Relationship) XrefSymbolID() int64 { return r.xrefSymbolID }

// RelatedID returns the target symbol of the edge.
func (r Relationship) RelatedID() int64 { return r.relatedID }

// Kind returns the edge kind.
func (r Relationship) Kind() RelationshipKind { return r.kind }

// RepoID returns the owning repo.
func (r Relationship) RepoID() int64 { return r.repoID }

// Store persists cross-reference data. The index file is not incrementally
// updatable, so loads are whole-repo: DeleteByRepo then re-insert.
type Store interface {
	// UpsertSymbol inserts the symbol or returns the existing row for the
	// same (symbol_string, repo_id).
	UpsertSymbol(ctx context.Context, s CrossRefSymbol) (CrossRefSymbol, error)
	InsertOccurrences(ctx context.Context, occs []Occurrence) error
	InsertRelationships(ctx context.Context, rels []Relationship) error
	// FindSymbols returns symbols whose symbol_string contains name.
	FindSymbols(ctx context.Context, repoID int64, name string) ([]CrossRefSymbol, error)
	GetSymbol(ctx context.Context, repoID, id int64) (CrossRefSymbol, error)
	OccurrencesBySymbol(ctx context.Context, xrefSymbolID int64, role Role) ([]Occurrence, error)
	// OccurrencesInRange returns occurrences of the given role whose start
	// line falls within [startLine, endLine] of the file.
	OccurrencesInRange(ctx context.Context, repoID int64, filePath string, startLine, endLine int, role Role) ([]Occurrence, error)
	DeleteOccurrencesByFiles(ctx context.Context, repoID int64, filePaths []string) error
	DeleteByRepo(ctx context.Context, repoID int64) error
	CountSymbols(ctx context.Context, repoID int64) (int64, error)
	CountOccurrences(ctx context.Context, repoID int64) (int64, error)
}
