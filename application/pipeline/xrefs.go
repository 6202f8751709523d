package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/indiseek/indiseek/domain/symbol"
	"github.com/indiseek/indiseek/domain/task"
	"github.com/indiseek/indiseek/domain/xref"
	"github.com/indiseek/indiseek/infrastructure/scip"
)

// indexFileName is where SCIP indexers write by default, relative to the
// repo root.
const indexFileName = "index.scip"

// LoadXrefs reads the repo's SCIP index and replaces the stored
// cross-reference data with its contents. The index format is not
// incrementally updatable, so the load is always whole-repo. A missing
// index file is not an error; the stage reports it and moves on.
func (p *Pipeline) LoadXrefs(ctx context.Context, repoID int64, progress Progress) (map[string]int, error) {
	counts := map[string]int{
		"documents": 0, "symbols": 0, "occurrences": 0, "relationships": 0, "skipped_local": 0,
	}

	r, err := p.deps.Repos.Get(ctx, repoID)
	if err != nil {
		return counts, err
	}

	path := filepath.Join(r.LocalPath(), indexFileName)
	if _, err := os.Stat(path); err != nil {
		p.logger.Warn("no cross-reference index, skipping", "repo_id", repoID, "path", path)
		counts["missing_index"] = 1
		return counts, nil
	}

	index, err := scip.ReadFile(path)
	if err != nil {
		return counts, fmt.Errorf("read %s: %w", indexFileName, err)
	}

	if err := p.deps.Xrefs.DeleteByRepo(ctx, repoID); err != nil {
		return counts, err
	}

	// symbol_string -> row id, shared across documents: the same symbol
	// appears in every document that references it.
	symbolIDs := make(map[string]int64)
	ensureSymbol := func(symbolString, documentation string) (int64, error) {
		if id, ok := symbolIDs[symbolString]; ok {
			return id, nil
		}
		stored, err := p.deps.Xrefs.UpsertSymbol(ctx, xref.NewCrossRefSymbol(repoID, symbolString, documentation))
		if err != nil {
			return 0, err
		}
		symbolIDs[symbolString] = stored.ID()
		return stored.ID(), nil
	}

	for i, doc := range index.Documents {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		progress.emit(task.Progress(StageXrefs, i+1, len(index.Documents), doc.RelativePath))

		for _, info := range doc.Symbols {
			if scip.IsLocal(info.Symbol) {
				counts["skipped_local"]++
				continue
			}
			id, err := ensureSymbol(info.Symbol, strings.Join(info.Documentation, "\n"))
			if err != nil {
				return counts, err
			}
			counts["symbols"]++

			for _, rel := range info.Relationships {
				if scip.IsLocal(rel.Symbol) {
					counts["skipped_local"]++
					continue
				}
				kind, ok := relationshipKind(rel)
				if !ok {
					continue
				}
				relatedID, err := ensureSymbol(rel.Symbol, "")
				if err != nil {
					return counts, err
				}
				if err := p.deps.Xrefs.InsertRelationships(ctx, []xref.Relationship{
					xref.NewRelationship(id, relatedID, kind, repoID),
				}); err != nil {
					return counts, err
				}
				counts["relationships"]++
			}
		}

		var occs []xref.Occurrence
		for _, occ := range doc.Occurrences {
			if scip.IsLocal(occ.Symbol) {
				counts["skipped_local"]++
				continue
			}
			startLine, startCol, endLine, endCol, ok := occ.Span()
			if !ok {
				continue
			}
			id, err := ensureSymbol(occ.Symbol, "")
			if err != nil {
				return counts, err
			}
			role := xref.RoleReference
			if occ.IsDefinition() {
				role = xref.RoleDefinition
			}
			occs = append(occs, xref.NewOccurrence(id, repoID, doc.RelativePath,
				symbol.NewRange(startLine, startCol, endLine, endCol), role))
		}
		if len(occs) > 0 {
			if err := p.deps.Xrefs.InsertOccurrences(ctx, occs); err != nil {
				return counts, err
			}
			counts["occurrences"] += len(occs)
		}
		counts["documents"]++
	}

	p.logger.Info("cross-reference load finished", "repo_id", repoID,
		"documents", counts["documents"], "symbols", counts["symbols"],
		"occurrences", counts["occurrences"])
	return counts, nil
}

// relationshipKind maps SCIP relationship flags onto an edge kind.
// Implementation wins over type definition wins over reference; an edge
// with no flags set carries no information and is dropped.
func relationshipKind(rel scip.Relationship) (xref.RelationshipKind, bool) {
	switch {
	case rel.IsImplementation:
		return xref.RelImplementation, true
	case rel.IsTypeDefinition:
		return xref.RelTypeDefinition, true
	case rel.IsReference:
		return xref.RelReference, true
	default:
		return "", false
	}
}
