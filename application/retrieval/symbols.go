package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/indiseek/indiseek/domain/symbol"
	"github.com/indiseek/indiseek/domain/xref"
	"github.com/indiseek/indiseek/internal/apperr"
)

// Action selects what ResolveSymbol reports about a symbol.
type Action string

// Action values.
const (
	ActionDefinition Action = "definition"
	ActionReferences Action = "references"
	ActionCallers    Action = "callers"
	ActionCallees    Action = "callees"
)

// ResolveSymbol answers a symbol question as formatted text. Finding
// nothing is an answer, not an error; ambiguity (several symbols sharing
// the name) is disclosed instead of silently picking one.
func (s *Service) ResolveSymbol(ctx context.Context, repoID int64, name string, action Action) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.BadRequest("empty symbol name")
	}

	switch action {
	case ActionDefinition:
		return s.resolveDefinition(ctx, repoID, name)
	case ActionReferences:
		return s.resolveReferences(ctx, repoID, name)
	case ActionCallers:
		return s.resolveCallers(ctx, repoID, name)
	case ActionCallees:
		return s.resolveCallees(ctx, repoID, name)
	default:
		return "", apperr.BadRequest("unknown symbol action %q", action)
	}
}

func (s *Service) resolveDefinition(ctx context.Context, repoID int64, name string) (string, error) {
	declared, err := s.symbols.FindByName(ctx, repoID, name)
	if err != nil {
		return "", err
	}
	if len(declared) > 0 {
		var b strings.Builder
		if len(declared) > 1 {
			fmt.Fprintf(&b, "%d definitions of %q:\n", len(declared), name)
		}
		for _, sym := range declared {
			fmt.Fprintf(&b, "%s:%d (%s)", sym.FilePath(), sym.Range().StartLine(), sym.Kind())
			if sym.Signature() != "" {
				b.WriteString(" " + sym.Signature())
			}
			b.WriteString("\n")
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}

	// Fall back to cross-reference definitions for symbols the parser does
	// not extract, e.g. re-exports.
	defs, err := s.xrefDefinitions(ctx, repoID, name)
	if err != nil {
		return "", err
	}
	if len(defs) == 0 {
		return fmt.Sprintf("no definition found for %q", name), nil
	}
	var b strings.Builder
	for _, occ := range defs {
		fmt.Fprintf(&b, "%s:%d (cross-reference)\n", occ.FilePath(), occ.Range().StartLine())
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (s *Service) resolveReferences(ctx context.Context, repoID int64, name string) (string, error) {
	matches, err := s.xrefs.FindSymbols(ctx, repoID, name)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return fmt.Sprintf("no cross-reference entry for %q", name), nil
	}

	var b strings.Builder
	if len(matches) > 1 {
		fmt.Fprintf(&b, "%d symbols match %q:\n", len(matches), name)
	}
	total := 0
	for _, m := range matches {
		occs, err := s.xrefs.OccurrencesBySymbol(ctx, m.ID(), xref.RoleReference)
		if err != nil {
			return "", err
		}
		if len(matches) > 1 {
			fmt.Fprintf(&b, "%s:\n", m.SymbolString())
		}
		for _, occ := range occs {
			fmt.Fprintf(&b, "%s:%d\n", occ.FilePath(), occ.Range().StartLine())
			total++
		}
	}
	if total == 0 {
		return fmt.Sprintf("no references recorded for %q", name), nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// resolveCallers maps each reference occurrence to its innermost enclosing
// declared symbol and deduplicates.
func (s *Service) resolveCallers(ctx context.Context, repoID int64, name string) (string, error) {
	matches, err := s.xrefs.FindSymbols(ctx, repoID, name)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return fmt.Sprintf("no cross-reference entry for %q", name), nil
	}

	type caller struct {
		filePath string
		line     int
		name     string
		kind     symbol.Kind
	}
	seen := make(map[string]caller)
	for _, m := range matches {
		occs, err := s.xrefs.OccurrencesBySymbol(ctx, m.ID(), xref.RoleReference)
		if err != nil {
			return "", err
		}
		for _, occ := range occs {
			enclosing, err := s.symbols.EnclosingSymbol(ctx, repoID, occ.FilePath(), occ.Range().StartLine())
			if apperr.IsNotFound(err) {
				continue
			}
			if err != nil {
				return "", err
			}
			key := fmt.Sprintf("%s:%d", enclosing.FilePath(), enclosing.Range().StartLine())
			seen[key] = caller{
				filePath: enclosing.FilePath(),
				line:     enclosing.Range().StartLine(),
				name:     enclosing.Name(),
				kind:     enclosing.Kind(),
			}
		}
	}
	if len(seen) == 0 {
		return fmt.Sprintf("no callers found for %q", name), nil
	}

	callers := make([]caller, 0, len(seen))
	for _, c := range seen {
		callers = append(callers, c)
	}
	sort.Slice(callers, func(i, j int) bool {
		if callers[i].filePath != callers[j].filePath {
			return callers[i].filePath < callers[j].filePath
		}
		return callers[i].line < callers[j].line
	})

	var b strings.Builder
	for _, c := range callers {
		fmt.Fprintf(&b, "%s %s at %s:%d\n", c.kind, c.name, c.filePath, c.line)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// resolveCallees lists the cross-reference symbols referenced inside the
// target's definition range.
func (s *Service) resolveCallees(ctx context.Context, repoID int64, name string) (string, error) {
	declared, err := s.symbols.FindByName(ctx, repoID, name)
	if err != nil {
		return "", err
	}
	if len(declared) == 0 {
		return fmt.Sprintf("no definition found for %q", name), nil
	}

	var b strings.Builder
	if len(declared) > 1 {
		fmt.Fprintf(&b, "%d definitions of %q; listing callees of each:\n", len(declared), name)
	}
	total := 0
	for _, sym := range declared {
		occs, err := s.xrefs.OccurrencesInRange(ctx, repoID, sym.FilePath(),
			sym.Range().StartLine(), sym.Range().EndLine(), xref.RoleReference)
		if err != nil {
			return "", err
		}
		seen := make(map[int64]bool)
		var callees []string
		for _, occ := range occs {
			if seen[occ.XrefSymbolID()] {
				continue
			}
			seen[occ.XrefSymbolID()] = true
			target, err := s.xrefs.GetSymbol(ctx, repoID, occ.XrefSymbolID())
			if apperr.IsNotFound(err) {
				continue
			}
			if err != nil {
				return "", err
			}
			callees = append(callees, target.SymbolString())
		}
		sort.Strings(callees)

		if len(declared) > 1 {
			fmt.Fprintf(&b, "%s:%d:\n", sym.FilePath(), sym.Range().StartLine())
		}
		for _, callee := range callees {
			b.WriteString(callee + "\n")
			total++
		}
	}
	if total == 0 {
		return fmt.Sprintf("no callees recorded for %q", name), nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// xrefDefinitions returns definition occurrences for symbols matching the
// name.
func (s *Service) xrefDefinitions(ctx context.Context, repoID int64, name string) ([]xref.Occurrence, error) {
	matches, err := s.xrefs.FindSymbols(ctx, repoID, name)
	if err != nil {
		return nil, err
	}
	var defs []xref.Occurrence
	for _, m := range matches {
		occs, err := s.xrefs.OccurrencesBySymbol(ctx, m.ID(), xref.RoleDefinition)
		if err != nil {
			return nil, err
		}
		defs = append(defs, occs...)
	}
	return defs, nil
}
