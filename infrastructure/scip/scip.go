// Package scip reads SCIP cross-reference index files, the length-delimited
// protobuf stream emitted by scip-typescript and equivalent indexers. Only
// the fields the loader needs are decoded; everything else is skipped.
package scip

import (
	"fmt"
	"os"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// Index is the decoded index file: one entry per source document.
type Index struct {
	Documents []Document
}

// Document carries one file's symbols and occurrences. Documents are
// self-contained; the loader processes them independently.
type Document struct {
	Language     string
	RelativePath string
	Occurrences  []Occurrence
	Symbols      []SymbolInformation
}

// Occurrence is one appearance of a symbol. Range holds 3 ints for
// same-line spans ([line, col_start, col_end]) or 4 for cross-line spans,
// with 0-based lines as written by the indexer.
type Occurrence struct {
	Range       []int32
	Symbol      string
	SymbolRoles int32
}

// roleDefinition is the definition bit of the symbol_roles bitset.
const roleDefinition = 0x1

// IsDefinition reports whether the occurrence is the symbol's definition.
func (o Occurrence) IsDefinition() bool {
	return o.SymbolRoles&roleDefinition != 0
}

// Span normalizes the packed range to 1-based lines. ok is false when the
// range has an unexpected shape.
func (o Occurrence) Span() (startLine, startCol, endLine, endCol int, ok bool) {
	switch len(o.Range) {
	case 3:
		return int(o.Range[0]) + 1, int(o.Range[1]), int(o.Range[0]) + 1, int(o.Range[2]), true
	case 4:
		return int(o.Range[0]) + 1, int(o.Range[1]), int(o.Range[2]) + 1, int(o.Range[3]), true
	}
	return 0, 0, 0, 0, false
}

// SymbolInformation is the per-symbol metadata record.
type SymbolInformation struct {
	Symbol        string
	Documentation []string
	Relationships []Relationship
}

// Relationship is an edge from the owning symbol to another.
type Relationship struct {
	Symbol           string
	IsReference      bool
	IsImplementation bool
	IsTypeDefinition bool
}

// IsLocal reports whether the symbol string is file-scoped. Local symbols
// carry no cross-file information and are skipped by the loader.
func IsLocal(symbolString string) bool {
	return strings.HasPrefix(symbolString, "local ")
}

// ReadFile reads and parses an index file.
func ReadFile(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", path, err)
	}
	index, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse index %s: %w", path, err)
	}
	return index, nil
}

// Field numbers from the scip.proto schema.
const (
	indexFieldDocuments = 2

	documentFieldLanguage     = 1
	documentFieldRelativePath = 2
	documentFieldOccurrences  = 3
	documentFieldSymbols      = 4

	occurrenceFieldRange       = 1
	occurrenceFieldSymbol      = 2
	occurrenceFieldSymbolRoles = 3

	symbolInfoFieldSymbol        = 1
	symbolInfoFieldDocumentation = 3
	symbolInfoFieldRelationships = 4

	relationshipFieldSymbol           = 1
	relationshipFieldIsReference      = 2
	relationshipFieldIsImplementation = 3
	relationshipFieldIsTypeDefinition = 4
)

// Parse decodes an index from its wire bytes.
func Parse(data []byte) (*Index, error) {
	index := &Index{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, field []byte) error {
		if num == indexFieldDocuments && typ == protowire.BytesType {
			doc, err := parseDocument(field)
			if err != nil {
				return err
			}
			index.Documents = append(index.Documents, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return index, nil
}

func parseDocument(data []byte) (Document, error) {
	var doc Document
	err := eachField(data, func(num protowire.Number, typ protowire.Type, field []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case documentFieldLanguage:
			doc.Language = string(field)
		case documentFieldRelativePath:
			doc.RelativePath = string(field)
		case documentFieldOccurrences:
			occ, err := parseOccurrence(field)
			if err != nil {
				return err
			}
			doc.Occurrences = append(doc.Occurrences, occ)
		case documentFieldSymbols:
			info, err := parseSymbolInformation(field)
			if err != nil {
				return err
			}
			doc.Symbols = append(doc.Symbols, info)
		}
		return nil
	})
	if err != nil {
		return Document{}, fmt.Errorf("document: %w", err)
	}
	return doc, nil
}

func parseOccurrence(data []byte) (Occurrence, error) {
	var occ Occurrence
	err := eachField(data, func(num protowire.Number, typ protowire.Type, field []byte) error {
		switch {
		case num == occurrenceFieldRange && typ == protowire.BytesType:
			// Packed repeated int32.
			for len(field) > 0 {
				v, n := protowire.ConsumeVarint(field)
				if n < 0 {
					return protowire.ParseError(n)
				}
				occ.Range = append(occ.Range, int32(v))
				field = field[n:]
			}
		case num == occurrenceFieldRange && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(field)
			if n < 0 {
				return protowire.ParseError(n)
			}
			occ.Range = append(occ.Range, int32(v))
		case num == occurrenceFieldSymbol && typ == protowire.BytesType:
			occ.Symbol = string(field)
		case num == occurrenceFieldSymbolRoles && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(field)
			if n < 0 {
				return protowire.ParseError(n)
			}
			occ.SymbolRoles = int32(v)
		}
		return nil
	})
	if err != nil {
		return Occurrence{}, fmt.Errorf("occurrence: %w", err)
	}
	return occ, nil
}

func parseSymbolInformation(data []byte) (SymbolInformation, error) {
	var info SymbolInformation
	err := eachField(data, func(num protowire.Number, typ protowire.Type, field []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case symbolInfoFieldSymbol:
			info.Symbol = string(field)
		case symbolInfoFieldDocumentation:
			info.Documentation = append(info.Documentation, string(field))
		case symbolInfoFieldRelationships:
			rel, err := parseRelationship(field)
			if err != nil {
				return err
			}
			info.Relationships = append(info.Relationships, rel)
		}
		return nil
	})
	if err != nil {
		return SymbolInformation{}, fmt.Errorf("symbol information: %w", err)
	}
	return info, nil
}

func parseRelationship(data []byte) (Relationship, error) {
	var rel Relationship
	err := eachField(data, func(num protowire.Number, typ protowire.Type, field []byte) error {
		switch {
		case num == relationshipFieldSymbol && typ == protowire.BytesType:
			rel.Symbol = string(field)
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(field)
			if n < 0 {
				return protowire.ParseError(n)
			}
			switch num {
			case relationshipFieldIsReference:
				rel.IsReference = v != 0
			case relationshipFieldIsImplementation:
				rel.IsImplementation = v != 0
			case relationshipFieldIsTypeDefinition:
				rel.IsTypeDefinition = v != 0
			}
		}
		return nil
	})
	if err != nil {
		return Relationship{}, fmt.Errorf("relationship: %w", err)
	}
	return rel, nil
}

// eachField walks a message's fields, handing each to fn. For bytes fields
// fn receives the payload; for varint fields it receives the unconsumed
// remainder starting at the value. Unknown fields are skipped.
func eachField(data []byte, fn func(num protowire.Number, typ protowire.Type, field []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch typ {
		case protowire.BytesType:
			payload, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := fn(num, typ, payload); err != nil {
				return err
			}
			data = data[n:]
		case protowire.VarintType:
			if err := fn(num, typ, data); err != nil {
				return err
			}
			_, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}
