// Package parser extracts symbols and AST-scoped chunks from source files
// using tree-sitter grammars.
package parser

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/indiseek/indiseek/domain/chunk"
	"github.com/indiseek/indiseek/domain/symbol"
)

// ErrUnsupportedFile indicates a file extension no grammar covers.
var ErrUnsupportedFile = fmt.Errorf("unsupported file type")

const signatureMaxLen = 200

// Result holds everything extracted from one file. Every supported file
// yields at least one chunk, with or without symbols.
type Result struct {
	Language string
	Symbols  []symbol.Symbol
	Chunks   []chunk.Chunk
}

// Parser turns source files into symbols and chunks. Safe for concurrent
// use; each Parse call builds its own tree-sitter parser.
type Parser struct {
	logger  *slog.Logger
	encoder *tiktoken.Tiktoken
}

// NewParser creates a Parser. Token estimates use the cl100k_base encoding
// when available and fall back to a bytes/4 heuristic when the encoding
// cannot be loaded.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("token encoder unavailable, estimating from bytes", "error", err)
		encoder = nil
	}
	return &Parser{logger: logger, encoder: encoder}
}

// Supports reports whether the file's extension has a grammar.
func (p *Parser) Supports(path string) bool {
	_, ok := configFor(path)
	return ok
}

// Parse extracts symbols and chunks from one source file.
func (p *Parser) Parse(ctx context.Context, repoID int64, filePath string, source []byte) (Result, error) {
	cfg, ok := configFor(filePath)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedFile, filePath)
	}

	tsParser := sitter.NewParser()
	defer tsParser.Close()
	tsParser.SetLanguage(cfg.language)

	tree, err := tsParser.ParseCtx(ctx, nil, source)
	if err != nil {
		return Result{}, fmt.Errorf("parse %s: %w", filePath, err)
	}
	defer tree.Close()

	w := &walker{
		cfg:      cfg,
		source:   source,
		repoID:   repoID,
		filePath: filePath,
	}
	w.walk(tree.RootNode(), false, false)

	lines := strings.Split(string(source), "\n")
	chunks := p.buildChunks(repoID, filePath, lines, w.symbols)

	return Result{Language: cfg.name, Symbols: w.symbols, Chunks: chunks}, nil
}

// walker collects declarations in document order.
type walker struct {
	cfg      languageConfig
	source   []byte
	repoID   int64
	filePath string
	symbols  []symbol.Symbol
}

func (w *walker) walk(node *sitter.Node, insideClass, insideFunction bool) {
	count := int(node.NamedChildCount())
	for i := 0; i < count; i++ {
		child := node.NamedChild(i)
		nodeType := child.Type()

		if kind, ok := w.cfg.declarations[nodeType]; ok {
			if sym, ok := w.buildSymbol(child, nodeType, kind, insideClass, insideFunction); ok {
				w.symbols = append(w.symbols, sym)
			}
		}

		w.walk(child,
			insideClass || w.cfg.classBodies[nodeType],
			insideFunction || w.cfg.functionBodies[nodeType],
		)
	}
}

func (w *walker) buildSymbol(node *sitter.Node, nodeType string, kind symbol.Kind, insideClass, insideFunction bool) (symbol.Symbol, bool) {
	switch {
	case kind == symbol.KindVariable && nodeType == "variable_declarator":
		if insideFunction {
			return symbol.Symbol{}, false
		}
		if isFunctionValued(node) {
			kind = symbol.KindFunction
		}
	case kind == symbol.KindVariable && insideFunction:
		// Locals are not symbols.
		return symbol.Symbol{}, false
	case kind == symbol.KindType && nodeType == "type_spec":
		if t := node.ChildByFieldName("type"); t != nil && t.Type() == "interface_type" {
			kind = symbol.KindInterface
		}
	}
	if kind == symbol.KindFunction && insideClass {
		kind = symbol.KindMethod
	}

	name := declarationName(node, w.source)
	if name == "" {
		return symbol.Symbol{}, false
	}

	start, end := node.StartPoint(), node.EndPoint()
	rng := symbol.NewRange(int(start.Row)+1, int(start.Column), int(end.Row)+1, int(end.Column))
	return symbol.NewSymbol(w.repoID, w.filePath, name, kind, rng, signatureOf(node, w.source)), true
}

// isFunctionValued reports whether a variable declarator binds a function
// expression, e.g. `const handler = async (req) => {...}`.
func isFunctionValued(node *sitter.Node) bool {
	value := node.ChildByFieldName("value")
	if value == nil {
		return false
	}
	switch value.Type() {
	case "arrow_function", "function_expression", "function", "generator_function":
		return true
	}
	return false
}

func declarationName(node *sitter.Node, source []byte) string {
	if name := node.ChildByFieldName("name"); name != nil {
		return name.Content(source)
	}
	count := int(node.NamedChildCount())
	for i := 0; i < count; i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "identifier", "type_identifier", "property_identifier", "field_identifier":
			return child.Content(source)
		}
	}
	return ""
}

// signatureOf returns the declaration's first line without the opening
// brace, capped to keep stored signatures bounded.
func signatureOf(node *sitter.Node, source []byte) string {
	text := node.Content(source)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimRight(strings.TrimSpace(text), "{:")
	text = strings.TrimSpace(text)
	if len(text) > signatureMaxLen {
		text = text[:signatureMaxLen]
	}
	return text
}

// chunkKinds are the symbol kinds that become their own chunk. Variables
// ride along in the surrounding block chunk instead.
var chunkKinds = map[symbol.Kind]chunk.Type{
	symbol.KindFunction:  chunk.TypeFunction,
	symbol.KindMethod:    chunk.TypeMethod,
	symbol.KindClass:     chunk.TypeClass,
	symbol.KindInterface: chunk.TypeClass,
	symbol.KindEnum:      chunk.TypeClass,
	symbol.KindType:      chunk.TypeClass,
}

// buildChunks scopes the file into chunks: one per top-level declaration,
// block chunks for the uncovered remainder, and a single file chunk when
// there are no declarations at all.
func (p *Parser) buildChunks(repoID int64, filePath string, lines []string, symbols []symbol.Symbol) []chunk.Chunk {
	top := topLevelDeclarations(symbols)

	if len(top) == 0 {
		content := strings.Join(lines, "\n")
		return []chunk.Chunk{chunk.NewChunk(
			repoID, filePath, "", chunk.TypeFile, 1, max(len(lines), 1), content, p.tokenEstimate(content),
		)}
	}

	covered := make([]bool, len(lines)+1)
	chunks := make([]chunk.Chunk, 0, len(top)+1)
	for _, sym := range top {
		start, end := clampLines(sym.Range().StartLine(), sym.Range().EndLine(), len(lines))
		for line := start; line <= end; line++ {
			covered[line] = true
		}
		content := strings.Join(lines[start-1:end], "\n")
		chunks = append(chunks, chunk.NewChunk(
			repoID, filePath, sym.Name(), chunkKinds[sym.Kind()], start, end, content, p.tokenEstimate(content),
		))
	}

	// Uncovered stretches with any non-blank text become block chunks, so
	// package clauses, imports and loose statements stay searchable.
	for start := 1; start <= len(lines); start++ {
		if covered[start] {
			continue
		}
		end := start
		for end < len(lines) && !covered[end+1] {
			end++
		}
		content := strings.Join(lines[start-1:end], "\n")
		if strings.TrimSpace(content) != "" {
			chunks = append(chunks, chunk.NewChunk(
				repoID, filePath, "", chunk.TypeBlock, start, end, content, p.tokenEstimate(content),
			))
		}
		start = end
	}

	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].StartLine() < chunks[j].StartLine() })
	return chunks
}

// topLevelDeclarations filters to chunk-worthy symbols not contained in
// another chunk-worthy symbol, sorted by start line.
func topLevelDeclarations(symbols []symbol.Symbol) []symbol.Symbol {
	worthy := make([]symbol.Symbol, 0, len(symbols))
	for _, sym := range symbols {
		if _, ok := chunkKinds[sym.Kind()]; ok {
			worthy = append(worthy, sym)
		}
	}

	top := make([]symbol.Symbol, 0, len(worthy))
	for i, sym := range worthy {
		contained := false
		for j, other := range worthy {
			if i == j {
				continue
			}
			r, o := sym.Range(), other.Range()
			if o.StartLine() <= r.StartLine() && o.EndLine() >= r.EndLine() &&
				(o.StartLine() != r.StartLine() || o.EndLine() != r.EndLine()) {
				contained = true
				break
			}
		}
		if !contained {
			top = append(top, sym)
		}
	}

	sort.SliceStable(top, func(i, j int) bool { return top[i].Range().StartLine() < top[j].Range().StartLine() })
	return top
}

func clampLines(start, end, total int) (int, int) {
	if start < 1 {
		start = 1
	}
	if end > total {
		end = total
	}
	if end < start {
		end = start
	}
	return start, end
}

func (p *Parser) tokenEstimate(content string) int {
	if content == "" {
		return 0
	}
	if p.encoder == nil {
		return len(content) / 4
	}
	return len(p.encoder.Encode(content, nil, nil))
}
