package parser

import (
	"path/filepath"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/indiseek/indiseek/domain/symbol"
)

// languageConfig describes how to extract declarations from one grammar.
type languageConfig struct {
	name     string
	language *sitter.Language

	// declarations maps node types to the symbol kind they produce. Kinds
	// are adjusted during the walk: functions inside a class body become
	// methods, and Go type_spec nodes are re-kinded by their type child.
	declarations map[string]symbol.Kind

	// classBodies are node types whose descendants count as class members.
	classBodies map[string]bool

	// functionBodies are node types below which variable declarations are
	// locals and therefore skipped.
	functionBodies map[string]bool
}

var goConfig = languageConfig{
	name:     "go",
	language: golang.GetLanguage(),
	declarations: map[string]symbol.Kind{
		"function_declaration": symbol.KindFunction,
		"method_declaration":   symbol.KindMethod,
		"type_spec":            symbol.KindType,
		"const_spec":           symbol.KindVariable,
		"var_spec":             symbol.KindVariable,
	},
	classBodies: map[string]bool{},
	functionBodies: map[string]bool{
		"function_declaration": true,
		"method_declaration":   true,
		"func_literal":         true,
	},
}

var pythonConfig = languageConfig{
	name:     "python",
	language: python.GetLanguage(),
	declarations: map[string]symbol.Kind{
		"function_definition": symbol.KindFunction,
		"class_definition":    symbol.KindClass,
	},
	classBodies: map[string]bool{
		"class_definition": true,
	},
	functionBodies: map[string]bool{
		"function_definition": true,
	},
}

func ecmaConfig(name string, lang *sitter.Language, typed bool) languageConfig {
	decls := map[string]symbol.Kind{
		"function_declaration":           symbol.KindFunction,
		"generator_function_declaration": symbol.KindFunction,
		"class_declaration":              symbol.KindClass,
		"method_definition":              symbol.KindMethod,
		"variable_declarator":            symbol.KindVariable,
	}
	if typed {
		decls["interface_declaration"] = symbol.KindInterface
		decls["enum_declaration"] = symbol.KindEnum
		decls["type_alias_declaration"] = symbol.KindType
		decls["abstract_class_declaration"] = symbol.KindClass
	}
	return languageConfig{
		name:         name,
		language:     lang,
		declarations: decls,
		classBodies: map[string]bool{
			"class_declaration":          true,
			"abstract_class_declaration": true,
		},
		functionBodies: map[string]bool{
			"function_declaration":           true,
			"generator_function_declaration": true,
			"method_definition":              true,
			"arrow_function":                 true,
			"function_expression":            true,
		},
	}
}

var languagesByExt = map[string]languageConfig{
	".go":  goConfig,
	".py":  pythonConfig,
	".js":  ecmaConfig("javascript", javascript.GetLanguage(), false),
	".jsx": ecmaConfig("javascript", javascript.GetLanguage(), false),
	".ts":  ecmaConfig("typescript", typescript.GetLanguage(), true),
	".tsx": ecmaConfig("typescript", tsx.GetLanguage(), true),
}

// configFor returns the grammar config for a file path, if supported.
func configFor(path string) (languageConfig, bool) {
	cfg, ok := languagesByExt[filepath.Ext(path)]
	return cfg, ok
}

// LanguageFor returns the grammar name for a file path, empty when the
// extension is not supported.
func LanguageFor(path string) string {
	cfg, ok := configFor(path)
	if !ok {
		return ""
	}
	return cfg.name
}

// SupportedExtensions returns the extensions the parser understands.
func SupportedExtensions() []string {
	return []string{".go", ".py", ".js", ".jsx", ".ts", ".tsx"}
}
