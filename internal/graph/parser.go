package graph

import (
	"context"
	"maps"
	"path"
	"slices"
	"strings"
)

// Language identifies the grammar a source file is parsed with.
type Language string

const (
	LangTypeScript Language = "typescript"
	LangTSX        Language = "tsx"
	LangGo         Language = "go"
	LangPython     Language = "python"
	LangRust       Language = "rust"
)

var extLanguages = map[string]Language{
	".ts":  LangTypeScript,
	".mts": LangTypeScript,
	".cts": LangTypeScript,
	".tsx": LangTSX,
	".js":  LangTSX,
	".jsx": LangTSX,
	".mjs": LangTSX,
	".cjs": LangTSX,
	".go":  LangGo,
	".py":  LangPython,
	".rs":  LangRust,
}

// LanguageOf returns the language of a file path by extension.
func LanguageOf(p string) (Language, bool) {
	if strings.HasSuffix(p, ".d.ts") {
		return "", false
	}
	lang, ok := extLanguages[strings.ToLower(path.Ext(p))]
	return lang, ok
}

// Extensions returns every file extension a FactsParser built on the
// tree-sitter grammars understands.
func Extensions() []string {
	return slices.Sorted(maps.Keys(extLanguages))
}

// FactsParser extracts the facts of a single source file.
// Implementations: TreeSitterParser (production), stub parsers in tests.
type FactsParser interface {
	// Parse extracts facts from source. path is only used to pick the
	// grammar and in error messages.
	Parse(ctx context.Context, path string, source []byte) (*FileFacts, error)

	// Supports reports whether Parse can handle path.
	Supports(path string) bool

	// Close releases parser resources.
	Close() error
}
