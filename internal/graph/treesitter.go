package graph

import (
	"context"
	"fmt"
	"slices"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// extractor turns a parsed tree-sitter AST into file facts.
type extractor interface {
	Extract(root *tree_sitter.Node, source []byte) *FileFacts
}

// TreeSitterParser implements FactsParser using tree-sitter grammars.
// A new tree-sitter parser is created per Parse call, so one
// TreeSitterParser can be shared by concurrent workers.
type TreeSitterParser struct {
	languages  map[Language]*tree_sitter.Language
	extractors map[Language]extractor
}

var _ FactsParser = (*TreeSitterParser)(nil)

// NewTreeSitterParser creates a TreeSitterParser with the TypeScript, TSX,
// Go, Python and Rust grammars registered.
func NewTreeSitterParser() *TreeSitterParser {
	langs := map[Language]*tree_sitter.Language{
		LangTypeScript: tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript()),
		LangTSX:        tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTSX()),
		LangGo:         tree_sitter.NewLanguage(tree_sitter_go.Language()),
		LangPython:     tree_sitter.NewLanguage(tree_sitter_python.Language()),
		LangRust:       tree_sitter.NewLanguage(tree_sitter_rust.Language()),
	}

	ts := &tsExtractor{}
	extractors := map[Language]extractor{
		LangTypeScript: ts,
		LangTSX:        ts,
		LangGo:         &goExtractor{},
		LangPython:     &pyExtractor{},
		LangRust:       &rsExtractor{},
	}

	return &TreeSitterParser{
		languages:  langs,
		extractors: extractors,
	}
}

// Supports reports whether the file extension has a registered grammar.
func (p *TreeSitterParser) Supports(path string) bool {
	lang, ok := LanguageOf(path)
	if !ok {
		return false
	}
	_, ok = p.languages[lang]
	return ok
}

// Parse extracts the facts of a single source file.
func (p *TreeSitterParser) Parse(ctx context.Context, path string, source []byte) (*FileFacts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lang, ok := LanguageOf(path)
	if !ok {
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}
	tsLang, ok := p.languages[lang]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", lang)
	}
	ext, ok := p.extractors[lang]
	if !ok {
		return nil, fmt.Errorf("no extractor for language: %s", lang)
	}

	parser := tree_sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(tsLang); err != nil {
		return nil, fmt.Errorf("set language %s: %w", lang, err)
	}

	tree := parser.Parse(source, nil)
	if tree == nil {
		return nil, fmt.Errorf("tree-sitter returned nil tree for %s", path)
	}
	defer tree.Close()

	return ext.Extract(tree.RootNode(), source), nil
}

// Close is a no-op because parsers are created per Parse call.
func (p *TreeSitterParser) Close() error {
	return nil
}

// --- AST helpers shared by the extractors ---

func text(n *tree_sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	return n.Utf8Text(source)
}

func field(n *tree_sitter.Node, name string) *tree_sitter.Node {
	if n == nil {
		return nil
	}
	return n.ChildByFieldName(name)
}

func namedChildren(n *tree_sitter.Node) []*tree_sitter.Node {
	if n == nil {
		return nil
	}
	out := make([]*tree_sitter.Node, 0, n.NamedChildCount())
	for i := uint(0); i < n.NamedChildCount(); i++ {
		if c := n.NamedChild(i); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// fieldNodes returns every child stored under a field name; some grammars
// repeat a field (Go's `a, b int`).
func fieldNodes(n *tree_sitter.Node, name string) []*tree_sitter.Node {
	if n == nil {
		return nil
	}
	cursor := n.Walk()
	defer cursor.Close()
	nodes := n.ChildrenByFieldName(name, cursor)
	out := make([]*tree_sitter.Node, 0, len(nodes))
	for i := range nodes {
		out = append(out, &nodes[i])
	}
	return out
}

func firstNamedOfKind(n *tree_sitter.Node, kinds ...string) *tree_sitter.Node {
	for _, c := range namedChildren(n) {
		if slices.Contains(kinds, c.Kind()) {
			return c
		}
	}
	return nil
}

// walkTree visits n and its descendants depth-first. visit returning false
// skips the node's children.
func walkTree(n *tree_sitter.Node, visit func(*tree_sitter.Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		walkTree(n.Child(i), visit)
	}
}

func appendUnique(list []string, s string) []string {
	if s == "" || slices.Contains(list, s) {
		return list
	}
	return append(list, s)
}

func unquote(s string) string {
	return strings.Trim(s, "\"'`")
}

func isUpperName(name string) bool {
	return name != "" && name[0] >= 'A' && name[0] <= 'Z'
}

// bodyScan collects what a function body calls, assigns and reads.
// Names in locals are never reported as modified or used; uses only reports
// names in globals.
type bodyScan struct {
	locals  map[string]bool
	globals map[string]bool
	facts   *FunctionFacts
}

func newBodyScan(fn *FunctionFacts, globals map[string]bool) *bodyScan {
	s := &bodyScan{locals: make(map[string]bool), globals: globals, facts: fn}
	for _, p := range fn.Parameters {
		s.locals[p.Name] = true
	}
	return s
}

func (s *bodyScan) local(name string) {
	if name != "" {
		s.locals[name] = true
	}
}

func (s *bodyScan) call(name string) {
	s.facts.Calls = appendUnique(s.facts.Calls, name)
}

func (s *bodyScan) modify(name string) {
	if name == "" || s.locals[name] {
		return
	}
	s.facts.Modifies = appendUnique(s.facts.Modifies, name)
}

func (s *bodyScan) use(name string) {
	if !s.globals[name] || s.locals[name] {
		return
	}
	s.facts.Uses = appendUnique(s.facts.Uses, name)
}
