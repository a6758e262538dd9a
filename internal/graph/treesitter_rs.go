package graph

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// rsExtractor extracts facts from Rust source files. Structs are classes,
// traits are interfaces, and `impl Trait for Type` links the two. Methods
// from impl blocks are named "Type.method". Items with a visibility
// modifier are exported.
type rsExtractor struct{}

type rsFile struct {
	source  []byte
	facts   *FileFacts
	globals map[string]bool
	impls   map[string][]string
}

func (e *rsExtractor) Extract(root *tree_sitter.Node, source []byte) *FileFacts {
	f := &rsFile{
		source:  source,
		facts:   &FileFacts{},
		globals: make(map[string]bool),
		impls:   make(map[string][]string),
	}
	for _, n := range namedChildren(root) {
		if n.Kind() == "const_item" || n.Kind() == "static_item" {
			f.globals[f.text(field(n, "name"))] = true
		}
	}
	for _, n := range namedChildren(root) {
		f.item(n)
	}
	for i := range f.facts.Classes {
		c := &f.facts.Classes[i]
		for _, trait := range f.impls[c.Name] {
			c.Implements = appendUnique(c.Implements, trait)
		}
	}
	return f.facts
}

func (f *rsFile) text(n *tree_sitter.Node) string {
	return text(n, f.source)
}

func (f *rsFile) item(n *tree_sitter.Node) {
	name := f.text(field(n, "name"))

	switch n.Kind() {
	case "use_declaration":
		f.use(field(n, "argument"))
		return

	case "function_item":
		f.function(name, n, "")

	case "struct_item", "union_item":
		f.facts.Classes = append(f.facts.Classes, ClassFacts{Name: name})

	case "enum_item":
		enum := EnumFacts{Name: name}
		for _, v := range namedChildren(field(n, "body")) {
			if v.Kind() == "enum_variant" {
				enum.Members = append(enum.Members, EnumMemberFacts{Name: f.text(field(v, "name"))})
			}
		}
		f.facts.Enums = append(f.facts.Enums, enum)

	case "trait_item":
		f.facts.Interfaces = append(f.facts.Interfaces, InterfaceFacts{Name: name})
		for _, m := range namedChildren(field(n, "body")) {
			if m.Kind() == "function_item" {
				f.function(name+"."+f.text(field(m, "name")), m, name)
			}
		}

	case "type_item":
		f.facts.Types = append(f.facts.Types, TypeFacts{Name: name, Definition: f.text(field(n, "type"))})

	case "const_item", "static_item":
		f.facts.Variables = append(f.facts.Variables, VariableFacts{Name: name, Type: f.text(field(n, "type"))})

	case "impl_item":
		typeName := f.typeName(field(n, "type"))
		if trait := f.typeName(field(n, "trait")); trait != "" {
			f.impls[typeName] = appendUnique(f.impls[typeName], trait)
		}
		for _, m := range namedChildren(field(n, "body")) {
			if m.Kind() == "function_item" {
				f.function(typeName+"."+f.text(field(m, "name")), m, typeName)
			}
		}
		return

	default:
		return
	}

	if firstNamedOfKind(n, "visibility_modifier") != nil {
		f.facts.Exports = appendUnique(f.facts.Exports, name)
	}
}

// use records a use declaration. The import path is the module part;
// imported item names go to Names.
func (f *rsFile) use(arg *tree_sitter.Node) {
	if arg == nil {
		return
	}
	imp := ImportFacts{}
	switch arg.Kind() {
	case "scoped_use_list":
		imp.Path = f.text(field(arg, "path"))
		for _, item := range namedChildren(field(arg, "list")) {
			switch item.Kind() {
			case "identifier", "self":
				imp.Names = append(imp.Names, f.text(item))
			case "scoped_identifier":
				imp.Names = append(imp.Names, f.text(field(item, "name")))
			case "use_as_clause":
				imp.Names = append(imp.Names, f.text(field(item, "alias")))
			}
		}
	case "scoped_identifier":
		imp.Path = f.text(field(arg, "path"))
		imp.Names = []string{f.text(field(arg, "name"))}
	case "use_as_clause":
		imp.Path = f.text(field(arg, "path"))
		imp.DefaultImport = f.text(field(arg, "alias"))
	case "use_wildcard":
		imp.Path = strings.TrimSuffix(f.text(arg), "::*")
		imp.Names = []string{"*"}
	default:
		imp.Path = f.text(arg)
	}
	if imp.Path == "" {
		imp.Path = f.text(arg)
	}
	f.facts.Imports = append(f.facts.Imports, imp)
}

func (f *rsFile) typeName(n *tree_sitter.Node) string {
	if n == nil {
		return ""
	}
	switch n.Kind() {
	case "generic_type":
		return f.typeName(field(n, "type"))
	case "scoped_type_identifier":
		return f.text(field(n, "name"))
	}
	return f.text(n)
}

func (f *rsFile) function(name string, n *tree_sitter.Node, selfType string) {
	fn := FunctionFacts{Name: name, ReturnType: f.text(field(n, "return_type"))}

	for _, tp := range namedChildren(field(n, "type_parameters")) {
		switch tp.Kind() {
		case "type_identifier":
			fn.GenericTypes = append(fn.GenericTypes, f.text(tp))
		case "constrained_type_parameter":
			fn.GenericTypes = append(fn.GenericTypes, f.text(field(tp, "left")))
		case "type_parameter":
			fn.GenericTypes = append(fn.GenericTypes, f.text(field(tp, "name")))
		}
	}

	for _, p := range namedChildren(field(n, "parameters")) {
		if p.Kind() != "parameter" {
			continue
		}
		fn.Parameters = append(fn.Parameters, ParameterFacts{
			Name: f.patternName(field(p, "pattern")),
			Type: ParamType(f.text(field(p, "type"))),
		})
	}

	scan := newBodyScan(&fn, f.globals)
	scan.local("self")
	bind := func(pattern *tree_sitter.Node) {
		walkTree(pattern, func(id *tree_sitter.Node) bool {
			if id.Kind() == "identifier" {
				scan.local(f.text(id))
			}
			return true
		})
	}
	walkTree(field(n, "body"), func(c *tree_sitter.Node) bool {
		switch c.Kind() {
		case "let_declaration", "for_expression":
			bind(field(c, "pattern"))
		case "closure_parameters":
			bind(c)
		case "call_expression":
			scan.call(f.callee(field(c, "function"), selfType))
		case "macro_invocation":
			if m := f.text(field(c, "macro")); m != "" {
				scan.call(m + "!")
			}
		case "assignment_expression", "compound_assignment_expr":
			scan.modify(f.rootName(field(c, "left")))
		case "identifier":
			scan.use(f.text(c))
		}
		return true
	})
	f.facts.Functions = append(f.facts.Functions, fn)
}

func (f *rsFile) callee(n *tree_sitter.Node, selfType string) string {
	if n == nil {
		return ""
	}
	switch n.Kind() {
	case "identifier":
		return f.text(n)
	case "field_expression":
		if v := field(n, "value"); v != nil && v.Kind() == "self" && selfType != "" {
			return selfType + "." + f.text(field(n, "field"))
		}
		return f.text(n)
	case "scoped_identifier":
		if p := f.text(field(n, "path")); p == "Self" && selfType != "" {
			return selfType + "." + f.text(field(n, "name"))
		}
		return f.text(n)
	case "generic_function":
		return f.callee(field(n, "function"), selfType)
	}
	return ""
}

func (f *rsFile) rootName(n *tree_sitter.Node) string {
	for n != nil {
		switch n.Kind() {
		case "identifier":
			return f.text(n)
		case "field_expression":
			n = field(n, "value")
		case "index_expression", "unary_expression", "parenthesized_expression":
			n = n.NamedChild(0)
		default:
			return ""
		}
	}
	return ""
}

func (f *rsFile) patternName(n *tree_sitter.Node) string {
	if n == nil {
		return ""
	}
	if n.Kind() == "mut_pattern" || n.Kind() == "ref_pattern" {
		if id := firstNamedOfKind(n, "identifier"); id != nil {
			return f.text(id)
		}
	}
	return f.text(n)
}
