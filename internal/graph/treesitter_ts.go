package graph

import (
	"encoding/json"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// tsExtractor extracts facts from TypeScript, TSX and JavaScript files.
// Methods are named "Class.method"; functions whose name starts with an
// upper-case letter and that render JSX are also reported as components.
type tsExtractor struct{}

type tsFile struct {
	source  []byte
	facts   *FileFacts
	globals map[string]bool
}

func (e *tsExtractor) Extract(root *tree_sitter.Node, source []byte) *FileFacts {
	f := &tsFile{source: source, facts: &FileFacts{}, globals: make(map[string]bool)}
	for _, stmt := range namedChildren(root) {
		f.collectGlobals(stmt)
	}
	for _, stmt := range namedChildren(root) {
		f.statement(stmt)
	}
	return f.facts
}

func (f *tsFile) text(n *tree_sitter.Node) string {
	return text(n, f.source)
}

// collectGlobals records top-level variable names before any body is
// scanned, so uses can be detected regardless of declaration order.
func (f *tsFile) collectGlobals(n *tree_sitter.Node) {
	switch n.Kind() {
	case "export_statement":
		if decl := field(n, "declaration"); decl != nil {
			f.collectGlobals(decl)
		}
	case "lexical_declaration", "variable_declaration":
		for _, d := range namedChildren(n) {
			if d.Kind() != "variable_declarator" || isTSFunction(field(d, "value")) {
				continue
			}
			for _, name := range f.patternNames(field(d, "name")) {
				f.globals[name] = true
			}
		}
	}
}

// statement extracts one top-level statement and returns the names it
// declares.
func (f *tsFile) statement(n *tree_sitter.Node) []string {
	switch n.Kind() {
	case "export_statement":
		f.export(n)
		return nil

	case "class_declaration", "abstract_class_declaration":
		return f.class(n)

	case "interface_declaration":
		name := f.text(field(n, "name"))
		f.facts.Interfaces = append(f.facts.Interfaces, InterfaceFacts{Name: name})
		return []string{name}

	case "type_alias_declaration":
		name := f.text(field(n, "name"))
		f.facts.Types = append(f.facts.Types, TypeFacts{Name: name, Definition: f.text(field(n, "value"))})
		return []string{name}

	case "enum_declaration":
		return f.enum(n)

	case "function_declaration", "generator_function_declaration":
		name := f.text(field(n, "name"))
		f.function(name, n, "", nil)
		return []string{name}

	case "lexical_declaration", "variable_declaration":
		return f.declarations(n)

	case "import_statement":
		f.importStmt(n)

	case "ambient_declaration":
		var names []string
		for _, c := range namedChildren(n) {
			names = append(names, f.statement(c)...)
		}
		return names
	}
	return nil
}

func (f *tsFile) export(n *tree_sitter.Node) {
	if decl := field(n, "declaration"); decl != nil {
		for _, name := range f.statement(decl) {
			f.facts.Exports = appendUnique(f.facts.Exports, name)
		}
		return
	}
	if clause := firstNamedOfKind(n, "export_clause"); clause != nil {
		for _, spec := range namedChildren(clause) {
			if spec.Kind() != "export_specifier" {
				continue
			}
			name := f.text(field(spec, "alias"))
			if name == "" {
				name = f.text(field(spec, "name"))
			}
			f.facts.Exports = appendUnique(f.facts.Exports, name)
		}
		return
	}
	if src := field(n, "source"); src != nil {
		// export * from "./x"
		f.facts.Imports = append(f.facts.Imports, ImportFacts{Path: unquote(f.text(src)), Names: []string{"*"}})
		return
	}
	if value := field(n, "value"); value != nil {
		switch {
		case value.Kind() == "identifier":
			f.facts.Exports = appendUnique(f.facts.Exports, f.text(value))
		case isTSFunction(value):
			f.function("default", value, "", nil)
			f.facts.Exports = appendUnique(f.facts.Exports, "default")
		default:
			f.facts.Exports = appendUnique(f.facts.Exports, "default")
		}
	}
}

func (f *tsFile) class(n *tree_sitter.Node) []string {
	name := f.text(field(n, "name"))
	class := ClassFacts{Name: name}
	var base, baseArgs *tree_sitter.Node

	for _, c := range namedChildren(n) {
		if c.Kind() != "class_heritage" {
			continue
		}
		for _, h := range namedChildren(c) {
			switch h.Kind() {
			case "implements_clause":
				for _, t := range namedChildren(h) {
					class.Implements = appendUnique(class.Implements, f.typeName(t))
				}
			case "extends_clause":
				base = field(h, "value")
				baseArgs = field(h, "type_arguments")
			}
		}
	}
	f.facts.Classes = append(f.facts.Classes, class)

	for _, m := range namedChildren(field(n, "body")) {
		if m.Kind() == "method_definition" {
			f.function(name+"."+f.text(field(m, "name")), m, name, nil)
		}
	}

	if b := f.text(base); strings.HasSuffix(b, "Component") {
		comp := ComponentFacts{Name: name}
		if args := namedChildren(baseArgs); len(args) > 0 {
			comp.Props = f.props(args[0], nil)
		}
		f.facts.Components = append(f.facts.Components, comp)
	}
	return []string{name}
}

func (f *tsFile) enum(n *tree_sitter.Node) []string {
	name := f.text(field(n, "name"))
	enum := EnumFacts{Name: name}
	for _, m := range namedChildren(field(n, "body")) {
		var member string
		switch m.Kind() {
		case "property_identifier":
			member = f.text(m)
		case "string":
			member = unquote(f.text(m))
		case "enum_assignment":
			member = unquote(f.text(field(m, "name")))
		}
		if member != "" {
			enum.Members = append(enum.Members, EnumMemberFacts{Name: member})
		}
	}
	f.facts.Enums = append(f.facts.Enums, enum)
	return []string{name}
}

// declarations handles `const a = ..., b = ...`. Function-valued
// declarators become functions, everything else variables.
func (f *tsFile) declarations(n *tree_sitter.Node) []string {
	var names []string
	for _, d := range namedChildren(n) {
		if d.Kind() != "variable_declarator" {
			continue
		}
		nameNode := field(d, "name")
		if nameNode == nil {
			continue
		}
		typeNode := tsTypeNode(field(d, "type"))
		if value := field(d, "value"); isTSFunction(value) && nameNode.Kind() == "identifier" {
			name := f.text(nameNode)
			f.function(name, value, "", typeNode)
			names = append(names, name)
			continue
		}
		for _, name := range f.patternNames(nameNode) {
			v := VariableFacts{Name: name}
			if nameNode.Kind() == "identifier" {
				v.Type = f.text(typeNode)
			}
			f.facts.Variables = append(f.facts.Variables, v)
			names = append(names, name)
		}
	}
	return names
}

// function extracts a function-like node. declared is the type annotation
// of the variable holding an arrow function (`const C: FC<Props> = ...`).
func (f *tsFile) function(name string, n *tree_sitter.Node, class string, declared *tree_sitter.Node) {
	fn := FunctionFacts{Name: name}

	for _, tp := range namedChildren(field(n, "type_parameters")) {
		if tp.Kind() == "type_parameter" {
			fn.GenericTypes = append(fn.GenericTypes, f.text(field(tp, "name")))
		}
	}

	var firstParam *tree_sitter.Node
	if single := field(n, "parameter"); single != nil {
		fn.Parameters = append(fn.Parameters, ParameterFacts{Name: f.text(single)})
	}
	for _, p := range namedChildren(field(n, "parameters")) {
		if p.Kind() != "required_parameter" && p.Kind() != "optional_parameter" {
			continue
		}
		pattern := field(p, "pattern")
		if pattern == nil || pattern.Kind() == "this" {
			continue
		}
		if firstParam == nil {
			firstParam = p
		}
		fn.Parameters = append(fn.Parameters, ParameterFacts{
			Name: f.paramName(pattern),
			Type: f.paramType(tsTypeNode(field(p, "type"))),
		})
	}

	fn.ReturnType = f.text(tsTypeNode(field(n, "return_type")))

	body := field(n, "body")
	scan := newBodyScan(&fn, f.globals)
	f.scanBody(body, scan, class)
	f.facts.Functions = append(f.facts.Functions, fn)

	if class == "" && isUpperName(name) && containsJSX(body) {
		comp := ComponentFacts{Name: name, GenericTypes: fn.GenericTypes}
		switch {
		case firstParam != nil:
			comp.Props = f.props(tsTypeNode(field(firstParam, "type")), field(firstParam, "pattern"))
		case declared != nil:
			if args := namedChildren(field(declared, "type_arguments")); len(args) > 0 {
				comp.Props = f.props(args[0], nil)
			}
		}
		f.facts.Components = append(f.facts.Components, comp)
	}
}

func (f *tsFile) scanBody(body *tree_sitter.Node, s *bodyScan, class string) {
	walkTree(body, func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "variable_declarator":
			for _, name := range f.patternNames(field(n, "name")) {
				s.local(name)
			}
		case "required_parameter", "optional_parameter":
			for _, name := range f.patternNames(field(n, "pattern")) {
				s.local(name)
			}
		case "catch_clause":
			for _, name := range f.patternNames(field(n, "parameter")) {
				s.local(name)
			}
		case "call_expression":
			s.call(f.callee(field(n, "function"), class))
		case "new_expression":
			s.call(f.text(field(n, "constructor")))
		case "assignment_expression", "augmented_assignment_expression":
			s.modify(f.rootName(field(n, "left")))
		case "update_expression":
			s.modify(f.rootName(field(n, "argument")))
		case "identifier", "shorthand_property_identifier":
			s.use(f.text(n))
		}
		return true
	})
}

func (f *tsFile) callee(n *tree_sitter.Node, class string) string {
	if n == nil {
		return ""
	}
	switch n.Kind() {
	case "identifier":
		return f.text(n)
	case "member_expression":
		obj := field(n, "object")
		if obj != nil && obj.Kind() == "this" && class != "" {
			return class + "." + f.text(field(n, "property"))
		}
		return strings.Join(strings.Fields(f.text(n)), "")
	}
	return ""
}

// rootName returns the variable at the root of an assignment target:
// `a.b[c] = 1` modifies a. Members of this are not variables.
func (f *tsFile) rootName(n *tree_sitter.Node) string {
	for n != nil {
		switch n.Kind() {
		case "identifier":
			return f.text(n)
		case "member_expression", "subscript_expression":
			n = field(n, "object")
		case "parenthesized_expression", "non_null_expression":
			n = n.NamedChild(0)
		default:
			return ""
		}
	}
	return ""
}

func (f *tsFile) importStmt(n *tree_sitter.Node) {
	imp := ImportFacts{Path: unquote(f.text(field(n, "source")))}
	for _, c := range namedChildren(firstNamedOfKind(n, "import_clause")) {
		switch c.Kind() {
		case "identifier":
			imp.DefaultImport = f.text(c)
		case "namespace_import":
			if id := firstNamedOfKind(c, "identifier"); id != nil {
				imp.DefaultImport = f.text(id)
			}
		case "named_imports":
			for _, spec := range namedChildren(c) {
				if spec.Kind() == "import_specifier" {
					imp.Names = append(imp.Names, f.text(field(spec, "name")))
				}
			}
		}
	}
	f.facts.Imports = append(f.facts.Imports, imp)
}

// patternNames lists the identifiers bound by a binding pattern.
func (f *tsFile) patternNames(n *tree_sitter.Node) []string {
	var names []string
	walkTree(n, func(c *tree_sitter.Node) bool {
		switch c.Kind() {
		case "identifier", "shorthand_property_identifier_pattern":
			names = append(names, f.text(c))
		case "pair_pattern":
			names = append(names, f.patternNames(field(c, "value"))...)
			return false
		case "assignment_pattern":
			names = append(names, f.patternNames(field(c, "left"))...)
			return false
		}
		return true
	})
	return names
}

func (f *tsFile) paramName(pattern *tree_sitter.Node) string {
	if pattern.Kind() == "rest_pattern" {
		if id := firstNamedOfKind(pattern, "identifier"); id != nil {
			return f.text(id)
		}
	}
	return strings.Join(strings.Fields(f.text(pattern)), " ")
}

// paramType reports a union of named types as a list.
func (f *tsFile) paramType(t *tree_sitter.Node) ParamType {
	if t == nil {
		return ""
	}
	if t.Kind() != "union_type" {
		return ParamType(f.text(t))
	}
	var names []string
	var flatten func(*tree_sitter.Node)
	flatten = func(n *tree_sitter.Node) {
		for _, c := range namedChildren(n) {
			if c.Kind() == "union_type" {
				flatten(c)
			} else {
				names = append(names, f.text(c))
			}
		}
	}
	flatten(t)
	return ParamTypeOf(names...)
}

func (f *tsFile) typeName(t *tree_sitter.Node) string {
	if t.Kind() == "generic_type" {
		return f.text(field(t, "name"))
	}
	return f.text(t)
}

// props describes a component's props as JSON: an object type becomes an
// object of member types, a named type its name, an untyped destructuring
// pattern the list of bound names.
func (f *tsFile) props(t, pattern *tree_sitter.Node) JSONText {
	var v any
	switch {
	case t != nil && t.Kind() == "object_type":
		members := make(map[string]string)
		for _, m := range namedChildren(t) {
			if m.Kind() == "property_signature" {
				members[f.text(field(m, "name"))] = f.text(tsTypeNode(field(m, "type")))
			}
		}
		v = members
	case t != nil:
		v = f.text(t)
	case pattern != nil && pattern.Kind() == "object_pattern":
		v = f.patternNames(pattern)
	default:
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return JSONText(b)
}

// tsTypeNode unwraps a type_annotation to the type it holds.
func tsTypeNode(n *tree_sitter.Node) *tree_sitter.Node {
	if n == nil {
		return nil
	}
	if n.Kind() == "type_annotation" {
		return n.NamedChild(0)
	}
	return n
}

func isTSFunction(n *tree_sitter.Node) bool {
	if n == nil {
		return false
	}
	switch n.Kind() {
	case "arrow_function", "function_expression", "function", "generator_function":
		return true
	}
	return false
}

func containsJSX(n *tree_sitter.Node) bool {
	found := false
	walkTree(n, func(c *tree_sitter.Node) bool {
		switch c.Kind() {
		case "jsx_element", "jsx_self_closing_element", "jsx_fragment":
			found = true
		}
		return !found
	})
	return found
}
