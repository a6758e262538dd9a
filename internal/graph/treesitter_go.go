package graph

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// goExtractor extracts facts from Go source files. Structs are classes and
// methods are named "Type.Method". A struct implements an interface declared
// in the same file when its methods cover the interface's method set.
// `const ( A T = iota; B; C )` blocks are enums named after T.
type goExtractor struct{}

type goFile struct {
	source     []byte
	facts      *FileFacts
	globals    map[string]bool
	methods    map[string][]string
	interfaces map[string][]string
}

func (e *goExtractor) Extract(root *tree_sitter.Node, source []byte) *FileFacts {
	f := &goFile{
		source:     source,
		facts:      &FileFacts{},
		globals:    make(map[string]bool),
		methods:    make(map[string][]string),
		interfaces: make(map[string][]string),
	}
	for _, n := range namedChildren(root) {
		if n.Kind() == "var_declaration" || n.Kind() == "const_declaration" {
			for _, spec := range goSpecs(n) {
				for _, name := range fieldNodes(spec, "name") {
					f.globals[f.text(name)] = true
				}
			}
		}
	}
	for _, n := range namedChildren(root) {
		f.declaration(n)
	}
	f.linkImplements()
	return f.facts
}

func (f *goFile) text(n *tree_sitter.Node) string {
	return text(n, f.source)
}

func (f *goFile) export(name string) {
	if isGoExported(name) {
		f.facts.Exports = appendUnique(f.facts.Exports, name)
	}
}

func (f *goFile) declaration(n *tree_sitter.Node) {
	switch n.Kind() {
	case "import_declaration":
		walkTree(n, func(c *tree_sitter.Node) bool {
			if c.Kind() != "import_spec" {
				return true
			}
			f.facts.Imports = append(f.facts.Imports, ImportFacts{
				Path:          unquote(f.text(field(c, "path"))),
				DefaultImport: f.text(field(c, "name")),
			})
			return false
		})

	case "type_declaration":
		for _, spec := range namedChildren(n) {
			f.typeSpec(spec)
		}

	case "function_declaration":
		name := f.text(field(n, "name"))
		f.function(name, n, "", "")
		f.export(name)

	case "method_declaration":
		recvType, recvName := f.receiver(n)
		name := f.text(field(n, "name"))
		f.methods[recvType] = append(f.methods[recvType], name)
		f.function(recvType+"."+name, n, recvType, recvName)

	case "var_declaration":
		f.variables(goSpecs(n))

	case "const_declaration":
		specs := goSpecs(n)
		if len(specs) > 0 && field(specs[0], "type") != nil && strings.Contains(f.text(field(specs[0], "value")), "iota") {
			enum := EnumFacts{Name: f.text(field(specs[0], "type"))}
			for _, spec := range specs {
				for _, name := range fieldNodes(spec, "name") {
					enum.Members = append(enum.Members, EnumMemberFacts{Name: f.text(name)})
					f.export(f.text(name))
				}
			}
			f.facts.Enums = append(f.facts.Enums, enum)
			return
		}
		f.variables(specs)
	}
}

func (f *goFile) typeSpec(spec *tree_sitter.Node) {
	name := f.text(field(spec, "name"))
	if name == "" {
		return
	}
	f.export(name)
	typ := field(spec, "type")
	if spec.Kind() == "type_alias" || typ == nil {
		f.facts.Types = append(f.facts.Types, TypeFacts{Name: name, Definition: f.text(typ)})
		return
	}
	switch typ.Kind() {
	case "struct_type":
		f.facts.Classes = append(f.facts.Classes, ClassFacts{Name: name})
	case "interface_type":
		f.facts.Interfaces = append(f.facts.Interfaces, InterfaceFacts{Name: name})
		var methods []string
		for _, m := range namedChildren(typ) {
			if m.Kind() == "method_elem" || m.Kind() == "method_spec" {
				methods = append(methods, f.text(field(m, "name")))
			}
		}
		f.interfaces[name] = methods
	default:
		f.facts.Types = append(f.facts.Types, TypeFacts{Name: name, Definition: f.text(typ)})
	}
}

func (f *goFile) variables(specs []*tree_sitter.Node) {
	for _, spec := range specs {
		typ := f.text(field(spec, "type"))
		for _, name := range fieldNodes(spec, "name") {
			f.facts.Variables = append(f.facts.Variables, VariableFacts{Name: f.text(name), Type: typ})
			f.export(f.text(name))
		}
	}
}

// receiver returns the base type name and the variable name of a method
// receiver: `func (s *Store[K]) Get()` gives "Store", "s".
func (f *goFile) receiver(n *tree_sitter.Node) (typeName, varName string) {
	decl := firstNamedOfKind(field(n, "receiver"), "parameter_declaration")
	if decl == nil {
		return "", ""
	}
	typ := field(decl, "type")
	for typ != nil {
		switch typ.Kind() {
		case "pointer_type", "parenthesized_type":
			typ = typ.NamedChild(0)
		case "generic_type":
			typ = field(typ, "type")
		default:
			return f.text(typ), f.text(field(decl, "name"))
		}
	}
	return "", f.text(field(decl, "name"))
}

func (f *goFile) function(name string, n *tree_sitter.Node, recvType, recvName string) {
	fn := FunctionFacts{Name: name, ReturnType: f.text(field(n, "result"))}

	for _, tp := range namedChildren(field(n, "type_parameters")) {
		for _, id := range fieldNodes(tp, "name") {
			fn.GenericTypes = append(fn.GenericTypes, f.text(id))
		}
	}
	for _, p := range namedChildren(field(n, "parameters")) {
		if p.Kind() != "parameter_declaration" && p.Kind() != "variadic_parameter_declaration" {
			continue
		}
		typ := ParamType(f.text(field(p, "type")))
		for _, id := range fieldNodes(p, "name") {
			fn.Parameters = append(fn.Parameters, ParameterFacts{Name: f.text(id), Type: typ})
		}
	}

	scan := newBodyScan(&fn, f.globals)
	scan.local(recvName)
	walkTree(field(n, "body"), func(c *tree_sitter.Node) bool {
		switch c.Kind() {
		case "short_var_declaration", "range_clause":
			for _, id := range namedChildren(field(c, "left")) {
				scan.local(f.text(id))
			}
		case "var_spec", "const_spec", "parameter_declaration":
			for _, id := range fieldNodes(c, "name") {
				scan.local(f.text(id))
			}
		case "call_expression":
			scan.call(f.callee(field(c, "function"), recvType, recvName))
		case "assignment_statement":
			for _, target := range namedChildren(field(c, "left")) {
				scan.modify(f.rootName(target))
			}
		case "inc_statement", "dec_statement":
			scan.modify(f.rootName(c.NamedChild(0)))
		case "identifier":
			scan.use(f.text(c))
		}
		return true
	})
	f.facts.Functions = append(f.facts.Functions, fn)
}

func (f *goFile) callee(n *tree_sitter.Node, recvType, recvName string) string {
	if n == nil {
		return ""
	}
	switch n.Kind() {
	case "identifier":
		return f.text(n)
	case "selector_expression":
		operand := field(n, "operand")
		if recvName != "" && operand != nil && operand.Kind() == "identifier" && f.text(operand) == recvName {
			return recvType + "." + f.text(field(n, "field"))
		}
		return f.text(n)
	}
	return ""
}

func (f *goFile) rootName(n *tree_sitter.Node) string {
	for n != nil {
		switch n.Kind() {
		case "identifier":
			return f.text(n)
		case "selector_expression", "index_expression", "unary_expression":
			n = field(n, "operand")
		case "parenthesized_expression":
			n = n.NamedChild(0)
		default:
			return ""
		}
	}
	return ""
}

// linkImplements records, for each struct, the same-file interfaces whose
// methods it all defines.
func (f *goFile) linkImplements() {
	for i := range f.facts.Classes {
		class := &f.facts.Classes[i]
		have := f.methods[class.Name]
		for _, iface := range f.facts.Interfaces {
			want := f.interfaces[iface.Name]
			if len(want) == 0 {
				continue
			}
			if !slices.ContainsFunc(want, func(m string) bool { return !slices.Contains(have, m) }) {
				class.Implements = appendUnique(class.Implements, iface.Name)
			}
		}
	}
}

// goSpecs returns the var or const specs of a declaration, looking through
// parenthesised spec lists.
func goSpecs(n *tree_sitter.Node) []*tree_sitter.Node {
	var out []*tree_sitter.Node
	for _, c := range namedChildren(n) {
		switch c.Kind() {
		case "var_spec", "const_spec":
			out = append(out, c)
		case "var_spec_list", "const_spec_list":
			out = append(out, goSpecs(c)...)
		}
	}
	return out
}

// isGoExported returns true if the first rune of name is an uppercase letter.
func isGoExported(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}
