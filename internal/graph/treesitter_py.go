package graph

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// pyExtractor extracts facts from Python source files. Classes deriving from
// Protocol or ABC are interfaces, classes deriving from Enum are enums.
// Exports are the names in __all__, or every public top-level def and class.
type pyExtractor struct{}

var (
	pyInterfaceBases = map[string]bool{"Protocol": true, "ABC": true, "ABCMeta": true}
	pyEnumBases      = map[string]bool{"Enum": true, "IntEnum": true, "StrEnum": true, "Flag": true, "IntFlag": true}
)

type pyFile struct {
	source     []byte
	facts      *FileFacts
	globals    map[string]bool
	interfaces map[string]bool
	all        []string
	hasAll     bool
	public     []string
}

func (e *pyExtractor) Extract(root *tree_sitter.Node, source []byte) *FileFacts {
	f := &pyFile{
		source:     source,
		facts:      &FileFacts{},
		globals:    make(map[string]bool),
		interfaces: make(map[string]bool),
	}
	for _, n := range namedChildren(root) {
		n = pyDefinition(n)
		switch n.Kind() {
		case "expression_statement":
			if a := firstNamedOfKind(n, "assignment"); a != nil {
				if left := field(a, "left"); left != nil && left.Kind() == "identifier" {
					f.globals[f.text(left)] = true
				}
			}
		case "class_definition":
			for _, base := range f.bases(n) {
				if pyInterfaceBases[base] {
					f.interfaces[f.text(field(n, "name"))] = true
				}
			}
		}
	}
	delete(f.globals, "__all__")

	for _, n := range namedChildren(root) {
		f.statement(pyDefinition(n))
	}

	if f.hasAll {
		f.facts.Exports = f.all
	} else {
		f.facts.Exports = f.public
	}
	return f.facts
}

func (f *pyFile) text(n *tree_sitter.Node) string {
	return text(n, f.source)
}

func (f *pyFile) statement(n *tree_sitter.Node) {
	switch n.Kind() {
	case "function_definition":
		name := f.text(field(n, "name"))
		f.function(name, n, "")
		f.publish(name)

	case "class_definition":
		f.class(n)

	case "import_statement":
		for _, c := range fieldNodes(n, "name") {
			f.facts.Imports = append(f.facts.Imports, f.importName(c))
		}

	case "import_from_statement":
		imp := ImportFacts{Path: f.text(field(n, "module_name"))}
		if firstNamedOfKind(n, "wildcard_import") != nil {
			imp.Names = []string{"*"}
		}
		for _, c := range fieldNodes(n, "name") {
			if c.Kind() == "aliased_import" {
				c = field(c, "name")
			}
			imp.Names = append(imp.Names, f.text(c))
		}
		f.facts.Imports = append(f.facts.Imports, imp)

	case "expression_statement":
		if a := firstNamedOfKind(n, "assignment"); a != nil {
			f.assignment(a)
		}

	case "type_alias_statement":
		f.facts.Types = append(f.facts.Types, TypeFacts{
			Name:       f.text(field(n, "left")),
			Definition: f.text(field(n, "right")),
		})
	}
}

func (f *pyFile) importName(n *tree_sitter.Node) ImportFacts {
	if n.Kind() == "aliased_import" {
		return ImportFacts{Path: f.text(field(n, "name")), DefaultImport: f.text(field(n, "alias"))}
	}
	return ImportFacts{Path: f.text(n)}
}

func (f *pyFile) assignment(a *tree_sitter.Node) {
	left := field(a, "left")
	if left == nil || left.Kind() != "identifier" {
		return
	}
	name := f.text(left)
	right := field(a, "right")
	typ := f.text(field(a, "type"))

	switch {
	case name == "__all__":
		f.hasAll = true
		walkTree(right, func(c *tree_sitter.Node) bool {
			if c.Kind() == "string" {
				f.all = appendUnique(f.all, unquote(f.text(c)))
				return false
			}
			return true
		})
	case typ == "TypeAlias" || strings.HasSuffix(typ, ".TypeAlias"):
		f.facts.Types = append(f.facts.Types, TypeFacts{Name: name, Definition: f.text(right)})
	case right != nil && right.Kind() == "call" && strings.HasSuffix(f.text(field(right, "function")), "TypeVar"):
		// Type variables are generic parameters, not variables.
	default:
		f.facts.Variables = append(f.facts.Variables, VariableFacts{Name: name, Type: typ})
	}
}

func (f *pyFile) class(n *tree_sitter.Node) {
	name := f.text(field(n, "name"))
	bases := f.bases(n)
	f.publish(name)

	for _, b := range bases {
		if pyEnumBases[b] {
			enum := EnumFacts{Name: name}
			for _, stmt := range namedChildren(field(n, "body")) {
				a := firstNamedOfKind(stmt, "assignment")
				if left := field(a, "left"); left != nil && left.Kind() == "identifier" && !strings.HasPrefix(f.text(left), "_") {
					enum.Members = append(enum.Members, EnumMemberFacts{Name: f.text(left)})
				}
			}
			f.facts.Enums = append(f.facts.Enums, enum)
			return
		}
	}

	if f.interfaces[name] {
		f.facts.Interfaces = append(f.facts.Interfaces, InterfaceFacts{Name: name})
	} else {
		class := ClassFacts{Name: name}
		for _, b := range bases {
			if f.interfaces[b] {
				class.Implements = appendUnique(class.Implements, b)
			}
		}
		f.facts.Classes = append(f.facts.Classes, class)
	}

	for _, stmt := range namedChildren(field(n, "body")) {
		if def := pyDefinition(stmt); def.Kind() == "function_definition" {
			f.function(name+"."+f.text(field(def, "name")), def, name)
		}
	}
}

// bases lists the simple names of a class's superclasses; `metaclass=X`
// contributes X.
func (f *pyFile) bases(n *tree_sitter.Node) []string {
	var out []string
	for _, b := range namedChildren(field(n, "superclasses")) {
		switch b.Kind() {
		case "identifier":
			out = append(out, f.text(b))
		case "attribute":
			out = append(out, f.text(field(b, "attribute")))
		case "subscript":
			out = append(out, f.text(field(b, "value")))
		case "keyword_argument":
			out = append(out, f.text(field(b, "value")))
		}
	}
	return out
}

func (f *pyFile) function(name string, n *tree_sitter.Node, class string) {
	fn := FunctionFacts{Name: name, ReturnType: f.text(field(n, "return_type"))}

	for _, tp := range namedChildren(field(n, "type_parameters")) {
		fn.GenericTypes = append(fn.GenericTypes, f.text(tp))
	}

	for i, p := range namedChildren(field(n, "parameters")) {
		var pname, ptype string
		switch p.Kind() {
		case "identifier":
			pname = f.text(p)
		case "typed_parameter":
			pname = f.text(firstNamedOfKind(p, "identifier", "list_splat_pattern", "dictionary_splat_pattern"))
			ptype = f.text(field(p, "type"))
		case "default_parameter":
			pname = f.text(field(p, "name"))
		case "typed_default_parameter":
			pname = f.text(field(p, "name"))
			ptype = f.text(field(p, "type"))
		case "list_splat_pattern", "dictionary_splat_pattern":
			pname = f.text(p)
		default:
			continue
		}
		pname = strings.TrimLeft(pname, "*")
		if i == 0 && class != "" && (pname == "self" || pname == "cls") {
			continue
		}
		fn.Parameters = append(fn.Parameters, ParameterFacts{Name: pname, Type: ParamType(ptype)})
	}

	scan := newBodyScan(&fn, f.globals)
	scan.local("self")
	scan.local("cls")
	declared := make(map[string]bool)
	walkTree(field(n, "body"), func(c *tree_sitter.Node) bool {
		switch c.Kind() {
		case "function_definition", "class_definition":
			return false
		case "global_statement", "nonlocal_statement":
			for _, id := range namedChildren(c) {
				declared[f.text(id)] = true
			}
			return false
		case "assignment", "augmented_assignment":
			left := field(c, "left")
			if left != nil && left.Kind() == "identifier" {
				name := f.text(left)
				if declared[name] {
					scan.modify(name)
				} else {
					scan.local(name)
				}
			} else {
				scan.modify(f.rootName(left))
			}
		case "for_statement":
			walkTree(field(c, "left"), func(id *tree_sitter.Node) bool {
				if id.Kind() == "identifier" {
					scan.local(f.text(id))
				}
				return true
			})
		case "call":
			scan.call(f.callee(field(c, "function"), class))
		case "identifier":
			scan.use(f.text(c))
		}
		return true
	})
	f.facts.Functions = append(f.facts.Functions, fn)
}

func (f *pyFile) callee(n *tree_sitter.Node, class string) string {
	if n == nil {
		return ""
	}
	switch n.Kind() {
	case "identifier":
		return f.text(n)
	case "attribute":
		obj := field(n, "object")
		if class != "" && obj != nil && obj.Kind() == "identifier" && (f.text(obj) == "self" || f.text(obj) == "cls") {
			return class + "." + f.text(field(n, "attribute"))
		}
		return f.text(n)
	}
	return ""
}

func (f *pyFile) rootName(n *tree_sitter.Node) string {
	for n != nil {
		switch n.Kind() {
		case "identifier":
			return f.text(n)
		case "attribute":
			n = field(n, "object")
		case "subscript":
			n = field(n, "value")
		default:
			return ""
		}
	}
	return ""
}

func (f *pyFile) publish(name string) {
	if !strings.HasPrefix(name, "_") {
		f.public = appendUnique(f.public, name)
	}
}

// pyDefinition unwraps a decorated definition.
func pyDefinition(n *tree_sitter.Node) *tree_sitter.Node {
	if n.Kind() == "decorated_definition" {
		if def := field(n, "definition"); def != nil {
			return def
		}
	}
	return n
}
