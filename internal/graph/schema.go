package graph

import (
	"path"
	"strings"
)

// ID identifies an entity row. IDs are assigned by the store and are never
// reused within one store.
type ID int64

// --- Enums ---

// Kind classifies entities in the code knowledge graph.
type Kind string

const (
	KindDirectory  Kind = "Directory"
	KindFile       Kind = "File"
	KindClass      Kind = "Class"
	KindInterface  Kind = "Interface"
	KindType       Kind = "Type"
	KindEnum       Kind = "Enum"
	KindEnumMember Kind = "EnumMember"
	KindFunction   Kind = "Function"
	KindVariable   Kind = "Variable"
	KindImport     Kind = "Import"
	KindExport     Kind = "Export"
	KindComponent  Kind = "Component"
)

// AllKinds lists every entity kind in schema registration order.
var AllKinds = []Kind{
	KindDirectory, KindFile, KindClass, KindInterface, KindType, KindEnum,
	KindEnumMember, KindFunction, KindVariable, KindImport, KindExport, KindComponent,
}

// Valid reports whether k is a registered kind.
func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// EdgeKind names an edge table.
type EdgeKind string

const (
	EdgeImplements   EdgeKind = "implements"
	EdgeReturnType   EdgeKind = "returnType"
	EdgeParameters   EdgeKind = "parameters"
	EdgeGenericTypes EdgeKind = "genericTypes"
	EdgeCalls        EdgeKind = "calls"
	EdgeModifies     EdgeKind = "modifies"
	EdgeUses         EdgeKind = "uses"
	EdgeVariableType EdgeKind = "variableType"
	EdgeImportsFile  EdgeKind = "importsFile"
)

// EdgeSpec describes one edge table: the kinds it connects, whether a source
// may carry at most one target, and whether target order is significant.
type EdgeSpec struct {
	Kind    EdgeKind
	From    Kind
	To      Kind
	Single  bool
	Ordered bool
}

// EdgeSpecs is the edge table registry.
var EdgeSpecs = []EdgeSpec{
	{Kind: EdgeImplements, From: KindClass, To: KindInterface},
	{Kind: EdgeReturnType, From: KindFunction, To: KindType, Single: true},
	{Kind: EdgeParameters, From: KindFunction, To: KindVariable, Ordered: true},
	{Kind: EdgeGenericTypes, From: KindFunction, To: KindType, Ordered: true},
	{Kind: EdgeCalls, From: KindFunction, To: KindFunction},
	{Kind: EdgeModifies, From: KindFunction, To: KindVariable},
	{Kind: EdgeUses, From: KindFunction, To: KindVariable},
	{Kind: EdgeVariableType, From: KindVariable, To: KindType, Single: true},
	{Kind: EdgeImportsFile, From: KindImport, To: KindFile, Single: true},
}

// LookupEdge returns the registered spec for kind.
func LookupEdge(kind EdgeKind) (EdgeSpec, bool) {
	for _, s := range EdgeSpecs {
		if s.Kind == kind {
			return s, true
		}
	}
	return EdgeSpec{}, false
}

// --- Models ---

// Attrs holds the kind-specific attributes of an entity. Only the fields that
// apply to the entity's kind are set.
type Attrs struct {
	Definition    string   `json:"definition,omitempty"`    // Type
	Names         []string `json:"names,omitempty"`         // Import
	DefaultImport string   `json:"defaultImport,omitempty"` // Import
	Props         string   `json:"props,omitempty"`         // Component, JSON text
	GenericTypes  []string `json:"genericTypes,omitempty"`  // Component
	Position      int      `json:"position,omitempty"`      // EnumMember, parameter Variable
	Placeholder   bool     `json:"placeholder,omitempty"`
}

// IsZero reports whether no attribute is set.
func (a Attrs) IsZero() bool {
	return a.Definition == "" && len(a.Names) == 0 && a.DefaultImport == "" &&
		a.Props == "" && len(a.GenericTypes) == 0 && a.Position == 0 && !a.Placeholder
}

// Entity is one node of the graph.
//
// Name holds the path for Directory, File and Import entities. FileID is the
// owning File and is zero for Directory, File and detached placeholders.
// ParentID is the structural parent: the Directory of a File, the Enum of an
// EnumMember, the Function of a parameter or generic type parameter.
type Entity struct {
	ID       ID     `json:"id"`
	Kind     Kind   `json:"kind"`
	Name     string `json:"name"`
	FileID   ID     `json:"fileId,omitempty"`
	ParentID ID     `json:"parentId,omitempty"`
	Attrs    Attrs  `json:"attrs"`
}

// Key is the natural key of an entity. It is unique in every store.
type Key struct {
	Kind     Kind
	Name     string
	FileID   ID
	ParentID ID
}

// Key returns the natural key of e.
func (e Entity) Key() Key {
	return Key{Kind: e.Kind, Name: e.Name, FileID: e.FileID, ParentID: e.ParentID}
}

// IsPlaceholder reports whether e is a detached placeholder awaiting a
// declaration.
func (e Entity) IsPlaceholder() bool {
	return e.Attrs.Placeholder && e.FileID == 0
}

// GraphStats summarizes the contents of a store.
type GraphStats struct {
	Entities map[Kind]int     `json:"entities"`
	Edges    map[EdgeKind]int `json:"edges"`
}

// EntityCount is the total number of entities.
func (s *GraphStats) EntityCount() int {
	n := 0
	for _, c := range s.Entities {
		n += c
	}
	return n
}

// EdgeCount is the total number of edges.
func (s *GraphStats) EdgeCount() int {
	n := 0
	for _, c := range s.Edges {
		n += c
	}
	return n
}

// ListQuery filters entities by kind and name. NameLike uses SQL LIKE syntax
// (% and _ wildcards, case-insensitive); empty matches everything. Limit <= 0
// means no limit.
type ListQuery struct {
	Kind     Kind
	NameLike string
	Limit    int
}

// NormalizePath converts a file path to the slash-separated, cleaned form used
// as the name of File and Directory entities.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	return strings.TrimPrefix(p, "./")
}
