package graph

import (
	"context"
	"fmt"
)

// RelationName names a relation a projection can follow. The same name may
// mean different things on different kinds: "classes" on a File lists the
// classes it declares, on an Interface the classes implementing it.
type RelationName string

const (
	RelDirectory  RelationName = "directory"
	RelFiles      RelationName = "files"
	RelFile       RelationName = "file"
	RelClasses    RelationName = "classes"
	RelInterfaces RelationName = "interfaces"
	RelTypes      RelationName = "types"
	RelEnums      RelationName = "enums"
	RelMembers    RelationName = "members"
	RelEnum       RelationName = "enum"
	RelFunctions  RelationName = "functions"
	RelVariables  RelationName = "variables"
	RelImports    RelationName = "imports"
	RelExports    RelationName = "exports"
	RelComponents RelationName = "components"

	RelImplements   RelationName = "implements"
	RelReturnType   RelationName = "returnType"
	RelReturnedBy   RelationName = "returnedBy"
	RelParameters   RelationName = "parameters"
	RelParameterOf  RelationName = "parameterOf"
	RelGenericTypes RelationName = "genericTypes"
	RelCalls        RelationName = "calls"
	RelCalledBy     RelationName = "calledBy"
	RelModifies     RelationName = "modifies"
	RelModifiedBy   RelationName = "modifiedByFunctions"
	RelUses         RelationName = "uses"
	RelUsedIn       RelationName = "usedInFunctions"
	RelVariableType RelationName = "variableType"
	RelTypedVars    RelationName = "typedVariables"
	RelImportsFile  RelationName = "importsFile"
	RelImportedBy   RelationName = "importedBy"
)

// Preset relation sets.
var (
	// FileRelations lists everything a File owns plus its directory.
	FileRelations = []RelationName{
		RelDirectory, RelClasses, RelInterfaces, RelTypes, RelEnums,
		RelFunctions, RelVariables, RelImports, RelExports, RelComponents,
	}
	// FunctionRelations lists a function's signature and body edges.
	FunctionRelations = []RelationName{RelReturnType, RelParameters, RelCalls, RelModifies, RelUses}
	// ReportRelations is what the file report prints.
	ReportRelations = append(append(append([]RelationName{}, FileRelations...), FunctionRelations...),
		RelGenericTypes, RelVariableType, RelMembers, RelModifiedBy, RelUsedIn, RelImportsFile)
)

type relSource int

const (
	srcOwned relSource = iota
	srcChildren
	srcOut
	srcIn
	srcParent
	srcFile
)

type relation struct {
	src  relSource
	kind Kind     // srcOwned, srcChildren
	edge EdgeKind // srcOut, srcIn
}

func ownedRel(k Kind) relation { return relation{src: srcOwned, kind: k} }
func childRel(k Kind) relation { return relation{src: srcChildren, kind: k} }
func outRel(e EdgeKind) relation { return relation{src: srcOut, edge: e} }
func inRel(e EdgeKind) relation { return relation{src: srcIn, edge: e} }

// ownedBy is the base relation set of every file-owned kind.
func ownedBy() map[RelationName]relation {
	return map[RelationName]relation{RelFile: {src: srcFile}}
}

// relations maps each kind to the relations that apply to it.
var relations = map[Kind]map[RelationName]relation{
	KindDirectory: {
		RelFiles: childRel(KindFile),
	},
	KindFile: {
		RelDirectory:  {src: srcParent},
		RelClasses:    ownedRel(KindClass),
		RelInterfaces: ownedRel(KindInterface),
		RelTypes:      ownedRel(KindType),
		RelEnums:      ownedRel(KindEnum),
		RelFunctions:  ownedRel(KindFunction),
		RelVariables:  ownedRel(KindVariable),
		RelImports:    ownedRel(KindImport),
		RelExports:    ownedRel(KindExport),
		RelComponents: ownedRel(KindComponent),
		RelImportedBy: inRel(EdgeImportsFile),
	},
	KindClass: with(ownedBy(), map[RelationName]relation{
		RelImplements: outRel(EdgeImplements),
		RelInterfaces: outRel(EdgeImplements),
	}),
	KindInterface: with(ownedBy(), map[RelationName]relation{
		RelClasses: inRel(EdgeImplements),
	}),
	KindType: with(ownedBy(), map[RelationName]relation{
		RelReturnedBy: inRel(EdgeReturnType),
		RelTypedVars:  inRel(EdgeVariableType),
	}),
	KindEnum: with(ownedBy(), map[RelationName]relation{
		RelMembers: childRel(KindEnumMember),
	}),
	KindEnumMember: with(ownedBy(), map[RelationName]relation{
		RelEnum: {src: srcParent},
	}),
	KindFunction: with(ownedBy(), map[RelationName]relation{
		RelReturnType:   outRel(EdgeReturnType),
		RelParameters:   outRel(EdgeParameters),
		RelGenericTypes: outRel(EdgeGenericTypes),
		RelCalls:        outRel(EdgeCalls),
		RelCalledBy:     inRel(EdgeCalls),
		RelModifies:     outRel(EdgeModifies),
		RelUses:         outRel(EdgeUses),
	}),
	KindVariable: with(ownedBy(), map[RelationName]relation{
		RelVariableType: outRel(EdgeVariableType),
		RelModifiedBy:   inRel(EdgeModifies),
		RelUsedIn:       inRel(EdgeUses),
		RelParameterOf:  inRel(EdgeParameters),
	}),
	KindImport: with(ownedBy(), map[RelationName]relation{
		RelImportsFile: outRel(EdgeImportsFile),
	}),
	KindExport:    ownedBy(),
	KindComponent: ownedBy(),
}

func with(base, extra map[RelationName]relation) map[RelationName]relation {
	for k, v := range extra {
		base[k] = v
	}
	return base
}

// KnownRelation reports whether name applies to at least one kind.
func KnownRelation(name RelationName) bool {
	for _, rels := range relations {
		if _, ok := rels[name]; ok {
			return true
		}
	}
	return false
}

// View is a projected entity. A reference stub (Ref true) carries only ID,
// Kind and Name: the entity is expanded elsewhere in the same projection.
type View struct {
	ID        ID                       `json:"id"`
	Kind      Kind                     `json:"kind"`
	Name      string                   `json:"name"`
	FileID    ID                       `json:"fileId,omitempty"`
	Attrs     *Attrs                   `json:"attrs,omitempty"`
	Ref       bool                     `json:"ref,omitempty"`
	Relations map[RelationName][]*View `json:"relations,omitempty"`
}

// Related returns the views reached through rel, or nil.
func (v *View) Related(rel RelationName) []*View {
	if v == nil {
		return nil
	}
	return v.Relations[rel]
}

// First returns the first view reached through rel, or nil.
func (v *View) First(rel RelationName) *View {
	if list := v.Related(rel); len(list) > 0 {
		return list[0]
	}
	return nil
}

func fullView(e Entity) *View {
	attrs := e.Attrs
	return &View{ID: e.ID, Kind: e.Kind, Name: e.Name, FileID: e.FileID, Attrs: &attrs}
}

func stubView(e Entity) *View {
	return &View{ID: e.ID, Kind: e.Kind, Name: e.Name, Ref: true}
}

// Project returns the entity id with the requested relations followed
// breadth-first up to depth hops (depth <= 0 means 1). Each entity is
// expanded at most once; later occurrences are reference stubs, so cyclic
// graphs terminate. Relations that do not apply to a node's kind are
// skipped. A missing root yields nil, nil.
func Project(ctx context.Context, r Reader, id ID, rels []RelationName, depth int) (*View, error) {
	for _, rel := range rels {
		if !KnownRelation(rel) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRelation, rel)
		}
	}
	if depth <= 0 {
		depth = 1
	}
	root, err := r.Get(ctx, id)
	if err != nil || root == nil {
		return nil, err
	}
	projections.WithLabelValues(string(root.Kind)).Inc()

	type item struct {
		view   *View
		entity Entity
		level  int
	}
	visited := map[ID]bool{root.ID: true}
	rootView := fullView(*root)
	queue := []item{{view: rootView, entity: *root}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.level >= depth {
			continue
		}
		applicable := relations[cur.entity.Kind]
		for _, rel := range rels {
			spec, ok := applicable[rel]
			if !ok {
				continue
			}
			if _, done := cur.view.Relations[rel]; done {
				continue
			}
			targets, err := follow(ctx, r, cur.entity, spec)
			if err != nil {
				return nil, fmt.Errorf("project %s of %d: %w", rel, cur.entity.ID, err)
			}
			views := make([]*View, 0, len(targets))
			for _, t := range targets {
				if visited[t.ID] {
					views = append(views, stubView(t))
					continue
				}
				visited[t.ID] = true
				v := fullView(t)
				views = append(views, v)
				queue = append(queue, item{view: v, entity: t, level: cur.level + 1})
			}
			if cur.view.Relations == nil {
				cur.view.Relations = make(map[RelationName][]*View)
			}
			cur.view.Relations[rel] = views
		}
	}
	return rootView, nil
}

// ProjectStore runs Project against a fresh snapshot of s.
func ProjectStore(ctx context.Context, s Store, id ID, rels []RelationName, depth int) (*View, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = snap.Close() }()
	return Project(ctx, snap, id, rels, depth)
}

// FindFile returns the File entity for path, or nil.
func FindFile(ctx context.Context, r Reader, path string) (*Entity, error) {
	files, err := r.FindByName(ctx, KindFile, NormalizePath(path))
	if err != nil || len(files) == 0 {
		return nil, err
	}
	return &files[0], nil
}

func follow(ctx context.Context, r Reader, e Entity, rel relation) ([]Entity, error) {
	switch rel.src {
	case srcOwned:
		return r.Owned(ctx, e.ID, rel.kind)
	case srcChildren:
		return r.Children(ctx, e.ID, rel.kind)
	case srcParent:
		return single(ctx, r, e.ParentID)
	case srcFile:
		return single(ctx, r, e.FileID)
	}
	var ids []ID
	var err error
	if rel.src == srcOut {
		ids, err = r.Edges(ctx, rel.edge, e.ID)
	} else {
		ids, err = r.InEdges(ctx, rel.edge, e.ID)
	}
	if err != nil {
		return nil, err
	}
	out := make([]Entity, 0, len(ids))
	for _, id := range ids {
		t, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if t != nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

func single(ctx context.Context, r Reader, id ID) ([]Entity, error) {
	if id == 0 {
		return []Entity{}, nil
	}
	e, err := r.Get(ctx, id)
	if err != nil || e == nil {
		return []Entity{}, err
	}
	return []Entity{*e}, nil
}
