package export

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/dusk-indust/codegraph/internal/graph"
)

// ErrNoDiagram is returned by Diagram for kinds that have no diagram.
var ErrNoDiagram = errors.New("no diagram for entity kind")

// Relations each diagram needs, and the projection depth that reaches them.
var (
	fileDiagramRelations     = []graph.RelationName{graph.RelExports, graph.RelImports, graph.RelImportsFile}
	functionDiagramRelations = []graph.RelationName{graph.RelReturnType, graph.RelParameters, graph.RelCalls, graph.RelModifies, graph.RelUses}
	classDiagramRelations    = []graph.RelationName{graph.RelImplements}
	variableDiagramRelations = []graph.RelationName{graph.RelVariableType, graph.RelModifiedBy, graph.RelUsedIn}
)

// Diagram projects the entity id and renders the diagram for its kind:
// a classDiagram for Files and a graph TD for Functions, Classes and
// Variables. A missing entity yields graph.ErrNotFound.
func Diagram(ctx context.Context, store graph.Store, id graph.ID) (string, error) {
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = snap.Close() }()

	e, err := snap.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", fmt.Errorf("%w: %d", graph.ErrNotFound, id)
	}

	var (
		rels   []graph.RelationName
		depth  = 1
		render func(*graph.View) string
	)
	switch e.Kind {
	case graph.KindFile:
		rels, depth, render = fileDiagramRelations, 3, FileDiagram
	case graph.KindFunction:
		rels, render = functionDiagramRelations, FunctionDiagram
	case graph.KindClass:
		rels, render = classDiagramRelations, ClassDiagram
	case graph.KindVariable:
		rels, render = variableDiagramRelations, VariableDiagram
	default:
		return "", fmt.Errorf("%w: %s", ErrNoDiagram, e.Kind)
	}
	v, err := graph.Project(ctx, snap, id, rels, depth)
	if err != nil {
		return "", err
	}
	return render(v), nil
}

// FileDiagram renders a file as a Mermaid classDiagram: the file is a class
// whose methods are its exports, and every import is a class linked to it.
// Resolved imports are labelled with the imported file and list its exports.
func FileDiagram(v *graph.View) string {
	var sb strings.Builder
	sb.WriteString("classDiagram\n")

	self := nodeID("F", v.ID)
	writeClass(&sb, self, v.Name, exportNames(v))

	for _, imp := range v.Related(graph.RelImports) {
		id := nodeID("I", imp.ID)
		label := imp.Name
		var members []string
		if target := imp.First(graph.RelImportsFile); target != nil {
			label = target.Name
			members = exportNames(target)
		}
		writeClass(&sb, id, label, members)

		edge := "imports"
		if imp.Attrs != nil && len(imp.Attrs.Names) > 0 {
			edge = strings.Join(imp.Attrs.Names, ", ")
		}
		fmt.Fprintf(&sb, "  %s ..> %s : %s\n", self, id, escape(edge))
	}
	return sb.String()
}

func writeClass(sb *strings.Builder, id, label string, members []string) {
	fmt.Fprintf(sb, "  class %s[\"%s\"]", id, escape(label))
	if len(members) == 0 {
		sb.WriteString("\n")
		return
	}
	sb.WriteString(" {\n")
	for _, m := range members {
		fmt.Fprintf(sb, "    +%s()\n", sanitizeMember(m))
	}
	sb.WriteString("  }\n")
}

func exportNames(v *graph.View) []string {
	var names []string
	for _, ex := range v.Related(graph.RelExports) {
		names = append(names, ex.Name)
	}
	return names
}

// FunctionDiagram renders a function with its return type, parameters,
// callees and the variables it modifies or reads.
func FunctionDiagram(v *graph.View) string {
	d := newFlowchart(v, "Function")
	if rt := v.First(graph.RelReturnType); rt != nil {
		d.link(rt, "Type", "returns", false)
	}
	for _, p := range v.Related(graph.RelParameters) {
		d.link(p, "Variable", "parameter", false)
	}
	for _, c := range v.Related(graph.RelCalls) {
		d.link(c, "Function", "calls", false)
	}
	for _, m := range v.Related(graph.RelModifies) {
		d.link(m, "Variable", "modifies", false)
	}
	for _, u := range v.Related(graph.RelUses) {
		d.link(u, "Variable", "uses", false)
	}
	return d.String()
}

// ClassDiagram renders a class with the interfaces it implements.
func ClassDiagram(v *graph.View) string {
	d := newFlowchart(v, "Class")
	for _, in := range v.Related(graph.RelImplements) {
		d.link(in, "Interface", "implements", false)
	}
	return d.String()
}

// VariableDiagram renders a variable with its type and the functions that
// modify or read it.
func VariableDiagram(v *graph.View) string {
	d := newFlowchart(v, "Variable")
	if t := v.First(graph.RelVariableType); t != nil {
		d.link(t, "Type", "type", false)
	}
	for _, fn := range v.Related(graph.RelModifiedBy) {
		d.link(fn, "Function", "modifies", true)
	}
	for _, fn := range v.Related(graph.RelUsedIn) {
		d.link(fn, "Function", "uses", true)
	}
	return d.String()
}

type flowchart struct {
	sb   strings.Builder
	root string
	seen map[string]bool
}

func newFlowchart(root *graph.View, label string) *flowchart {
	d := &flowchart{root: nodeID("n", root.ID), seen: map[string]bool{}}
	d.sb.WriteString("graph TD\n")
	d.node(d.root, label, root.Name)
	return d
}

func (d *flowchart) node(id, label, name string) {
	if d.seen[id] {
		return
	}
	d.seen[id] = true
	fmt.Fprintf(&d.sb, "  %s[\"%s: %s\"]\n", id, label, escape(name))
}

// link declares the node for v and draws an edge between it and the root.
// inbound edges point at the root.
func (d *flowchart) link(v *graph.View, label, edge string, inbound bool) {
	id := nodeID("n", v.ID)
	d.node(id, label, v.Name)
	from, to := d.root, id
	if inbound {
		from, to = id, d.root
	}
	fmt.Fprintf(&d.sb, "  %s -->|%s| %s\n", from, edge, to)
}

func (d *flowchart) String() string { return d.sb.String() }

// ImportGraph renders every ingested file as a graph TD node grouped into
// subgraphs by import cluster, with an arrow per resolved import.
func ImportGraph(ctx context.Context, r graph.Reader) (string, error) {
	clusters, err := graph.ImportClusters(ctx, r)
	if err != nil {
		return "", fmt.Errorf("import clusters: %w", err)
	}
	files, err := r.List(ctx, graph.ListQuery{Kind: graph.KindFile})
	if err != nil {
		return "", fmt.Errorf("list files: %w", err)
	}

	ids := make(map[string]string, len(files))
	for _, f := range files {
		ids[f.Name] = nodeID("N", f.ID)
	}

	var sb strings.Builder
	sb.WriteString("graph TD\n")

	clustered := make(map[string]bool)
	for i, c := range clusters {
		name := c.Name
		if name == "" {
			name = "(root)"
		}
		fmt.Fprintf(&sb, "  subgraph C%d[\"%.40s\"]\n", i, escape(name))
		for _, member := range c.Members {
			clustered[member] = true
			fmt.Fprintf(&sb, "    %s[\"%s\"]\n", ids[member], escape(shortPath(member)))
		}
		sb.WriteString("  end\n")
	}
	for _, f := range files {
		if !clustered[f.Name] {
			fmt.Fprintf(&sb, "  %s[\"%s\"]\n", ids[f.Name], escape(shortPath(f.Name)))
		}
	}

	for _, f := range files {
		imports, err := r.Owned(ctx, f.ID, graph.KindImport)
		if err != nil {
			return "", err
		}
		var targets []string
		for _, imp := range imports {
			tids, err := r.Edges(ctx, graph.EdgeImportsFile, imp.ID)
			if err != nil {
				return "", err
			}
			for _, tid := range tids {
				if t := nodeID("N", tid); !slices.Contains(targets, t) {
					targets = append(targets, t)
				}
			}
		}
		for _, t := range targets {
			fmt.Fprintf(&sb, "  %s --> %s\n", ids[f.Name], t)
		}
	}
	return sb.String(), nil
}

func nodeID(prefix string, id graph.ID) string {
	return fmt.Sprintf("%s%d", prefix, id)
}

// shortPath returns the last 2 path segments for readability.
func shortPath(p string) string {
	parts := strings.Split(p, "/")
	if len(parts) <= 2 {
		return p
	}
	return path.Join(parts[len(parts)-2:]...)
}

var labelEscaper = strings.NewReplacer(`"`, "#quot;", "\n", " ")

func escape(s string) string { return labelEscaper.Replace(s) }

// sanitizeMember keeps class member names within Mermaid's identifier
// syntax.
func sanitizeMember(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '$':
			return r
		}
		return '_'
	}, s)
}
