package export

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dusk-indust/codegraph/internal/graph"
)

// ReportDepth is the projection depth WriteReport expects: it reaches the
// types of function parameters.
const ReportDepth = 3

// FileReport projects the file at path with graph.ReportRelations. It
// returns graph.ErrNotFound when the file has not been seen.
func FileReport(ctx context.Context, store graph.Store, path string) (*graph.View, error) {
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = snap.Close() }()

	f, err := graph.FindFile(ctx, snap, path)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("%w: file %s", graph.ErrNotFound, path)
	}
	return graph.Project(ctx, snap, f.ID, graph.ReportRelations, ReportDepth)
}

// reportWriter indents lines and keeps the first write error.
type reportWriter struct {
	w   io.Writer
	err error
}

func (r *reportWriter) line(indent int, format string, args ...any) {
	if r.err != nil {
		return
	}
	_, r.err = fmt.Fprintf(r.w, "%s"+format+"\n", append([]any{strings.Repeat("  ", indent)}, args...)...)
}

func (r *reportWriter) names(indent int, title string, views []*graph.View) {
	r.line(indent, "%s:", title)
	for _, v := range views {
		r.line(indent+1, "- %s", v.Name)
	}
}

// WriteReport prints the console report of a projected File view.
func WriteReport(w io.Writer, v *graph.View) error {
	r := &reportWriter{w: w}
	r.line(0, "File Information:")
	r.line(1, "ID: %d", v.ID)
	r.line(1, "Path: %s", v.Name)
	if dir := v.First(graph.RelDirectory); dir != nil {
		r.line(1, "Directory: %s", dir.Name)
	}

	r.line(1, "Classes:")
	for _, c := range v.Related(graph.RelClasses) {
		r.line(2, "- %s", c.Name)
		r.names(3, "Interfaces", c.Related(graph.RelInterfaces))
	}
	r.names(1, "Interfaces", v.Related(graph.RelInterfaces))

	r.line(1, "Types:")
	for _, t := range v.Related(graph.RelTypes) {
		if t.Attrs != nil && t.Attrs.Definition != "" {
			r.line(2, "- %s = %s", t.Name, t.Attrs.Definition)
			continue
		}
		r.line(2, "- %s", t.Name)
	}

	r.line(1, "Enums:")
	for _, e := range v.Related(graph.RelEnums) {
		r.line(2, "- %s", e.Name)
		for _, m := range e.Related(graph.RelMembers) {
			r.line(3, "- %s", m.Name)
		}
	}

	r.line(1, "Functions:")
	for _, fn := range v.Related(graph.RelFunctions) {
		r.line(2, "- %s", fn.Name)
		r.line(3, "Parameters:")
		for _, p := range fn.Related(graph.RelParameters) {
			r.line(4, "- %s", p.Name)
			r.line(5, "Type: %s", nameOr(p.First(graph.RelVariableType), "unknown"))
		}
		r.line(3, "Return Type: %s", nameOr(fn.First(graph.RelReturnType), "void"))
		r.names(3, "Calls", fn.Related(graph.RelCalls))
		r.names(3, "Modifies", fn.Related(graph.RelModifies))
	}

	r.line(1, "Variables:")
	for _, vr := range v.Related(graph.RelVariables) {
		r.line(2, "- %s", vr.Name)
		r.line(3, "Type: %s", nameOr(vr.First(graph.RelVariableType), "unknown"))
		r.names(3, "Modified By Functions", vr.Related(graph.RelModifiedBy))
	}

	r.line(1, "Imports:")
	for _, imp := range v.Related(graph.RelImports) {
		r.line(2, "- Path: %s", imp.Name)
		if imp.Attrs != nil {
			r.line(3, "Names: %s", strings.Join(imp.Attrs.Names, ", "))
			r.line(3, "Default Import: %s", imp.Attrs.DefaultImport)
		}
		if target := imp.First(graph.RelImportsFile); target != nil {
			r.line(3, "Resolves To: %s", target.Name)
		}
	}
	r.names(1, "Exports", v.Related(graph.RelExports))

	r.line(1, "Components:")
	for _, c := range v.Related(graph.RelComponents) {
		r.line(2, "- %s", c.Name)
		if c.Attrs != nil {
			r.line(3, "Props: %s", c.Attrs.Props)
			r.line(3, "Generic Types: %s", strings.Join(c.Attrs.GenericTypes, ", "))
		}
	}
	return r.err
}

func nameOr(v *graph.View, fallback string) string {
	if v == nil {
		return fallback
	}
	return v.Name
}
