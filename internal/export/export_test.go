package export

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/codegraph/internal/graph"
)

func newStore(t *testing.T) (*graph.Engine, graph.Store) {
	t.Helper()
	store := graph.NewMemStore()
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.InitSchema(context.Background()))
	eng, err := graph.NewEngine(store, graph.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	return eng, store
}

// seed ingests a small two-file project.
func seed(t *testing.T) graph.Store {
	t.Helper()
	eng, store := newStore(t)
	ctx := context.Background()

	_, err := eng.Ingest(ctx, "src/types.ts", &graph.FileFacts{
		Interfaces: []graph.InterfaceFacts{{Name: "Shape"}},
		Types:      []graph.TypeFacts{{Name: "Id", Definition: "string | number"}},
		Enums:      []graph.EnumFacts{{Name: "Color", Members: []graph.EnumMemberFacts{{Name: "Red"}, {Name: "Green"}}}},
		Exports:    []string{"Shape", "Id", "Color"},
	})
	require.NoError(t, err)

	_, err = eng.Ingest(ctx, "src/shapes.ts", &graph.FileFacts{
		Classes: []graph.ClassFacts{{Name: "Square", Implements: []string{"Shape"}}},
		Functions: []graph.FunctionFacts{
			{
				Name:       "makeSquare",
				ReturnType: "Square",
				Parameters: []graph.ParameterFacts{{Name: "side", Type: "number"}},
				Calls:      []string{"log"},
				Modifies:   []string{"created"},
			},
			{Name: "log"},
		},
		Variables: []graph.VariableFacts{{Name: "created", Type: "number"}},
		Imports: []graph.ImportFacts{
			{Path: "./types", Names: []string{"Shape", "Color"}, ResolvedPath: "src/types.ts"},
			{Path: "react", DefaultImport: "React"},
		},
		Exports:    []string{"Square", "makeSquare"},
		Components: []graph.ComponentFacts{{Name: "Card", Props: `{"title":"string"}`, GenericTypes: graph.NameList{"T"}}},
	})
	require.NoError(t, err)
	return store
}

func lookup(t *testing.T, store graph.Store, kind graph.Kind, name string) graph.ID {
	t.Helper()
	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	defer snap.Close()
	list, err := snap.FindByName(context.Background(), kind, name)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	return list[0].ID
}

func TestWriteReport(t *testing.T) {
	store := seed(t)
	v, err := FileReport(context.Background(), store, "./src/shapes.ts")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, v))
	out := buf.String()

	for _, want := range []string{
		"  Path: src/shapes.ts\n",
		"  Directory: src\n",
		"    - Square\n      Interfaces:\n        - Shape\n",
		"    - makeSquare\n      Parameters:\n        - side\n          Type: number\n      Return Type: Square\n",
		"      Calls:\n        - log\n      Modifies:\n        - created\n",
		"    - log\n      Parameters:\n      Return Type: void\n",
		"    - created\n      Type: number\n      Modified By Functions:\n        - makeSquare\n",
		"    - Path: ./types\n      Names: Shape, Color\n      Default Import: \n      Resolves To: src/types.ts\n",
		"      Default Import: React\n",
		"    - Card\n      Props: {\"title\":\"string\"}\n      Generic Types: T\n",
	} {
		assert.Contains(t, out, want)
	}
}

func TestWriteReport_TypesAndEnums(t *testing.T) {
	store := seed(t)
	v, err := FileReport(context.Background(), store, "src/types.ts")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, v))
	assert.Contains(t, buf.String(), "  Types:\n    - Id = string | number\n")
	assert.Contains(t, buf.String(), "  Enums:\n    - Color\n      - Red\n      - Green\n")
}

func TestFileReport_Missing(t *testing.T) {
	store := seed(t)
	_, err := FileReport(context.Background(), store, "nope.ts")
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestDiagram_File(t *testing.T) {
	store := seed(t)
	id := lookup(t, store, graph.KindFile, "src/shapes.ts")

	out, err := Diagram(context.Background(), store, id)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "classDiagram\n"))
	assert.Contains(t, out, `["src/shapes.ts"] {`)
	assert.Contains(t, out, "    +makeSquare()\n")
	// The resolved import is labelled with the target file and its exports.
	assert.Contains(t, out, `["src/types.ts"] {`)
	assert.Contains(t, out, "    +Color()\n")
	assert.Contains(t, out, `["react"]`+"\n")
	assert.Contains(t, out, " : Shape, Color\n")
	assert.Contains(t, out, " : imports\n")
}

func TestDiagram_Function(t *testing.T) {
	store := seed(t)
	id := lookup(t, store, graph.KindFunction, "makeSquare")

	out, err := Diagram(context.Background(), store, id)
	require.NoError(t, err)

	root := nodeID("n", id)
	assert.True(t, strings.HasPrefix(out, "graph TD\n  "+root+`["Function: makeSquare"]`))
	assert.Contains(t, out, `["Type: Square"]`)
	assert.Contains(t, out, `["Variable: side"]`)
	assert.Contains(t, out, root+" -->|calls| "+nodeID("n", lookup(t, store, graph.KindFunction, "log")))
	assert.Contains(t, out, root+" -->|modifies| "+nodeID("n", lookup(t, store, graph.KindVariable, "created")))
}

func TestDiagram_ClassAndVariable(t *testing.T) {
	store := seed(t)
	ctx := context.Background()

	cls := lookup(t, store, graph.KindClass, "Square")
	out, err := Diagram(ctx, store, cls)
	require.NoError(t, err)
	assert.Contains(t, out, `["Class: Square"]`)
	assert.Contains(t, out, " -->|implements| ")
	assert.Contains(t, out, `["Interface: Shape"]`)

	vr := lookup(t, store, graph.KindVariable, "created")
	out, err = Diagram(ctx, store, vr)
	require.NoError(t, err)
	fn := nodeID("n", lookup(t, store, graph.KindFunction, "makeSquare"))
	assert.Contains(t, out, fn+" -->|modifies| "+nodeID("n", vr))
	assert.Contains(t, out, `["Type: number"]`)
}

func TestDiagram_Errors(t *testing.T) {
	store := seed(t)
	ctx := context.Background()

	_, err := Diagram(ctx, store, 999999)
	assert.ErrorIs(t, err, graph.ErrNotFound)

	_, err = Diagram(ctx, store, lookup(t, store, graph.KindEnum, "Color"))
	assert.ErrorIs(t, err, ErrNoDiagram)
}

func TestImportGraph(t *testing.T) {
	store := seed(t)
	ctx := context.Background()
	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	defer snap.Close()

	out, err := ImportGraph(ctx, snap)
	require.NoError(t, err)

	from := nodeID("N", lookup(t, store, graph.KindFile, "src/shapes.ts"))
	to := nodeID("N", lookup(t, store, graph.KindFile, "src/types.ts"))
	assert.Contains(t, out, `subgraph C0["src/"]`)
	assert.Contains(t, out, "    "+from+`["src/shapes.ts"]`)
	assert.Contains(t, out, "  "+from+" --> "+to+"\n")
}

func TestExportFiles(t *testing.T) {
	store := seed(t)

	all, err := ExportFiles(context.Background(), store, "", 0)
	require.NoError(t, err)
	require.Len(t, all.Files, 2)
	assert.Equal(t, 2, all.Stats.Entities[graph.KindFile])

	one, err := ExportFiles(context.Background(), store, "%shapes%", 1)
	require.NoError(t, err)
	require.Len(t, one.Files, 1)
	f := one.Files[0]
	assert.Equal(t, "src/shapes.ts", f.Name)
	assert.Len(t, f.Related(graph.RelFunctions), 2)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, one))
	assert.Contains(t, buf.String(), `"pattern": "%shapes%"`)
	assert.Contains(t, buf.String(), `"name": "src/shapes.ts"`)
}

func TestShortPath(t *testing.T) {
	assert.Equal(t, "a.ts", shortPath("a.ts"))
	assert.Equal(t, "src/a.ts", shortPath("src/a.ts"))
	assert.Equal(t, "pkg/a.ts", shortPath("deep/src/pkg/a.ts"))
}
