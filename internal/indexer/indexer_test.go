package indexer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/codegraph/internal/graph"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestIndexer(t *testing.T, parser graph.FactsParser, opts Options) (*Indexer, graph.Store) {
	t.Helper()
	store := graph.NewMemStore()
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.InitSchema(context.Background()))
	eng, err := graph.NewEngine(store, graph.Options{Logger: quietLogger()})
	require.NoError(t, err)
	if parser == nil {
		parser = graph.NewTreeSitterParser()
	}
	opts.Logger = quietLogger()
	return New(eng, parser, opts), store
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func findOne(t *testing.T, s graph.Store, kind graph.Kind, name string) graph.Entity {
	t.Helper()
	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	defer snap.Close()
	list, err := snap.FindByName(context.Background(), kind, name)
	require.NoError(t, err)
	require.Len(t, list, 1, "%s %q", kind, name)
	return list[0]
}

func edgeTargets(t *testing.T, s graph.Store, kind graph.EdgeKind, from graph.ID) []string {
	t.Helper()
	ctx := context.Background()
	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	defer snap.Close()
	ids, err := snap.Edges(ctx, kind, from)
	require.NoError(t, err)
	var names []string
	for _, id := range ids {
		e, err := snap.Get(ctx, id)
		require.NoError(t, err)
		names = append(names, e.Name)
	}
	return names
}

// failingParser fails for paths containing "bad" and delegates otherwise.
type failingParser struct {
	graph.FactsParser
}

func (p failingParser) Parse(ctx context.Context, path string, src []byte) (*graph.FileFacts, error) {
	if strings.Contains(path, "bad") {
		return nil, errors.New("syntax exploded")
	}
	return p.FactsParser.Parse(ctx, path, src)
}

func TestIndexRepo_Fixture(t *testing.T) {
	idx, store := newTestIndexer(t, nil, Options{Workers: 3})

	report, err := idx.IndexRepo(context.Background(), "../../testdata/fixtures/ts_project")
	require.NoError(t, err)

	assert.Equal(t, 5, report.Files)
	assert.Equal(t, 5, report.Ingested)
	assert.Empty(t, report.Failed)

	shapes := findOne(t, store, graph.KindFile, "src/shapes.ts")
	types := findOne(t, store, graph.KindFile, "src/types.ts")
	assert.False(t, types.Attrs.Placeholder, "ingested files are not placeholders")

	ctx := context.Background()
	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	defer snap.Close()
	imports, err := snap.Owned(ctx, shapes.ID, graph.KindImport)
	require.NoError(t, err)
	require.Len(t, imports, 3)
	resolved := map[string][]string{}
	for _, imp := range imports {
		resolved[imp.Name] = edgeTargets(t, store, graph.EdgeImportsFile, imp.ID)
	}
	assert.Equal(t, []string{"src/types.ts"}, resolved["./types"])
	assert.Equal(t, []string{"src/util.ts"}, resolved["./util"])
	assert.Equal(t, []string{"packages/geometry/src/index.ts"}, resolved["@shapes/geometry"])

	// diagonal calls hypot, declared in the workspace package.
	hypot := findOne(t, store, graph.KindFunction, "hypot")
	geo := findOne(t, store, graph.KindFile, "packages/geometry/src/index.ts")
	assert.Equal(t, geo.ID, hypot.FileID)
	diagonal := findOne(t, store, graph.KindFunction, "diagonal")
	assert.Contains(t, edgeTargets(t, store, graph.EdgeCalls, diagonal.ID), "hypot")

	square := findOne(t, store, graph.KindClass, "Square")
	assert.Equal(t, []string{"Shape"}, edgeTargets(t, store, graph.EdgeImplements, square.ID))
	shape := findOne(t, store, graph.KindInterface, "Shape")
	assert.Equal(t, types.ID, shape.FileID, "implements resolves to the declared interface")
}

func TestIndexRepo_Idempotent(t *testing.T) {
	idx, store := newTestIndexer(t, nil, Options{})
	ctx := context.Background()

	_, err := idx.IndexRepo(ctx, "../../testdata/fixtures/py_project")
	require.NoError(t, err)
	first := stats(t, store)

	report, err := idx.IndexRepo(ctx, "../../testdata/fixtures/py_project")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Ingested)
	assert.Equal(t, first, stats(t, store))
}

func stats(t *testing.T, s graph.Store) *graph.GraphStats {
	t.Helper()
	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	defer snap.Close()
	st, err := snap.Stats(context.Background())
	require.NoError(t, err)
	return st
}

func TestIndexRepo_FailuresDoNotStopOthers(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.ts":     "export function a() { b(); }",
		"bad.ts":   "export function nope() {}",
		"lib/b.ts": "export function b() {}",
	})
	idx, store := newTestIndexer(t, failingParser{graph.NewTreeSitterParser()}, Options{Workers: 2})

	report, err := idx.IndexRepo(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Files)
	assert.Equal(t, 2, report.Ingested)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "bad.ts", report.Failed[0].Path)
	assert.Contains(t, report.Failed[0].Reason, "syntax exploded")

	findOne(t, store, graph.KindFunction, "b")
	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	defer snap.Close()
	none, err := snap.FindByName(context.Background(), graph.KindFunction, "nope")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDiscover_Exclusions(t *testing.T) {
	root := writeTree(t, map[string]string{
		".gitignore":              "generated/\n*.gen.ts\n",
		"src/app.ts":              "",
		"src/app.gen.ts":          "",
		"src/style.css":           "",
		"generated/api.ts":        "",
		"node_modules/x/index.js": "",
		"vendor/lib.go":           "",
		"tools/main.go":           "",
		"scripts/run.py":          "",
	})

	t.Run("defaults", func(t *testing.T) {
		idx, _ := newTestIndexer(t, nil, Options{})
		files, err := idx.Discover(root)
		require.NoError(t, err)
		assert.Equal(t, []string{"scripts/run.py", "src/app.ts", "tools/main.go"}, files)
	})

	t.Run("extensions and extra excludes", func(t *testing.T) {
		idx, _ := newTestIndexer(t, nil, Options{Extensions: []string{"ts", ".go"}, ExcludeDirs: []string{"tools"}})
		files, err := idx.Discover(root)
		require.NoError(t, err)
		assert.Equal(t, []string{"src/app.ts", "vendor/lib.go"}, files, "explicit excludes replace the defaults")
	})
}

func TestIngestFile_LearnsNewFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"src/a.ts": `import { b } from "./b";`,
	})
	idx, store := newTestIndexer(t, nil, Options{})
	ctx := context.Background()

	_, err := idx.IndexRepo(ctx, root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "b.ts"), []byte("export const b = 1;"), 0o644))
	_, err = idx.IngestFile(ctx, root, "src/b.ts")
	require.NoError(t, err)
	_, err = idx.IngestFile(ctx, root, "src/a.ts")
	require.NoError(t, err)

	imp := findOne(t, store, graph.KindImport, "./b")
	assert.Equal(t, []string{"src/b.ts"}, edgeTargets(t, store, graph.EdgeImportsFile, imp.ID))
	b := findOne(t, store, graph.KindFile, "src/b.ts")
	assert.False(t, b.Attrs.Placeholder)
}

func TestIngestFile_Missing(t *testing.T) {
	idx, _ := newTestIndexer(t, nil, Options{})
	_, err := idx.IngestFile(context.Background(), t.TempDir(), "gone.ts")

	var ie *graph.IngestError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "gone.ts", ie.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestIndexRepo_Cancelled(t *testing.T) {
	idx, _ := newTestIndexer(t, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := idx.IndexRepo(ctx, "../../testdata/fixtures/go_project")
	assert.ErrorIs(t, err, context.Canceled)
}
