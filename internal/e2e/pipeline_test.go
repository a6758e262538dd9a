//go:build e2e

package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/codegraph/internal/graph"
	"github.com/dusk-indust/codegraph/internal/indexer"
)

// openBackends returns every store backend this build can open.
func openBackends(t *testing.T) map[string]graph.Store {
	t.Helper()
	stores := map[string]graph.Store{graph.BackendMemory: graph.NewMemStore()}
	for _, b := range []string{graph.BackendSQLite, graph.BackendKuzu} {
		path := filepath.Join(t.TempDir(), "graph")
		if b == graph.BackendSQLite {
			path += ".db"
		}
		s, err := graph.OpenStore(b, path)
		if err != nil {
			t.Logf("skipping %s backend: %v", b, err)
			continue
		}
		stores[b] = s
	}
	for _, s := range stores {
		t.Cleanup(func() { _ = s.Close() })
	}
	return stores
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

// TestPipeline_E2E_AllFixtures indexes every fixture project into every
// available backend and checks that all backends agree.
func TestPipeline_E2E_AllFixtures(t *testing.T) {
	for _, project := range []string{"go_project", "ts_project", "py_project", "rs_project"} {
		t.Run(project, func(t *testing.T) {
			var want *graph.GraphStats
			for name, store := range openBackends(t) {
				report := indexFixture(t, store, project)
				assert.Equal(t, report.Files, report.Ingested, name)

				got := stats(t, store)
				if want == nil {
					want = got
					continue
				}
				assert.Equal(t, want, got, "backend %s disagrees", name)
			}
		})
	}
}

// TestPipeline_E2E_Reingest edits a file between two ingestions and checks
// the replacement semantics end to end.
func TestPipeline_E2E_Reingest(t *testing.T) {
	root := t.TempDir()
	write := func(rel, src string) {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(src), 0o644))
	}
	write("go.mod", "module example.com/shop\n\ngo 1.22\n")
	write("cart/cart.go", `package cart

import "example.com/shop/price"

type Cart struct{ items []int }

func (c *Cart) Total() int { return price.Sum(c.items) }

func Empty() bool { return false }
`)
	write("price/price.go", `package price

func Sum(xs []int) int { return 0 }
`)

	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.InitSchema(ctx))
			eng, err := graph.NewEngine(store, graph.Options{Logger: quietLogger()})
			require.NoError(t, err)
			idx := indexer.New(eng, graph.NewTreeSitterParser(), indexer.Options{Logger: quietLogger()})

			_, err = idx.IndexRepo(ctx, root)
			require.NoError(t, err)
			before := stats(t, store)
			assert.Equal(t, 1, before.Edges[graph.EdgeImportsFile])
			assert.Positive(t, before.Edges[graph.EdgeCalls])

			write("cart/cart.go", `package cart

type Cart struct{ items []int }

func (c *Cart) Total() int { return len(c.items) }
`)
			_, err = idx.IngestFile(ctx, root, "cart/cart.go")
			require.NoError(t, err)
			after := stats(t, store)

			assert.Zero(t, after.Edges[graph.EdgeImportsFile], "the import is gone")
			assert.Zero(t, after.Entities[graph.KindImport])
			assert.Equal(t, before.Entities[graph.KindFile], after.Entities[graph.KindFile])
		})
	}
}
