package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err, "NewSQLiteStore should not fail")
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.InitSchema(context.Background()), "InitSchema should not fail")
	return s
}

func TestSQLiteStore_Conformance(t *testing.T) {
	runStoreConformance(t, newTestSQLiteStore)
}

func TestSQLiteStore_InitSchemaIdempotent(t *testing.T) {
	s := newTestSQLiteStore(t)
	require.NoError(t, s.InitSchema(context.Background()))
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "graph.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.InitSchema(ctx))

	tx := begin(t, s)
	file := mustCreate(t, tx, Entity{Kind: KindFile, Name: "a.ts"})
	fn := mustCreate(t, tx, Entity{Kind: KindFunction, Name: "f", FileID: file.ID})
	require.NoError(t, tx.SetEdges(ctx, EdgeCalls, fn.ID, []ID{fn.ID}))
	require.NoError(t, tx.Commit())
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })
	require.NoError(t, s2.InitSchema(ctx))

	snap := snapshot(t, s2)
	got, err := snap.Find(ctx, fn.Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, fn.ID, got.ID)

	calls, err := snap.Edges(ctx, EdgeCalls, fn.ID)
	require.NoError(t, err)
	assert.Equal(t, []ID{fn.ID}, calls)

	// IDs are not reused after a delete.
	tx = begin(t, s2)
	require.NoError(t, tx.Delete(ctx, fn.ID))
	again := mustCreate(t, tx, Entity{Kind: KindFunction, Name: "g", FileID: file.ID})
	require.NoError(t, tx.Commit())
	assert.Greater(t, again.ID, fn.ID)
}
