package graph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestKuzuStore opens an in-memory Kuzu database with the schema applied.
func newTestKuzuStore(t *testing.T) Store {
	t.Helper()
	s, err := NewKuzuStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.InitSchema(context.Background()))
	return s
}

func TestKuzuStore_Conformance(t *testing.T) {
	runStoreConformance(t, newTestKuzuStore)
}

func TestKuzuStore_InitSchemaTwice(t *testing.T) {
	s := newTestKuzuStore(t)
	require.NoError(t, s.InitSchema(context.Background()), "DDL uses IF NOT EXISTS")
}

func TestKuzuStore_StatementErrorsAreNotRetryable(t *testing.T) {
	s := newTestKuzuStore(t).(*KuzuStore)
	c := kuzuConn{conn: s.conn}

	_, err := c.query("MATCH (x:NoSuchTable) RETURN x", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
}

func TestKuzuStore_FileStorePersists(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "sub", "graph.kuzu")

	s, err := NewKuzuFileStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.InitSchema(ctx))

	tx := begin(t, s)
	file := mustCreate(t, tx, Entity{Kind: KindFile, Name: "a.ts"})
	require.NoError(t, tx.Commit())
	require.NoError(t, s.Close())

	s2, err := NewKuzuFileStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })

	snap := snapshot(t, s2)
	got, err := snap.Find(ctx, file.Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, file.ID, got.ID)
}

func TestOpenStore_Backends(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		backend string
		path    string
	}{
		{BackendSQLite, filepath.Join(dir, "graph.db")},
		{BackendKuzu, filepath.Join(dir, "graph.kuzu")},
		{BackendMemory, ""},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			s, err := OpenStore(tt.backend, tt.path)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			require.NoError(t, s.InitSchema(context.Background()))
		})
	}

	_, err := OpenStore("oracle", "")
	assert.Error(t, err)
}
