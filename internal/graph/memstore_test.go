package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemStore(t *testing.T) Store {
	t.Helper()
	s := NewMemStore()
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.InitSchema(context.Background()))
	return s
}

func TestMemStore_Conformance(t *testing.T) {
	runStoreConformance(t, newTestMemStore)
}

func TestMemStore_ClosedRejectsWriters(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Close())

	_, err := s.Begin(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestMemStore_CommitDoesNotLeakIntoOpenTx(t *testing.T) {
	s := newTestMemStore(t)
	ctx := context.Background()

	snap := snapshot(t, s)
	tx := begin(t, s)
	mustCreate(t, tx, Entity{Kind: KindFile, Name: "a.ts"})
	require.NoError(t, tx.Commit())

	stats, err := snap.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.EntityCount())
}
