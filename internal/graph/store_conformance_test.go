package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactory returns a fresh store with an initialised schema.
type storeFactory func(t *testing.T) Store

// runStoreConformance exercises the Store contract every backend must meet.
func runStoreConformance(t *testing.T, newStore storeFactory) {
	t.Run("CreateAndFind", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tx := begin(t, s)
		dir := mustCreate(t, tx, Entity{Kind: KindDirectory, Name: "src"})
		file := mustCreate(t, tx, Entity{Kind: KindFile, Name: "src/a.ts", ParentID: dir.ID})
		typ := mustCreate(t, tx, Entity{
			Kind: KindType, Name: "Id", FileID: file.ID,
			Attrs: Attrs{Definition: "string | number"},
		})
		require.NoError(t, tx.Commit())

		assert.NotZero(t, dir.ID)
		assert.NotEqual(t, dir.ID, file.ID)

		snap := snapshot(t, s)
		got, err := snap.Find(ctx, typ.Key())
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, typ, *got)

		byID, err := snap.Get(ctx, file.ID)
		require.NoError(t, err)
		require.NotNil(t, byID)
		assert.Equal(t, "src/a.ts", byID.Name)
		assert.Equal(t, dir.ID, byID.ParentID)
	})

	t.Run("MissingIsNil", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		snap := snapshot(t, s)

		got, err := snap.Get(ctx, 4242)
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = snap.Find(ctx, Key{Kind: KindFile, Name: "nope.ts"})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("DuplicateKey", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tx := begin(t, s)
		defer func() { _ = tx.Rollback() }()
		mustCreate(t, tx, Entity{Kind: KindType, Name: "Id"})
		_, err := tx.Create(ctx, Entity{Kind: KindType, Name: "Id"})
		assert.ErrorIs(t, err, ErrDuplicateKey)

		// Same name under another owner is a different key.
		mustCreate(t, tx, Entity{Kind: KindType, Name: "Id", FileID: 99})
	})

	t.Run("UpdateRekeys", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tx := begin(t, s)
		file := mustCreate(t, tx, Entity{Kind: KindFile, Name: "a.ts"})
		ph := mustCreate(t, tx, Entity{Kind: KindType, Name: "Foo", Attrs: Attrs{Placeholder: true}})
		ph.FileID = file.ID
		ph.Attrs = Attrs{Definition: "{ x: number }"}
		require.NoError(t, tx.Update(ctx, ph))
		require.NoError(t, tx.Commit())

		snap := snapshot(t, s)
		old, err := snap.Find(ctx, Key{Kind: KindType, Name: "Foo"})
		require.NoError(t, err)
		assert.Nil(t, old, "old key should be released")

		got, err := snap.Find(ctx, Key{Kind: KindType, Name: "Foo", FileID: file.ID})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, ph.ID, got.ID)
		assert.False(t, got.Attrs.Placeholder)
		assert.Equal(t, "{ x: number }", got.Attrs.Definition)
	})

	t.Run("UpdateCollision", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tx := begin(t, s)
		defer func() { _ = tx.Rollback() }()
		mustCreate(t, tx, Entity{Kind: KindType, Name: "A"})
		b := mustCreate(t, tx, Entity{Kind: KindType, Name: "B"})
		b.Name = "A"
		assert.ErrorIs(t, tx.Update(ctx, b), ErrDuplicateKey)
	})

	t.Run("EdgesOrderedAndReplaced", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tx := begin(t, s)
		fn := mustCreate(t, tx, Entity{Kind: KindFunction, Name: "f", FileID: 1})
		x := mustCreate(t, tx, Entity{Kind: KindVariable, Name: "x", FileID: 1, ParentID: fn.ID})
		y := mustCreate(t, tx, Entity{Kind: KindVariable, Name: "y", FileID: 1, ParentID: fn.ID})
		z := mustCreate(t, tx, Entity{Kind: KindVariable, Name: "z", FileID: 1, ParentID: fn.ID})

		require.NoError(t, tx.SetEdges(ctx, EdgeParameters, fn.ID, []ID{z.ID, x.ID, y.ID, x.ID}))
		got, err := tx.Edges(ctx, EdgeParameters, fn.ID)
		require.NoError(t, err)
		assert.Equal(t, []ID{z.ID, x.ID, y.ID}, got, "order kept, duplicate collapsed")

		require.NoError(t, tx.SetEdges(ctx, EdgeParameters, fn.ID, []ID{y.ID}))
		require.NoError(t, tx.Commit())

		snap := snapshot(t, s)
		got, err = snap.Edges(ctx, EdgeParameters, fn.ID)
		require.NoError(t, err)
		assert.Equal(t, []ID{y.ID}, got)

		in, err := snap.InEdges(ctx, EdgeParameters, y.ID)
		require.NoError(t, err)
		assert.Equal(t, []ID{fn.ID}, in)

		in, err = snap.InEdges(ctx, EdgeParameters, x.ID)
		require.NoError(t, err)
		assert.Empty(t, in)
	})

	t.Run("EdgeValidation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tx := begin(t, s)
		defer func() { _ = tx.Rollback() }()
		fn := mustCreate(t, tx, Entity{Kind: KindFunction, Name: "f", FileID: 1})
		t1 := mustCreate(t, tx, Entity{Kind: KindType, Name: "A"})
		t2 := mustCreate(t, tx, Entity{Kind: KindType, Name: "B"})
		v := mustCreate(t, tx, Entity{Kind: KindVariable, Name: "v", FileID: 1})

		assert.ErrorIs(t, tx.SetEdges(ctx, EdgeReturnType, fn.ID, []ID{t1.ID, t2.ID}), ErrInvalidEdge)
		assert.ErrorIs(t, tx.SetEdges(ctx, EdgeCalls, fn.ID, []ID{v.ID}), ErrInvalidEdge)
		assert.ErrorIs(t, tx.SetEdges(ctx, EdgeCalls, v.ID, nil), ErrInvalidEdge)
		assert.ErrorIs(t, tx.SetEdges(ctx, EdgeCalls, fn.ID, []ID{12345}), ErrNotFound)
		assert.ErrorIs(t, tx.SetEdges(ctx, EdgeKind("bogus"), fn.ID, nil), ErrInvalidEdge)

		require.NoError(t, tx.SetEdges(ctx, EdgeCalls, fn.ID, []ID{fn.ID}), "self calls are allowed")
	})

	t.Run("DeleteRemovesIncidentEdges", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tx := begin(t, s)
		f := mustCreate(t, tx, Entity{Kind: KindFunction, Name: "f", FileID: 1})
		g := mustCreate(t, tx, Entity{Kind: KindFunction, Name: "g", FileID: 1})
		h := mustCreate(t, tx, Entity{Kind: KindFunction, Name: "h", FileID: 1})
		require.NoError(t, tx.SetEdges(ctx, EdgeCalls, f.ID, []ID{g.ID, h.ID}))
		require.NoError(t, tx.SetEdges(ctx, EdgeCalls, g.ID, []ID{h.ID}))
		require.NoError(t, tx.Delete(ctx, g.ID))
		require.NoError(t, tx.Commit())

		snap := snapshot(t, s)
		got, err := snap.Edges(ctx, EdgeCalls, f.ID)
		require.NoError(t, err)
		assert.Equal(t, []ID{h.ID}, got)

		in, err := snap.InEdges(ctx, EdgeCalls, h.ID)
		require.NoError(t, err)
		assert.Equal(t, []ID{f.ID}, in)

		gone, err := snap.Get(ctx, g.ID)
		require.NoError(t, err)
		assert.Nil(t, gone)
	})

	t.Run("OwnedChildrenAndByName", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tx := begin(t, s)
		file := mustCreate(t, tx, Entity{Kind: KindFile, Name: "a.ts"})
		other := mustCreate(t, tx, Entity{Kind: KindFile, Name: "b.ts"})
		fn := mustCreate(t, tx, Entity{Kind: KindFunction, Name: "f", FileID: file.ID})
		mustCreate(t, tx, Entity{Kind: KindVariable, Name: "top", FileID: file.ID})
		param := mustCreate(t, tx, Entity{Kind: KindVariable, Name: "p", FileID: file.ID, ParentID: fn.ID})
		mustCreate(t, tx, Entity{Kind: KindFunction, Name: "f", FileID: other.ID})
		require.NoError(t, tx.Commit())

		snap := snapshot(t, s)
		vars, err := snap.Owned(ctx, file.ID, KindVariable)
		require.NoError(t, err)
		require.Len(t, vars, 1, "parameters are children of their function, not owned by the file")
		assert.Equal(t, "top", vars[0].Name)

		kids, err := snap.Children(ctx, fn.ID, KindVariable)
		require.NoError(t, err)
		require.Len(t, kids, 1)
		assert.Equal(t, param.ID, kids[0].ID)

		named, err := snap.FindByName(ctx, KindFunction, "f")
		require.NoError(t, err)
		require.Len(t, named, 2)
		assert.Less(t, named[0].ID, named[1].ID)
	})

	t.Run("ListLikeAndLimit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tx := begin(t, s)
		for _, p := range []string{"src/app.ts", "src/util/str.ts", "lib/App.tsx", "README.md"} {
			mustCreate(t, tx, Entity{Kind: KindFile, Name: p})
		}
		mustCreate(t, tx, Entity{Kind: KindFunction, Name: "src/fake", FileID: 1})
		require.NoError(t, tx.Commit())

		snap := snapshot(t, s)
		got, err := snap.List(ctx, ListQuery{Kind: KindFile, NameLike: "src/%"})
		require.NoError(t, err)
		assert.Equal(t, []string{"src/app.ts", "src/util/str.ts"}, names(got))

		got, err = snap.List(ctx, ListQuery{Kind: KindFile, NameLike: "%app.ts_"})
		require.NoError(t, err)
		assert.Equal(t, []string{"lib/App.tsx"}, names(got), "LIKE is case-insensitive")

		got, err = snap.List(ctx, ListQuery{Kind: KindFile, Limit: 2})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = snap.List(ctx, ListQuery{NameLike: "src/%"})
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("Stats", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tx := begin(t, s)
		f := mustCreate(t, tx, Entity{Kind: KindFunction, Name: "f", FileID: 1})
		g := mustCreate(t, tx, Entity{Kind: KindFunction, Name: "g", FileID: 1})
		require.NoError(t, tx.SetEdges(ctx, EdgeCalls, f.ID, []ID{g.ID, f.ID}))
		require.NoError(t, tx.Commit())

		snap := snapshot(t, s)
		stats, err := snap.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Entities[KindFunction])
		assert.Equal(t, 2, stats.Edges[EdgeCalls])
		assert.Equal(t, 2, stats.EntityCount())
		assert.Equal(t, 2, stats.EdgeCount())
	})

	t.Run("RollbackDiscards", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tx := begin(t, s)
		mustCreate(t, tx, Entity{Kind: KindFile, Name: "a.ts"})
		require.NoError(t, tx.Rollback())
		assert.ErrorIs(t, tx.Commit(), ErrTxDone)

		snap := snapshot(t, s)
		got, err := snap.Find(ctx, Key{Kind: KindFile, Name: "a.ts"})
		require.NoError(t, err)
		assert.Nil(t, got)

		// The writer slot is free again.
		tx = begin(t, s)
		require.NoError(t, tx.Rollback())
	})

	t.Run("SnapshotIsolation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		before := snapshot(t, s)

		tx := begin(t, s)
		mustCreate(t, tx, Entity{Kind: KindFile, Name: "a.ts"})

		// A snapshot taken while the writer is open sees the old state and
		// does not wait for the writer.
		during := snapshot(t, s)
		got, err := during.Find(ctx, Key{Kind: KindFile, Name: "a.ts"})
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, tx.Commit())

		got, err = before.Find(ctx, Key{Kind: KindFile, Name: "a.ts"})
		require.NoError(t, err)
		assert.Nil(t, got, "snapshot keeps its view after commit")

		after := snapshot(t, s)
		got, err = after.Find(ctx, Key{Kind: KindFile, Name: "a.ts"})
		require.NoError(t, err)
		assert.NotNil(t, got)
	})

	t.Run("WritersSerialised", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		tx := begin(t, s)

		waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := s.Begin(waitCtx)
		assert.ErrorIs(t, err, ErrStoreUnavailable, "second writer gives up when ctx expires")

		require.NoError(t, tx.Rollback())
	})

	t.Run("ConcurrentWriters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const n = 8
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tx, err := s.Begin(ctx)
				if err != nil {
					errs <- err
					return
				}
				_, err = tx.Create(ctx, Entity{Kind: KindType, Name: "Shared"})
				if errors.Is(err, ErrDuplicateKey) {
					errs <- tx.Rollback()
					return
				}
				if err != nil {
					_ = tx.Rollback()
					errs <- err
					return
				}
				errs <- tx.Commit()
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}

		snap := snapshot(t, s)
		got, err := snap.FindByName(ctx, KindType, "Shared")
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func begin(t *testing.T, s Store) Tx {
	t.Helper()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	return tx
}

func snapshot(t *testing.T, s Store) Snapshot {
	t.Helper()
	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = snap.Close() })
	return snap
}

func mustCreate(t *testing.T, tx Tx, e Entity) Entity {
	t.Helper()
	out, err := tx.Create(context.Background(), e)
	require.NoError(t, err)
	return out
}

func names(list []Entity) []string {
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.Name)
	}
	return out
}
