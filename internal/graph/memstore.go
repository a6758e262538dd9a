package graph

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"
)

// Compile-time assertion: *MemStore satisfies Store.
var _ Store = (*MemStore)(nil)

// MemStore implements Store using Go maps.
//
// Committed state is immutable and published through an atomic pointer, so
// snapshots never wait. A write transaction works on a private copy and
// holds the single writer slot until it commits or rolls back.
type MemStore struct {
	state  atomic.Pointer[memState]
	sem    chan struct{}
	closed atomic.Bool
}

type edgeKey struct {
	kind   EdgeKind
	source ID
}

// memState is one version of the graph. Edge slices are never mutated in
// place; SetEdges stores a fresh slice.
type memState struct {
	nextID   ID
	entities map[ID]Entity
	keys     map[Key]ID
	edges    map[edgeKey][]ID
}

// NewMemStore returns an initialized MemStore ready for use.
func NewMemStore() *MemStore {
	m := &MemStore{sem: make(chan struct{}, 1)}
	m.state.Store(&memState{
		nextID:   1,
		entities: make(map[ID]Entity),
		keys:     make(map[Key]ID),
		edges:    make(map[edgeKey][]ID),
	})
	return m
}

func (s *memState) clone() *memState {
	return &memState{
		nextID:   s.nextID,
		entities: maps.Clone(s.entities),
		keys:     maps.Clone(s.keys),
		edges:    maps.Clone(s.edges),
	}
}

// InitSchema is a no-op for the in-memory store.
func (m *MemStore) InitSchema(_ context.Context) error {
	return nil
}

// Begin waits for the writer slot and starts a transaction on a copy of the
// committed state.
func (m *MemStore) Begin(ctx context.Context) (Tx, error) {
	if m.closed.Load() {
		return nil, unavailable("begin", errors.New("store closed"))
	}
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, unavailable("begin", ctx.Err())
	}
	return &memTx{memReader: memReader{st: m.state.Load().clone()}, store: m}, nil
}

// Snapshot returns a view of the last committed state.
func (m *MemStore) Snapshot(_ context.Context) (Snapshot, error) {
	if m.closed.Load() {
		return nil, unavailable("snapshot", errors.New("store closed"))
	}
	return &memSnapshot{memReader{st: m.state.Load()}}, nil
}

// Close marks the store closed. Open snapshots stay readable.
func (m *MemStore) Close() error {
	m.closed.Store(true)
	return nil
}

// --- read side ---

type memReader struct {
	st *memState
}

func (r memReader) Get(_ context.Context, id ID) (*Entity, error) {
	e, ok := r.st.entities[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r memReader) Find(_ context.Context, key Key) (*Entity, error) {
	id, ok := r.st.keys[key]
	if !ok {
		return nil, nil
	}
	e := r.st.entities[id]
	return &e, nil
}

func (r memReader) FindByName(_ context.Context, kind Kind, name string) ([]Entity, error) {
	return r.filter(func(e Entity) bool { return e.Kind == kind && e.Name == name }), nil
}

func (r memReader) Owned(_ context.Context, fileID ID, kind Kind) ([]Entity, error) {
	return r.filter(func(e Entity) bool {
		return e.Kind == kind && e.FileID == fileID && e.ParentID == 0
	}), nil
}

func (r memReader) Children(_ context.Context, parentID ID, kind Kind) ([]Entity, error) {
	return r.filter(func(e Entity) bool { return e.Kind == kind && e.ParentID == parentID }), nil
}

func (r memReader) Edges(_ context.Context, kind EdgeKind, source ID) ([]ID, error) {
	return slices.Clone(r.st.edges[edgeKey{kind, source}]), nil
}

func (r memReader) InEdges(_ context.Context, kind EdgeKind, target ID) ([]ID, error) {
	var out []ID
	for k, targets := range r.st.edges {
		if k.kind == kind && slices.Contains(targets, target) {
			out = append(out, k.source)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (r memReader) List(_ context.Context, q ListQuery) ([]Entity, error) {
	match := func(Entity) bool { return true }
	if q.NameLike != "" {
		re := likeRegexp(q.NameLike)
		match = func(e Entity) bool { return re.MatchString(e.Name) }
	}
	out := r.filter(func(e Entity) bool {
		return (q.Kind == "" || e.Kind == q.Kind) && match(e)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r memReader) Stats(_ context.Context) (*GraphStats, error) {
	stats := newStats()
	for _, e := range r.st.entities {
		stats.Entities[e.Kind]++
	}
	for k, targets := range r.st.edges {
		stats.Edges[k.kind] += len(targets)
	}
	return stats, nil
}

// filter returns matching entities ordered by ID.
func (r memReader) filter(keep func(Entity) bool) []Entity {
	var out []Entity
	for _, e := range r.st.entities {
		if keep(e) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b Entity) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

type memSnapshot struct {
	memReader
}

func (memSnapshot) Close() error { return nil }

// --- write side ---

type memTx struct {
	memReader
	store *MemStore
	done  bool
}

func (t *memTx) Create(_ context.Context, e Entity) (Entity, error) {
	if t.done {
		return Entity{}, ErrTxDone
	}
	if err := validateEntity(e); err != nil {
		return Entity{}, err
	}
	if id, ok := t.st.keys[e.Key()]; ok {
		return Entity{}, fmt.Errorf("%w: %s %q (id %d)", ErrDuplicateKey, e.Kind, e.Name, id)
	}
	e.ID = t.st.nextID
	t.st.nextID++
	t.st.entities[e.ID] = e
	t.st.keys[e.Key()] = e.ID
	return e, nil
}

func (t *memTx) Update(_ context.Context, e Entity) error {
	if t.done {
		return ErrTxDone
	}
	if err := validateEntity(e); err != nil {
		return err
	}
	old, ok := t.st.entities[e.ID]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, e.ID)
	}
	if old.Key() != e.Key() {
		if id, taken := t.st.keys[e.Key()]; taken {
			return fmt.Errorf("%w: %s %q (id %d)", ErrDuplicateKey, e.Kind, e.Name, id)
		}
		delete(t.st.keys, old.Key())
		t.st.keys[e.Key()] = e.ID
	}
	t.st.entities[e.ID] = e
	return nil
}

func (t *memTx) Delete(_ context.Context, id ID) error {
	if t.done {
		return ErrTxDone
	}
	e, ok := t.st.entities[id]
	if !ok {
		return nil
	}
	delete(t.st.entities, id)
	delete(t.st.keys, e.Key())
	for k, targets := range t.st.edges {
		if k.source == id {
			delete(t.st.edges, k)
			continue
		}
		if slices.Contains(targets, id) {
			t.st.edges[k] = slices.DeleteFunc(slices.Clone(targets), func(x ID) bool { return x == id })
		}
	}
	return nil
}

func (t *memTx) SetEdges(ctx context.Context, kind EdgeKind, source ID, targets []ID) error {
	if t.done {
		return ErrTxDone
	}
	ids, err := checkEdges(ctx, t, kind, source, targets)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		delete(t.st.edges, edgeKey{kind, source})
		return nil
	}
	t.st.edges[edgeKey{kind, source}] = ids
	return nil
}

// Commit publishes the transaction's state and releases the writer slot.
func (t *memTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.store.state.Store(t.st)
	<-t.store.sem
	return nil
}

// Rollback discards the transaction's state. Rolling back a finished
// transaction is a no-op returning ErrTxDone.
func (t *memTx) Rollback() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	<-t.store.sem
	return nil
}
