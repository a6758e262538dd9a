package graph

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// writeOp says what a resolver call did to the store.
type writeOp string

const (
	opNone    writeOp = "none"
	opCreated writeOp = "created"
	opUpdated writeOp = "updated"
	opDeleted writeOp = "deleted"
)

// resolver maps natural keys and references to rows inside one write
// transaction.
//
// pass caches every row read or written during the transaction. committed
// is shared across transactions and only holds Directory and File IDs; it is
// filled after a successful commit and every hit is checked against the row.
type resolver struct {
	tx        Tx
	pass      map[Key]Entity
	committed *lru.Cache[Key, ID]
	pending   map[Key]ID
	onWrite   func(writeOp)
}

func newResolver(tx Tx, committed *lru.Cache[Key, ID], onWrite func(writeOp)) *resolver {
	if onWrite == nil {
		onWrite = func(writeOp) {}
	}
	return &resolver{
		tx:        tx,
		pass:      make(map[Key]Entity),
		committed: committed,
		pending:   make(map[Key]ID),
		onWrite:   onWrite,
	}
}

// publish makes the Directory and File rows of a committed transaction
// visible to later resolvers.
func (r *resolver) publish() {
	if r.committed == nil {
		return
	}
	for k, id := range r.pending {
		r.committed.Add(k, id)
	}
}

func (r *resolver) remember(e Entity) {
	r.pass[e.Key()] = e
	if e.Kind == KindDirectory || e.Kind == KindFile {
		r.pending[e.Key()] = e.ID
	}
}

func (r *resolver) forget(e Entity) {
	delete(r.pass, e.Key())
	delete(r.pending, e.Key())
	if r.committed != nil {
		r.committed.Remove(e.Key())
	}
}

// lookup finds the row carrying key, or nil.
func (r *resolver) lookup(ctx context.Context, key Key) (*Entity, error) {
	if e, ok := r.pass[key]; ok {
		return &e, nil
	}
	if r.committed != nil {
		if id, ok := r.committed.Get(key); ok {
			e, err := r.tx.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if e != nil && e.Key() == key {
				r.pass[key] = *e
				return e, nil
			}
			r.committed.Remove(key)
		}
	}
	e, err := r.tx.Find(ctx, key)
	if err != nil || e == nil {
		return nil, err
	}
	if e.Key() != key {
		return nil, fmt.Errorf("%w: lookup %s %q returned %s %q", ErrResolutionConflict, key.Kind, key.Name, e.Kind, e.Name)
	}
	r.remember(*e)
	return e, nil
}

// resolve finds the row for key or creates it with attrs. A row that
// already exists keeps its attributes.
func (r *resolver) resolve(ctx context.Context, key Key, attrs Attrs) (Entity, error) {
	found, err := r.lookup(ctx, key)
	if err != nil {
		return Entity{}, err
	}
	if found != nil {
		return *found, nil
	}
	created, err := r.tx.Create(ctx, Entity{Kind: key.Kind, Name: key.Name, FileID: key.FileID, ParentID: key.ParentID, Attrs: attrs})
	if errors.Is(err, ErrDuplicateKey) {
		// Another writer got there first; land on its row.
		again, ferr := r.tx.Find(ctx, key)
		if ferr != nil {
			return Entity{}, ferr
		}
		if again == nil || again.Key() != key {
			return Entity{}, fmt.Errorf("%w: %s %q vanished after duplicate key", ErrResolutionConflict, key.Kind, key.Name)
		}
		r.remember(*again)
		return *again, nil
	}
	if err != nil {
		return Entity{}, err
	}
	r.onWrite(opCreated)
	r.remember(created)
	return created, nil
}

// upsert resolves key and overwrites the row's attributes with attrs.
func (r *resolver) upsert(ctx context.Context, key Key, attrs Attrs) (Entity, error) {
	found, err := r.lookup(ctx, key)
	if err != nil {
		return Entity{}, err
	}
	if found == nil {
		return r.resolve(ctx, key, attrs)
	}
	return r.setAttrs(ctx, *found, attrs)
}

func (r *resolver) setAttrs(ctx context.Context, e Entity, attrs Attrs) (Entity, error) {
	if attrsEqual(e.Attrs, attrs) {
		return e, nil
	}
	e.Attrs = attrs
	if err := r.tx.Update(ctx, e); err != nil {
		return Entity{}, err
	}
	r.onWrite(opUpdated)
	r.remember(e)
	return e, nil
}

// declare upserts an entity declared at the top level of fileID. A
// detached placeholder of the same kind and name is adopted: it is re-keyed
// under the file and loses its placeholder flag.
func (r *resolver) declare(ctx context.Context, kind Kind, name string, fileID ID, attrs Attrs) (Entity, error) {
	key := Key{Kind: kind, Name: name, FileID: fileID}
	local, err := r.lookup(ctx, key)
	if err != nil {
		return Entity{}, err
	}
	if local != nil {
		return r.setAttrs(ctx, *local, attrs)
	}

	ph, err := r.lookup(ctx, Key{Kind: kind, Name: name})
	if err != nil {
		return Entity{}, err
	}
	if ph != nil && ph.IsPlaceholder() {
		old := *ph
		adopted := old
		adopted.FileID = fileID
		adopted.Attrs = attrs
		if err := r.tx.Update(ctx, adopted); err != nil {
			return Entity{}, err
		}
		r.onWrite(opUpdated)
		r.forget(old)
		r.remember(adopted)
		return adopted, nil
	}
	return r.resolve(ctx, key, attrs)
}

// ref resolves a reference by name from fileID: the entity declared in the
// file, else the detached placeholder, else the first declaration in any
// other file, else a new placeholder.
func (r *resolver) ref(ctx context.Context, kind Kind, name string, fileID ID) (Entity, error) {
	local, err := r.lookup(ctx, Key{Kind: kind, Name: name, FileID: fileID})
	if err != nil {
		return Entity{}, err
	}
	if local != nil {
		return *local, nil
	}
	ph, err := r.lookup(ctx, Key{Kind: kind, Name: name})
	if err != nil {
		return Entity{}, err
	}
	if ph != nil {
		return *ph, nil
	}
	named, err := r.tx.FindByName(ctx, kind, name)
	if err != nil {
		return Entity{}, err
	}
	for _, e := range named {
		if e.FileID != 0 && e.ParentID == 0 {
			r.remember(e)
			return e, nil
		}
	}
	return r.resolve(ctx, Key{Kind: kind, Name: name}, Attrs{Placeholder: true})
}

// file resolves the Directory and File rows of a normalised path. A File
// created only because something points at it is flagged as a placeholder
// until the file itself is ingested.
func (r *resolver) file(ctx context.Context, p string, placeholder bool) (dir, file Entity, err error) {
	dir, err = r.resolve(ctx, Key{Kind: KindDirectory, Name: path.Dir(p)}, Attrs{})
	if err != nil {
		return Entity{}, Entity{}, err
	}
	key := Key{Kind: KindFile, Name: p, ParentID: dir.ID}
	if placeholder {
		file, err = r.resolve(ctx, key, Attrs{Placeholder: true})
	} else {
		file, err = r.upsert(ctx, key, Attrs{})
	}
	return dir, file, err
}

// deleteStale removes the rows in have whose names are not in keep.
func (r *resolver) deleteStale(ctx context.Context, have []Entity, keep map[string]bool) error {
	for _, e := range have {
		if keep[e.Name] {
			continue
		}
		if err := r.tx.Delete(ctx, e.ID); err != nil {
			return err
		}
		r.onWrite(opDeleted)
		r.forget(e)
	}
	return nil
}

func attrsEqual(a, b Attrs) bool {
	return a.Definition == b.Definition &&
		slices.Equal(a.Names, b.Names) &&
		a.DefaultImport == b.DefaultImport &&
		a.Props == b.Props &&
		slices.Equal(a.GenericTypes, b.GenericTypes) &&
		a.Position == b.Position &&
		a.Placeholder == b.Placeholder
}
