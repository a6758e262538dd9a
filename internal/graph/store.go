package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Reader is the read side shared by transactions and snapshots.
//
// Lookups of a single entity return nil, nil when it does not exist.
// Multi-row lookups are ordered by ID.
type Reader interface {
	Get(ctx context.Context, id ID) (*Entity, error)
	Find(ctx context.Context, key Key) (*Entity, error)
	FindByName(ctx context.Context, kind Kind, name string) ([]Entity, error)

	// Owned returns the entities of kind owned directly by a file
	// (FileID match, ParentID zero).
	Owned(ctx context.Context, fileID ID, kind Kind) ([]Entity, error)
	// Children returns the entities of kind whose ParentID is parentID.
	Children(ctx context.Context, parentID ID, kind Kind) ([]Entity, error)

	// Edges returns the targets of source in edge table kind, by position.
	Edges(ctx context.Context, kind EdgeKind, source ID) ([]ID, error)
	// InEdges returns the sources pointing at target in edge table kind.
	InEdges(ctx context.Context, kind EdgeKind, target ID) ([]ID, error)

	List(ctx context.Context, q ListQuery) ([]Entity, error)
	Stats(ctx context.Context) (*GraphStats, error)
}

// Tx is a write transaction. A store runs one write transaction at a time.
type Tx interface {
	Reader

	// Create inserts e and returns it with its assigned ID.
	// It fails with ErrDuplicateKey when e's natural key is taken.
	Create(ctx context.Context, e Entity) (Entity, error)
	// Update overwrites the row e.ID, including its natural key.
	Update(ctx context.Context, e Entity) error
	// Delete removes the row and every edge touching it.
	Delete(ctx context.Context, id ID) error
	// SetEdges replaces the targets of source in edge table kind.
	SetEdges(ctx context.Context, kind EdgeKind, source ID, targets []ID) error

	Commit() error
	Rollback() error
}

// Snapshot is a consistent read view of the last committed state.
type Snapshot interface {
	Reader
	Close() error
}

// Store is the code knowledge graph backend.
// Implementations: SQLiteStore (default), KuzuStore, MemStore (testing).
// All graph access goes through this interface.
type Store interface {
	io.Closer

	// Schema setup — called once before any data is inserted.
	InitSchema(ctx context.Context) error

	// Begin starts a write transaction, waiting for the writer slot until
	// ctx is done.
	Begin(ctx context.Context) (Tx, error)
	// Snapshot opens a read view. It never blocks writers.
	Snapshot(ctx context.Context) (Snapshot, error)
}

// validateEntity checks the parts of e every backend requires.
func validateEntity(e Entity) error {
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Name == "" {
		return fmt.Errorf("%s: empty name", e.Kind)
	}
	return nil
}

// checkEdges validates a SetEdges call against the edge registry and returns
// the targets with duplicates removed, first occurrence kept.
func checkEdges(ctx context.Context, r Reader, kind EdgeKind, source ID, targets []ID) ([]ID, error) {
	spec, ok := LookupEdge(kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown edge table %q", ErrInvalidEdge, kind)
	}
	src, err := r.Get(ctx, source)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: %s source %d", ErrNotFound, kind, source)
	}
	if src.Kind != spec.From {
		return nil, fmt.Errorf("%w: %s source %d is a %s, want %s", ErrInvalidEdge, kind, source, src.Kind, spec.From)
	}
	out := dedupeIDs(targets)
	if spec.Single && len(out) > 1 {
		return nil, fmt.Errorf("%w: %s allows one target, got %d", ErrInvalidEdge, kind, len(out))
	}
	for _, id := range out {
		dst, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if dst == nil {
			return nil, fmt.Errorf("%w: %s target %d", ErrNotFound, kind, id)
		}
		if dst.Kind != spec.To {
			return nil, fmt.Errorf("%w: %s target %d is a %s, want %s", ErrInvalidEdge, kind, id, dst.Kind, spec.To)
		}
	}
	return out, nil
}

func dedupeIDs(ids []ID) []ID {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[ID]bool, len(ids))
	out := make([]ID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// likeRegexp compiles a SQL LIKE pattern into an anchored, case-insensitive
// regular expression.
func likeRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

func newStats() *GraphStats {
	return &GraphStats{Entities: make(map[Kind]int), Edges: make(map[EdgeKind]int)}
}

func encodeAttrs(a Attrs) (string, error) {
	if a.IsZero() {
		return "{}", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode attrs: %w", err)
	}
	return string(b), nil
}

func decodeAttrs(s string) (Attrs, error) {
	var a Attrs
	if s == "" {
		return a, nil
	}
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return a, fmt.Errorf("decode attrs: %w", err)
	}
	return a, nil
}
