package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kuzu "github.com/kuzudb/go-kuzu"
)

// KuzuStore implements the Store interface using KuzuDB as the graph backend.
// It requires CGO because the go-kuzu driver wraps KuzuDB's C library.
//
// Write transactions run on one shared connection, one at a time. Each
// snapshot opens its own connection with a read-only transaction.
type KuzuStore struct {
	db   *kuzu.Database
	conn *kuzu.Connection
	sem  chan struct{}
}

// Compile-time check that KuzuStore satisfies Store.
var _ Store = (*KuzuStore)(nil)

// NewKuzuStore creates a KuzuStore backed by an in-memory KuzuDB instance.
func NewKuzuStore() (*KuzuStore, error) {
	return openKuzu(":memory:")
}

// NewKuzuFileStore creates a KuzuStore backed by a file-based KuzuDB at the
// given directory path. KuzuDB creates the directory itself for new databases.
func NewKuzuFileStore(dbPath string) (*KuzuStore, error) {
	// Ensure parent directory exists (KuzuDB creates the leaf directory).
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("kuzu: create parent directory: %w", err)
	}
	return openKuzu(dbPath)
}

func openKuzu(dbPath string) (*KuzuStore, error) {
	cfg := kuzu.DefaultSystemConfig()
	db, err := kuzu.OpenDatabase(dbPath, cfg)
	if err != nil {
		return nil, unavailable("kuzu: open database", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, unavailable("kuzu: open connection", err)
	}
	return &KuzuStore{db: db, conn: conn, sem: make(chan struct{}, 1)}, nil
}

// Close releases the KuzuDB connection and database.
func (s *KuzuStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// ---------- Schema setup ----------

// ddlStatements defines the Cypher DDL executed by InitSchema.
// Order matters: node tables must precede relationship tables.
var ddlStatements = []string{
	`CREATE NODE TABLE IF NOT EXISTS Entity(
		id INT64,
		kind STRING,
		name STRING,
		file_id INT64,
		parent_id INT64,
		attrs STRING,
		PRIMARY KEY(id)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS Sequence(name STRING, value INT64, PRIMARY KEY(name))`,
	`CREATE REL TABLE IF NOT EXISTS EDGE(FROM Entity TO Entity, kind STRING, position INT64)`,
}

// InitSchema creates the node and relationship tables if they do not exist.
func (s *KuzuStore) InitSchema(_ context.Context) error {
	for _, stmt := range ddlStatements {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return fmt.Errorf("kuzu: init schema: %w", err)
		}
		res.Close()
	}
	return nil
}

// Begin waits for the writer slot and opens a write transaction.
func (s *KuzuStore) Begin(ctx context.Context) (Tx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, unavailable("kuzu: begin", ctx.Err())
	}
	c := kuzuConn{conn: s.conn}
	if err := c.control("BEGIN TRANSACTION"); err != nil {
		<-s.sem
		return nil, err
	}
	return &kuzuTx{kuzuConn: c, release: func() { <-s.sem }}, nil
}

// Snapshot opens a dedicated connection holding a read-only transaction.
func (s *KuzuStore) Snapshot(_ context.Context) (Snapshot, error) {
	conn, err := kuzu.OpenConnection(s.db)
	if err != nil {
		return nil, unavailable("kuzu: open connection", err)
	}
	c := kuzuConn{conn: conn}
	if err := c.control("BEGIN TRANSACTION READ ONLY"); err != nil {
		conn.Close()
		return nil, err
	}
	return &kuzuSnapshot{kuzuConn: c}, nil
}

// ---------- Transactions ----------

type kuzuTx struct {
	kuzuConn
	release func()
	done    bool
}

func (t *kuzuTx) Create(ctx context.Context, e Entity) (Entity, error) {
	if t.done {
		return Entity{}, ErrTxDone
	}
	if err := validateEntity(e); err != nil {
		return Entity{}, err
	}
	if err := t.checkKeyFree(ctx, e.Key(), 0); err != nil {
		return Entity{}, err
	}
	attrs, err := encodeAttrs(e.Attrs)
	if err != nil {
		return Entity{}, err
	}
	id, err := t.nextID()
	if err != nil {
		return Entity{}, err
	}
	err = t.exec(
		`CREATE (e:Entity {id: $id, kind: $kind, name: $name, file_id: $file, parent_id: $parent, attrs: $attrs})`,
		map[string]any{
			"id":     id,
			"kind":   string(e.Kind),
			"name":   e.Name,
			"file":   int64(e.FileID),
			"parent": int64(e.ParentID),
			"attrs":  attrs,
		},
	)
	if err != nil {
		return Entity{}, err
	}
	e.ID = ID(id)
	return e, nil
}

// nextID draws the next entity ID from a counter row. IDs start at 1 and
// are never reused, so zero stays free to mean "no owner".
func (t *kuzuTx) nextID() (int64, error) {
	rows, err := t.query(
		`MERGE (s:Sequence {name: 'entity'})
		 ON CREATE SET s.value = 1
		 ON MATCH SET s.value = s.value + 1
		 RETURN s.value`,
		nil,
	)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, errors.New("kuzu: next id: no value returned")
	}
	return toInt64(rows[0][0]), nil
}

func (t *kuzuTx) Update(ctx context.Context, e Entity) error {
	if t.done {
		return ErrTxDone
	}
	if err := validateEntity(e); err != nil {
		return err
	}
	old, err := t.Get(ctx, e.ID)
	if err != nil {
		return err
	}
	if old == nil {
		return fmt.Errorf("%w: id %d", ErrNotFound, e.ID)
	}
	if old.Key() != e.Key() {
		if err := t.checkKeyFree(ctx, e.Key(), e.ID); err != nil {
			return err
		}
	}
	attrs, err := encodeAttrs(e.Attrs)
	if err != nil {
		return err
	}
	return t.exec(
		`MATCH (e:Entity) WHERE e.id = $id
		 SET e.kind = $kind, e.name = $name, e.file_id = $file, e.parent_id = $parent, e.attrs = $attrs`,
		map[string]any{
			"id":     int64(e.ID),
			"kind":   string(e.Kind),
			"name":   e.Name,
			"file":   int64(e.FileID),
			"parent": int64(e.ParentID),
			"attrs":  attrs,
		},
	)
}

// checkKeyFree fails with ErrDuplicateKey when key belongs to a row other
// than self. Writers are serialised, so the check cannot race.
func (t *kuzuTx) checkKeyFree(ctx context.Context, key Key, self ID) error {
	other, err := t.Find(ctx, key)
	if err != nil {
		return err
	}
	if other != nil && other.ID != self {
		return fmt.Errorf("%w: %s %q (id %d)", ErrDuplicateKey, key.Kind, key.Name, other.ID)
	}
	return nil
}

func (t *kuzuTx) Delete(_ context.Context, id ID) error {
	if t.done {
		return ErrTxDone
	}
	return t.exec("MATCH (e:Entity) WHERE e.id = $id DETACH DELETE e", map[string]any{"id": int64(id)})
}

func (t *kuzuTx) SetEdges(ctx context.Context, kind EdgeKind, source ID, targets []ID) error {
	if t.done {
		return ErrTxDone
	}
	ids, err := checkEdges(ctx, t, kind, source, targets)
	if err != nil {
		return err
	}
	err = t.exec(
		"MATCH (a:Entity)-[r:EDGE]->(:Entity) WHERE a.id = $src AND r.kind = $kind DELETE r",
		map[string]any{"src": int64(source), "kind": string(kind)},
	)
	if err != nil {
		return err
	}
	for pos, id := range ids {
		err := t.exec(
			`MATCH (a:Entity), (b:Entity) WHERE a.id = $src AND b.id = $dst
			 CREATE (a)-[:EDGE {kind: $kind, position: $pos}]->(b)`,
			map[string]any{
				"src":  int64(source),
				"dst":  int64(id),
				"kind": string(kind),
				"pos":  int64(pos),
			},
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *kuzuTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	defer t.release()
	return t.control("COMMIT")
}

func (t *kuzuTx) Rollback() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	defer t.release()
	return t.control("ROLLBACK")
}

type kuzuSnapshot struct {
	kuzuConn
}

func (s *kuzuSnapshot) Close() error {
	err := s.control("COMMIT")
	s.conn.Close()
	return err
}

// ---------- Read operations ----------

// kuzuConn implements Reader over one connection.
type kuzuConn struct {
	conn *kuzu.Connection
}

const entityColumns = "e.id, e.kind, e.name, e.file_id, e.parent_id, e.attrs"

func (c kuzuConn) Get(_ context.Context, id ID) (*Entity, error) {
	return c.one("MATCH (e:Entity) WHERE e.id = $id RETURN "+entityColumns, map[string]any{"id": int64(id)})
}

func (c kuzuConn) Find(_ context.Context, key Key) (*Entity, error) {
	return c.one(
		`MATCH (e:Entity)
		 WHERE e.kind = $kind AND e.name = $name AND e.file_id = $file AND e.parent_id = $parent
		 RETURN `+entityColumns,
		map[string]any{
			"kind":   string(key.Kind),
			"name":   key.Name,
			"file":   int64(key.FileID),
			"parent": int64(key.ParentID),
		},
	)
}

func (c kuzuConn) FindByName(_ context.Context, kind Kind, name string) ([]Entity, error) {
	return c.many(
		"MATCH (e:Entity) WHERE e.kind = $kind AND e.name = $name RETURN "+entityColumns+" ORDER BY e.id",
		map[string]any{"kind": string(kind), "name": name},
	)
}

func (c kuzuConn) Owned(_ context.Context, fileID ID, kind Kind) ([]Entity, error) {
	return c.many(
		`MATCH (e:Entity) WHERE e.kind = $kind AND e.file_id = $file AND e.parent_id = 0
		 RETURN `+entityColumns+" ORDER BY e.id",
		map[string]any{"kind": string(kind), "file": int64(fileID)},
	)
}

func (c kuzuConn) Children(_ context.Context, parentID ID, kind Kind) ([]Entity, error) {
	return c.many(
		"MATCH (e:Entity) WHERE e.kind = $kind AND e.parent_id = $parent RETURN "+entityColumns+" ORDER BY e.id",
		map[string]any{"kind": string(kind), "parent": int64(parentID)},
	)
}

func (c kuzuConn) Edges(_ context.Context, kind EdgeKind, source ID) ([]ID, error) {
	return c.ids(
		`MATCH (a:Entity)-[r:EDGE]->(b:Entity) WHERE a.id = $src AND r.kind = $kind
		 RETURN b.id ORDER BY r.position`,
		map[string]any{"src": int64(source), "kind": string(kind)},
	)
}

func (c kuzuConn) InEdges(_ context.Context, kind EdgeKind, target ID) ([]ID, error) {
	return c.ids(
		`MATCH (a:Entity)-[r:EDGE]->(b:Entity) WHERE b.id = $dst AND r.kind = $kind
		 RETURN a.id ORDER BY a.id`,
		map[string]any{"dst": int64(target), "kind": string(kind)},
	)
}

func (c kuzuConn) List(_ context.Context, q ListQuery) ([]Entity, error) {
	cypher := "MATCH (e:Entity) WHERE ($kind = '' OR e.kind = $kind)"
	params := map[string]any{"kind": string(q.Kind)}
	if q.NameLike != "" {
		cypher += " AND e.name =~ $re"
		params["re"] = likeRegexp(q.NameLike).String()
	}
	cypher += " RETURN " + entityColumns + " ORDER BY e.id"
	if q.Limit > 0 {
		cypher += " LIMIT $lim"
		params["lim"] = int64(q.Limit)
	}
	return c.many(cypher, params)
}

// Stats returns entity counts per kind and edge counts per table.
func (c kuzuConn) Stats(_ context.Context) (*GraphStats, error) {
	stats := newStats()
	rows, err := c.query("MATCH (e:Entity) RETURN e.kind, count(e)", nil)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		stats.Entities[Kind(toString(r[0]))] = int(toInt64(r[1]))
	}
	rows, err = c.query("MATCH ()-[r:EDGE]->() RETURN r.kind, count(r)", nil)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		stats.Edges[EdgeKind(toString(r[0]))] = int(toInt64(r[1]))
	}
	return stats, nil
}

// ---------- Internal helpers ----------

func (c kuzuConn) one(cypher string, params map[string]any) (*Entity, error) {
	list, err := c.many(cypher, params)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (c kuzuConn) many(cypher string, params map[string]any) ([]Entity, error) {
	rows, err := c.query(cypher, params)
	if err != nil {
		return nil, err
	}
	out := make([]Entity, 0, len(rows))
	for _, r := range rows {
		e, err := rowToEntity(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (c kuzuConn) ids(cypher string, params map[string]any) ([]ID, error) {
	rows, err := c.query(cypher, params)
	if err != nil {
		return nil, err
	}
	out := make([]ID, 0, len(rows))
	for _, r := range rows {
		out = append(out, ID(toInt64(r[0])))
	}
	return out, nil
}

// exec runs a parameterized Cypher statement that produces no result rows.
func (c kuzuConn) exec(cypher string, params map[string]any) error {
	_, err := c.query(cypher, params)
	return err
}

// control runs a transaction statement. Its failures mean the database cannot
// take the transaction right now and are reported as ErrStoreUnavailable.
func (c kuzuConn) control(stmt string) error {
	if _, err := c.query(stmt, nil); err != nil {
		return unavailable("kuzu: "+strings.ToLower(stmt), err)
	}
	return nil
}

// query runs a parameterized Cypher statement and collects all result rows.
// Each row is a []any slice with values in column order. Statement errors are
// returned as is; they repeat on retry.
func (c kuzuConn) query(cypher string, params map[string]any) ([][]any, error) {
	var res *kuzu.QueryResult
	var err error

	if len(params) == 0 {
		res, err = c.conn.Query(cypher)
	} else {
		var stmt *kuzu.PreparedStatement
		stmt, err = c.conn.Prepare(cypher)
		if err != nil {
			return nil, fmt.Errorf("kuzu: prepare: %w", err)
		}
		defer stmt.Close()
		res, err = c.conn.Execute(stmt, params)
	}
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

// rowToEntity converts a result row in entityColumns order.
func rowToEntity(r []any) (Entity, error) {
	attrs, err := decodeAttrs(toString(r[5]))
	if err != nil {
		return Entity{}, err
	}
	return Entity{
		ID:       ID(toInt64(r[0])),
		Kind:     Kind(toString(r[1])),
		Name:     toString(r[2]),
		FileID:   ID(toInt64(r[3])),
		ParentID: ID(toInt64(r[4])),
		Attrs:    attrs,
	}, nil
}

// ---------- Type coercion helpers ----------
// KuzuDB returns typed Go values (int64, uint64, string).
// These helpers safely coerce any -> concrete type.

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
