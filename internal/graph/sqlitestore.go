package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// Compile-time check that SQLiteStore satisfies Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store on a SQLite database in WAL mode.
//
// Writes go through a single connection that opens every transaction with
// BEGIN IMMEDIATE, so write transactions are serialised by the pool itself.
// Snapshots use a separate pool of deferred read transactions, which WAL
// lets proceed while a writer is active.
type SQLiteStore struct {
	db *sql.DB
	ro *sql.DB
}

// NewSQLiteStore opens (or creates) the database file at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create parent directory: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, unavailable("sqlite: open", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, unavailable("sqlite: ping", err)
	}
	ro, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=deferred")
	if err != nil {
		_ = db.Close()
		return nil, unavailable("sqlite: open reader", err)
	}
	return &SQLiteStore{db: db, ro: ro}, nil
}

// Close closes both connection pools.
func (s *SQLiteStore) Close() error {
	return errors.Join(s.ro.Close(), s.db.Close())
}

const sqliteDDL = `
CREATE TABLE IF NOT EXISTS entities (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	kind      TEXT NOT NULL,
	name      TEXT NOT NULL,
	file_id   INTEGER NOT NULL DEFAULT 0,
	parent_id INTEGER NOT NULL DEFAULT 0,
	attrs     TEXT NOT NULL DEFAULT '{}',
	UNIQUE(kind, name, file_id, parent_id)
);

CREATE INDEX IF NOT EXISTS idx_entities_file ON entities(file_id, kind);
CREATE INDEX IF NOT EXISTS idx_entities_parent ON entities(parent_id, kind);
CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(kind, name);

CREATE TABLE IF NOT EXISTS edges (
	kind      TEXT NOT NULL,
	source_id INTEGER NOT NULL,
	position  INTEGER NOT NULL,
	target_id INTEGER NOT NULL,
	PRIMARY KEY(kind, source_id, position),
	UNIQUE(kind, source_id, target_id)
);

CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(kind, target_id);
`

// InitSchema creates the tables and indexes if they do not exist.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteDDL); err != nil {
		return sqliteErr("init schema", err)
	}
	return nil
}

// Begin opens a BEGIN IMMEDIATE transaction on the writer connection. It
// waits for the connection until ctx is done.
func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("sqlite: begin", err)
	}
	return &sqliteTx{sqlReader: sqlReader{q: tx}, tx: tx}, nil
}

// Snapshot opens a read-only transaction on the reader pool.
func (s *SQLiteStore) Snapshot(ctx context.Context) (Snapshot, error) {
	tx, err := s.ro.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, unavailable("sqlite: snapshot", err)
	}
	// A deferred transaction takes its read mark on the first read.
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master`).Scan(&n); err != nil {
		_ = tx.Rollback()
		return nil, sqliteErr("snapshot", err)
	}
	return &sqliteSnapshot{sqlReader: sqlReader{q: tx}, tx: tx}, nil
}

// ---------- Transactions ----------

type sqliteTx struct {
	sqlReader
	tx *sql.Tx
}

func (t *sqliteTx) Create(ctx context.Context, e Entity) (Entity, error) {
	if err := validateEntity(e); err != nil {
		return Entity{}, err
	}
	attrs, err := encodeAttrs(e.Attrs)
	if err != nil {
		return Entity{}, err
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO entities (kind, name, file_id, parent_id, attrs) VALUES (?, ?, ?, ?, ?)`,
		string(e.Kind), e.Name, int64(e.FileID), int64(e.ParentID), attrs)
	if err != nil {
		return Entity{}, sqliteErr(fmt.Sprintf("create %s %q", e.Kind, e.Name), err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Entity{}, sqliteErr("last insert id", err)
	}
	e.ID = ID(id)
	return e, nil
}

func (t *sqliteTx) Update(ctx context.Context, e Entity) error {
	if err := validateEntity(e); err != nil {
		return err
	}
	attrs, err := encodeAttrs(e.Attrs)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE entities SET kind = ?, name = ?, file_id = ?, parent_id = ?, attrs = ? WHERE id = ?`,
		string(e.Kind), e.Name, int64(e.FileID), int64(e.ParentID), attrs, int64(e.ID))
	if err != nil {
		return sqliteErr(fmt.Sprintf("update %d", e.ID), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, e.ID)
	}
	return nil
}

func (t *sqliteTx) Delete(ctx context.Context, id ID) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM edges WHERE source_id = ? OR target_id = ?`, int64(id), int64(id)); err != nil {
		return sqliteErr("delete edges", err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, int64(id)); err != nil {
		return sqliteErr("delete entity", err)
	}
	return nil
}

func (t *sqliteTx) SetEdges(ctx context.Context, kind EdgeKind, source ID, targets []ID) error {
	ids, err := checkEdges(ctx, t, kind, source, targets)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM edges WHERE kind = ? AND source_id = ?`, string(kind), int64(source)); err != nil {
		return sqliteErr("clear edges", err)
	}
	for pos, id := range ids {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO edges (kind, source_id, position, target_id) VALUES (?, ?, ?, ?)`,
			string(kind), int64(source), pos, int64(id))
		if err != nil {
			return sqliteErr("insert edge", err)
		}
	}
	return nil
}

func (t *sqliteTx) Commit() error {
	return sqliteErr("commit", t.tx.Commit())
}

func (t *sqliteTx) Rollback() error {
	return sqliteErr("rollback", t.tx.Rollback())
}

type sqliteSnapshot struct {
	sqlReader
	tx *sql.Tx
}

func (s *sqliteSnapshot) Close() error {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return sqliteErr("close snapshot", err)
	}
	return nil
}

// ---------- Read operations ----------

// sqlReader implements Reader over one *sql.Tx.
type sqlReader struct {
	q *sql.Tx
}

const entitySelect = `SELECT id, kind, name, file_id, parent_id, attrs FROM entities`

func (r sqlReader) Get(ctx context.Context, id ID) (*Entity, error) {
	return r.one(ctx, entitySelect+` WHERE id = ?`, int64(id))
}

func (r sqlReader) Find(ctx context.Context, key Key) (*Entity, error) {
	return r.one(ctx, entitySelect+` WHERE kind = ? AND name = ? AND file_id = ? AND parent_id = ?`,
		string(key.Kind), key.Name, int64(key.FileID), int64(key.ParentID))
}

func (r sqlReader) FindByName(ctx context.Context, kind Kind, name string) ([]Entity, error) {
	return r.many(ctx, entitySelect+` WHERE kind = ? AND name = ? ORDER BY id`, string(kind), name)
}

func (r sqlReader) Owned(ctx context.Context, fileID ID, kind Kind) ([]Entity, error) {
	return r.many(ctx, entitySelect+` WHERE file_id = ? AND kind = ? AND parent_id = 0 ORDER BY id`,
		int64(fileID), string(kind))
}

func (r sqlReader) Children(ctx context.Context, parentID ID, kind Kind) ([]Entity, error) {
	return r.many(ctx, entitySelect+` WHERE parent_id = ? AND kind = ? ORDER BY id`, int64(parentID), string(kind))
}

func (r sqlReader) Edges(ctx context.Context, kind EdgeKind, source ID) ([]ID, error) {
	return r.ids(ctx, `SELECT target_id FROM edges WHERE kind = ? AND source_id = ? ORDER BY position`,
		string(kind), int64(source))
}

func (r sqlReader) InEdges(ctx context.Context, kind EdgeKind, target ID) ([]ID, error) {
	return r.ids(ctx, `SELECT source_id FROM edges WHERE kind = ? AND target_id = ? ORDER BY source_id`,
		string(kind), int64(target))
}

func (r sqlReader) List(ctx context.Context, q ListQuery) ([]Entity, error) {
	var where []string
	var args []any
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.NameLike != "" {
		where = append(where, "name LIKE ?")
		args = append(args, q.NameLike)
	}
	stmt := entitySelect
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY id"
	if q.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, q.Limit)
	}
	return r.many(ctx, stmt, args...)
}

func (r sqlReader) Stats(ctx context.Context) (*GraphStats, error) {
	stats := newStats()
	if err := r.counts(ctx, `SELECT kind, count(*) FROM entities GROUP BY kind`, func(k string, n int) {
		stats.Entities[Kind(k)] = n
	}); err != nil {
		return nil, err
	}
	if err := r.counts(ctx, `SELECT kind, count(*) FROM edges GROUP BY kind`, func(k string, n int) {
		stats.Edges[EdgeKind(k)] = n
	}); err != nil {
		return nil, err
	}
	return stats, nil
}

// ---------- Internal helpers ----------

func (r sqlReader) one(ctx context.Context, stmt string, args ...any) (*Entity, error) {
	list, err := r.many(ctx, stmt, args...)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (r sqlReader) many(ctx context.Context, stmt string, args ...any) ([]Entity, error) {
	rows, err := r.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, sqliteErr("query entities", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entity
	for rows.Next() {
		var (
			e                    Entity
			id, fileID, parentID int64
			kind, attrs          string
		)
		if err := rows.Scan(&id, &kind, &e.Name, &fileID, &parentID, &attrs); err != nil {
			return nil, sqliteErr("scan entity", err)
		}
		e.ID, e.Kind, e.FileID, e.ParentID = ID(id), Kind(kind), ID(fileID), ID(parentID)
		if e.Attrs, err = decodeAttrs(attrs); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, sqliteErr("iterate entities", err)
	}
	return out, nil
}

func (r sqlReader) ids(ctx context.Context, stmt string, args ...any) ([]ID, error) {
	rows, err := r.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, sqliteErr("query edges", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, sqliteErr("scan edge", err)
		}
		out = append(out, ID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, sqliteErr("iterate edges", err)
	}
	return out, nil
}

func (r sqlReader) counts(ctx context.Context, stmt string, add func(string, int)) error {
	rows, err := r.q.QueryContext(ctx, stmt)
	if err != nil {
		return sqliteErr("count", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return sqliteErr("scan count", err)
		}
		add(kind, n)
	}
	return sqliteErr("iterate counts", rows.Err())
}

// sqliteErr maps driver errors onto the package sentinels.
func sqliteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrTxDone) {
		return ErrTxDone
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch {
		case se.ExtendedCode == sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%w: sqlite: %s", ErrDuplicateKey, op)
		case se.Code == sqlite3.ErrBusy, se.Code == sqlite3.ErrLocked, se.Code == sqlite3.ErrIoErr,
			se.Code == sqlite3.ErrFull, se.Code == sqlite3.ErrCantOpen, se.Code == sqlite3.ErrReadonly:
			return unavailable("sqlite: "+op, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return unavailable("sqlite: "+op, err)
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}
