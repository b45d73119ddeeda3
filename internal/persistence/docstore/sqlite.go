package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db       *sql.DB
	compress bool
	closed   atomic.Bool
}

func OpenSQLite(path string, opts Options) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers, which also makes Insert's id allocation race free.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	opts.Log.Debug().Str("path", path).Bool("compress", opts.Compress).Msg("sqlite store opened")
	return &SQLiteStore{db: db, compress: opts.Compress}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id INTEGER NOT NULL,
			doc BLOB NOT NULL,
			PRIMARY KEY (collection, id)
		) WITHOUT ROWID;`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Collection(name string) (Collection, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	return &sqliteCollection{s: s, name: name}, nil
}

func (s *SQLiteStore) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT collection FROM documents ORDER BY collection`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

type sqliteCollection struct {
	s    *SQLiteStore
	name string
}

func (c *sqliteCollection) Name() string { return c.name }

func (c *sqliteCollection) FindByID(ctx context.Context, id int64) ([]byte, bool, error) {
	if c.s.closed.Load() {
		return nil, false, ErrClosed
	}
	var blob []byte
	err := c.s.db.QueryRowContext(ctx, `SELECT doc FROM documents WHERE collection=? AND id=?`, c.name, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s/%d: %w", c.name, id, err)
	}
	doc, err := unframe(blob)
	if err != nil {
		return nil, false, fmt.Errorf("%s/%d: %w", c.name, id, err)
	}
	return doc, true, nil
}

func (c *sqliteCollection) Contains(ctx context.Context, id int64) (bool, error) {
	if c.s.closed.Load() {
		return false, ErrClosed
	}
	var one int
	err := c.s.db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE collection=? AND id=?`, c.name, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (c *sqliteCollection) Upsert(ctx context.Context, id int64, doc []byte) error {
	if c.s.closed.Load() {
		return ErrClosed
	}
	_, err := c.s.db.ExecContext(ctx, `INSERT OR REPLACE INTO documents(collection,id,doc) VALUES(?,?,?)`,
		c.name, id, frame(doc, c.s.compress))
	if err != nil {
		return fmt.Errorf("%s/%d: %w", c.name, id, err)
	}
	return nil
}

func (c *sqliteCollection) Insert(ctx context.Context, doc []byte) (int64, error) {
	if c.s.closed.Load() {
		return 0, ErrClosed
	}
	tx, err := c.s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0)+1 FROM documents WHERE collection=?`, c.name).Scan(&id); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO documents(collection,id,doc) VALUES(?,?,?)`,
		c.name, id, frame(doc, c.s.compress)); err != nil {
		return 0, fmt.Errorf("%s/%d: %w", c.name, id, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (c *sqliteCollection) Delete(ctx context.Context, id int64) error {
	if c.s.closed.Load() {
		return ErrClosed
	}
	_, err := c.s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection=? AND id=?`, c.name, id)
	return err
}

func (c *sqliteCollection) FindAll(ctx context.Context, fn func(id int64, doc []byte) error) error {
	if c.s.closed.Load() {
		return ErrClosed
	}
	rows, err := c.s.db.QueryContext(ctx, `SELECT id, doc FROM documents WHERE collection=? ORDER BY id`, c.name)
	if err != nil {
		return err
	}
	// The single connection is held by rows until Close, so documents are buffered first and fn may
	// call back into the store.
	type row struct {
		id   int64
		blob []byte
	}
	var all []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.blob); err != nil {
			rows.Close()
			return err
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, r := range all {
		doc, err := unframe(r.blob)
		if err != nil {
			return fmt.Errorf("%s/%d: %w", c.name, r.id, err)
		}
		if err := fn(r.id, doc); err != nil {
			return err
		}
	}
	return nil
}

func (c *sqliteCollection) Count(ctx context.Context) (int, error) {
	if c.s.closed.Load() {
		return 0, ErrClosed
	}
	var n int
	err := c.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE collection=?`, c.name).Scan(&n)
	return n, err
}
