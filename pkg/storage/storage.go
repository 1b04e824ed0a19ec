package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sw33tLie/togetter/pkg/record"
	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS settings (
  id         INTEGER PRIMARY KEY CHECK (id = 1),
  group_id   TEXT NOT NULL,
  list_id    TEXT NOT NULL DEFAULT '',
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS cache (
  id           INTEGER PRIMARY KEY CHECK (id = 1),
  group_id     TEXT NOT NULL,
  list_id      TEXT NOT NULL DEFAULT '',
  raw_payload  TEXT NOT NULL,
  label        TEXT NOT NULL,
  items        BLOB NOT NULL,
  committed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
    `); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// LoadState reads the persisted selection and cache. found is false when
// no settings were ever saved. A cached record that no longer decodes is
// dropped, keeping the raw payload so it can be encoded again.
func (d *DB) LoadState(ctx context.Context) (st State, found bool, err error) {
	err = d.sql.QueryRowContext(ctx, "SELECT group_id, list_id FROM settings WHERE id = 1").
		Scan(&st.Selection.GroupID, &st.Selection.ListID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return State{}, false, nil
	case err != nil:
		return State{}, false, err
	}

	var (
		label string
		items []byte
	)
	err = d.sql.QueryRowContext(ctx, "SELECT group_id, list_id, raw_payload, label, items FROM cache WHERE id = 1").
		Scan(&st.Cache.Selection.GroupID, &st.Cache.Selection.ListID, &st.Cache.Raw, &label, &items)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return st, true, nil
	case err != nil:
		return State{}, false, err
	}

	if rec, derr := record.Decode(label, items); derr == nil {
		st.Cache.Record = rec
	}
	return st, true, nil
}

// SaveState replaces the selection and the cache in one transaction.
func (d *DB) SaveState(ctx context.Context, st State) (err error) {
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `INSERT INTO settings(id, group_id, list_id) VALUES(1, ?, ?)
ON CONFLICT(id) DO UPDATE SET group_id = excluded.group_id, list_id = excluded.list_id, updated_at = CURRENT_TIMESTAMP`,
		st.Selection.GroupID, st.Selection.ListID)
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM cache"); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	if !st.Cache.IsEmpty() {
		c := st.Cache
		_, err = tx.ExecContext(ctx, `INSERT INTO cache(id, group_id, list_id, raw_payload, label, items) VALUES(1, ?, ?, ?, ?, ?)`,
			c.Selection.GroupID, c.Selection.ListID, c.Raw, c.Record.Label, c.Record.Items())
		if err != nil {
			return fmt.Errorf("saving cache: %w", err)
		}
	}

	return tx.Commit()
}
