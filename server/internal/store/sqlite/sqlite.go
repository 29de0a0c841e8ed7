// Package sqlite is a store.Backend on a local SQLite file.
//
// One table holds both halves of the store: the AUTOINCREMENT seq column is
// the ordered index and the unique id column with its JSON body is the keyed
// map. A row is either there or not, so index and map cannot diverge.
// The same database carries the extractor ledger.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/queuefeed/queuefeed/pkg/types"
	"github.com/queuefeed/queuefeed/server/internal/store"
)

// Compile-time check that DB satisfies store.Backend.
var _ store.Backend = (*DB)(nil)

// DB is the SQLite-backed event store backend.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path and runs migrations.
func New(ctx context.Context, path string) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{db: db}, nil
}

// Ping checks database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Push inserts rec as the newest row. A duplicate id is deleted first so it
// gets a fresh seq and moves to the new end.
func (d *DB) Push(ctx context.Context, rec types.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, rec.ID); err != nil {
			return fmt.Errorf("delete duplicate: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records (id, body) VALUES (?, ?)`, rec.ID, string(body),
		); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		return nil
	})
}

func (d *DB) List(ctx context.Context) ([]types.Record, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT body FROM records ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	out := make([]types.Record, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := decode(body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (d *DB) Get(ctx context.Context, id string) (types.Record, error) {
	return d.scanOne(ctx, `SELECT body FROM records WHERE id = ?`, id)
}

func (d *DB) Set(ctx context.Context, rec types.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	res, err := d.db.ExecContext(ctx, `UPDATE records SET body = ? WHERE id = ?`, string(body), rec.ID)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) Oldest(ctx context.Context) (types.Record, error) {
	return d.scanOne(ctx, `SELECT body FROM records ORDER BY seq ASC LIMIT 1`)
}

func (d *DB) TrimOldest(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM records WHERE seq IN (SELECT seq FROM records ORDER BY seq ASC LIMIT ?)`, n)
	if err != nil {
		return 0, fmt.Errorf("trim records: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(removed), nil
}

func (d *DB) Clear(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	return nil
}

func (d *DB) Len(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Append writes one ledger entry.
func (d *DB) Append(ctx context.Context, e types.LedgerEntry) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO ledger (record_id, source, field, value, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.RecordID, e.Source, e.Field, e.Value, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) scanOne(ctx context.Context, query string, args ...any) (types.Record, error) {
	var body string
	err := d.db.QueryRowContext(ctx, query, args...).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Record{}, store.ErrNotFound
	}
	if err != nil {
		return types.Record{}, fmt.Errorf("query record: %w", err)
	}
	return decode(body)
}

func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func decode(body string) (types.Record, error) {
	var rec types.Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return types.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
