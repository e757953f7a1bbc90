// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package resources

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
)

const timeLayout = time.RFC3339Nano

// OpenDB opens (creating if needed) the SQLite database at path and applies migrations.
// The returned handle can be shared by an adapter store and a tool store.
func OpenDB(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", gateway.ErrInvalidConfig)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite serializes writers anyway; a single connection avoids SQLITE_BUSY storms.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// SQLiteStore persists resources as JSON documents in a SQLite table.
type SQLiteStore[T any] struct {
	db    *sql.DB
	table string
	kind  kind[T]
	now   func() time.Time
}

// NewSQLiteAdapterStore creates an adapter store on an open database.
func NewSQLiteAdapterStore(db *sql.DB) *SQLiteStore[gateway.AdapterDefinition] {
	return newSQLiteStore(db, "adapters", adapterKind)
}

// NewSQLiteToolStore creates a tool store on an open database.
func NewSQLiteToolStore(db *sql.DB) *SQLiteStore[gateway.ToolResource] {
	return newSQLiteStore(db, "tools", toolKind)
}

func newSQLiteStore[T any](db *sql.DB, table string, k kind[T]) *SQLiteStore[T] {
	return &SQLiteStore[T]{
		db:    db,
		table: table,
		kind:  k,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ AdapterStore = (*SQLiteStore[gateway.AdapterDefinition])(nil)
	_ ToolStore    = (*SQLiteStore[gateway.ToolResource])(nil)
)

// TryGet implements Store.
func (s *SQLiteStore[T]) TryGet(ctx context.Context, name string) (T, bool, error) {
	var zero T
	row := s.db.QueryRowContext(ctx,
		`SELECT spec, created_at, updated_at FROM `+s.table+` WHERE name = ?`, name)

	item, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, s.wrap(fmt.Sprintf("getting %s %s", s.kind.label, name), err)
	}
	return item, true, nil
}

// Upsert implements Store.
func (s *SQLiteStore[T]) Upsert(ctx context.Context, resource T) (T, error) {
	if err := s.kind.validate(&resource); err != nil {
		return resource, err
	}
	name := s.kind.name(&resource)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return resource, s.wrap("beginning transaction", err)
	}
	defer rollback(tx)

	now := s.now()
	created := now
	var createdText string
	err = tx.QueryRowContext(ctx,
		`SELECT created_at FROM `+s.table+` WHERE name = ?`, name).Scan(&createdText)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return resource, s.wrap(fmt.Sprintf("looking up %s %s", s.kind.label, name), err)
	default:
		if created, err = time.Parse(timeLayout, createdText); err != nil {
			return resource, fmt.Errorf("parsing created_at of %s %s: %w", s.kind.label, name, err)
		}
	}
	s.kind.stamp(&resource, created, now)

	spec, err := json.Marshal(resource)
	if err != nil {
		return resource, fmt.Errorf("encoding %s %s: %w", s.kind.label, name, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO `+s.table+` (name, spec, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET spec = excluded.spec, updated_at = excluded.updated_at`,
		name, spec, created.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return resource, s.wrap(fmt.Sprintf("writing %s %s", s.kind.label, name), err)
	}

	if err := tx.Commit(); err != nil {
		return resource, s.wrap("committing transaction", err)
	}
	return resource, nil
}

// Delete implements Store.
func (s *SQLiteStore[T]) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE name = ?`, name)
	if err != nil {
		return s.wrap(fmt.Sprintf("deleting %s %s", s.kind.label, name), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", gateway.ErrNotFound, s.kind.label, name)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore[T]) List(ctx context.Context) ([]T, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT spec, created_at, updated_at FROM `+s.table+` ORDER BY name`)
	if err != nil {
		return nil, s.wrap(fmt.Sprintf("listing %ss", s.kind.label), err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]T, 0)
	for rows.Next() {
		item, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(fmt.Sprintf("iterating %ss", s.kind.label), err)
	}
	return result, nil
}

// Close closes the underlying database. Closing a shared handle twice is harmless.
func (s *SQLiteStore[T]) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore[T]) scan(row scanner) (T, error) {
	var (
		item                 T
		spec                 []byte
		createdAt, updatedAt string
	)
	if err := row.Scan(&spec, &createdAt, &updatedAt); err != nil {
		return item, err
	}
	if err := json.Unmarshal(spec, &item); err != nil {
		return item, fmt.Errorf("decoding %s: %w", s.kind.label, err)
	}
	created, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return item, fmt.Errorf("parsing created_at: %w", err)
	}
	updated, err := time.Parse(timeLayout, updatedAt)
	if err != nil {
		return item, fmt.Errorf("parsing updated_at: %w", err)
	}
	s.kind.stamp(&item, created, updated)
	return item, nil
}

// wrap annotates err and marks lock contention as transient.
func (*SQLiteStore[T]) wrap(op string, err error) error {
	if isBusy(err) {
		return fmt.Errorf("%w: %s: %w", gateway.ErrTransientStore, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isBusy(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xff
		return code == sqlite3lib.SQLITE_BUSY || code == sqlite3lib.SQLITE_LOCKED
	}
	return false
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }
