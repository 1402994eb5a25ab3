// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/emberfed/hearth/lib/sqlitepool"
)

// SQLiteConfig holds the parameters for the SQLite-backed Store.
type SQLiteConfig struct {
	// Path is the database file path. Required.
	Path string

	// PoolSize is forwarded to the connection pool. Zero means the
	// pool default.
	PoolSize int

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// OpenSQLite opens a SQLite-backed Store. Each keyspace becomes its
// own two-column table (key BLOB PRIMARY KEY, value BLOB), created on
// first reference.
func OpenSQLite(cfg SQLiteConfig) (Store, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: %w", err)
	}
	return &sqliteStore{pool: pool, created: make(map[string]bool)}, nil
}

type sqliteStore struct {
	pool *sqlitepool.Pool

	mu      sync.Mutex
	created map[string]bool
}

func (s *sqliteStore) Keyspace(name string) (Keyspace, error) {
	if err := validKeyspaceName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	needsTable := !s.created[name]
	s.mu.Unlock()

	if needsTable {
		conn, err := s.pool.Take(context.Background())
		if err != nil {
			return nil, err
		}
		// Keyspace names are validated to [a-z_]+ above, so direct
		// interpolation into the DDL is safe.
		err = sqlitex.ExecuteTransient(conn, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS kv_%s (key BLOB PRIMARY KEY, value BLOB NOT NULL)`, name), nil)
		s.pool.Put(conn)
		if err != nil {
			return nil, fmt.Errorf("kvstore: creating keyspace %s: %w", name, err)
		}
		s.mu.Lock()
		s.created[name] = true
		s.mu.Unlock()
	}

	return &sqliteKeyspace{pool: s.pool, table: "kv_" + name}, nil
}

func (s *sqliteStore) Close() error {
	return s.pool.Close()
}

type sqliteKeyspace struct {
	pool  *sqlitepool.Pool
	table string
}

func (k *sqliteKeyspace) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	conn, err := k.pool.Take(ctx)
	if err != nil {
		return nil, false, err
	}
	defer k.pool.Put(conn)

	return k.get(conn, key)
}

// get runs the lookup on an already-borrowed connection so Increment
// can reuse it inside a transaction.
func (k *sqliteKeyspace) get(conn *sqlite.Conn, key []byte) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := sqlitex.Execute(conn,
		fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, k.table),
		&sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, value)
				found = true
				return nil
			},
		})
	if err != nil {
		return nil, false, fmt.Errorf("kvstore: get from %s: %w", k.table, err)
	}
	return value, found, nil
}

func (k *sqliteKeyspace) Insert(ctx context.Context, key, value []byte) error {
	conn, err := k.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer k.pool.Put(conn)

	return k.insert(conn, key, value)
}

func (k *sqliteKeyspace) insert(conn *sqlite.Conn, key, value []byte) error {
	err := sqlitex.Execute(conn,
		fmt.Sprintf(`INSERT INTO %s (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k.table),
		&sqlitex.ExecOptions{Args: []any{key, value}})
	if err != nil {
		return fmt.Errorf("kvstore: insert into %s: %w", k.table, err)
	}
	return nil
}

func (k *sqliteKeyspace) Remove(ctx context.Context, key []byte) error {
	conn, err := k.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer k.pool.Put(conn)

	err = sqlitex.Execute(conn,
		fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, k.table),
		&sqlitex.ExecOptions{Args: []any{key}})
	if err != nil {
		return fmt.Errorf("kvstore: remove from %s: %w", k.table, err)
	}
	return nil
}

func (k *sqliteKeyspace) Increment(ctx context.Context, key []byte) (uint64, error) {
	conn, err := k.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer k.pool.Put(conn)

	// Savepoint makes the read-modify-write atomic with respect to
	// other connections in the pool.
	release := sqlitex.Save(conn)
	next, err := k.incrementLocked(conn, key)
	release(&err)
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (k *sqliteKeyspace) incrementLocked(conn *sqlite.Conn, key []byte) (uint64, error) {
	raw, found, err := k.get(conn, key)
	if err != nil {
		return 0, err
	}
	var current uint64
	if found {
		current, err = DecodeCounter(raw)
		if err != nil {
			return 0, err
		}
	}
	current++
	if err := k.insert(conn, key, EncodeCounter(current)); err != nil {
		return 0, err
	}
	return current, nil
}
