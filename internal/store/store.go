// Package store is the Request Store and the rest of the bot's durable
// state: an embedded, pure-Go SQLite database (modernc.org/sqlite, no cgo)
// queried through Masterminds/squirrel builders, one explicit repository
// per table.
//
// Writes are serialised through a single mutex-guarded path, matching the
// "single writer task wrapping the underlying embedded database" resource
// rule: SQLite itself serialises writers, but holding our own lock avoids
// SQLITE_BUSY retries under the default rollback journal.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

// Store owns the database handle and the write serialisation lock shared
// by every repository built on top of it.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
	builder sq.StatementBuilderType
}

// Open opens (creating if absent) the SQLite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// SQLite has one physical writer regardless of Go-level pooling; cap
	// the pool so database/sql doesn't hand out connections that will
	// just serialise on SQLITE_BUSY anyway.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withWriteLock serialises f against every other writer using this Store.
func (s *Store) withWriteLock(f func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return f()
}

func (s *Store) queryOne(ctx context.Context, q sq.Sqlizer, scan func(*sql.Row) error) error {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return err
	}
	row := s.db.QueryRowContext(ctx, sqlStr, args...)
	return scan(row)
}

func (s *Store) queryAll(ctx context.Context, q sq.Sqlizer, scan func(*sql.Rows) error) error {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) exec(ctx context.Context, q sq.Sqlizer) (sql.Result, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	var res sql.Result
	err = s.withWriteLock(func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, sqlStr, args...)
		return execErr
	})
	return res, err
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS songs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel TEXT NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			track_id TEXT NOT NULL,
			added_at INTEGER NOT NULL,
			promoted_at INTEGER,
			promoted_by TEXT,
			requested_by TEXT,
			completed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_songs_channel ON songs(channel, deleted)`,
		`CREATE TABLE IF NOT EXISTS after_streams (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel TEXT NOT NULL,
			user TEXT NOT NULL,
			text TEXT NOT NULL,
			added_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bad_words (
			word TEXT PRIMARY KEY,
			why TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS counters (
			channel TEXT NOT NULL,
			name TEXT NOT NULL,
			value INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (channel, name)
		)`,
		`CREATE TABLE IF NOT EXISTS aliases (
			channel TEXT NOT NULL,
			name TEXT NOT NULL,
			target TEXT NOT NULL,
			PRIMARY KEY (channel, name)
		)`,
		`CREATE TABLE IF NOT EXISTS balances (
			channel TEXT NOT NULL,
			user TEXT NOT NULL,
			amount INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (channel, user)
		)`,
		`CREATE TABLE IF NOT EXISTS bans (
			channel TEXT NOT NULL,
			kind TEXT NOT NULL,
			value TEXT NOT NULL,
			why TEXT,
			PRIMARY KEY (channel, kind, value)
		)`,
	}
	return s.withWriteLock(func() error {
		for _, stmt := range stmts {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("store: migrate: %w", err)
			}
		}
		return nil
	})
}
