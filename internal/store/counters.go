package store

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
)

// IncrementCounter adds delta to a named per-channel counter, creating it
// at delta if absent, and returns the new value.
func (s *Store) IncrementCounter(ctx context.Context, channel, name string, delta int64) (int64, error) {
	var value int64
	err := s.withWriteLock(func() error {
		upsert, args, err := s.builder.Insert("counters").
			Columns("channel", "name", "value").
			Values(channel, name, delta).
			Suffix("ON CONFLICT(channel, name) DO UPDATE SET value = value + ?", delta).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, upsert, args...); err != nil {
			return err
		}
		row := s.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE channel = ? AND name = ?`, channel, name)
		return row.Scan(&value)
	})
	return value, err
}

// GetCounter returns a named counter's current value, or 0 if unset.
func (s *Store) GetCounter(ctx context.Context, channel, name string) (int64, error) {
	var value int64
	err := s.queryOne(ctx, s.builder.Select("value").From("counters").Where(sq.Eq{"channel": channel, "name": name}), func(row *sql.Row) error {
		return row.Scan(&value)
	})
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return value, err
}

// SetAlias maps a command alias to its target name in a channel.
func (s *Store) SetAlias(ctx context.Context, channel, alias, target string) error {
	_, err := s.exec(ctx, s.builder.Insert("aliases").
		Columns("channel", "name", "target").
		Values(channel, alias, target).
		Suffix("ON CONFLICT(channel, name) DO UPDATE SET target = excluded.target"))
	return err
}

// ResolveAlias returns what alias points to in channel, or false if none.
func (s *Store) ResolveAlias(ctx context.Context, channel, alias string) (string, bool, error) {
	var target string
	err := s.queryOne(ctx, s.builder.Select("target").From("aliases").Where(sq.Eq{"channel": channel, "name": alias}), func(row *sql.Row) error {
		return row.Scan(&target)
	})
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	return target, err == nil, err
}
