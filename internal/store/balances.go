package store

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
)

// Balance returns a user's channel balance, 0 if they have none recorded.
func (s *Store) Balance(ctx context.Context, channel, user string) (int64, error) {
	var amount int64
	err := s.queryOne(ctx, s.builder.Select("amount").From("balances").Where(sq.Eq{"channel": channel, "user": user}), func(row *sql.Row) error {
		return row.Scan(&amount)
	})
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return amount, err
}

// AddBalance adds delta (which may be negative) to a user's channel
// balance and returns the new total.
func (s *Store) AddBalance(ctx context.Context, channel, user string, delta int64) (int64, error) {
	var amount int64
	err := s.withWriteLock(func() error {
		upsert, args, err := s.builder.Insert("balances").
			Columns("channel", "user", "amount").
			Values(channel, user, delta).
			Suffix("ON CONFLICT(channel, user) DO UPDATE SET amount = amount + ?", delta).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, upsert, args...); err != nil {
			return err
		}
		row := s.db.QueryRowContext(ctx, `SELECT amount FROM balances WHERE channel = ? AND user = ?`, channel, user)
		return row.Scan(&amount)
	})
	return amount, err
}
