package store

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
)

// BanKind distinguishes the two channel-level blocklists: track ids
// outright, and artist names (streaming provider only).
type BanKind string

const (
	BanTrack  BanKind = "track"
	BanArtist BanKind = "artist"
)

// Ban adds value to channel's kind blocklist, with an optional reason.
func (s *Store) Ban(ctx context.Context, channel string, kind BanKind, value, why string) error {
	_, err := s.exec(ctx, s.builder.Insert("bans").
		Columns("channel", "kind", "value", "why").
		Values(channel, string(kind), value, why).
		Suffix("ON CONFLICT(channel, kind, value) DO UPDATE SET why = excluded.why"))
	return err
}

// Unban removes value from channel's kind blocklist. Returns false if it
// was not present, matching the "no such X" moderator-response contract.
func (s *Store) Unban(ctx context.Context, channel string, kind BanKind, value string) (bool, error) {
	res, err := s.exec(ctx, s.builder.Delete("bans").
		Where(sq.Eq{"channel": channel, "kind": string(kind), "value": value}))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// IsBanned reports whether value is on channel's kind blocklist.
func (s *Store) IsBanned(ctx context.Context, channel string, kind BanKind, value string) (bool, error) {
	var count int
	err := s.queryOne(ctx, s.builder.Select("COUNT(*)").From("bans").
		Where(sq.Eq{"channel": channel, "kind": string(kind), "value": value}),
		func(row *sql.Row) error { return row.Scan(&count) })
	return count > 0, err
}
