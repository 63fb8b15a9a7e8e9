package store

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
)

// GetSetting returns a setting's value, or false if unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.queryOne(ctx, s.builder.Select("value").From("settings").Where(sq.Eq{"key": key}), func(row *sql.Row) error {
		return row.Scan(&value)
	})
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetSetting upserts a key/value pair.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx, s.builder.Insert("settings").
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value"))
	return err
}

// IsBadWord reports whether word is on the channel-agnostic bad-words list.
func (s *Store) IsBadWord(ctx context.Context, word string) (bool, error) {
	var count int
	err := s.queryOne(ctx, s.builder.Select("COUNT(*)").From("bad_words").Where(sq.Eq{"word": word}), func(row *sql.Row) error {
		return row.Scan(&count)
	})
	return count > 0, err
}

// AddBadWord adds word to the bad-words list with an optional reason.
func (s *Store) AddBadWord(ctx context.Context, word, why string) error {
	_, err := s.exec(ctx, s.builder.Insert("bad_words").
		Columns("word", "why").
		Values(word, why).
		Suffix("ON CONFLICT(word) DO UPDATE SET why = excluded.why"))
	return err
}

// RemoveBadWord removes word from the bad-words list.
func (s *Store) RemoveBadWord(ctx context.Context, word string) error {
	_, err := s.exec(ctx, s.builder.Delete("bad_words").Where(sq.Eq{"word": word}))
	return err
}
