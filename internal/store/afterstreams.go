package store

import (
	"context"
	"database/sql"
	"time"
)

// AfterStreamNote is an append-only, moderator-reviewable reminder.
type AfterStreamNote struct {
	ID      int64
	Channel string
	User    string
	Text    string
	AddedAt time.Time
}

// AddAfterStream appends a note to the channel's after-stream FIFO.
func (s *Store) AddAfterStream(ctx context.Context, channel, user, text string) (AfterStreamNote, error) {
	now := time.Now().UTC()
	var id int64
	err := s.withWriteLock(func() error {
		sqlStr, args, err := s.builder.Insert("after_streams").
			Columns("channel", "user", "text", "added_at").
			Values(channel, user, text, now.Unix()).
			ToSql()
		if err != nil {
			return err
		}
		res, err := s.db.ExecContext(ctx, sqlStr, args...)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return AfterStreamNote{}, err
	}
	return AfterStreamNote{ID: id, Channel: channel, User: user, Text: text, AddedAt: now}, nil
}

// ListAfterStreams returns every note for a channel, oldest first.
func (s *Store) ListAfterStreams(ctx context.Context, channel string) ([]AfterStreamNote, error) {
	q := s.builder.Select("id", "channel", "user", "text", "added_at").
		From("after_streams").
		Where("channel = ?", channel).
		OrderBy("id ASC")

	var out []AfterStreamNote
	err := s.queryAll(ctx, q, func(rows *sql.Rows) error {
		var n AfterStreamNote
		var addedAt int64
		if err := rows.Scan(&n.ID, &n.Channel, &n.User, &n.Text, &addedAt); err != nil {
			return err
		}
		n.AddedAt = time.Unix(addedAt, 0).UTC()
		out = append(out, n)
		return nil
	})
	return out, err
}
