package store

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Request is one append-only, tombstoned queue entry. Promotion moves it
// to the head without reassigning ID.
type Request struct {
	ID          int64
	Channel     string
	TrackID     string
	AddedAt     time.Time
	RequestedBy string
	PromotedAt  sql.NullTime
	PromotedBy  string
	Deleted     bool
}

// Append assigns the next id, stamps AddedAt, and persists the request.
func (s *Store) Append(ctx context.Context, channel, trackID, requestedBy string) (Request, error) {
	now := time.Now().UTC()
	var id int64
	err := s.withWriteLock(func() error {
		sqlStr, args, err := s.builder.Insert("songs").
			Columns("channel", "deleted", "track_id", "added_at", "requested_by").
			Values(channel, 0, trackID, now.Unix(), requestedBy).
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
		return Request{}, err
	}
	return Request{ID: id, Channel: channel, TrackID: trackID, AddedAt: now, RequestedBy: requestedBy}, nil
}

// List returns every non-tombstoned request in a channel ordered
// promoted-first (by promotion time), then FIFO by added_at/id.
func (s *Store) List(ctx context.Context, channel string) ([]Request, error) {
	q := s.builder.Select("id", "channel", "track_id", "added_at", "requested_by", "promoted_at", "promoted_by", "deleted").
		From("songs").
		Where(sq.Eq{"channel": channel, "deleted": 0}).
		OrderBy(
			"(promoted_at IS NULL) ASC",
			"promoted_at DESC",
			"added_at ASC",
			"id ASC",
		)

	var out []Request
	err := s.queryAll(ctx, q, func(rows *sql.Rows) error {
		var r Request
		var addedAt int64
		var promotedAt sql.NullInt64
		var promotedBy sql.NullString
		var deleted int
		if err := rows.Scan(&r.ID, &r.Channel, &r.TrackID, &addedAt, &r.RequestedBy, &promotedAt, &promotedBy, &deleted); err != nil {
			return err
		}
		r.AddedAt = time.Unix(addedAt, 0).UTC()
		if promotedAt.Valid {
			r.PromotedAt = sql.NullTime{Time: time.Unix(promotedAt.Int64, 0).UTC(), Valid: true}
		}
		r.PromotedBy = promotedBy.String
		r.Deleted = deleted != 0
		out = append(out, r)
		return nil
	})
	return out, err
}

// Head returns the first element of List, or false if the channel's queue
// is empty.
func (s *Store) Head(ctx context.Context, channel string) (Request, bool, error) {
	all, err := s.List(ctx, channel)
	if err != nil {
		return Request{}, false, err
	}
	if len(all) == 0 {
		return Request{}, false, nil
	}
	return all[0], true, nil
}

// Delete tombstones a request. Returns false if it was already deleted or
// does not exist.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.exec(ctx, s.builder.Update("songs").
		Set("deleted", 1).
		Where(sq.Eq{"id": id, "deleted": 0}))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Complete tombstones a request and records when playback of it finished.
// Returns false if it was already deleted or does not exist. Skips and
// moderator deletions go through Delete instead, which leaves
// completed_at null.
func (s *Store) Complete(ctx context.Context, id int64) (bool, error) {
	res, err := s.exec(ctx, s.builder.Update("songs").
		Set("deleted", 1).
		Set("completed_at", time.Now().UTC().Unix()).
		Where(sq.Eq{"id": id, "deleted": 0}))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Promote sets promoted_at/promoted_by on a request, moving it to the head
// of List without reassigning its id.
func (s *Store) Promote(ctx context.Context, id int64, by string) (bool, error) {
	res, err := s.exec(ctx, s.builder.Update("songs").
		Set("promoted_at", time.Now().UTC().Unix()).
		Set("promoted_by", by).
		Where(sq.Eq{"id": id, "deleted": 0}))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CountActiveByUser returns how many non-tombstoned requests a user has
// queued in channel, for the intake layer's per-user in-flight limit.
func (s *Store) CountActiveByUser(ctx context.Context, channel, user string) (int, error) {
	var count int
	err := s.queryOne(ctx, s.builder.Select("COUNT(*)").From("songs").
		Where(sq.Eq{"channel": channel, "requested_by": user, "deleted": 0}),
		func(row *sql.Row) error { return row.Scan(&count) })
	return count, err
}

// CountActive returns how many non-tombstoned requests are queued in
// channel, for the intake layer's max-queue-length limit.
func (s *Store) CountActive(ctx context.Context, channel string) (int, error) {
	var count int
	err := s.queryOne(ctx, s.builder.Select("COUNT(*)").From("songs").
		Where(sq.Eq{"channel": channel, "deleted": 0}),
		func(row *sql.Row) error { return row.Scan(&count) })
	return count, err
}

// Purge tombstones every non-deleted request in channel.
func (s *Store) Purge(ctx context.Context, channel string) error {
	_, err := s.exec(ctx, s.builder.Update("songs").
		Set("deleted", 1).
		Where(sq.Eq{"channel": channel, "deleted": 0}))
	return err
}
