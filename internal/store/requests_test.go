package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first, err := s.Append(ctx, "chan", "video_host:abc", "alice")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	second, err := s.Append(ctx, "chan", "video_host:def", "bob")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("expected monotonic ids, got %d then %d", first.ID, second.ID)
	}
}

func TestListOrdersPromotedFirstThenFIFO(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	r1, _ := s.Append(ctx, "chan", "video_host:1", "alice")
	r2, _ := s.Append(ctx, "chan", "video_host:2", "bob")
	s.Append(ctx, "chan", "video_host:3", "carol")

	if _, err := s.Promote(ctx, r2.ID, "mod"); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	list, err := s.List(ctx, "chan")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(list))
	}
	if list[0].ID != r2.ID {
		t.Fatalf("expected promoted request first, got id %d", list[0].ID)
	}
	if list[1].ID != r1.ID {
		t.Fatalf("expected FIFO order after promoted item, got id %d", list[1].ID)
	}
}

func TestDeleteTombstonesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	r, _ := s.Append(ctx, "chan", "video_host:1", "alice")

	ok, err := s.Delete(ctx, r.ID)
	if err != nil || !ok {
		t.Fatalf("first delete: ok=%v err=%v", ok, err)
	}
	ok, err = s.Delete(ctx, r.ID)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if ok {
		t.Fatal("expected second delete of same id to report false")
	}

	list, err := s.List(ctx, "chan")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected tombstoned request excluded from List, got %d", len(list))
	}
}

func TestCompleteTombstonesAndRecordsCompletionTime(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	r, _ := s.Append(ctx, "chan", "video_host:1", "alice")

	ok, err := s.Complete(ctx, r.ID)
	if err != nil || !ok {
		t.Fatalf("Complete: ok=%v err=%v", ok, err)
	}

	list, err := s.List(ctx, "chan")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Fatal("completed request must be excluded from List")
	}

	var completedAt sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT completed_at FROM songs WHERE id = ?`, r.ID)
	if err := row.Scan(&completedAt); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !completedAt.Valid || completedAt.Int64 == 0 {
		t.Fatalf("expected a completion timestamp, got %+v", completedAt)
	}

	ok, err = s.Complete(ctx, r.ID)
	if err != nil {
		t.Fatalf("second Complete: %v", err)
	}
	if ok {
		t.Fatal("completing an already-tombstoned request must report false")
	}
}

func TestDeleteLeavesCompletionTimeNull(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	r, _ := s.Append(ctx, "chan", "video_host:1", "alice")
	if ok, err := s.Delete(ctx, r.ID); err != nil || !ok {
		t.Fatalf("Delete: ok=%v err=%v", ok, err)
	}

	var completedAt sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT completed_at FROM songs WHERE id = ?`, r.ID)
	if err := row.Scan(&completedAt); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if completedAt.Valid {
		t.Fatal("a skip/deletion must not record a completion time")
	}
}

// Round-trip: append N requests, reopen the store, List returns the same N
// in the same order.
func TestListSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var ids []int64
	for i := 0; i < 5; i++ {
		r, err := s.Append(ctx, "chan", "video_host:x", "alice")
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		ids = append(ids, r.ID)
	}
	s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	list, err := reopened.List(ctx, "chan")
	if err != nil {
		t.Fatalf("List after reopen: %v", err)
	}
	if len(list) != len(ids) {
		t.Fatalf("expected %d requests after reopen, got %d", len(ids), len(list))
	}
	for i, r := range list {
		if r.ID != ids[i] {
			t.Fatalf("order mismatch at %d: got %d want %d", i, r.ID, ids[i])
		}
	}
}
