package cache

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSetThenGet(t *testing.T) {
	c := openTestCache(t)

	type payload struct {
		Title string `json:"title"`
	}
	if err := c.Set("yt", "abc", payload{Title: "song"}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var out payload
	hit, err := c.Get("yt", "abc", &out)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !hit || out.Title != "song" {
		t.Fatalf("Get = %v, %+v", hit, out)
	}
}

func TestGetMissAfterExpiry(t *testing.T) {
	c := openTestCache(t)
	if err := c.Set("yt", "abc", "v", time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	var out string
	hit, err := c.Get("yt", "abc", &out)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if hit {
		t.Fatal("expected expired entry to miss")
	}
}

func TestGetOrLoadSingleFlightsConcurrentMisses(t *testing.T) {
	c := openTestCache(t)
	var calls int64

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out string
			err := c.GetOrLoad("yt", "abc", time.Minute, &out, func() (interface{}, error) {
				atomic.AddInt64(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return "loaded", nil
			})
			if err != nil {
				t.Errorf("GetOrLoad: %v", err)
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt64(&calls) != 1 {
		t.Fatalf("expected exactly one load call, got %d", calls)
	}
}
