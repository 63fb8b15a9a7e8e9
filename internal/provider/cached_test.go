package provider

import (
	"path/filepath"
	"testing"
	"time"

	"songbot/internal/cache"
	"songbot/internal/track"
)

type countingResolver struct {
	calls int
	meta  track.Metadata
}

func (c *countingResolver) Resolve(id track.ID) (track.Metadata, error) {
	c.calls++
	return c.meta, nil
}

func TestCachedResolveHitsUpstreamOncePerTTL(t *testing.T) {
	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	inner := &countingResolver{meta: track.Metadata{Title: "Song", Artists: []string{"A"}, DurationS: 180, Playable: true}}
	cached := NewCached(inner, c, "test", time.Minute)
	id := track.ID{Provider: track.VideoHost, Opaque: "abc"}

	first, err := cached.Resolve(id)
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	second, err := cached.Resolve(id)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}

	if inner.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", inner.calls)
	}
	if first.Title != second.Title || second.Title != "Song" || second.DurationS != 180 {
		t.Fatalf("cached metadata mismatch: %+v vs %+v", first, second)
	}
}
