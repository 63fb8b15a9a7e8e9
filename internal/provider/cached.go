package provider

import (
	"time"

	"songbot/internal/cache"
	"songbot/internal/track"
)

// Cached wraps a track.Resolver with the embedded response cache so
// repeated lookups of the same track (re-requests, queue listings, the
// load path re-resolving what intake already resolved) hit the provider
// API once per TTL. Concurrent misses for one track share a single
// upstream call via the cache's per-key single-flight.
type Cached struct {
	inner     track.Resolver
	cache     *cache.Cache
	namespace string
	ttl       time.Duration
}

// NewCached builds a caching wrapper around inner, storing entries under
// namespace for ttl.
func NewCached(inner track.Resolver, c *cache.Cache, namespace string, ttl time.Duration) *Cached {
	return &Cached{inner: inner, cache: c, namespace: namespace, ttl: ttl}
}

// Resolve implements track.Resolver.
func (c *Cached) Resolve(id track.ID) (track.Metadata, error) {
	var meta track.Metadata
	err := c.cache.GetOrLoad(c.namespace, id.String(), c.ttl, &meta, func() (interface{}, error) {
		return c.inner.Resolve(id)
	})
	if err != nil {
		return track.Metadata{}, err
	}
	return meta, nil
}
