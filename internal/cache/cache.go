// Package cache is the embedded key-value response cache for provider API
// calls: an embedded go.etcd.io/bbolt database keyed by (namespace,
// json-key), storing {expires_at, payload}, with per-key single-flight so
// concurrent misses for the same key only hit the provider once.
package cache

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/singleflight"
)

// Cache wraps a bbolt database. Safe for concurrent use.
type Cache struct {
	db    *bolt.DB
	group singleflight.Group
}

type entry struct {
	ExpiresAt int64           `json:"expires_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Open opens (creating if absent) the bbolt database at path.
func Open(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

func bucketName(namespace string) []byte {
	return []byte("ns:" + namespace)
}

// Get returns the cached payload for (namespace, key) if present and not
// expired, unmarshalling it into dst.
func (c *Cache) Get(namespace, key string, dst interface{}) (bool, error) {
	var raw []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(namespace))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return false, err
	}
	if time.Now().Unix() >= e.ExpiresAt {
		return false, nil
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Set stores payload under (namespace, key) with the given TTL.
func (c *Cache) Set(namespace, key string, payload interface{}, ttl time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	e := entry{ExpiresAt: time.Now().Add(ttl).Unix(), Payload: body}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(namespace))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), raw)
	})
}

// GetOrLoad returns the cached value for (namespace, key), or calls load
// and caches its result for ttl. Concurrent calls for the same key share
// one in-flight load via singleflight.
func (c *Cache) GetOrLoad(namespace, key string, ttl time.Duration, dst interface{}, load func() (interface{}, error)) error {
	var hit bool
	var hitErr error
	hit, hitErr = c.Get(namespace, key, dst)
	if hitErr != nil {
		return hitErr
	}
	if hit {
		return nil
	}

	flightKey := namespace + "\x00" + key
	v, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		result, err := load()
		if err != nil {
			return nil, err
		}
		if err := c.Set(namespace, key, result, ttl); err != nil {
			return nil, err
		}
		return result, nil
	})
	if err != nil {
		return err
	}

	// Round-trip through JSON so dst receives the same shape Get would
	// have produced, regardless of which goroutine's load() ran.
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}
