package gateway

import (
	"errors"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcachedManifestCache stores rendered manifest blobs with a bounded TTL.
// A miss and a memcached outage look the same to callers: render again.
type MemcachedManifestCache struct {
	mc  *memcache.Client
	ttl int32
}

func NewMemcachedManifestCache(mc *memcache.Client, ttlSeconds int) *MemcachedManifestCache {
	return &MemcachedManifestCache{mc: mc, ttl: int32(ttlSeconds)}
}

func (c *MemcachedManifestCache) Get(key string) ([]byte, bool) {
	item, err := c.mc.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false
	}
	if err != nil {
		return nil, false
	}
	return item.Value, true
}

func (c *MemcachedManifestCache) Set(key string, val []byte) error {
	return c.mc.Set(&memcache.Item{
		Key:        key,
		Value:      val,
		Expiration: c.ttl,
	})
}
