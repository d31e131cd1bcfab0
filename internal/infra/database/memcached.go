package database

import (
	"github.com/bradfitz/gomemcache/memcache"
)

// NewMemcached opens the client behind the rendered-manifest blob cache.
func NewMemcached(addr string) *memcache.Client {
	return memcache.New(addr)
}
