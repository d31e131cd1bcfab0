package database

import (
	"github.com/redis/go-redis/v9"
)

// NewRedis opens the connection backing the timed-audit lease store. The
// deployment runs redis without auth, so only address and logical database
// are configurable.
func NewRedis(addr string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
}
