package gateway

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAuditLease grants short-lived exclusive leases via SETNX. Leases
// expire on their own, so a crashed holder never blocks the key forever.
type RedisAuditLease struct {
	rdb *redis.Client
}

func NewRedisAuditLease(rdb *redis.Client) *RedisAuditLease {
	return &RedisAuditLease{rdb: rdb}
}

func (l *RedisAuditLease) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, "lease:"+key, 1, ttl).Result()
}

func (l *RedisAuditLease) Release(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, "lease:"+key).Err()
}
