package idempotency

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Redis implements Store on a shared Redis instance. SET NX with an expiry
// is a single conditional write, so concurrent duplicates race safely.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Redis{rdb: redis.NewClient(opt)}, nil
}

// NewRedisFromClient wraps an existing client (used by tests).
func NewRedisFromClient(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) PutIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, r.key(key), "1", ttl).Result()
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) key(k string) string { return "idem:" + k }
