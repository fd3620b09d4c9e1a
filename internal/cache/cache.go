package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)

	AcquireSlot(ctx context.Context, pool, holder string, limit int, ttl time.Duration) (bool, error)
	ReleaseSlot(ctx context.Context, pool, holder string) error
	ActiveSlots(ctx context.Context, pool string) (int, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Slot leases live in a sorted set scored by expiry time in milliseconds. Expired leases are
// pruned before every check, so a crashed holder frees its slot once its lease runs out.
// Re-acquiring with the same holder renews the lease.
var acquireSlotScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local expires = tonumber(ARGV[1]) + tonumber(ARGV[2])
if redis.call('ZSCORE', KEYS[1], ARGV[4]) then
  redis.call('ZADD', KEYS[1], expires, ARGV[4])
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
if redis.call('ZCARD', KEYS[1]) < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], expires, ARGV[4])
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

// AcquireSlot takes one of limit slots in pool for holder, leased for ttl.
// It returns false without error when every slot is taken.
func (c *RedisCache) AcquireSlot(ctx context.Context, pool, holder string, limit int, ttl time.Duration) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := acquireSlotScript.Run(ctx, c.client, []string{SlotPoolKey(pool)},
		now, ttl.Milliseconds(), limit, holder).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (c *RedisCache) ReleaseSlot(ctx context.Context, pool, holder string) error {
	return c.client.ZRem(ctx, SlotPoolKey(pool), holder).Err()
}

// ActiveSlots counts unexpired leases in pool.
func (c *RedisCache) ActiveSlots(ctx context.Context, pool string) (int, error) {
	now := time.Now().UnixMilli()
	n, err := c.client.ZCount(ctx, SlotPoolKey(pool), "("+strconv.FormatInt(now, 10), "+inf").Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
