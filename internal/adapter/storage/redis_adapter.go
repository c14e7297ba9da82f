package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
)

const (
	lockKeyPrefix     = "lock:sku:"
	quantityKeyPrefix = "qty:"

	defaultLockTTL       = 10 * time.Second
	defaultRetryInterval = 25 * time.Millisecond
	quantityTTL          = 24 * time.Hour
)

// releaseLockScript deletes the lock only while it still carries our token, so
// a holder whose TTL lapsed cannot release a lock someone else now owns.
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// setQuantityScript stores a fold unless the hash already carries a newer
// watermark. The watermark field survives invalidation.
var setQuantityScript = redis.NewScript(`
local key = KEYS[1]
local watermark = tonumber(ARGV[2])

local stored = redis.call('HGET', key, 'w')
if stored and tonumber(stored) > watermark then
	return 0
end

redis.call('HSET', key, 'q', ARGV[1], 'w', ARGV[2])
redis.call('PEXPIRE', key, ARGV[3])
return 1
`)

// RedisAdapter provides the cross-process SKU lock and the shared quantity cache.
type RedisAdapter struct {
	client        *redis.Client
	lockTTL       time.Duration
	retryInterval time.Duration
}

type RedisOption func(*RedisAdapter)

func WithLockTTL(ttl time.Duration) RedisOption {
	return func(r *RedisAdapter) {
		if ttl > 0 {
			r.lockTTL = ttl
		}
	}
}

func WithRetryInterval(d time.Duration) RedisOption {
	return func(r *RedisAdapter) {
		if d > 0 {
			r.retryInterval = d
		}
	}
}

func NewRedisAdapter(client *redis.Client, opts ...RedisOption) *RedisAdapter {
	r := &RedisAdapter{
		client:        client,
		lockTTL:       defaultLockTTL,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisAdapter) Lock(ctx context.Context, sku string) (func(), error) {
	key := lockKeyPrefix + sku
	token := uuid.NewString()

	ticker := time.NewTicker(r.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.lockTTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, &domain.ConcurrentModificationError{SKU: sku, Err: ctx.Err()}
			}
			return nil, &domain.PersistenceError{Op: "acquire sku lock", Err: err}
		}
		if ok {
			return func() {
				// The caller's ctx may already be done; release must still run.
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				releaseLockScript.Run(ctx, r.client, []string{key}, token)
			}, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, &domain.ConcurrentModificationError{SKU: sku, Err: ctx.Err()}
		}
	}
}

func (r *RedisAdapter) GetQuantity(ctx context.Context, sku string) (int64, bool, error) {
	v, err := r.client.HGet(ctx, quantityKeyPrefix+sku, "q").Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &domain.PersistenceError{Op: "read cached quantity", Err: err}
	}

	q, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return q, true, nil
}

func (r *RedisAdapter) SetQuantity(ctx context.Context, sku string, quantity, watermark int64) error {
	err := setQuantityScript.Run(ctx, r.client, []string{quantityKeyPrefix + sku},
		quantity, watermark, quantityTTL.Milliseconds()).Err()
	if err != nil {
		return &domain.PersistenceError{Op: "cache quantity", Err: err}
	}
	return nil
}

func (r *RedisAdapter) Invalidate(ctx context.Context, skus ...string) error {
	if len(skus) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, sku := range skus {
		pipe.HDel(ctx, quantityKeyPrefix+sku, "q")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &domain.PersistenceError{Op: "invalidate cached quantity", Err: err}
	}
	return nil
}

func (r *RedisAdapter) InvalidateAll(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, quantityKeyPrefix+"*", 256).Iterator()

	pipe := r.client.Pipeline()
	for iter.Next(ctx) {
		pipe.HDel(ctx, iter.Val(), "q")
	}
	if err := iter.Err(); err != nil {
		return &domain.PersistenceError{Op: "scan cached quantities", Err: err}
	}
	if pipe.Len() == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &domain.PersistenceError{Op: "invalidate cached quantities", Err: err}
	}
	return nil
}
