// Package cache provides a Redis read-through cache for the branch projection.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/nemonet1337/branchledger/pkg/inventory"
)

// DefaultKey is the Redis key holding the cached projection
const DefaultKey = "branchledger:transferred-items"

// RedisProjectionCache stores the branch projection as JSON under one key and
// a generation counter under key+":generation".
// Redisを使用した射影キャッシュ
type RedisProjectionCache struct {
	client        *redis.Client
	key           string
	generationKey string
	ttl           time.Duration
}

var _ inventory.ProjectionCache = (*RedisProjectionCache)(nil)

// NewRedisProjectionCache creates a cache backed by a new Redis client. A zero
// ttl keeps the value until the next invalidation.
// 新しいRedis射影キャッシュを作成
func NewRedisProjectionCache(addr, password string, db int, key string, ttl time.Duration) *RedisProjectionCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisProjectionCacheWithClient(client, key, ttl)
}

// NewRedisProjectionCacheWithClient wraps an existing client
func NewRedisProjectionCacheWithClient(client *redis.Client, key string, ttl time.Duration) *RedisProjectionCache {
	if key == "" {
		key = DefaultKey
	}
	return &RedisProjectionCache{
		client:        client,
		key:           key,
		generationKey: key + ":generation",
		ttl:           ttl,
	}
}

// Ping checks the Redis connection
func (c *RedisProjectionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *RedisProjectionCache) Close() error {
	return c.client.Close()
}

// Get returns the cached projection; ok is false on a miss
func (c *RedisProjectionCache) Get(ctx context.Context) ([]inventory.BranchInventory, bool, error) {
	val, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var branches []inventory.BranchInventory
	if err := json.Unmarshal(val, &branches); err != nil {
		return nil, false, err
	}
	return branches, true, nil
}

// Generation returns the current generation; a missing counter reads as 0
func (c *RedisProjectionCache) Generation(ctx context.Context) (int64, error) {
	return c.readGeneration(ctx, c.client)
}

// Set stores the projection if no invalidation happened since generation was
// read. A concurrent invalidation makes Set a no-op.
// 世代が変わっていない場合のみ射影を保存
func (c *RedisProjectionCache) Set(ctx context.Context, generation int64, value []inventory.BranchInventory) error {
	if value == nil {
		value = []inventory.BranchInventory{}
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := c.readGeneration(ctx, tx)
		if err != nil {
			return err
		}
		if current != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key, payload, c.ttl)
			return nil
		})
		return err
	}, c.generationKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// Invalidate bumps the generation and drops the cached projection
func (c *RedisProjectionCache) Invalidate(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.generationKey)
		pipe.Del(ctx, c.key)
		return nil
	})
	return err
}

// getter is satisfied by both *redis.Client and *redis.Tx
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (c *RedisProjectionCache) readGeneration(ctx context.Context, cmd getter) (int64, error) {
	generation, err := cmd.Get(ctx, c.generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return generation, err
}
