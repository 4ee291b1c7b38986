package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig addresses the Redis server backing a shared cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"ttl"`
	// KeyPrefix namespaces the keys of one cache within a shared database.
	KeyPrefix string `yaml:"key_prefix"`
}

// RedisPresenceCache shares values across processes. Values are JSON encoded and expire after
// CacheTTL (zero keeps them until deleted), so the context of a chunk whose writer died is not
// kept forever.
//
// SetIfAbsent relies on SET with both NX and GET, which needs Redis 7 or newer.
type RedisPresenceCache[K comparable, V any] struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

// NewRedisPresenceCache dials cfg.Addr and fails unless the server answers a PING.
func NewRedisPresenceCache[K comparable, V any](ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisPresenceCache[K, V], error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Addr, err)
	}

	c := &RedisPresenceCache[K, V]{
		client: client,
		ttl:    cfg.CacheTTL,
		prefix: cfg.KeyPrefix,
		logger: logger.With().Str("component", "RedisPresenceCache").Str("key_prefix", cfg.KeyPrefix).Logger(),
	}
	c.logger.Info().Str("redis_address", cfg.Addr).Dur("ttl", cfg.CacheTTL).Msg("Connected to Redis.")
	return c, nil
}

func (c *RedisPresenceCache[K, V]) redisKey(key K) string {
	return c.prefix + fmt.Sprint(key)
}

func (c *RedisPresenceCache[K, V]) encode(rk string, value V) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value for %s: %w", rk, err)
	}
	return data, nil
}

func (c *RedisPresenceCache[K, V]) decode(rk, raw string) (V, error) {
	var value V
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return value, fmt.Errorf("failed to decode value of %s: %w", rk, err)
	}
	return value, nil
}

func (c *RedisPresenceCache[K, V]) Set(ctx context.Context, key K, value V) error {
	rk := c.redisKey(key)
	data, err := c.encode(rk, value)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, rk, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", rk, err)
	}
	return nil
}

// SetIfAbsent stores value and reads any previous value in one round trip, so two egress
// processes racing on the same chunk agree on the first context written.
func (c *RedisPresenceCache[K, V]) SetIfAbsent(ctx context.Context, key K, value V) (V, error) {
	rk := c.redisKey(key)
	data, err := c.encode(rk, value)
	if err != nil {
		var zero V
		return zero, err
	}
	held, err := c.client.SetArgs(ctx, rk, data, redis.SetArgs{Mode: "NX", TTL: c.ttl, Get: true}).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return value, nil
	case err != nil:
		var zero V
		return zero, fmt.Errorf("redis SET NX %s: %w", rk, err)
	}
	c.logger.Debug().Str("key", rk).Msg("Reusing stored value.")
	return c.decode(rk, held)
}

func (c *RedisPresenceCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	rk := c.redisKey(key)
	raw, err := c.client.Get(ctx, rk).Result()
	if err != nil {
		var zero V
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%w: %v", ErrNotFound, key)
		}
		return zero, fmt.Errorf("redis GET %s: %w", rk, err)
	}
	return c.decode(rk, raw)
}

func (c *RedisPresenceCache[K, V]) Delete(ctx context.Context, key K) error {
	rk := c.redisKey(key)
	if err := c.client.Del(ctx, rk).Err(); err != nil {
		return fmt.Errorf("redis DEL %s: %w", rk, err)
	}
	return nil
}

// Close releases the connection pool.
func (c *RedisPresenceCache[K, V]) Close() error {
	return c.client.Close()
}
