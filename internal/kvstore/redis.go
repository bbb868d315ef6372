package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

// RedisKVStore implements core.KVStore on a single Redis node.
type RedisKVStore struct {
	client *redis.Client
	logger zerolog.Logger
	closed atomic.Bool
}

// NewRedisKVStore connects to the first endpoint in cfg and pings it.
func NewRedisKVStore(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisKVStore, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Endpoints[0],
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisKVStoreFromClient(client, logger), nil
}

// NewRedisKVStoreFromClient wraps an existing client.
func NewRedisKVStoreFromClient(client *redis.Client, logger zerolog.Logger) *RedisKVStore {
	return &RedisKVStore{client: client, logger: logger}
}

func (r *RedisKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}

	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}
	if err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("get failed")
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	r.logger.Debug().Str("key", key).Int("bytes", len(val)).Msg("get")
	return val, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if r.closed.Load() {
		return ErrClosed
	}

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("set failed")
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}

	r.logger.Debug().Str("key", key).Int("bytes", len(value)).Dur("ttl", ttl).Msg("set")
	return nil
}

func (r *RedisKVStore) Delete(ctx context.Context, key string) error {
	if r.closed.Load() {
		return ErrClosed
	}

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (r *RedisKVStore) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.client.Close()
}

// RedisFactory creates Redis-backed stores.
type RedisFactory struct{}

func (f *RedisFactory) Type() string { return "redis" }

func (f *RedisFactory) Validate(cfg Config) error {
	rc := cfg.Redis
	if len(rc.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required for Redis")
	}
	if rc.DB < 0 || rc.DB > 15 {
		return fmt.Errorf("Redis DB must be between 0 and 15, got: %d", rc.DB)
	}
	if rc.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be greater than 0, got: %d", rc.PoolSize)
	}
	if rc.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns must be non-negative, got: %d", rc.MinIdleConns)
	}
	if rc.DialTimeout <= 0 || rc.ReadTimeout <= 0 || rc.WriteTimeout <= 0 {
		return fmt.Errorf("redis timeouts must be greater than 0")
	}
	return nil
}

func (f *RedisFactory) Create(ctx context.Context, cfg Config, logger zerolog.Logger) (core.KVStore, error) {
	store, err := NewRedisKVStore(ctx, cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis KV store: %w", err)
	}
	return store, nil
}

func init() {
	RegisterFactory(&RedisFactory{})
}
