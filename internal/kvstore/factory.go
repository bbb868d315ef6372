package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kv store is closed")

// Factory creates one KV store backend. Each backend registers itself from init.
type Factory interface {
	// Create opens a store from the configuration.
	Create(ctx context.Context, cfg Config, logger zerolog.Logger) (core.KVStore, error)

	// Type returns the backend identifier used in Config.Type.
	Type() string

	// Validate checks the backend-specific part of the configuration.
	Validate(cfg Config) error
}

// Config selects and configures the backend that parks the pending queue.
type Config struct {
	Type     string         `yaml:"type" json:"type"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb" json:"dynamodb"`
}

// RedisConfig holds connection settings for the Redis backend.
type RedisConfig struct {
	Endpoints    []string      `yaml:"endpoints" json:"endpoints"`
	Password     string        `yaml:"password" json:"password"`
	DB           int           `yaml:"db" json:"db"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" json:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// DynamoDBConfig holds settings for the DynamoDB backend.
type DynamoDBConfig struct {
	Region          string `yaml:"region" json:"region"`
	TableName       string `yaml:"table_name" json:"table_name"`
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key"`
}

// DefaultConfig returns an in-memory store configuration with Redis defaults filled in.
func DefaultConfig() Config {
	return Config{
		Type: "memory",
		Redis: RedisConfig{
			Endpoints:    []string{"localhost:6379"},
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}
}

var (
	factories   = make(map[string]Factory)
	factoriesMu sync.RWMutex
)

// RegisterFactory registers a backend factory. It panics on duplicates.
func RegisterFactory(factory Factory) {
	if factory == nil {
		panic("factory cannot be nil")
	}
	if factory.Type() == "" {
		panic("factory type cannot be empty")
	}

	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if _, exists := factories[factory.Type()]; exists {
		panic(fmt.Sprintf("factory for type %q is already registered", factory.Type()))
	}
	factories[factory.Type()] = factory
}

// Create opens the store selected by cfg.Type.
func Create(ctx context.Context, cfg Config, logger zerolog.Logger) (core.KVStore, error) {
	factory, err := lookup(cfg.Type)
	if err != nil {
		return nil, err
	}
	if err := factory.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", cfg.Type, err)
	}
	return factory.Create(ctx, cfg, logger.With().Str("component", "kvstore").Str("backend", cfg.Type).Logger())
}

// Validate checks cfg against the selected backend without connecting.
func Validate(cfg Config) error {
	factory, err := lookup(cfg.Type)
	if err != nil {
		return err
	}
	return factory.Validate(cfg)
}

func lookup(storeType string) (Factory, error) {
	if storeType == "" {
		return nil, fmt.Errorf("kvstore type is required")
	}

	factoriesMu.RLock()
	factory, exists := factories[storeType]
	factoriesMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported KV store type: %s", storeType)
	}
	return factory, nil
}

// RegisteredTypes returns the registered backend identifiers, sorted.
func RegisteredTypes() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
