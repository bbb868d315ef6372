package storefwd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/storefwd/internal/core"
	"github.com/rzpsarthak13/storefwd/internal/registry"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1000, cfg.Queue.MaxSize)
	assert.Equal(t, 30*time.Minute, cfg.Queue.MaxAge)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.HighLoad)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.MediumLoad)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.LowLoad)
	assert.Equal(t, 3, cfg.Dispatch.MaxRetries)
	assert.Equal(t, 10, cfg.Dispatch.BatchSize)
	assert.Equal(t, registry.UnknownLowest, cfg.UnknownTables)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeFile(t, "storefwd.yaml", `
queue:
  max_size: 200
  max_age: 10m
scheduler:
  high_load: 2s
dispatch:
  max_retries: 5
  drain_rate: 0
tables:
  receipts:
    priority: 1
    immutable: true
    optional_columns: [printed_at]
unknown_tables: reject
realtime:
  type: memory
  tables: [orders, products]
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.Queue.MaxSize)
	assert.Equal(t, 10*time.Minute, cfg.Queue.MaxAge)
	assert.Equal(t, "storefwd:sync_queue", cfg.Queue.StorageKey)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.HighLoad)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.LowLoad)
	assert.Equal(t, 5, cfg.Dispatch.MaxRetries)
	assert.Equal(t, 0, cfg.Dispatch.DrainRate)
	assert.Equal(t, registry.UnknownReject, cfg.UnknownTables)
	assert.Equal(t, []string{"orders", "products"}, cfg.Realtime.Tables)

	reg, err := cfg.registry()
	require.NoError(t, err)
	assert.Equal(t, core.PriorityHigh, reg.PriorityOf("receipts"))
	assert.True(t, reg.IsImmutable("receipts"))
	assert.Contains(t, reg.StrippableColumns("receipts"), "printed_at")
	assert.Equal(t, core.PriorityMedium, reg.PriorityOf(core.TableProducts))
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeFile(t, "storefwd.json", `{"queue": {"max_size": 50, "max_age": 60000000000, "storage_key": "k"}}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Queue.MaxSize)
	assert.Equal(t, time.Minute, cfg.Queue.MaxAge)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeFile(t, "storefwd.toml", "x = 1"))
	assert.ErrorContains(t, err, "unsupported config file format")

	_, err = LoadConfig(writeFile(t, "bad.yaml", "remote:\n  type: postgres\n"))
	assert.ErrorContains(t, err, "remote.type")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"STOREFWD_KVSTORE_TYPE":      "redis",
		"STOREFWD_KVSTORE_ENDPOINTS": "cache-1:6379,cache-2:6379",
		"STOREFWD_REMOTE_TYPE":       "mysql",
		"STOREFWD_MYSQL_HOST":        "db.internal",
		"STOREFWD_MYSQL_PORT":        "3307",
		"STOREFWD_KAFKA_BROKERS":     "k1:9092",
		"STOREFWD_LOG_LEVEL":         "debug",
	}
	cfg := DefaultConfig()
	applyEnv(&cfg, func(k string) string { return env[k] })

	assert.Equal(t, "redis", cfg.KVStore.Type)
	assert.Equal(t, []string{"cache-1:6379", "cache-2:6379"}, cfg.KVStore.Redis.Endpoints)
	assert.Equal(t, "mysql", cfg.Remote.Type)
	assert.Equal(t, "db.internal", cfg.Remote.MySQL.Host)
	assert.Equal(t, 3307, cfg.Remote.MySQL.Port)
	assert.Equal(t, []string{"k1:9092"}, cfg.Realtime.Kafka.Brokers)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero queue size", func(c *Config) { c.Queue.MaxSize = 0 }, "queue.max_size"},
		{"inverted thresholds", func(c *Config) { c.Scheduler.HighThreshold = 10 }, "high_threshold"},
		{"negative drain rate", func(c *Config) { c.Dispatch.DrainRate = -1 }, "drain_rate"},
		{"bad unknown policy", func(c *Config) { c.UnknownTables = "ignore" }, "unknown_tables"},
		{"bad table priority", func(c *Config) { c.Tables = map[string]registry.TablePolicy{"x": {Priority: 7}} }, "tables.x.priority"},
		{"kafka without brokers", func(c *Config) { c.Realtime.Type = "kafka"; c.Realtime.Kafka.Brokers = nil }, "brokers"},
		{"websocket without url", func(c *Config) { c.Realtime.Type = "websocket" }, "websocket.url"},
		{"sqlite without path", func(c *Config) { c.Local.Type = "sqlite" }, "local.path"},
		{"mysql without host", func(c *Config) { c.Remote.Type = "mysql"; c.Remote.MySQL.Host = "" }, "remote.mysql.host"},
		{"unknown kvstore", func(c *Config) { c.KVStore.Type = "etcd" }, "kvstore"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestNewFromConfigInMemory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dispatch.DrainRate = 0
	cfg.Realtime.Type = "memory"
	cfg.Realtime.Tables = []string{core.TableOrders}
	cfg.Local = LocalConfig{Type: "sqlite", Path: ":memory:"}

	ctx := context.Background()
	svc, err := NewFromConfig(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))

	assert.Equal(t, 1, svc.Stats().RealtimeSubscriptions)
	require.NoError(t, svc.Enqueue(ctx, core.TableOrders, core.KindInsert, &core.OrderPayload{OrderID: "o1", Total: 4}))
	assert.Equal(t, 0, svc.ForceSync(ctx).PendingChanges)
	assert.True(t, svc.TestConnection(ctx).Success)

	require.NoError(t, svc.Stop(ctx))
}
