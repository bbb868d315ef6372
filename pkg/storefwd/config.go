package storefwd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/storefwd/internal/dispatch"
	"github.com/rzpsarthak13/storefwd/internal/kvstore"
	"github.com/rzpsarthak13/storefwd/internal/queue"
	"github.com/rzpsarthak13/storefwd/internal/realtime"
	"github.com/rzpsarthak13/storefwd/internal/registry"
	"github.com/rzpsarthak13/storefwd/internal/remote"
	"github.com/rzpsarthak13/storefwd/internal/scheduler"
)

// Config represents the root configuration of the sync engine.
type Config struct {
	// Queue bounds the pending queue.
	Queue queue.Config `yaml:"queue" json:"queue"`

	// Scheduler holds the adaptive sync intervals.
	Scheduler scheduler.Tiers `yaml:"scheduler" json:"scheduler"`

	// Dispatch controls batching, retries and pacing.
	Dispatch dispatch.Config `yaml:"dispatch" json:"dispatch"`

	// Tables overrides or extends the built-in table policies.
	Tables map[string]registry.TablePolicy `yaml:"tables,omitempty" json:"tables,omitempty"`

	// UnknownTables decides what happens to tables without a policy: "lowest" or "reject".
	UnknownTables registry.UnknownTablePolicy `yaml:"unknown_tables" json:"unknown_tables"`

	// KVStore is where the pending queue is parked across restarts.
	KVStore kvstore.Config `yaml:"kvstore" json:"kvstore"`

	Remote   RemoteConfig   `yaml:"remote" json:"remote"`
	Realtime RealtimeConfig `yaml:"realtime" json:"realtime"`
	Local    LocalConfig    `yaml:"local" json:"local"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// RemoteConfig selects the remote row store.
type RemoteConfig struct {
	// Type is "mysql" or "memory".
	Type  string             `yaml:"type" json:"type"`
	MySQL remote.MySQLConfig `yaml:"mysql" json:"mysql"`

	// ProbeTable receives a write-and-delete during TestConnection. Empty disables the write probe.
	ProbeTable string `yaml:"probe_table,omitempty" json:"probe_table,omitempty"`
}

// RealtimeConfig selects the change feed and the tables subscribed on start.
type RealtimeConfig struct {
	// Type is "none", "memory", "kafka" or "websocket".
	Type      string                   `yaml:"type" json:"type"`
	Tables    []string                 `yaml:"tables,omitempty" json:"tables,omitempty"`
	Buffer    int                      `yaml:"buffer" json:"buffer"`
	Kafka     realtime.KafkaConfig     `yaml:"kafka" json:"kafka"`
	Websocket realtime.WebsocketConfig `yaml:"websocket" json:"websocket"`
}

// LocalConfig configures the mirror that receives winning remote changes.
type LocalConfig struct {
	// Type is "none" or "sqlite".
	Type string `yaml:"type" json:"type"`
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`

	// File enables rotated file output when set.
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty" json:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty" json:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty" json:"max_age_days,omitempty"`

	// Console selects human-readable output instead of JSON on stderr.
	Console bool `yaml:"console" json:"console"`
}

// DefaultConfig returns a configuration that runs entirely in memory.
func DefaultConfig() Config {
	return Config{
		Queue:         queue.DefaultConfig(),
		Scheduler:     scheduler.DefaultTiers(),
		Dispatch:      dispatch.DefaultConfig(),
		UnknownTables: registry.UnknownLowest,
		KVStore:       kvstore.DefaultConfig(),
		Remote: RemoteConfig{
			Type:       "memory",
			MySQL:      remote.DefaultMySQLConfig(),
			ProbeTable: "sync_test",
		},
		Realtime: RealtimeConfig{
			Type:   "none",
			Buffer: 256,
			Kafka:  realtime.DefaultKafkaConfig(),
			Websocket: realtime.WebsocketConfig{
				DialTimeout: 10 * time.Second,
				ReadLimit:   1 << 20,
			},
		},
		Local: LocalConfig{Type: "none"},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Console:    true,
		},
	}
}

// LoadConfig reads a YAML or JSON file over the defaults, applies STOREFWD_*
// environment overrides and validates the result. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
			}
		case ".json":
			if err := json.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse JSON config: %w", err)
			}
		default:
			return Config{}, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
		}
	}

	applyEnv(&cfg, os.Getenv)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides connection settings from the environment:
//   - STOREFWD_KVSTORE_TYPE, STOREFWD_KVSTORE_ENDPOINTS (comma separated)
//   - STOREFWD_REMOTE_TYPE, STOREFWD_MYSQL_HOST, STOREFWD_MYSQL_PORT,
//     STOREFWD_MYSQL_DATABASE, STOREFWD_MYSQL_USERNAME, STOREFWD_MYSQL_PASSWORD
//   - STOREFWD_REALTIME_TYPE, STOREFWD_KAFKA_BROKERS, STOREFWD_WEBSOCKET_URL
//   - STOREFWD_LOG_LEVEL
func applyEnv(cfg *Config, getenv func(string) string) {
	set := func(name string, dst *string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if v := getenv(name); v != "" {
			*dst = strings.Split(v, ",")
		}
	}

	set("STOREFWD_KVSTORE_TYPE", &cfg.KVStore.Type)
	list("STOREFWD_KVSTORE_ENDPOINTS", &cfg.KVStore.Redis.Endpoints)

	set("STOREFWD_REMOTE_TYPE", &cfg.Remote.Type)
	set("STOREFWD_MYSQL_HOST", &cfg.Remote.MySQL.Host)
	if v := getenv("STOREFWD_MYSQL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Remote.MySQL.Port = port
		}
	}
	set("STOREFWD_MYSQL_DATABASE", &cfg.Remote.MySQL.Database)
	set("STOREFWD_MYSQL_USERNAME", &cfg.Remote.MySQL.Username)
	set("STOREFWD_MYSQL_PASSWORD", &cfg.Remote.MySQL.Password)

	set("STOREFWD_REALTIME_TYPE", &cfg.Realtime.Type)
	list("STOREFWD_KAFKA_BROKERS", &cfg.Realtime.Kafka.Brokers)
	set("STOREFWD_WEBSOCKET_URL", &cfg.Realtime.Websocket.URL)

	set("STOREFWD_LOG_LEVEL", &cfg.Logging.Level)
}

// Validate checks the configuration for values the engine cannot run with.
func (c Config) Validate() error {
	if c.Queue.MaxSize <= 0 {
		return fmt.Errorf("queue.max_size must be greater than 0")
	}
	if c.Queue.MaxAge <= 0 {
		return fmt.Errorf("queue.max_age must be greater than 0")
	}
	if c.Queue.StorageKey == "" {
		return fmt.Errorf("queue.storage_key is required")
	}

	s := c.Scheduler
	if s.HighLoad <= 0 || s.MediumLoad <= 0 || s.LowLoad <= 0 {
		return fmt.Errorf("scheduler intervals must be greater than 0")
	}
	if s.HighThreshold < s.MediumThreshold {
		return fmt.Errorf("scheduler.high_threshold must be >= scheduler.medium_threshold")
	}

	if c.Dispatch.BatchSize <= 0 {
		return fmt.Errorf("dispatch.batch_size must be greater than 0")
	}
	if c.Dispatch.MaxRetries <= 0 {
		return fmt.Errorf("dispatch.max_retries must be greater than 0")
	}
	if c.Dispatch.DrainRate < 0 {
		return fmt.Errorf("dispatch.drain_rate must be non-negative")
	}

	if !c.UnknownTables.Valid() {
		return fmt.Errorf("unknown_tables must be 'lowest' or 'reject'")
	}
	for name, p := range c.Tables {
		if p.Priority < 1 || p.Priority > 3 {
			return fmt.Errorf("tables.%s.priority must be between 1 and 3", name)
		}
	}

	if err := kvstore.Validate(c.KVStore); err != nil {
		return fmt.Errorf("kvstore validation failed: %w", err)
	}

	switch c.Remote.Type {
	case "memory":
	case "mysql":
		m := c.Remote.MySQL
		if m.Host == "" {
			return fmt.Errorf("remote.mysql.host is required")
		}
		if m.Port <= 0 || m.Port > 65535 {
			return fmt.Errorf("remote.mysql.port must be between 1 and 65535")
		}
		if m.Database == "" {
			return fmt.Errorf("remote.mysql.database is required")
		}
		if m.Username == "" {
			return fmt.Errorf("remote.mysql.username is required")
		}
	default:
		return fmt.Errorf("remote.type must be 'mysql' or 'memory'")
	}

	switch c.Realtime.Type {
	case "", "none", "memory":
	case "kafka":
		if len(c.Realtime.Kafka.Brokers) == 0 {
			return fmt.Errorf("realtime.kafka.brokers is required when realtime.type is 'kafka'")
		}
	case "websocket":
		if c.Realtime.Websocket.URL == "" {
			return fmt.Errorf("realtime.websocket.url is required when realtime.type is 'websocket'")
		}
	default:
		return fmt.Errorf("realtime.type must be 'none', 'memory', 'kafka' or 'websocket'")
	}

	switch c.Local.Type {
	case "", "none":
	case "sqlite":
		if c.Local.Path == "" {
			return fmt.Errorf("local.path is required when local.type is 'sqlite'")
		}
	default:
		return fmt.Errorf("local.type must be 'none' or 'sqlite'")
	}
	return nil
}

// registry builds the table registry from the built-in policies and overrides.
func (c Config) registry() (*registry.TableRegistry, error) {
	reg := registry.NewTableRegistry(c.UnknownTables)
	for name, p := range c.Tables {
		if err := reg.Register(name, p); err != nil {
			return nil, fmt.Errorf("failed to register table %s: %w", name, err)
		}
	}
	return reg, nil
}
