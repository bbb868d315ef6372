package storefwd

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/storefwd/internal/clock"
	"github.com/rzpsarthak13/storefwd/internal/core"
	"github.com/rzpsarthak13/storefwd/internal/kvstore"
	"github.com/rzpsarthak13/storefwd/internal/local"
	"github.com/rzpsarthak13/storefwd/internal/realtime"
	"github.com/rzpsarthak13/storefwd/internal/remote"
)

// NewFromConfig opens every backend named by cfg and wires a Service around
// them. The backends are closed by Service.Stop.
func NewFromConfig(ctx context.Context, cfg Config, logger zerolog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var closers []io.Closer
	fail := func(err error) (*Service, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
		return nil, err
	}

	store, err := kvstore.Create(ctx, cfg.KVStore, logger)
	if err != nil {
		return fail(fmt.Errorf("failed to create kv store: %w", err))
	}
	closers = append(closers, store)

	rs, err := openRemote(ctx, cfg.Remote, logger)
	if err != nil {
		return fail(err)
	}
	if c, ok := rs.(io.Closer); ok {
		closers = append(closers, c)
	}

	feed, err := openFeed(cfg.Realtime, logger)
	if err != nil {
		return fail(err)
	}
	if c, ok := feed.(io.Closer); ok {
		closers = append(closers, c)
	}

	opts := Options{
		Store:  store,
		Remote: rs,
		Feed:   feed,
		Clock:  clock.New(),
		Logger: logger,
	}

	if cfg.Local.Type == "sqlite" {
		mirror, err := local.OpenSQLiteMirror(ctx, cfg.Local.Path, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, mirror)
		opts.Local = mirror
	}

	svc, err := New(cfg, opts)
	if err != nil {
		return fail(err)
	}
	svc.closers = closers
	return svc, nil
}

func openRemote(ctx context.Context, cfg RemoteConfig, logger zerolog.Logger) (core.RemoteStore, error) {
	switch cfg.Type {
	case "mysql":
		store, err := remote.NewMySQLStore(ctx, cfg.MySQL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to remote store: %w", err)
		}
		return store, nil
	case "memory", "":
		return remote.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported remote type: %s", cfg.Type)
	}
}

// openFeed returns a nil feed when realtime is disabled.
func openFeed(cfg RealtimeConfig, logger zerolog.Logger) (core.ChangeFeed, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return realtime.NewMemoryFeed(), nil
	case "kafka":
		feed, err := realtime.NewKafkaFeed(cfg.Kafka, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka feed: %w", err)
		}
		return feed, nil
	case "websocket":
		feed, err := realtime.NewWebsocketFeed(cfg.Websocket, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create websocket feed: %w", err)
		}
		return feed, nil
	default:
		return nil, fmt.Errorf("unsupported realtime type: %s", cfg.Type)
	}
}
