package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

// WebsocketConfig configures the websocket change feed.
type WebsocketConfig struct {
	URL         string        `yaml:"url" json:"url"`
	APIKey      string        `yaml:"api_key" json:"api_key"`
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadLimit   int64         `yaml:"read_limit" json:"read_limit"`
}

// subscribeFrame is sent right after connecting to select the table.
type subscribeFrame struct {
	Action string `json:"action"`
	Table  string `json:"table"`
}

// WebsocketFeed opens one websocket connection per table subscription.
type WebsocketFeed struct {
	cfg    WebsocketConfig
	logger zerolog.Logger
}

// NewWebsocketFeed validates cfg and returns a feed.
func NewWebsocketFeed(cfg WebsocketConfig, logger zerolog.Logger) (*WebsocketFeed, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("websocket url is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}
	return &WebsocketFeed{cfg: cfg, logger: logger.With().Str("feed", "websocket").Logger()}, nil
}

func (f *WebsocketFeed) Open(ctx context.Context, table string) (core.Subscription, error) {
	dialCtx, cancelDial := context.WithTimeout(ctx, f.cfg.DialTimeout)
	defer cancelDial()

	opts := &websocket.DialOptions{}
	if f.cfg.APIKey != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + f.cfg.APIKey}}
	}
	conn, _, err := websocket.Dial(dialCtx, f.cfg.URL, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", f.cfg.URL, err)
	}
	conn.SetReadLimit(f.cfg.ReadLimit)

	if err := wsjson.Write(dialCtx, conn, subscribeFrame{Action: "subscribe", Table: table}); err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return nil, fmt.Errorf("failed to subscribe to %s: %w", table, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &wsSub{
		table:  table,
		conn:   conn,
		ch:     make(chan core.ChangeEvent, 64),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: f.logger.With().Str("table", table).Logger(),
	}
	go s.run(runCtx)
	return s, nil
}

type wsSub struct {
	table  string
	conn   *websocket.Conn
	ch     chan core.ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func (s *wsSub) Events() <-chan core.ChangeEvent { return s.ch }

func (s *wsSub) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)

	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				s.logger.Warn().Err(err).Msg("connection lost")
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		ev, err := DecodeEvent(data, s.table, time.Now())
		if err != nil {
			s.logger.Warn().Err(err).Msg("skipping malformed change event")
			continue
		}

		select {
		case s.ch <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (s *wsSub) Close() error {
	s.once.Do(func() {
		s.cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "unsubscribe")
		<-s.done
	})
	return nil
}
