// Package realtime keeps one change subscription per table and fans their
// events into a single channel.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

// ErrFeedClosed is returned when opening a subscription on a closed feed.
var ErrFeedClosed = errors.New("change feed is closed")

type subscription struct {
	table string
	sub   core.Subscription
	stop  chan struct{}
	done  chan struct{}
}

// Manager owns the per-table subscriptions of one feed.
type Manager struct {
	mu     sync.Mutex
	subs   map[string]*subscription
	events chan core.ChangeEvent

	received atomic.Int64

	feed   core.ChangeFeed
	logger zerolog.Logger
}

// NewManager creates a manager whose merged channel holds up to buffer events.
func NewManager(feed core.ChangeFeed, buffer int, logger zerolog.Logger) *Manager {
	if buffer <= 0 {
		buffer = 256
	}
	return &Manager{
		subs:   make(map[string]*subscription),
		events: make(chan core.ChangeEvent, buffer),
		feed:   feed,
		logger: logger.With().Str("component", "realtime").Logger(),
	}
}

// Events returns the merged event stream. It is never closed.
func (m *Manager) Events() <-chan core.ChangeEvent {
	return m.events
}

// Subscribe opens a subscription for table. Subscribing to a table that is
// already subscribed is a no-op.
func (m *Manager) Subscribe(ctx context.Context, table string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subs[table]; ok {
		return nil
	}

	sub, err := m.feed.Open(ctx, table)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", table, err)
	}

	s := &subscription{table: table, sub: sub, stop: make(chan struct{}), done: make(chan struct{})}
	m.subs[table] = s
	go m.forward(s)

	m.logger.Info().Str("table", table).Msg("subscribed")
	return nil
}

func (m *Manager) forward(s *subscription) {
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case ev, ok := <-s.sub.Events():
			if !ok {
				m.logger.Warn().Str("table", s.table).Msg("subscription ended by feed")
				m.mu.Lock()
				if m.subs[s.table] == s {
					delete(m.subs, s.table)
				}
				m.mu.Unlock()
				return
			}
			m.received.Add(1)
			select {
			case m.events <- ev:
			case <-s.stop:
				return
			}
		}
	}
}

// Unsubscribe closes the subscription for table. Unknown tables are ignored.
func (m *Manager) Unsubscribe(table string) error {
	m.mu.Lock()
	s, ok := m.subs[table]
	if ok {
		delete(m.subs, table)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return m.teardown(s)
}

// UnsubscribeAll closes every subscription.
func (m *Manager) UnsubscribeAll() error {
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := m.teardown(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) teardown(s *subscription) error {
	close(s.stop)
	err := s.sub.Close()
	<-s.done
	m.logger.Info().Str("table", s.table).Msg("unsubscribed")
	if err != nil {
		return fmt.Errorf("failed to close subscription for %s: %w", s.table, err)
	}
	return nil
}

// Tables returns the subscribed tables, sorted.
func (m *Manager) Tables() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	tables := make([]string, 0, len(m.subs))
	for t := range m.subs {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

// Count returns the number of active subscriptions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Received returns the number of events forwarded so far.
func (m *Manager) Received() int64 {
	return m.received.Load()
}
