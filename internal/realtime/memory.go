package realtime

import (
	"context"
	"sync"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

// MemoryFeed is an in-process change feed driven by Publish.
type MemoryFeed struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
}

// NewMemoryFeed returns an open feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string]map[*memorySub]struct{})}
}

type memorySub struct {
	feed  *MemoryFeed
	table string
	ch    chan core.ChangeEvent
	done  chan struct{}
	once  sync.Once
}

func (s *memorySub) Events() <-chan core.ChangeEvent { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		// Unblock a Publish waiting on a full buffer before taking the lock.
		close(s.done)
		s.feed.mu.Lock()
		delete(s.feed.subs[s.table], s)
		close(s.ch)
		s.feed.mu.Unlock()
	})
	return nil
}

func (f *MemoryFeed) Open(_ context.Context, table string) (core.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrFeedClosed
	}
	s := &memorySub{feed: f, table: table, ch: make(chan core.ChangeEvent, 64), done: make(chan struct{})}
	if f.subs[table] == nil {
		f.subs[table] = make(map[*memorySub]struct{})
	}
	f.subs[table][s] = struct{}{}
	return s, nil
}

// Publish delivers ev to every subscriber of ev.Table and returns how many received it.
func (f *MemoryFeed) Publish(ev core.ChangeEvent) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for s := range f.subs[ev.Table] {
		select {
		case s.ch <- ev:
			n++
		case <-s.done:
		}
	}
	return n
}

// Subscribers returns the number of open subscriptions for table.
func (f *MemoryFeed) Subscribers(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[table])
}

// Close ends every subscription and rejects new ones.
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	f.closed = true
	var all []*memorySub
	for _, set := range f.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	f.mu.Unlock()

	for _, s := range all {
		_ = s.Close()
	}
	return nil
}
