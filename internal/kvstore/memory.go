package kvstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryKVStore is a process-local store. The queue survives only as long as the process.
type MemoryKVStore struct {
	mu      sync.RWMutex
	data    map[string]memoryEntry
	setErr  error
	closed  bool
	now     func() time.Time
	setCall int
}

// NewMemoryKVStore returns an empty store.
func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{data: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryKVStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	e, ok := m.data[key]
	if !ok || (!e.expiresAt.IsZero() && m.now().After(e.expiresAt)) {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}
	return append([]byte(nil), e.value...), nil
}

func (m *MemoryKVStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.setCall++
	if m.setErr != nil {
		return fmt.Errorf("failed to set key %s: %w", key, m.setErr)
	}

	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.data[key] = e
	return nil
}

func (m *MemoryKVStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.data, key)
	return nil
}

func (m *MemoryKVStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// FailSets makes every subsequent Set return err. Pass nil to clear.
func (m *MemoryKVStore) FailSets(err error) {
	m.mu.Lock()
	m.setErr = err
	m.mu.Unlock()
}

// SetCalls reports how many times Set has been invoked.
func (m *MemoryKVStore) SetCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.setCall
}

// MemoryFactory creates in-memory stores.
type MemoryFactory struct{}

func (f *MemoryFactory) Type() string { return "memory" }

func (f *MemoryFactory) Validate(Config) error { return nil }

func (f *MemoryFactory) Create(context.Context, Config, zerolog.Logger) (core.KVStore, error) {
	return NewMemoryKVStore(), nil
}

func init() {
	RegisterFactory(&MemoryFactory{})
}
