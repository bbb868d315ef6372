// Package queue holds pending operations keyed by entity, bounded in size and
// age, and parks them in a KV store so they survive restarts.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/storefwd/internal/clock"
	"github.com/rzpsarthak13/storefwd/internal/core"
)

var (
	// ErrInvalidOperation is returned by Enqueue for malformed operations.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrSnapshotTooLarge is returned by Persist when the encoded queue exceeds MaxPersistBytes.
	ErrSnapshotTooLarge = errors.New("queue snapshot too large")

	errSnapshotEncode = errors.New("failed to encode queue snapshot")
)

// Config bounds the queue.
type Config struct {
	// MaxSize is the maximum number of pending operations.
	MaxSize int `yaml:"max_size" json:"max_size"`

	// MaxAge is how long an operation may wait before it is discarded.
	MaxAge time.Duration `yaml:"max_age" json:"max_age"`

	// StorageKey is the KV key the snapshot is written under.
	StorageKey string `yaml:"storage_key" json:"storage_key"`

	// MaxPersistBytes caps the encoded snapshot size. 0 disables the check.
	MaxPersistBytes int `yaml:"max_persist_bytes" json:"max_persist_bytes"`
}

// DefaultConfig returns the default queue bounds.
func DefaultConfig() Config {
	return Config{
		MaxSize:         1000,
		MaxAge:          30 * time.Minute,
		StorageKey:      "storefwd:sync_queue",
		MaxPersistBytes: 4 << 20,
	}
}

// Prioritizer resolves the priority of a table.
type Prioritizer interface {
	PriorityOf(table string) core.Priority
}

// Counters are cumulative totals of entries removed without being dispatched.
type Counters struct {
	Expired     int
	Evicted     int
	LastCleanup time.Time
}

// Queue is a keyed, priority-ordered set of pending operations. It is safe for
// concurrent use; every mutation goes through a single mutex.
type Queue struct {
	mu       sync.Mutex
	ops      map[string]*core.Operation
	seq      uint64
	counters Counters

	// persistMu serializes snapshot writes so an older snapshot never
	// overwrites a newer one.
	persistMu sync.Mutex

	cfg        Config
	store      core.KVStore
	priorities Prioritizer
	clock      clock.Clock
	logger     zerolog.Logger
}

// New creates an empty queue. Call Load to restore a persisted snapshot.
func New(cfg Config, store core.KVStore, priorities Prioritizer, clk clock.Clock, logger zerolog.Logger) *Queue {
	def := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = def.StorageKey
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Queue{
		ops:        make(map[string]*core.Operation),
		cfg:        cfg,
		store:      store,
		priorities: priorities,
		clock:      clk,
		logger:     logger.With().Str("component", "queue").Logger(),
	}
}

// Load replaces the in-memory queue with the persisted snapshot, if any.
// Expired entries are dropped. It returns the number of operations restored.
func (q *Queue) Load(ctx context.Context) (int, error) {
	data, err := q.store.Get(ctx, q.cfg.StorageKey)
	if errors.Is(err, core.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read queue snapshot: %w", err)
	}

	now := q.clock.Now()
	res, err := decode(data, now, q.priorities.PriorityOf)
	if err != nil {
		return 0, err
	}
	for _, e := range res.errs {
		q.logger.Warn().Err(e).Msg("skipping unreadable queue entry")
	}

	q.mu.Lock()
	q.ops = make(map[string]*core.Operation, len(res.ops))
	q.seq = 0
	for _, op := range res.ops {
		if op.Seq > q.seq {
			q.seq = op.Seq
		}
	}
	for _, op := range res.ops {
		if op.Seq == 0 {
			q.seq++
			op.Seq = q.seq
		}
		q.ops[op.Key] = op
	}
	q.removeExpiredLocked(now)
	n := len(q.ops)
	q.mu.Unlock()

	q.logger.Info().Int("restored", n).Int("skipped", len(res.errs)).Msg("queue loaded")
	return n, nil
}

func validate(op *core.Operation) error {
	switch {
	case op == nil:
		return fmt.Errorf("%w: nil operation", ErrInvalidOperation)
	case op.Table == "":
		return fmt.Errorf("%w: table is required", ErrInvalidOperation)
	case op.Key == "":
		return fmt.Errorf("%w: key is required", ErrInvalidOperation)
	case !op.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	case op.Payload == nil:
		return fmt.Errorf("%w: payload is required", ErrInvalidOperation)
	}
	return nil
}

// Enqueue inserts op or overwrites the pending entry with the same key. Expired
// entries are removed first; if the queue is full, lower-priority and older
// entries are evicted to make room. The snapshot is then persisted. Persist
// failures are logged, not returned. EnqueuedAt, Priority and Seq are filled
// in on op.
func (q *Queue) Enqueue(ctx context.Context, op *core.Operation) error {
	if err := validate(op); err != nil {
		return err
	}

	q.mu.Lock()
	now := q.clock.Now()
	stored := op.Clone()
	if stored.EnqueuedAt.IsZero() {
		stored.EnqueuedAt = now
	}
	if stored.Priority == 0 {
		stored.Priority = q.priorities.PriorityOf(stored.Table)
	}
	q.seq++
	stored.Seq = q.seq

	q.removeExpiredLocked(now)
	if _, exists := q.ops[stored.Key]; !exists && len(q.ops) >= q.cfg.MaxSize {
		q.evictLocked(q.cfg.MaxSize-1, now, "")
	}
	q.ops[stored.Key] = stored
	op.EnqueuedAt, op.Priority, op.Seq = stored.EnqueuedAt, stored.Priority, stored.Seq
	q.mu.Unlock()

	q.persistBestEffort(ctx, stored.Key)
	return nil
}

// RemoveExpired drops entries waiting longer than MaxAge and returns how many were dropped.
func (q *Queue) RemoveExpired(ctx context.Context, now time.Time) int {
	q.mu.Lock()
	n := q.removeExpiredLocked(now)
	q.mu.Unlock()

	if n > 0 {
		q.persistBestEffort(ctx, "")
	}
	return n
}

func (q *Queue) removeExpiredLocked(now time.Time) int {
	removed := 0
	for key, op := range q.ops {
		if now.Sub(op.EnqueuedAt) > q.cfg.MaxAge {
			delete(q.ops, key)
			removed++
			q.logger.Warn().Str("key", key).Str("table", op.Table).
				Dur("age", now.Sub(op.EnqueuedAt)).Msg("discarding expired operation")
		}
	}
	if removed > 0 {
		q.counters.Expired += removed
		q.counters.LastCleanup = now
	}
	return removed
}

// ForceCleanup evicts entries until at most keep remain, retaining the
// highest-priority and most recent. It returns the number evicted.
func (q *Queue) ForceCleanup(ctx context.Context, keep int) int {
	q.mu.Lock()
	n := q.evictLocked(keep, q.clock.Now(), "")
	q.mu.Unlock()

	if n > 0 {
		q.persistBestEffort(ctx, "")
	}
	return n
}

func (q *Queue) evictLocked(keep int, now time.Time, protect string) int {
	if keep < 0 {
		keep = 0
	}
	if len(q.ops) <= keep {
		return 0
	}

	ranked := make([]*core.Operation, 0, len(q.ops))
	for _, op := range q.ops {
		ranked = append(ranked, op)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if (a.Key == protect) != (b.Key == protect) {
			return a.Key == protect
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.After(b.EnqueuedAt)
		}
		return a.Seq > b.Seq
	})

	evicted := ranked[keep:]
	for _, op := range evicted {
		delete(q.ops, op.Key)
	}
	q.counters.Evicted += len(evicted)
	q.counters.LastCleanup = now
	q.logger.Warn().Int("kept", keep).Int("evicted", len(evicted)).Msg("forced cleanup")
	return len(evicted)
}

// Size returns the number of pending operations.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Snapshot returns copies of the pending operations. When ordered is true they
// are sorted by priority, then enqueue time, then sequence; otherwise in
// enqueue sequence.
func (q *Queue) Snapshot(ordered bool) []*core.Operation {
	q.mu.Lock()
	out := make([]*core.Operation, 0, len(q.ops))
	for _, op := range q.ops {
		out = append(out, op.Clone())
	}
	q.mu.Unlock()

	if ordered {
		SortForDispatch(out)
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	}
	return out
}

// SortForDispatch orders ops by priority, then oldest first.
func SortForDispatch(ops []*core.Operation) {
	sort.Slice(ops, func(i, j int) bool {
		a, b := ops[i], ops[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		return a.Seq < b.Seq
	})
}

// Get returns a copy of the pending operation for key.
func (q *Queue) Get(key string) (*core.Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.ops[key]
	if !ok {
		return nil, false
	}
	return op.Clone(), true
}

// removeIfCurrent deletes key only while it still holds the operation with seq.
// A newer overwrite of the same key is left alone.
func (q *Queue) removeIfCurrent(key string, seq uint64) bool {
	op, ok := q.ops[key]
	if !ok || op.Seq != seq {
		return false
	}
	delete(q.ops, key)
	return true
}

// Complete removes a successfully dispatched operation. It reports false if
// the entry was overwritten or removed in the meantime.
func (q *Queue) Complete(key string, seq uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeIfCurrent(key, seq)
}

// Discard removes an operation that will not be retried.
func (q *Queue) Discard(key string, seq uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeIfCurrent(key, seq)
}

// MarkFailed records a failed attempt and returns the new retry count. It
// reports false if the entry was overwritten or removed in the meantime.
func (q *Queue) MarkFailed(key string, seq uint64, at time.Time) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.ops[key]
	if !ok || op.Seq != seq {
		return 0, false
	}
	op.RetryCount++
	op.LastAttemptAt = at
	return op.RetryCount, true
}

// Clear removes every pending operation and the persisted snapshot.
func (q *Queue) Clear(ctx context.Context) error {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()
	q.ops = make(map[string]*core.Operation)
	q.mu.Unlock()

	if err := q.store.Delete(ctx, q.cfg.StorageKey); err != nil {
		return fmt.Errorf("failed to delete queue snapshot: %w", err)
	}
	return nil
}

// Counters returns the cumulative expiry and eviction totals.
func (q *Queue) Counters() Counters {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.counters
}

// Persist writes the current snapshot. A snapshot that is too large or cannot
// be encoded is shrunk to half of MaxSize (or half of the current size, if
// smaller) before one retry. Storage errors only trim the queue down to
// MaxSize; pending entries stay in memory until a later write succeeds.
func (q *Queue) Persist(ctx context.Context) error {
	return q.persist(ctx, "")
}

// persist behaves like Persist but never evicts the entry stored under protect.
func (q *Queue) persist(ctx context.Context, protect string) error {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	err := q.write(ctx)
	if err == nil {
		return nil
	}

	q.mu.Lock()
	keep := q.cfg.MaxSize
	if errors.Is(err, ErrSnapshotTooLarge) || errors.Is(err, errSnapshotEncode) {
		keep = q.cfg.MaxSize / 2
		if len(q.ops) <= keep {
			keep = len(q.ops) / 2
		}
	}
	if protect != "" && keep < 1 {
		keep = 1
	}
	evicted := q.evictLocked(keep, q.clock.Now(), protect)
	q.mu.Unlock()

	q.logger.Warn().Err(err).Int("evicted", evicted).Msg("persist failed, retrying")
	if err := q.write(ctx); err != nil {
		return fmt.Errorf("failed to persist queue after cleanup: %w", err)
	}
	return nil
}

func (q *Queue) write(ctx context.Context) error {
	data, err := encode(q.Snapshot(false))
	if err != nil {
		return fmt.Errorf("%w: %w", errSnapshotEncode, err)
	}
	if q.cfg.MaxPersistBytes > 0 && len(data) > q.cfg.MaxPersistBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrSnapshotTooLarge, len(data), q.cfg.MaxPersistBytes)
	}
	if err := q.store.Set(ctx, q.cfg.StorageKey, data, 0); err != nil {
		return fmt.Errorf("failed to write queue snapshot: %w", err)
	}
	return nil
}

func (q *Queue) persistBestEffort(ctx context.Context, protect string) {
	if err := q.persist(ctx, protect); err != nil {
		q.logger.Error().Err(err).Int("size", q.Size()).Msg("queue kept in memory only")
	}
}
