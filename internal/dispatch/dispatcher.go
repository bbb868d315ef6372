// Package dispatch drains queued operations to the remote store with retry,
// backoff and poison-entry dropping.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/storefwd/internal/clock"
	"github.com/rzpsarthak13/storefwd/internal/core"
	"github.com/rzpsarthak13/storefwd/internal/queue"
)

// Config controls batching, retries and pacing.
type Config struct {
	// BatchSize is the maximum number of operations attempted per cycle.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// MaxRetries is the number of failed attempts after which an operation is dropped.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// BackoffBase is multiplied by 2^retries to get the wait before the next attempt.
	BackoffBase time.Duration `yaml:"backoff_base" json:"backoff_base"`

	// BackoffMax caps the backoff.
	BackoffMax time.Duration `yaml:"backoff_max" json:"backoff_max"`

	// DrainRate is the maximum number of remote calls per second. 0 means unlimited.
	DrainRate int `yaml:"drain_rate" json:"drain_rate"`
}

// DefaultConfig returns batches of 10, three attempts and 1s..30s backoff at 50 calls/s.
func DefaultConfig() Config {
	return Config{
		BatchSize:   10,
		MaxRetries:  3,
		BackoffBase: time.Second,
		BackoffMax:  30 * time.Second,
		DrainRate:   50,
	}
}

// Backoff returns min(base*2^retries, max).
func (c Config) Backoff(retries int) time.Duration {
	d := c.BackoffBase
	for i := 0; i < retries; i++ {
		d *= 2
		if d >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	if d > c.BackoffMax {
		return c.BackoffMax
	}
	return d
}

// Result summarises one dispatch cycle.
type Result struct {
	Synced  int
	Errored int
	Dropped int
	Skipped int

	// Remaining is the queue size after the cycle.
	Remaining int

	Duration  time.Duration
	StartedAt time.Time

	// LastError describes the failures of the cycle; empty if none.
	LastError string
}

// ColumnPolicy lists the columns that may be stripped on a schema mismatch.
type ColumnPolicy interface {
	StrippableColumns(table string) []string
}

// Dispatcher executes batches against a RemoteStore. At most one cycle runs at a time.
type Dispatcher struct {
	inFlight atomic.Bool

	cfg     Config
	queue   *queue.Queue
	remote  core.RemoteStore
	columns ColumnPolicy
	clock   clock.Clock
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// New creates a dispatcher.
func New(cfg Config, q *queue.Queue, remote core.RemoteStore, columns ColumnPolicy, clk clock.Clock, logger zerolog.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if clk == nil {
		clk = clock.New()
	}

	limit := rate.Inf
	if cfg.DrainRate > 0 {
		limit = rate.Limit(cfg.DrainRate)
	}

	return &Dispatcher{
		cfg:     cfg,
		queue:   q,
		remote:  remote,
		columns: columns,
		clock:   clk,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With().Str("component", "dispatcher").Logger(),
	}
}

// InFlight reports whether a cycle is running.
func (d *Dispatcher) InFlight() bool {
	return d.inFlight.Load()
}

// ready reports whether op's backoff window has elapsed.
func (d *Dispatcher) ready(op *core.Operation, now time.Time) bool {
	if op.RetryCount == 0 || op.LastAttemptAt.IsZero() {
		return true
	}
	return !now.Before(op.LastAttemptAt.Add(d.cfg.Backoff(op.RetryCount)))
}

// Run drains one batch in priority order, oldest first within a priority.
// It returns false without doing any work if another cycle is in flight.
func (d *Dispatcher) Run(ctx context.Context) (Result, bool) {
	if !d.inFlight.CompareAndSwap(false, true) {
		return Result{}, false
	}
	defer d.inFlight.Store(false)

	start := d.clock.Now()
	res := Result{StartedAt: start}

	var batch []*core.Operation
	for _, op := range d.queue.Snapshot(true) {
		if len(batch) == d.cfg.BatchSize {
			break
		}
		if !d.ready(op, start) {
			res.Skipped++
			continue
		}
		batch = append(batch, op)
	}

	var failures []string
	for _, op := range batch {
		if err := d.limiter.Wait(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("cycle interrupted")
			break
		}

		err := d.execute(ctx, op)
		if err == nil {
			d.queue.Complete(op.Key, op.Seq)
			res.Synced++
			d.logger.Debug().Str("key", op.Key).Str("kind", string(op.Kind)).Msg("synced")
			continue
		}

		res.Errored++
		failures = append(failures, fmt.Sprintf("%s: %v", op.Key, err))

		retries, ok := d.queue.MarkFailed(op.Key, op.Seq, d.clock.Now())
		if !ok {
			// Overwritten while in flight; the newer entry starts fresh.
			continue
		}
		if retries >= d.cfg.MaxRetries {
			d.queue.Discard(op.Key, op.Seq)
			res.Dropped++
			d.logger.Error().Err(err).Str("key", op.Key).Int("retries", retries).Msg("dropping operation after max retries")
			continue
		}
		d.logger.Warn().Err(err).Str("key", op.Key).Int("retries", retries).
			Dur("backoff", d.cfg.Backoff(retries)).Msg("dispatch failed")
	}

	if res.Synced > 0 || res.Errored > 0 {
		if err := d.queue.Persist(ctx); err != nil {
			d.logger.Error().Err(err).Msg("failed to persist queue after cycle")
		}
	}

	if len(failures) > 0 {
		res.LastError = fmt.Sprintf("%d operation(s) failed: %s", len(failures), strings.Join(failures, "; "))
	}
	res.Remaining = d.queue.Size()
	res.Duration = d.clock.Now().Sub(start)
	return res, true
}

// execute performs op against the remote store. A schema mismatch is retried
// once with the offending and optional columns removed.
func (d *Dispatcher) execute(ctx context.Context, op *core.Operation) error {
	if op.Kind == core.KindDelete {
		return d.remote.Delete(ctx, op.Table, op.EntityID())
	}

	record := op.Payload.Record()
	record["synced_at"] = d.clock.Now().UTC()

	err := d.send(ctx, op, record)

	var mismatch *core.SchemaMismatchError
	if !errors.As(err, &mismatch) {
		return err
	}

	stripped := record.Clone()
	if mismatch.Column != "" {
		delete(stripped, mismatch.Column)
	}
	if d.columns != nil {
		for _, col := range d.columns.StrippableColumns(op.Table) {
			delete(stripped, col)
		}
	}
	d.logger.Warn().Str("key", op.Key).Str("column", mismatch.Column).Msg("schema mismatch, retrying with stripped record")
	return d.send(ctx, op, stripped)
}

func (d *Dispatcher) send(ctx context.Context, op *core.Operation, record core.Record) error {
	switch op.Kind {
	case core.KindUpdate:
		return d.remote.Update(ctx, op.Table, record)
	case core.KindInsert:
		if record.ID() == "" {
			return d.remote.Insert(ctx, op.Table, record)
		}
		return d.remote.Upsert(ctx, op.Table, record)
	default:
		return d.remote.Upsert(ctx, op.Table, record)
	}
}
