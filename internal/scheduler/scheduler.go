// Package scheduler runs the sync loop at an interval that adapts to queue depth.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/storefwd/internal/clock"
)

// Tiers maps queue depth to a dispatch interval.
type Tiers struct {
	HighLoad        time.Duration `yaml:"high_load" json:"high_load"`
	MediumLoad      time.Duration `yaml:"medium_load" json:"medium_load"`
	LowLoad         time.Duration `yaml:"low_load" json:"low_load"`
	HighThreshold   int           `yaml:"high_threshold" json:"high_threshold"`
	MediumThreshold int           `yaml:"medium_threshold" json:"medium_threshold"`
}

// DefaultTiers returns 5s above 50 pending, 10s above 20, 30s otherwise.
func DefaultTiers() Tiers {
	return Tiers{
		HighLoad:        5 * time.Second,
		MediumLoad:      10 * time.Second,
		LowLoad:         30 * time.Second,
		HighThreshold:   50,
		MediumThreshold: 20,
	}
}

// IntervalFor returns the dispatch interval for a queue of the given size.
func IntervalFor(size int, t Tiers) time.Duration {
	switch {
	case size > t.HighThreshold:
		return t.HighLoad
	case size > t.MediumThreshold:
		return t.MediumLoad
	default:
		return t.LowLoad
	}
}

// SyncFunc runs one sync cycle and returns the queue size afterwards.
type SyncFunc func(ctx context.Context) int

// PendingFunc reports the current queue size.
type PendingFunc func() int

// Scheduler calls a SyncFunc on every tick while online and the queue is not
// empty. Offline ticks are skipped; going back online triggers an immediate sync.
type Scheduler struct {
	mu       sync.Mutex
	running  bool
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}

	// resetCh and kickCh hold at most one pending signal each.
	resetCh chan struct{}
	kickCh  chan struct{}

	online  atomic.Bool
	ticks   atomic.Int64
	skipped atomic.Int64
	idle    atomic.Int64

	tiers   Tiers
	clock   clock.Clock
	sync    SyncFunc
	pending PendingFunc
	logger  zerolog.Logger
}

// New creates a stopped scheduler that starts online at the low-load interval.
// A nil pending treats the queue as never empty.
func New(tiers Tiers, clk clock.Clock, fn SyncFunc, pending PendingFunc, logger zerolog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	s := &Scheduler{
		interval: tiers.LowLoad,
		resetCh:  make(chan struct{}, 1),
		kickCh:   make(chan struct{}, 1),
		tiers:    tiers,
		clock:    clk,
		sync:     fn,
		pending:  pending,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
	s.online.Store(true)
	return s
}

// Start launches the loop. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	interval := s.interval
	s.mu.Unlock()

	go s.run(ctx, interval)
	s.logger.Info().Dur("interval", interval).Msg("scheduler started")
}

// Stop halts the loop and waits for an in-progress cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
	s.logger.Info().Int64("ticks", s.ticks.Load()).Int64("skipped", s.skipped.Load()).Msg("scheduler stopped")
}

// Reschedule recomputes the interval for size and restarts the ticker if it changed.
func (s *Scheduler) Reschedule(size int) time.Duration {
	next := IntervalFor(size, s.tiers)

	s.mu.Lock()
	changed := next != s.interval
	s.interval = next
	s.mu.Unlock()

	if changed {
		s.logger.Debug().Int("queue_size", size).Dur("interval", next).Msg("interval adjusted")
		signal(s.resetCh)
	}
	return next
}

// CurrentInterval returns the interval most recently chosen.
func (s *Scheduler) CurrentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetOnline records connectivity. An offline-to-online transition triggers an immediate sync.
func (s *Scheduler) SetOnline(online bool) {
	was := s.online.Swap(online)
	if was == online {
		return
	}
	s.logger.Info().Bool("online", online).Msg("connectivity changed")
	if online {
		signal(s.kickCh)
	}
}

// IsOnline reports the last recorded connectivity.
func (s *Scheduler) IsOnline() bool {
	return s.online.Load()
}

// Ticks returns the number of ticks observed and how many were skipped while offline.
func (s *Scheduler) Ticks() (total, skipped int64) {
	return s.ticks.Load(), s.skipped.Load()
}

// IdleTicks returns the number of online ticks skipped because the queue was empty.
func (s *Scheduler) IdleTicks() int64 {
	return s.idle.Load()
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context, interval time.Duration) {
	defer close(s.doneCh)

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-s.resetCh:
			ticker.Reset(s.CurrentInterval())
		case <-s.kickCh:
			s.cycle(ctx)
		case <-ticker.C():
			s.ticks.Add(1)
			if !s.online.Load() {
				s.skipped.Add(1)
				continue
			}
			if s.pending != nil && s.pending() == 0 {
				s.idle.Add(1)
				continue
			}
			s.cycle(ctx)
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	size := s.sync(ctx)
	s.Reschedule(size)
}
