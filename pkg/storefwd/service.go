// Package storefwd queues local mutations while offline and forwards them to a
// remote row store, merging realtime remote changes on the way.
//
// Typical usage:
//
//	svc, _ := storefwd.NewFromConfig(ctx, cfg, logger)
//	svc.Start(ctx)
//	defer svc.Stop(ctx)
//
//	svc.Enqueue(ctx, core.TableOrders, core.KindInsert, &core.OrderPayload{OrderID: "o1", Total: 10})
//	status := svc.ForceSync(ctx)
package storefwd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/storefwd/internal/clock"
	"github.com/rzpsarthak13/storefwd/internal/conflict"
	"github.com/rzpsarthak13/storefwd/internal/core"
	"github.com/rzpsarthak13/storefwd/internal/dispatch"
	"github.com/rzpsarthak13/storefwd/internal/queue"
	"github.com/rzpsarthak13/storefwd/internal/realtime"
	"github.com/rzpsarthak13/storefwd/internal/registry"
	"github.com/rzpsarthak13/storefwd/internal/scheduler"
)

var (
	// ErrRealtimeDisabled is returned by EnableRealtime when no change feed is configured.
	ErrRealtimeDisabled = errors.New("realtime feed is not configured")

	// ErrAlreadyStarted is returned by Start on a running service.
	ErrAlreadyStarted = errors.New("service already started")
)

// Options carries the collaborators of a Service.
type Options struct {
	// Store parks the pending queue across restarts. Required.
	Store core.KVStore

	// Remote receives dispatched operations. Required.
	Remote core.RemoteStore

	// Feed delivers remote changes. Nil disables realtime merging.
	Feed core.ChangeFeed

	// Local receives remote changes that win. Nil drops them after resolution.
	Local core.LocalApplier

	Clock  clock.Clock
	Logger zerolog.Logger
}

// Service is the composition root: it owns the queue, scheduler, dispatcher
// and realtime channel.
type Service struct {
	cfg        Config
	registry   *registry.TableRegistry
	queue      *queue.Queue
	scheduler  *scheduler.Scheduler
	dispatcher *dispatch.Dispatcher
	resolver   *conflict.Resolver
	realtime   *realtime.Manager
	remote     core.RemoteStore
	local      core.LocalApplier
	clock      clock.Clock
	logger     zerolog.Logger
	stats      statsRecorder

	mu        sync.Mutex
	lastSync  time.Time
	lastError string
	started   bool
	cancel    context.CancelFunc
	drainDone chan struct{}

	// closers are released by Stop; set by NewFromConfig for the resources it opened.
	closers []io.Closer
}

// New wires a service from cfg and the given collaborators. It does not load
// the persisted queue or start any goroutine; see Start.
func New(cfg Config, opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("kv store cannot be nil")
	}
	if opts.Remote == nil {
		return nil, fmt.Errorf("remote store cannot be nil")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	reg, err := cfg.registry()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger.With().Str("component", "service").Logger()
	s := &Service{
		cfg:      cfg,
		registry: reg,
		resolver: conflict.NewResolver(reg),
		remote:   opts.Remote,
		local:    opts.Local,
		clock:    opts.Clock,
		logger:   logger,
	}
	s.queue = queue.New(cfg.Queue, opts.Store, reg, opts.Clock, opts.Logger)
	s.dispatcher = dispatch.New(cfg.Dispatch, s.queue, opts.Remote, reg, opts.Clock, opts.Logger)
	s.scheduler = scheduler.New(cfg.Scheduler, opts.Clock, func(ctx context.Context) int {
		s.Sync(ctx)
		return s.queue.Size()
	}, s.queue.Size, opts.Logger)
	if opts.Feed != nil {
		s.realtime = realtime.NewManager(opts.Feed, cfg.Realtime.Buffer, opts.Logger)
	}
	return s, nil
}

// Enqueue records a local mutation. It only fails for invalid input: an
// unknown kind, a missing id, a payload that belongs to another table, or an
// unregistered table under the reject policy. It never touches the network.
func (s *Service) Enqueue(ctx context.Context, table string, kind core.Kind, payload core.Payload) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", queue.ErrInvalidOperation, kind)
	}
	if payload == nil {
		return fmt.Errorf("%w: payload is required", queue.ErrInvalidOperation)
	}
	if payload.Table() != table {
		return fmt.Errorf("%w: payload for %s enqueued on %s", queue.ErrInvalidOperation, payload.Table(), table)
	}

	policy, err := s.registry.Lookup(table)
	if err != nil {
		return err
	}

	id := payload.ID()
	if id == "" && kind.RequiresID() {
		return fmt.Errorf("%w: %s on %s requires an id", queue.ErrInvalidOperation, kind, table)
	}
	keyID := id
	if keyID == "" {
		keyID = uuid.NewString()
	}

	op := &core.Operation{
		Key:      core.EntityKey(table, keyID),
		Table:    table,
		Kind:     kind,
		Payload:  payload,
		Priority: policy.Priority,
	}
	if m, ok := payload.(core.SyncMarker); ok {
		op.SyncedAt = m.LastSynced()
	}

	if err := s.queue.Enqueue(ctx, op); err != nil {
		return err
	}
	s.stats.enqueue()

	size := s.queue.Size()
	s.scheduler.Reschedule(size)
	s.logger.Debug().Str("key", op.Key).Str("kind", string(kind)).Int("queue_size", size).Msg("enqueued")
	return nil
}

// Sync runs one dispatch cycle. If a cycle is already in flight it returns the
// current status without doing any work. Failures are reported in the status,
// never as an error.
func (s *Service) Sync(ctx context.Context) core.QueueStatus {
	now := s.clock.Now()
	if n := s.queue.RemoveExpired(ctx, now); n > 0 {
		s.logger.Info().Int("expired", n).Msg("removed expired operations")
	}
	s.stats.sample(s.queue.Size())

	res, ok := s.dispatcher.Run(ctx)
	if !ok {
		s.logger.Debug().Msg("sync already in progress")
		return s.Status()
	}
	s.stats.cycle(res)

	s.mu.Lock()
	s.lastSync = s.clock.Now()
	s.lastError = res.LastError
	s.mu.Unlock()

	s.scheduler.Reschedule(res.Remaining)

	if res.Synced > 0 || res.Errored > 0 {
		s.logger.Info().
			Int("synced", res.Synced).
			Int("errored", res.Errored).
			Int("dropped", res.Dropped).
			Int("skipped", res.Skipped).
			Int("remaining", res.Remaining).
			Dur("duration", res.Duration).
			Msg("sync cycle completed")
	}
	return s.Status()
}

// ForceSync runs a cycle immediately, regardless of the scheduler interval.
func (s *Service) ForceSync(ctx context.Context) core.QueueStatus {
	s.logger.Info().Int("queue_size", s.queue.Size()).Msg("forced sync")
	return s.Sync(ctx)
}

// Status returns a snapshot of the engine state.
func (s *Service) Status() core.QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.QueueStatus{
		LastSync:       s.lastSync,
		PendingChanges: s.queue.Size(),
		IsOnline:       s.scheduler.IsOnline(),
		SyncError:      s.lastError,
	}
}

// Pending returns the queued operations in dispatch order.
func (s *Service) Pending() []*core.Operation {
	return s.queue.Snapshot(true)
}

// Start restores the persisted queue, starts the scheduler and subscribes to
// the configured realtime tables. Restore and subscription failures are
// logged; the service runs with whatever it could set up.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	n, err := s.queue.Load(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to restore queue, starting empty")
	} else if n > 0 {
		s.logger.Info().Int("restored", n).Msg("restored pending operations")
	}

	s.scheduler.Reschedule(s.queue.Size())
	s.scheduler.Start(runCtx)

	if s.realtime != nil {
		done := make(chan struct{})
		s.mu.Lock()
		s.drainDone = done
		s.mu.Unlock()
		go s.drainRealtime(runCtx, done)

		if len(s.cfg.Realtime.Tables) > 0 {
			if err := s.EnableRealtime(runCtx, s.cfg.Realtime.Tables...); err != nil {
				s.logger.Warn().Err(err).Msg("some realtime subscriptions failed")
			}
		}
	}

	s.logger.Info().Int("queue_size", s.queue.Size()).Dur("interval", s.scheduler.CurrentInterval()).Msg("service started")
	return nil
}

// Stop halts the scheduler and realtime subscriptions, persists the queue and
// releases owned resources. It is safe to call on a stopped service.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.drainDone
	s.started = false
	s.cancel = nil
	s.drainDone = nil
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	s.scheduler.Stop()

	var errs []error
	if s.realtime != nil {
		if err := s.realtime.UnsubscribeAll(); err != nil {
			errs = append(errs, err)
		}
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	if err := s.queue.Persist(ctx); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist queue on stop")
	}

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Info().Int("queue_size", s.queue.Size()).Msg("service stopped")
	return errors.Join(errs...)
}

// SetOnline records connectivity. Scheduled syncs pause while offline and an
// immediate sync runs on reconnect.
func (s *Service) SetOnline(online bool) {
	s.scheduler.SetOnline(online)
}

// EnableRealtime subscribes to remote changes for tables. Subscribing twice is a no-op.
func (s *Service) EnableRealtime(ctx context.Context, tables ...string) error {
	if s.realtime == nil {
		return ErrRealtimeDisabled
	}
	var errs []error
	for _, t := range tables {
		if err := s.realtime.Subscribe(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DisableRealtime unsubscribes tables, or every table when none are given.
func (s *Service) DisableRealtime(tables ...string) error {
	if s.realtime == nil {
		return nil
	}
	if len(tables) == 0 {
		return s.realtime.UnsubscribeAll()
	}
	var errs []error
	for _, t := range tables {
		if err := s.realtime.Unsubscribe(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ClearQueue drops every pending operation, in memory and in storage.
func (s *Service) ClearQueue(ctx context.Context) error {
	n := s.queue.Size()
	if err := s.queue.Clear(ctx); err != nil {
		return err
	}
	s.scheduler.Reschedule(0)
	s.logger.Warn().Int("removed", n).Msg("cleared sync queue")
	return nil
}

// CurrentInterval returns the scheduler's current tick interval.
func (s *Service) CurrentInterval() time.Duration {
	return s.scheduler.CurrentInterval()
}

// Stats returns detailed counters for monitoring.
func (s *Service) Stats() Stats {
	var st Stats
	s.stats.fill(&st)

	c := s.queue.Counters()
	st.TotalExpired = c.Expired
	st.TotalEvicted = c.Evicted
	st.LastCleanup = c.LastCleanup
	st.CurrentQueueSize = s.queue.Size()
	st.CurrentInterval = s.scheduler.CurrentInterval()
	st.SyncInProgress = s.dispatcher.InFlight()

	s.mu.Lock()
	st.LastSync = s.lastSync
	s.mu.Unlock()

	if s.realtime != nil {
		st.RealtimeSubscriptions = s.realtime.Count()
		st.RealtimeEvents = s.realtime.Received()
	}
	return st
}

// drainRealtime resolves every inbound change against the queue until ctx ends.
func (s *Service) drainRealtime(ctx context.Context, done chan struct{}) {
	defer close(done)
	events := s.realtime.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			s.handleChange(ctx, ev)
		}
	}
}

// handleChange merges one remote change. A queued operation on the same entity
// is either kept (its next dispatch overwrites the remote) or discarded in
// favour of the remote change, which is then applied locally.
func (s *Service) handleChange(ctx context.Context, ev core.ChangeEvent) {
	id := ev.EntityID()
	if id == "" {
		return
	}
	key := core.EntityKey(ev.Table, id)
	log := s.logger.With().Str("key", key).Str("type", string(ev.Type)).Logger()

	if op, ok := s.queue.Get(key); ok {
		d := s.resolver.Resolve(op, ev)
		if d.Winner == conflict.Local {
			s.stats.conflict(false)
			log.Info().Str("reason", d.Reason).Msg("conflict: keeping local change")
			return
		}
		s.stats.conflict(true)
		if s.queue.Discard(op.Key, op.Seq) {
			if err := s.queue.Persist(ctx); err != nil {
				log.Error().Err(err).Msg("failed to persist queue after conflict")
			}
		}
		log.Info().Str("reason", d.Reason).Msg("conflict: remote change wins")
	}

	if s.local == nil {
		return
	}
	if err := s.local.Apply(ctx, ev); err != nil {
		log.Error().Err(err).Msg("failed to apply remote change locally")
		return
	}
	s.stats.apply()
}

// ConnectionResult reports a TestConnection probe.
type ConnectionResult struct {
	Success   bool          `json:"success"`
	Connected bool          `json:"connected"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

// TestConnection pings the remote store and, when a probe table is
// configured, writes and deletes a marker row.
func (s *Service) TestConnection(ctx context.Context) ConnectionResult {
	pinger, ok := s.remote.(core.Pinger)
	if !ok {
		return ConnectionResult{Error: "remote store does not support connectivity checks"}
	}

	start := s.clock.Now()
	err := pinger.Ping(ctx)
	res := ConnectionResult{Latency: s.clock.Now().Sub(start)}
	if err != nil {
		res.Error = fmt.Sprintf("connection test failed: %v", err)
		return res
	}
	res.Connected = true

	if table := s.cfg.Remote.ProbeTable; table != "" {
		id := "test_" + uuid.NewString()
		probe := core.Record{"id": id, "test_timestamp": s.clock.Now().UTC(), "source": "sync_test"}
		if err := s.remote.Upsert(ctx, table, probe); err != nil {
			res.Error = fmt.Sprintf("write test failed: %v", err)
			return res
		}
		if err := s.remote.Delete(ctx, table, id); err != nil {
			s.logger.Warn().Err(err).Str("table", table).Msg("failed to remove probe row")
		}
	}

	res.Success = true
	return res
}
