package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/storefwd/internal/clock"
)

func TestIntervalFor(t *testing.T) {
	tiers := DefaultTiers()

	cases := []struct {
		size int
		want time.Duration
	}{
		{0, 30 * time.Second},
		{20, 30 * time.Second},
		{21, 10 * time.Second},
		{50, 10 * time.Second},
		{51, 5 * time.Second},
		{1000, 5 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IntervalFor(tc.size, tiers), "size %d", tc.size)
	}
}

func TestRescheduleTracksLoad(t *testing.T) {
	s := New(DefaultTiers(), clock.NewFake(time.Unix(0, 0)), func(context.Context) int { return 0 }, nil, zerolog.Nop())

	assert.Equal(t, 30*time.Second, s.CurrentInterval())
	assert.Equal(t, 5*time.Second, s.Reschedule(60))
	assert.Equal(t, 5*time.Second, s.CurrentInterval())
	assert.Equal(t, 30*time.Second, s.Reschedule(15))
}

type harness struct {
	s     *Scheduler
	clock *clock.Fake
	calls   atomic.Int32
	size    atomic.Int32
	pending atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{clock: clock.NewFake(time.Unix(0, 0))}
	h.s = New(DefaultTiers(), h.clock, func(context.Context) int {
		h.calls.Add(1)
		return int(h.size.Load())
	}, func() int { return int(h.pending.Load()) }, zerolog.Nop())
	h.s.Start(context.Background())
	t.Cleanup(h.s.Stop)
	require.Eventually(t, func() bool { return h.clock.ActiveTickers() == 1 }, time.Second, time.Millisecond)
	return h
}

func TestTickRunsSync(t *testing.T) {
	h := newHarness(t)
	h.pending.Store(1)

	h.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return h.calls.Load() == 1 }, time.Second, time.Millisecond)
}

func TestTickWithEmptyQueueDoesNotSync(t *testing.T) {
	h := newHarness(t)

	h.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return h.s.IdleTicks() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), h.calls.Load())

	h.pending.Store(3)
	h.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return h.calls.Load() == 1 }, time.Second, time.Millisecond)
}

func TestOfflineSkipsTicksAndReconnectSyncsImmediately(t *testing.T) {
	h := newHarness(t)

	h.s.SetOnline(false)
	h.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool {
		_, skipped := h.s.Ticks()
		return skipped == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), h.calls.Load())

	h.s.SetOnline(true)
	require.Eventually(t, func() bool { return h.calls.Load() == 1 }, time.Second, time.Millisecond)

	// Repeating the same state does not trigger another sync.
	h.s.SetOnline(true)
	assert.Never(t, func() bool { return h.calls.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.s.Stop()
	h.s.Stop()
	assert.Equal(t, 0, h.clock.ActiveTickers())
}
