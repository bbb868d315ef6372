package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

func recv(t *testing.T, ch <-chan core.ChangeEvent) core.ChangeEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return core.ChangeEvent{}
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	feed := NewMemoryFeed()
	m := NewManager(feed, 8, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, m.Subscribe(ctx, "orders"))
	require.NoError(t, m.Subscribe(ctx, "orders"))
	require.NoError(t, m.Subscribe(ctx, "products"))

	assert.Equal(t, 2, m.Count())
	assert.Equal(t, 1, feed.Subscribers("orders"))
	assert.Equal(t, []string{"orders", "products"}, m.Tables())
}

func TestEventsAreFannedIn(t *testing.T) {
	feed := NewMemoryFeed()
	m := NewManager(feed, 8, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, m.Subscribe(ctx, "orders"))
	require.NoError(t, m.Subscribe(ctx, "products"))

	feed.Publish(core.ChangeEvent{Table: "orders", Type: core.ChangeInsert, New: core.Record{"id": "o1"}})
	feed.Publish(core.ChangeEvent{Table: "products", Type: core.ChangeUpdate, New: core.Record{"id": "p1"}})
	feed.Publish(core.ChangeEvent{Table: "settings", Type: core.ChangeUpdate, New: core.Record{"id": "s1"}})

	got := map[string]bool{}
	got[recv(t, m.Events()).Table] = true
	got[recv(t, m.Events()).Table] = true
	assert.Equal(t, map[string]bool{"orders": true, "products": true}, got)
	assert.Equal(t, int64(2), m.Received())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	feed := NewMemoryFeed()
	m := NewManager(feed, 8, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, m.Subscribe(ctx, "orders"))
	require.NoError(t, m.Subscribe(ctx, "products"))

	require.NoError(t, m.Unsubscribe("orders"))
	require.NoError(t, m.Unsubscribe("orders"))
	require.NoError(t, m.Unsubscribe("never"))
	assert.Equal(t, 0, feed.Subscribers("orders"))
	assert.Equal(t, 1, m.Count())

	require.NoError(t, m.UnsubscribeAll())
	require.NoError(t, m.UnsubscribeAll())
	assert.Zero(t, m.Count())
	assert.Zero(t, feed.Subscribers("products"))

	// Resubscribing after teardown opens a fresh subscription.
	require.NoError(t, m.Subscribe(ctx, "orders"))
	assert.Equal(t, 1, feed.Subscribers("orders"))
}

func TestClosedFeedRejectsSubscribe(t *testing.T) {
	feed := NewMemoryFeed()
	require.NoError(t, feed.Close())

	m := NewManager(feed, 8, zerolog.Nop())
	assert.ErrorIs(t, m.Subscribe(context.Background(), "orders"), ErrFeedClosed)
}

func TestFeedEndingSubscriptionFreesTable(t *testing.T) {
	feed := NewMemoryFeed()
	m := NewManager(feed, 8, zerolog.Nop())
	require.NoError(t, m.Subscribe(context.Background(), "orders"))

	require.NoError(t, feed.Close())
	require.Eventually(t, func() bool { return m.Count() == 0 }, time.Second, time.Millisecond)
}
