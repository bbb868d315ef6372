package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rzpsarthak13/storefwd/internal/core"
	"github.com/rzpsarthak13/storefwd/internal/registry"
)

var t1 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func localOp(table string) *core.Operation {
	return &core.Operation{
		Key:        core.EntityKey(table, "e1"),
		Table:      table,
		Kind:       core.KindUpdate,
		Payload:    core.NewGenericPayload(table, core.Record{"id": "e1"}),
		EnqueuedAt: t1,
	}
}

func change(table string, updatedAt interface{}) core.ChangeEvent {
	return core.ChangeEvent{Table: table, Type: core.ChangeUpdate, New: core.Record{"id": "e1", "updated_at": updatedAt}}
}

func TestLastWriteWins(t *testing.T) {
	r := NewResolver(registry.NewTableRegistry(registry.UnknownLowest))

	cases := []struct {
		name     string
		remoteAt interface{}
		want     Winner
	}{
		{"remote newer", t1.Add(time.Millisecond).Format(time.RFC3339Nano), Remote},
		{"remote older", t1.Add(-time.Minute), Local},
		{"tie", t1, Local},
		{"unix millis newer", float64(t1.Add(time.Second).UnixMilli()), Remote},
		{"missing timestamp", nil, Local},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := r.Resolve(localOp("products"), change("products", tc.remoteAt))
			assert.Equal(t, tc.want, d.Winner, d.Reason)
		})
	}
}

func TestImmutableSyncedEntityYieldsToRemote(t *testing.T) {
	r := NewResolver(registry.NewTableRegistry(registry.UnknownLowest))

	op := localOp("orders")
	op.SyncedAt = t1.Add(-time.Hour)
	d := r.Resolve(op, change("orders", t1.Add(-time.Hour)))
	assert.Equal(t, Remote, d.Winner)

	synced := t1.Add(-time.Hour)
	typed := localOp("orders")
	typed.Payload = &core.OrderPayload{OrderID: "e1", SyncedAt: &synced}
	assert.Equal(t, Remote, r.Resolve(typed, change("orders", nil)).Winner)

	// Never synced: ordinary last-write-wins applies.
	fresh := localOp("orders")
	assert.Equal(t, Local, r.Resolve(fresh, change("orders", t1.Add(-time.Hour))).Winner)

	// Mutable tables ignore SyncedAt.
	product := localOp("products")
	product.SyncedAt = t1.Add(-time.Hour)
	assert.Equal(t, Local, r.Resolve(product, change("products", t1)).Winner)
}

func TestRemoteTimestampFallbacks(t *testing.T) {
	ev := core.ChangeEvent{
		Type: core.ChangeDelete,
		Old:  core.Record{"id": "e1", "synced_at": "2024-06-01T09:00:00Z"},
	}
	assert.Equal(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), RemoteTimestamp(ev))
	assert.Equal(t, time.Unix(0, 0).UTC(), RemoteTimestamp(core.ChangeEvent{}))
}
