// Package conflict decides between a queued local operation and an inbound
// remote change for the same entity.
package conflict

import (
	"time"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

// Winner identifies the side whose version is kept.
type Winner int

const (
	// Local keeps the queued operation; it overwrites the remote row on its next dispatch.
	Local Winner = iota

	// Remote discards the queued operation and applies the remote row locally.
	Remote
)

func (w Winner) String() string {
	if w == Remote {
		return "remote"
	}
	return "local"
}

// Decision is the outcome of a resolution.
type Decision struct {
	Winner   Winner
	Reason   string
	LocalAt  time.Time
	RemoteAt time.Time
}

// ImmutabilityPolicy reports which tables hold append-only entities.
type ImmutabilityPolicy interface {
	IsImmutable(table string) bool
}

// Resolver applies last-write-wins with ties going to the local side, except
// that immutable entities already synced once always yield to the remote.
type Resolver struct {
	policy ImmutabilityPolicy
}

// NewResolver creates a resolver. A nil policy treats every table as mutable.
func NewResolver(policy ImmutabilityPolicy) *Resolver {
	return &Resolver{policy: policy}
}

// Resolve decides between local and the remote event.
func (r *Resolver) Resolve(local *core.Operation, event core.ChangeEvent) Decision {
	remoteAt := RemoteTimestamp(event)
	d := Decision{LocalAt: local.EnqueuedAt, RemoteAt: remoteAt}

	if r.policy != nil && r.policy.IsImmutable(local.Table) && !syncedAt(local).IsZero() {
		d.Winner = Remote
		d.Reason = "entity is immutable once synced"
		return d
	}

	if remoteAt.After(local.EnqueuedAt) {
		d.Winner = Remote
		d.Reason = "remote change is newer"
		return d
	}

	d.Winner = Local
	if remoteAt.Equal(local.EnqueuedAt) {
		d.Reason = "tie goes to local"
	} else {
		d.Reason = "local change is newer"
	}
	return d
}

func syncedAt(op *core.Operation) time.Time {
	if !op.SyncedAt.IsZero() {
		return op.SyncedAt
	}
	if m, ok := op.Payload.(core.SyncMarker); ok {
		return m.LastSynced()
	}
	return time.Time{}
}

// RemoteTimestamp returns the change's updated_at, falling back to synced_at
// and then to the old row's values. A change without any timestamp is treated
// as the Unix epoch.
func RemoteTimestamp(event core.ChangeEvent) time.Time {
	for _, rec := range []core.Record{event.New, event.Old} {
		for _, col := range []string{"updated_at", "synced_at"} {
			if t, ok := core.ParseTimestamp(rec[col]); ok {
				return t
			}
		}
	}
	return time.Unix(0, 0).UTC()
}
