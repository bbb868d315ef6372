package core

import (
	"context"
	"time"
)

// RemoteStore is the row-oriented remote datastore addressed by table name.
type RemoteStore interface {
	Insert(ctx context.Context, table string, record Record) error
	Update(ctx context.Context, table string, record Record) error
	Upsert(ctx context.Context, table string, record Record) error
	Delete(ctx context.Context, table string, id string) error
}

// Pinger is implemented by remote stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ChangeType is the kind of a remote change notification.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is a single remote-side change delivered by a ChangeFeed.
type ChangeEvent struct {
	Table           string
	Type            ChangeType
	New             Record
	Old             Record
	CommitTimestamp time.Time
	ReceivedAt      time.Time
}

// EntityID returns the id of the changed row, preferring the new image.
func (e ChangeEvent) EntityID() string {
	if id := e.New.ID(); id != "" {
		return id
	}
	return e.Old.ID()
}

// ChangeFeed opens per-table change subscriptions.
type ChangeFeed interface {
	Open(ctx context.Context, table string) (Subscription, error)
}

// Subscription delivers events for one table until closed.
type Subscription interface {
	// Events returns the event stream. It is closed when the subscription ends.
	Events() <-chan ChangeEvent

	// Close ends the subscription. Calling Close more than once is safe.
	Close() error
}

// LocalApplier mirrors remote changes into local state.
type LocalApplier interface {
	Apply(ctx context.Context, event ChangeEvent) error
}
