package core

import (
	"fmt"
	"time"
)

// Kind represents the type of mutation carried by an operation.
type Kind string

const (
	// KindInsert creates a new remote row.
	KindInsert Kind = "insert"

	// KindUpdate modifies an existing remote row identified by id.
	KindUpdate Kind = "update"

	// KindUpsert inserts or overwrites a remote row identified by id.
	KindUpsert Kind = "upsert"

	// KindDelete removes a remote row identified by id.
	KindDelete Kind = "delete"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindInsert, KindUpdate, KindUpsert, KindDelete:
		return true
	default:
		return false
	}
}

// RequiresID reports whether operations of this kind must address an existing entity.
func (k Kind) RequiresID() bool {
	return k == KindUpdate || k == KindUpsert || k == KindDelete
}

// Priority orders operations for dispatch. Smaller values are more urgent.
type Priority int

const (
	// PriorityHigh is used for orders and shift records.
	PriorityHigh Priority = 1

	// PriorityMedium is used for catalog edits and auth sessions.
	PriorityMedium Priority = 2

	// PriorityLow is used for everything else.
	PriorityLow Priority = 3
)

// Operation is a single pending change destined for one remote table.
type Operation struct {
	// Key identifies the entity in the queue: {table}:{id}.
	Key string

	// Table is the destination collection.
	Table string

	// Kind is the mutation type.
	Kind Kind

	// Payload is the typed record for Table.
	Payload Payload

	// EnqueuedAt is set once when the operation enters the queue.
	EnqueuedAt time.Time

	// Priority is derived from Table through the registry.
	Priority Priority

	// RetryCount is incremented on each failed dispatch attempt.
	RetryCount int

	// LastAttemptAt is the time of the most recent failed attempt.
	LastAttemptAt time.Time

	// SyncedAt is set when the local record had already reached the remote store once.
	SyncedAt time.Time

	// Seq is a monotonic enqueue sequence number.
	Seq uint64
}

// EntityID returns the id carried by the payload, or "" when there is none.
func (o *Operation) EntityID() string {
	if o.Payload == nil {
		return ""
	}
	return o.Payload.ID()
}

// Clone returns a shallow copy of the operation. Payloads are treated as immutable.
func (o *Operation) Clone() *Operation {
	c := *o
	return &c
}

// String implements fmt.Stringer.
func (o *Operation) String() string {
	return fmt.Sprintf("%s %s (priority=%d, retries=%d)", o.Kind, o.Key, o.Priority, o.RetryCount)
}

// EntityKey builds the queue key for an entity.
func EntityKey(table, id string) string {
	return table + ":" + id
}

// QueueStatus is a read-only snapshot of the sync engine state.
type QueueStatus struct {
	// LastSync is the completion time of the last sync cycle. Zero means never.
	LastSync time.Time `json:"last_sync"`

	// PendingChanges is the number of queued operations.
	PendingChanges int `json:"pending_changes"`

	// IsOnline reports the last known connectivity state.
	IsOnline bool `json:"is_online"`

	// SyncError summarises the failures of the last cycle, if any.
	SyncError string `json:"sync_error,omitempty"`
}
