package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

// storedOperation is the persisted form of an operation. Every field except
// kind and payload is optional so older snapshots stay readable.
type storedOperation struct {
	Table         string          `json:"table,omitempty"`
	Kind          core.Kind       `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	EnqueuedAt    *time.Time      `json:"enqueued_at,omitempty"`
	Priority      core.Priority   `json:"priority,omitempty"`
	RetryCount    int             `json:"retry_count,omitempty"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	SyncedAt      *time.Time      `json:"synced_at,omitempty"`
	Seq           uint64          `json:"seq,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// encode serializes ops as a JSON array of [key, operation] pairs.
func encode(ops []*core.Operation) ([]byte, error) {
	pairs := make([][2]interface{}, 0, len(ops))
	for _, op := range ops {
		payload, err := json.Marshal(op.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload for %s: %w", op.Key, err)
		}
		pairs = append(pairs, [2]interface{}{op.Key, storedOperation{
			Table:         op.Table,
			Kind:          op.Kind,
			Payload:       payload,
			EnqueuedAt:    timePtr(op.EnqueuedAt),
			Priority:      op.Priority,
			RetryCount:    op.RetryCount,
			LastAttemptAt: timePtr(op.LastAttemptAt),
			SyncedAt:      timePtr(op.SyncedAt),
			Seq:           op.Seq,
		}})
	}
	return json.Marshal(pairs)
}

// decodeResult carries the operations that could be restored and the
// per-entry errors for those that could not.
type decodeResult struct {
	ops  []*core.Operation
	errs []error
}

// decode parses a persisted snapshot. Missing fields are filled from
// defaults: table from the key prefix, priority from priorityOf, enqueue
// time from loadedAt. Malformed entries are reported and skipped.
func decode(data []byte, loadedAt time.Time, priorityOf func(string) core.Priority) (decodeResult, error) {
	var pairs [][]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return decodeResult{}, fmt.Errorf("failed to unmarshal queue snapshot: %w", err)
	}

	var res decodeResult
	for i, pair := range pairs {
		if len(pair) != 2 {
			res.errs = append(res.errs, fmt.Errorf("entry %d: expected [key, operation] pair", i))
			continue
		}

		var key string
		if err := json.Unmarshal(pair[0], &key); err != nil || key == "" {
			res.errs = append(res.errs, fmt.Errorf("entry %d: invalid key", i))
			continue
		}

		var so storedOperation
		if err := json.Unmarshal(pair[1], &so); err != nil {
			res.errs = append(res.errs, fmt.Errorf("entry %s: %w", key, err))
			continue
		}

		table := so.Table
		if table == "" {
			table, _, _ = strings.Cut(key, ":")
		}
		if !so.Kind.Valid() {
			res.errs = append(res.errs, fmt.Errorf("entry %s: unknown kind %q", key, so.Kind))
			continue
		}

		payload, err := core.DecodePayload(table, so.Payload)
		if err != nil {
			res.errs = append(res.errs, fmt.Errorf("entry %s: %w", key, err))
			continue
		}

		op := &core.Operation{
			Key:        key,
			Table:      table,
			Kind:       so.Kind,
			Payload:    payload,
			EnqueuedAt: loadedAt,
			Priority:   so.Priority,
			RetryCount: so.RetryCount,
			Seq:        so.Seq,
		}
		if so.EnqueuedAt != nil {
			op.EnqueuedAt = *so.EnqueuedAt
		}
		if so.LastAttemptAt != nil {
			op.LastAttemptAt = *so.LastAttemptAt
		}
		if so.SyncedAt != nil {
			op.SyncedAt = *so.SyncedAt
		}
		if op.Priority == 0 {
			op.Priority = priorityOf(table)
		}
		res.ops = append(res.ops, op)
	}
	return res, nil
}
