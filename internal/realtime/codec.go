package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

// wireEvent is the JSON shape shared by the Kafka and websocket feeds.
type wireEvent struct {
	Table           string      `json:"table"`
	EventType       string      `json:"eventType"`
	New             core.Record `json:"new,omitempty"`
	Old             core.Record `json:"old,omitempty"`
	CommitTimestamp string      `json:"commit_timestamp,omitempty"`
}

// ErrTableMismatch is returned when a message names a table other than the
// one its subscription is for.
var ErrTableMismatch = errors.New("change event for another table")

// DecodeEvent parses a change notification received on the subscription for
// table. The message may omit its table; naming a different one is an error.
// An empty table accepts whatever the message names.
func DecodeEvent(data []byte, table string, receivedAt time.Time) (core.ChangeEvent, error) {
	var w wireEvent
	if err := core.DecodeJSON(data, &w); err != nil {
		return core.ChangeEvent{}, fmt.Errorf("failed to decode change event: %w", err)
	}
	switch {
	case w.Table == "":
		w.Table = table
	case table != "" && w.Table != table:
		return core.ChangeEvent{}, fmt.Errorf("%w: got %s on %s", ErrTableMismatch, w.Table, table)
	}
	if w.Table == "" {
		return core.ChangeEvent{}, fmt.Errorf("change event has no table")
	}

	var typ core.ChangeType
	switch strings.ToUpper(w.EventType) {
	case string(core.ChangeInsert):
		typ = core.ChangeInsert
	case string(core.ChangeUpdate):
		typ = core.ChangeUpdate
	case string(core.ChangeDelete):
		typ = core.ChangeDelete
	default:
		return core.ChangeEvent{}, fmt.Errorf("unknown change type %q", w.EventType)
	}

	ev := core.ChangeEvent{
		Table:      w.Table,
		Type:       typ,
		New:        w.New,
		Old:        w.Old,
		ReceivedAt: receivedAt,
	}
	if t, ok := core.ParseTimestamp(w.CommitTimestamp); ok {
		ev.CommitTimestamp = t
	}
	if ev.EntityID() == "" {
		return core.ChangeEvent{}, fmt.Errorf("change event on %s has no id", w.Table)
	}
	return ev, nil
}

// EncodeEvent renders ev in the wire format.
func EncodeEvent(ev core.ChangeEvent) ([]byte, error) {
	w := wireEvent{Table: ev.Table, EventType: string(ev.Type), New: ev.New, Old: ev.Old}
	if !ev.CommitTimestamp.IsZero() {
		w.CommitTimestamp = ev.CommitTimestamp.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(w)
}
