package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

func TestDecodeEvent(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	raw := `{"eventType":"update","new":{"id":"p1","price":4.5,"updated_at":"2024-01-02T03:00:00Z"},"commit_timestamp":"2024-01-02T03:00:01Z"}`

	ev, err := DecodeEvent([]byte(raw), "products", now)
	require.NoError(t, err)
	assert.Equal(t, "products", ev.Table)
	assert.Equal(t, core.ChangeUpdate, ev.Type)
	assert.Equal(t, "p1", ev.EntityID())
	assert.Equal(t, now, ev.ReceivedAt)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 0, 1, 0, time.UTC), ev.CommitTimestamp)
}

func TestDecodeEventRejectsBadInput(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":     `{`,
		"unknown type": `{"table":"orders","eventType":"TRUNCATE","new":{"id":"1"}}`,
		"no id":        `{"table":"orders","eventType":"INSERT","new":{}}`,
		"no table":     `{"eventType":"INSERT","new":{"id":"1"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(raw), "", time.Now())
			assert.Error(t, err)
		})
	}
}

func TestDecodeEventRejectsOtherTable(t *testing.T) {
	raw := `{"table":"orders","eventType":"INSERT","new":{"id":"o1"}}`

	_, err := DecodeEvent([]byte(raw), "products", time.Now())
	assert.ErrorIs(t, err, ErrTableMismatch)

	ev, err := DecodeEvent([]byte(raw), "orders", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "orders", ev.Table)
}

func TestDecodeEventKeepsLargeIDs(t *testing.T) {
	raw := `{"eventType":"INSERT","new":{"id":9007199254740993}}`

	ev, err := DecodeEvent([]byte(raw), "receipts", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "9007199254740993", ev.EntityID())
}

func TestEncodeDecodeDelete(t *testing.T) {
	ev := core.ChangeEvent{Table: "orders", Type: core.ChangeDelete, Old: core.Record{"id": "o1"}}
	data, err := EncodeEvent(ev)
	require.NoError(t, err)

	back, err := DecodeEvent(data, "", time.Now())
	require.NoError(t, err)
	assert.Equal(t, core.ChangeDelete, back.Type)
	assert.Equal(t, "o1", back.EntityID())
}

func TestKafkaTopicNaming(t *testing.T) {
	cfg := DefaultKafkaConfig()
	assert.Equal(t, "storefwd.changes.orders", cfg.Topic("orders"))

	_, err := NewKafkaFeed(KafkaConfig{}, zerologNop())
	assert.Error(t, err)
}
