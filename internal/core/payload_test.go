package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayloadTyped(t *testing.T) {
	p, err := DecodePayload(TableOrders, []byte(`{"id":"o-1","total":12.5,"status":"paid","synced_at":"2024-03-01T09:00:00Z"}`))
	require.NoError(t, err)

	order, ok := p.(*OrderPayload)
	require.True(t, ok)
	assert.Equal(t, "o-1", order.ID())
	assert.Equal(t, Record{"id": "o-1", "total": 12.5, "status": "paid"}, order.Record())
	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), order.LastSynced())

	_, err = DecodePayload(TableOrders, []byte(`{"total":"lots"}`))
	assert.ErrorContains(t, err, "failed to decode orders payload")
}

func TestDecodePayloadGeneric(t *testing.T) {
	p, err := DecodePayload("receipts", []byte(`{"id":7,"note":"x"}`))
	require.NoError(t, err)
	assert.IsType(t, &GenericPayload{}, p)
	assert.Equal(t, "7", p.ID())
	assert.Equal(t, "receipts", p.Table())

	p, err = DecodePayload("receipts", []byte("null"))
	require.NoError(t, err)
	assert.Empty(t, p.ID())

	raw, err := json.Marshal(NewGenericPayload("receipts", Record{"id": "r-1"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"r-1"}`, string(raw))
}

func TestGenericPayloadKeepsLargeIntegers(t *testing.T) {
	p, err := DecodePayload("receipts", []byte(`{"id":9007199254740993,"amount":9007199254740993}`))
	require.NoError(t, err)
	assert.Equal(t, "9007199254740993", p.ID())
	assert.Equal(t, json.Number("9007199254740993"), p.Record()["amount"])

	p, err = PayloadFromRecord("receipts", p.Record())
	require.NoError(t, err)
	assert.Equal(t, "9007199254740993", p.ID())
}

func TestPayloadFromRecord(t *testing.T) {
	p, err := PayloadFromRecord(TableSettings, Record{"id": "currency", "value": "EUR"})
	require.NoError(t, err)
	assert.Equal(t, "currency", p.ID())
	assert.IsType(t, &SettingPayload{}, p)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   interface{}
		ok   bool
	}{
		{"rfc3339", "2024-03-01T09:00:00Z", true},
		{"sql", "2024-03-01 09:00:00", true},
		{"millis", float64(want.UnixMilli()), true},
		{"json number", json.Number("1709283600000"), true},
		{"time", want, true},
		{"empty", "", false},
		{"garbage", "yesterday", false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, want.Equal(got), "got %s", got)
			}
		})
	}
}

func TestKindRequiresID(t *testing.T) {
	assert.False(t, KindInsert.RequiresID())
	assert.True(t, KindUpsert.RequiresID())
	assert.True(t, KindDelete.RequiresID())
	assert.False(t, Kind("merge").Valid())
	assert.Equal(t, "orders:o-1", EntityKey(TableOrders, "o-1"))
}
