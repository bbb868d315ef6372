package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

func TestMemoryStoreScriptedFailures(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("503")

	m.FailNext(1, boom)
	assert.ErrorIs(t, m.Upsert(ctx, "orders", core.Record{"id": "o1"}), boom)
	require.NoError(t, m.Upsert(ctx, "orders", core.Record{"id": "o1", "total": 5}))

	row, ok := m.Row("orders", "o1")
	require.True(t, ok)
	assert.Equal(t, 5, row["total"])
	assert.Len(t, m.Calls(), 2)
}

func TestMemoryStoreInsertAssignsID(t *testing.T) {
	m := NewMemoryStore()
	require.NoError(t, m.Insert(context.Background(), "auth_sessions", core.Record{"user_id": "u1"}))

	calls := m.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "insert", calls[0].Method)
}

func TestMemoryStoreRestrictColumns(t *testing.T) {
	m := NewMemoryStore()
	m.RestrictColumns("shift_records", "id", "cashier")

	err := m.Upsert(context.Background(), "shift_records", core.Record{"id": "s1", "cashier": "ana", "successor": "bo"})
	var mismatch *core.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "successor", mismatch.Column)

	require.NoError(t, m.Upsert(context.Background(), "shift_records", core.Record{"id": "s1", "cashier": "ana"}))
}
