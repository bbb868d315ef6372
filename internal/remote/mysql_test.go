package remote

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

type recordingExecer struct {
	queries []string
	args    [][]interface{}
	err     error
}

func (r *recordingExecer) ExecContext(_ context.Context, query string, args ...interface{}) (sql.Result, error) {
	r.queries = append(r.queries, query)
	r.args = append(r.args, args)
	if r.err != nil {
		return nil, r.err
	}
	return driver.RowsAffected(1), nil
}

func TestUpsertStatement(t *testing.T) {
	ex := &recordingExecer{}
	store := NewMySQLStoreFromExecer(ex, zerolog.Nop())
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

	err := store.Upsert(context.Background(), "orders", core.Record{"id": "o1", "total": 10.5, "synced_at": at})
	require.NoError(t, err)

	require.Len(t, ex.queries, 1)
	assert.Equal(t,
		"INSERT INTO `orders` (`id`, `synced_at`, `total`) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE `synced_at` = VALUES(`synced_at`), `total` = VALUES(`total`)",
		ex.queries[0])
	assert.Equal(t, []interface{}{"o1", at.UTC(), 10.5}, ex.args[0])
}

func TestUpdateAndDeleteStatements(t *testing.T) {
	ex := &recordingExecer{}
	store := NewMySQLStoreFromExecer(ex, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, "products", core.Record{"id": "p1", "price": 3.0, "tags": []string{"hot"}}))
	require.NoError(t, store.Delete(ctx, "products", "p1"))

	assert.Equal(t, "UPDATE `products` SET `price` = ?, `tags` = ? WHERE `id` = ?", ex.queries[0])
	assert.Equal(t, []interface{}{3.0, `["hot"]`, "p1"}, ex.args[0])
	assert.Equal(t, "DELETE FROM `products` WHERE `id` = ?", ex.queries[1])
}

func TestStatementValidation(t *testing.T) {
	store := NewMySQLStoreFromExecer(&recordingExecer{}, zerolog.Nop())
	ctx := context.Background()

	assert.Error(t, store.Upsert(ctx, "orders; DROP TABLE x", core.Record{"id": "1"}))
	assert.Error(t, store.Update(ctx, "orders", core.Record{"total": 1}))
	assert.Error(t, store.Update(ctx, "orders", core.Record{"id": "1"}))
	assert.Error(t, store.Delete(ctx, "orders", ""))
	assert.Error(t, store.Insert(ctx, "orders", core.Record{"bad col": 1}))
}

func TestUnknownColumnBecomesSchemaMismatch(t *testing.T) {
	ex := &recordingExecer{err: &mysql.MySQLError{Number: 1054, Message: "Unknown column 'snapshot_html' in 'field list'"}}
	store := NewMySQLStoreFromExecer(ex, zerolog.Nop())

	err := store.Upsert(context.Background(), "shift_records", core.Record{"id": "s1", "snapshot_html": "<p/>"})

	var mismatch *core.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "shift_records", mismatch.Table)
	assert.Equal(t, "snapshot_html", mismatch.Column)
}

func TestOtherErrorsAreWrapped(t *testing.T) {
	cause := errors.New("connection refused")
	store := NewMySQLStoreFromExecer(&recordingExecer{err: cause}, zerolog.Nop())

	err := store.Delete(context.Background(), "orders", "o1")
	require.ErrorIs(t, err, cause)
	var mismatch *core.SchemaMismatchError
	assert.False(t, errors.As(err, &mismatch))
}

func TestClosedStore(t *testing.T) {
	store := NewMySQLStoreFromExecer(&recordingExecer{}, zerolog.Nop())
	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Delete(context.Background(), "orders", "o1"), ErrClosed)
	assert.ErrorIs(t, store.Ping(context.Background()), ErrClosed)
}

func TestDSN(t *testing.T) {
	cfg := DefaultMySQLConfig()
	cfg.Username, cfg.Password, cfg.Database = "pos", "secret", "cafe"
	dsn := cfg.DSN()
	assert.Contains(t, dsn, "pos:secret@tcp(localhost:3306)/cafe")
	assert.Contains(t, dsn, "parseTime=true")
}
