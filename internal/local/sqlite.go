// Package local mirrors remote changes into an on-device SQLite database.
package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS remote_changes (
	tbl        TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	payload    TEXT    NOT NULL,
	updated_at TEXT,
	deleted    INTEGER NOT NULL DEFAULT 0,
	applied_at TEXT    NOT NULL,
	PRIMARY KEY (tbl, id)
)`

// MirroredRow is the local copy of one remote row.
type MirroredRow struct {
	Table     string
	ID        string
	Record    core.Record
	UpdatedAt time.Time
	Deleted   bool
	AppliedAt time.Time
}

// SQLiteMirror implements core.LocalApplier on SQLite.
type SQLiteMirror struct {
	db     *sql.DB
	now    func() time.Time
	logger zerolog.Logger
}

// OpenSQLiteMirror opens (or creates) the mirror at path. Use ":memory:" for a
// process-local database.
func OpenSQLiteMirror(ctx context.Context, path string, logger zerolog.Logger) (*SQLiteMirror, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite mirror: %w", err)
	}
	// SQLite serializes writers; a single connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create mirror schema: %w", err)
	}
	return &SQLiteMirror{db: db, now: time.Now, logger: logger.With().Str("component", "mirror").Logger()}, nil
}

// Apply records the change. Deletes keep a tombstone with the old image.
func (m *SQLiteMirror) Apply(ctx context.Context, ev core.ChangeEvent) error {
	id := ev.EntityID()
	if id == "" {
		return fmt.Errorf("change on %s has no id", ev.Table)
	}

	image := ev.New
	deleted := 0
	if ev.Type == core.ChangeDelete {
		image = ev.Old
		deleted = 1
	}
	if image == nil {
		image = core.Record{"id": id}
	}
	payload, err := json.Marshal(image)
	if err != nil {
		return fmt.Errorf("failed to encode %s:%s: %w", ev.Table, id, err)
	}

	var updatedAt interface{}
	if t, ok := core.ParseTimestamp(image["updated_at"]); ok {
		updatedAt = t.UTC().Format(time.RFC3339Nano)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO remote_changes (tbl, id, payload, updated_at, deleted, applied_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tbl, id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted,
			applied_at = excluded.applied_at`,
		ev.Table, id, string(payload), updatedAt, deleted, m.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to apply %s:%s: %w", ev.Table, id, err)
	}

	m.logger.Debug().Str("table", ev.Table).Str("id", id).Str("type", string(ev.Type)).Msg("applied remote change")
	return nil
}

// Get returns the mirrored row, or false if the entity was never mirrored.
func (m *SQLiteMirror) Get(ctx context.Context, table, id string) (MirroredRow, bool, error) {
	var (
		payload   string
		updatedAt sql.NullString
		deleted   int
		appliedAt string
	)
	err := m.db.QueryRowContext(ctx,
		`SELECT payload, updated_at, deleted, applied_at FROM remote_changes WHERE tbl = ? AND id = ?`,
		table, id).Scan(&payload, &updatedAt, &deleted, &appliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return MirroredRow{}, false, nil
	}
	if err != nil {
		return MirroredRow{}, false, fmt.Errorf("failed to read %s:%s: %w", table, id, err)
	}

	row := MirroredRow{Table: table, ID: id, Deleted: deleted == 1}
	if err := core.DecodeJSON([]byte(payload), &row.Record); err != nil {
		return MirroredRow{}, false, fmt.Errorf("failed to decode %s:%s: %w", table, id, err)
	}
	if updatedAt.Valid {
		row.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt.String)
	}
	row.AppliedAt, _ = time.Parse(time.RFC3339Nano, appliedAt)
	return row, true, nil
}

// Count returns the number of mirrored rows for table, tombstones included.
func (m *SQLiteMirror) Count(ctx context.Context, table string) (int, error) {
	var n int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM remote_changes WHERE tbl = ?`, table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

func (m *SQLiteMirror) Close() error {
	return m.db.Close()
}
