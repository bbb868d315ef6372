package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

// Call records one request made against a MemoryStore.
type Call struct {
	Method string
	Table  string
	ID     string
	Record core.Record
}

// MemoryStore is an in-process remote store. Failures and schema restrictions
// can be scripted, which makes it the remote used for tests and dry runs.
type MemoryStore struct {
	mu       sync.Mutex
	rows     map[string]map[string]core.Record
	calls    []Call
	failures []error
	columns  map[string]map[string]bool
	pingErr  error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:    make(map[string]map[string]core.Record),
		columns: make(map[string]map[string]bool),
	}
}

// FailNext makes the next n calls fail with err.
func (m *MemoryStore) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.failures = append(m.failures, err)
	}
}

// RestrictColumns limits table to the given columns. Writing any other column
// fails with a SchemaMismatchError.
func (m *MemoryStore) RestrictColumns(table string, cols ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	allowed := make(map[string]bool, len(cols))
	for _, c := range cols {
		allowed[c] = true
	}
	m.columns[table] = allowed
}

// SetPingError makes Ping return err.
func (m *MemoryStore) SetPingError(err error) {
	m.mu.Lock()
	m.pingErr = err
	m.mu.Unlock()
}

// Calls returns every request made so far, including failed ones.
func (m *MemoryStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Row returns the stored row for table and id.
func (m *MemoryStore) Row(table, id string) (core.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[table][id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// begin records the call and returns a scripted failure, if any. Callers hold mu.
func (m *MemoryStore) begin(c Call) error {
	m.calls = append(m.calls, c)
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return err
	}
	if allowed, ok := m.columns[c.Table]; ok && c.Record != nil {
		for _, col := range sortedColumns(c.Record) {
			if !allowed[col] {
				return &core.SchemaMismatchError{Table: c.Table, Column: col, Err: fmt.Errorf("unknown column %q", col)}
			}
		}
	}
	return nil
}

func (m *MemoryStore) table(name string) map[string]core.Record {
	t, ok := m.rows[name]
	if !ok {
		t = make(map[string]core.Record)
		m.rows[name] = t
	}
	return t
}

func (m *MemoryStore) Insert(_ context.Context, table string, record core.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := record.Clone()
	if err := m.begin(Call{Method: "insert", Table: table, ID: r.ID(), Record: r}); err != nil {
		return err
	}
	id := r.ID()
	if id == "" {
		id = uuid.NewString()
		r["id"] = id
	}
	if _, exists := m.table(table)[id]; exists {
		return fmt.Errorf("duplicate id %s in %s", id, table)
	}
	m.table(table)[id] = r
	return nil
}

func (m *MemoryStore) Upsert(_ context.Context, table string, record core.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := record.Clone()
	if err := m.begin(Call{Method: "upsert", Table: table, ID: r.ID(), Record: r}); err != nil {
		return err
	}
	if r.ID() == "" {
		return fmt.Errorf("upsert on %s requires an id", table)
	}
	m.table(table)[r.ID()] = r
	return nil
}

func (m *MemoryStore) Update(_ context.Context, table string, record core.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := record.Clone()
	if err := m.begin(Call{Method: "update", Table: table, ID: r.ID(), Record: r}); err != nil {
		return err
	}
	existing, ok := m.table(table)[r.ID()]
	if !ok {
		return nil
	}
	for k, v := range r {
		existing[k] = v
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, table string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.begin(Call{Method: "delete", Table: table, ID: id}); err != nil {
		return err
	}
	delete(m.table(table), id)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}
