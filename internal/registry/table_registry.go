package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

// ErrUnregisteredTable is returned by Lookup for unknown tables under the reject policy.
var ErrUnregisteredTable = errors.New("table is not registered")

// UnknownTablePolicy decides how tables missing from the registry are treated.
type UnknownTablePolicy string

const (
	// UnknownLowest assigns the lowest priority to unknown tables.
	UnknownLowest UnknownTablePolicy = "lowest"

	// UnknownReject refuses operations on unknown tables.
	UnknownReject UnknownTablePolicy = "reject"
)

// Valid reports whether p is a known policy.
func (p UnknownTablePolicy) Valid() bool {
	return p == UnknownLowest || p == UnknownReject
}

// TablePolicy describes how operations for one table are scheduled and merged.
type TablePolicy struct {
	// Priority orders the table's operations in a batch.
	Priority core.Priority `yaml:"priority" json:"priority"`

	// Immutable marks entities that are append-only once synced: remote
	// changes win over further local mutations.
	Immutable bool `yaml:"immutable" json:"immutable"`

	// OptionalColumns may be stripped when the remote schema lacks them.
	OptionalColumns []string `yaml:"optional_columns" json:"optional_columns"`
}

// DefaultOptionalColumns are stripped from any table on a schema mismatch.
var DefaultOptionalColumns = []string{"synced_at", "snapshot_info", "snapshot_html", "successor"}

// DefaultPolicies returns the built-in table policies.
func DefaultPolicies() map[string]TablePolicy {
	return map[string]TablePolicy{
		core.TableOrders:       {Priority: core.PriorityHigh, Immutable: true},
		core.TableOrderItems:   {Priority: core.PriorityHigh, Immutable: true},
		core.TableShiftRecords: {Priority: core.PriorityHigh, Immutable: true},
		core.TableProducts:     {Priority: core.PriorityMedium},
		core.TableAuthSessions: {Priority: core.PriorityMedium},
		"sales_orders":         {Priority: core.PriorityLow},
		"accounting_entries":   {Priority: core.PriorityLow},
		core.TableSettings:     {Priority: core.PriorityLow},
	}
}

// TableRegistry maps table names to their policy. It is safe for concurrent use.
type TableRegistry struct {
	mu       sync.RWMutex
	policies map[string]TablePolicy
	unknown  UnknownTablePolicy
}

// NewTableRegistry creates a registry seeded with the default policies.
func NewTableRegistry(unknown UnknownTablePolicy) *TableRegistry {
	if unknown == "" {
		unknown = UnknownLowest
	}
	return &TableRegistry{policies: DefaultPolicies(), unknown: unknown}
}

// Register adds or replaces the policy for table.
func (tr *TableRegistry) Register(table string, policy TablePolicy) error {
	if table == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	if policy.Priority < core.PriorityHigh || policy.Priority > core.PriorityLow {
		return fmt.Errorf("invalid priority %d for table %s", policy.Priority, table)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.policies[table] = policy
	return nil
}

// Lookup returns the policy for table, applying the unknown-table policy
// when it is not registered.
func (tr *TableRegistry) Lookup(table string) (TablePolicy, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	if p, ok := tr.policies[table]; ok {
		return p, nil
	}
	if tr.unknown == UnknownReject {
		return TablePolicy{}, fmt.Errorf("%w: %s", ErrUnregisteredTable, table)
	}
	return TablePolicy{Priority: core.PriorityLow}, nil
}

// PriorityOf returns the table's priority, or the lowest priority if it cannot be resolved.
func (tr *TableRegistry) PriorityOf(table string) core.Priority {
	p, err := tr.Lookup(table)
	if err != nil {
		return core.PriorityLow
	}
	return p.Priority
}

// IsImmutable reports whether the table's entities are immutable once synced.
func (tr *TableRegistry) IsImmutable(table string) bool {
	p, err := tr.Lookup(table)
	return err == nil && p.Immutable
}

// StrippableColumns returns the columns that may be removed from a record for
// table on a schema mismatch: the defaults plus the table's own.
func (tr *TableRegistry) StrippableColumns(table string) []string {
	p, _ := tr.Lookup(table)
	cols := make([]string, 0, len(DefaultOptionalColumns)+len(p.OptionalColumns))
	cols = append(cols, DefaultOptionalColumns...)
	cols = append(cols, p.OptionalColumns...)
	return cols
}

// Tables returns the registered table names, sorted.
func (tr *TableRegistry) Tables() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	names := make([]string, 0, len(tr.policies))
	for name := range tr.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
