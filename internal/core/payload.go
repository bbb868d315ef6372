package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Record is a row keyed by column name, as exchanged with the remote store.
type Record map[string]interface{}

// ID returns the record's "id" column rendered as a string, or "" when absent.
func (r Record) ID() string {
	if r == nil {
		return ""
	}
	return stringify(r["id"])
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func stringify(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return fmt.Sprint(id)
	}
}

// Payload is the typed body of an operation. Each table has its own variant;
// tables without one use GenericPayload.
type Payload interface {
	// Table returns the destination table the variant belongs to.
	Table() string

	// ID returns the entity id, or "" for inserts without a pre-assigned id.
	ID() string

	// Record returns the columns sent to the remote store.
	Record() Record
}

// SyncMarker is implemented by payloads that remember when their record was last synced.
type SyncMarker interface {
	LastSynced() time.Time
}

// Well-known table names.
const (
	TableOrders       = "orders"
	TableOrderItems   = "order_items"
	TableShiftRecords = "shift_records"
	TableProducts     = "products"
	TableAuthSessions = "auth_sessions"
	TableSettings     = "settings"
)

func putTime(r Record, col string, t *time.Time) {
	if t != nil && !t.IsZero() {
		r[col] = t.UTC()
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// OrderPayload is a checkout order.
type OrderPayload struct {
	OrderID       string     `json:"id"`
	ShiftID       string     `json:"shift_id,omitempty"`
	Total         float64    `json:"total"`
	Status        string     `json:"status,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
	SyncedAt      *time.Time `json:"synced_at,omitempty"`
}

func (p *OrderPayload) Table() string { return TableOrders }
func (p *OrderPayload) ID() string { return p.OrderID }
func (p *OrderPayload) LastSynced() time.Time { return derefTime(p.SyncedAt) }

func (p *OrderPayload) Record() Record {
	r := Record{"id": p.OrderID, "total": p.Total}
	if p.ShiftID != "" {
		r["shift_id"] = p.ShiftID
	}
	if p.Status != "" {
		r["status"] = p.Status
	}
	if p.PaymentMethod != "" {
		r["payment_method"] = p.PaymentMethod
	}
	putTime(r, "created_at", p.CreatedAt)
	putTime(r, "updated_at", p.UpdatedAt)
	return r
}

// OrderItemPayload is a line of an order.
type OrderItemPayload struct {
	ItemID    string     `json:"id"`
	OrderID   string     `json:"order_id"`
	ProductID string     `json:"product_id"`
	Quantity  int        `json:"quantity"`
	UnitPrice float64    `json:"unit_price"`
	SyncedAt  *time.Time `json:"synced_at,omitempty"`
}

func (p *OrderItemPayload) Table() string { return TableOrderItems }
func (p *OrderItemPayload) ID() string { return p.ItemID }
func (p *OrderItemPayload) LastSynced() time.Time { return derefTime(p.SyncedAt) }

func (p *OrderItemPayload) Record() Record {
	return Record{
		"id":         p.ItemID,
		"order_id":   p.OrderID,
		"product_id": p.ProductID,
		"quantity":   p.Quantity,
		"unit_price": p.UnitPrice,
	}
}

// ShiftRecordPayload is a closed cashier shift.
type ShiftRecordPayload struct {
	RecordID    string     `json:"id"`
	Cashier     string     `json:"cashier"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	OpeningCash float64    `json:"opening_cash"`
	ClosingCash float64    `json:"closing_cash"`
	Successor   string     `json:"successor,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	SyncedAt    *time.Time `json:"synced_at,omitempty"`
}

func (p *ShiftRecordPayload) Table() string { return TableShiftRecords }
func (p *ShiftRecordPayload) ID() string { return p.RecordID }
func (p *ShiftRecordPayload) LastSynced() time.Time { return derefTime(p.SyncedAt) }

func (p *ShiftRecordPayload) Record() Record {
	r := Record{
		"id":           p.RecordID,
		"cashier":      p.Cashier,
		"opening_cash": p.OpeningCash,
		"closing_cash": p.ClosingCash,
	}
	if p.Successor != "" {
		r["successor"] = p.Successor
	}
	putTime(r, "started_at", p.StartedAt)
	putTime(r, "ended_at", p.EndedAt)
	putTime(r, "updated_at", p.UpdatedAt)
	return r
}

// ProductPayload is a catalog edit.
type ProductPayload struct {
	ProductID string     `json:"id"`
	Name      string     `json:"name"`
	Category  string     `json:"category,omitempty"`
	Price     float64    `json:"price"`
	Stock     int        `json:"stock"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	SyncedAt  *time.Time `json:"synced_at,omitempty"`
}

func (p *ProductPayload) Table() string { return TableProducts }
func (p *ProductPayload) ID() string { return p.ProductID }
func (p *ProductPayload) LastSynced() time.Time { return derefTime(p.SyncedAt) }

func (p *ProductPayload) Record() Record {
	r := Record{"id": p.ProductID, "name": p.Name, "price": p.Price, "stock": p.Stock}
	if p.Category != "" {
		r["category"] = p.Category
	}
	putTime(r, "updated_at", p.UpdatedAt)
	return r
}

// AuthSessionPayload records a login or logout.
type AuthSessionPayload struct {
	SessionID string     `json:"id"`
	UserID    string     `json:"user_id"`
	Action    string     `json:"action"`
	At        *time.Time `json:"at,omitempty"`
}

func (p *AuthSessionPayload) Table() string { return TableAuthSessions }
func (p *AuthSessionPayload) ID() string { return p.SessionID }

func (p *AuthSessionPayload) Record() Record {
	r := Record{"id": p.SessionID, "user_id": p.UserID, "action": p.Action}
	putTime(r, "at", p.At)
	return r
}

// SettingPayload is a single settings entry; the key doubles as id.
type SettingPayload struct {
	Key       string     `json:"id"`
	Value     string     `json:"value"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (p *SettingPayload) Table() string { return TableSettings }
func (p *SettingPayload) ID() string { return p.Key }

func (p *SettingPayload) Record() Record {
	r := Record{"id": p.Key, "value": p.Value}
	putTime(r, "updated_at", p.UpdatedAt)
	return r
}

// GenericPayload carries an open record for tables without a dedicated variant.
type GenericPayload struct {
	TableName string
	Fields    Record
}

// NewGenericPayload wraps fields for table.
func NewGenericPayload(table string, fields Record) *GenericPayload {
	return &GenericPayload{TableName: table, Fields: fields}
}

func (p *GenericPayload) Table() string { return p.TableName }
func (p *GenericPayload) ID() string { return p.Fields.ID() }
func (p *GenericPayload) Record() Record { return p.Fields.Clone() }

// LastSynced reads an optional synced_at column.
func (p *GenericPayload) LastSynced() time.Time {
	t, _ := ParseTimestamp(p.Fields["synced_at"])
	return t
}

// MarshalJSON encodes only the fields; the table travels with the operation.
func (p *GenericPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Fields)
}

var payloadFactories = map[string]func() Payload{
	TableOrders:       func() Payload { return &OrderPayload{} },
	TableOrderItems:   func() Payload { return &OrderItemPayload{} },
	TableShiftRecords: func() Payload { return &ShiftRecordPayload{} },
	TableProducts:     func() Payload { return &ProductPayload{} },
	TableAuthSessions: func() Payload { return &AuthSessionPayload{} },
	TableSettings:     func() Payload { return &SettingPayload{} },
}

// DecodePayload decodes a persisted payload for table. Unknown tables decode to GenericPayload.
func DecodePayload(table string, raw []byte) (Payload, error) {
	if factory, ok := payloadFactories[table]; ok {
		p := factory()
		if err := DecodeJSON(raw, p); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", table, err)
		}
		return p, nil
	}

	fields := Record{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := DecodeJSON(raw, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", table, err)
		}
	}
	return NewGenericPayload(table, fields), nil
}

// DecodeJSON unmarshals data into v, keeping numbers as json.Number so ids
// and amounts beyond 2^53 survive a round trip.
func DecodeJSON(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// PayloadFromRecord builds the typed variant for table from an untyped record.
func PayloadFromRecord(table string, r Record) (Payload, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s record: %w", table, err)
	}
	return DecodePayload(table, raw)
}

// ParseTimestamp interprets RFC3339 strings, time.Time values and Unix
// milliseconds. Missing or unparseable values yield the zero time and false.
func ParseTimestamp(v interface{}) (time.Time, bool) {
	switch ts := v.(type) {
	case time.Time:
		return ts, !ts.IsZero()
	case *time.Time:
		if ts == nil {
			return time.Time{}, false
		}
		return *ts, !ts.IsZero()
	case string:
		if ts == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999-07", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, ts); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	case float64:
		return time.UnixMilli(int64(ts)), true
	case int64:
		return time.UnixMilli(ts), true
	case int:
		return time.UnixMilli(int64(ts)), true
	case json.Number:
		if n, err := ts.Int64(); err == nil {
			return time.UnixMilli(n), true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}
