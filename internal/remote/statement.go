package remote

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// quoteIdent validates and backtick-quotes a table or column name.
func quoteIdent(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return "`" + name + "`", nil
}

// sortedColumns returns the record's columns in a stable order with "id" first.
func sortedColumns(record core.Record) []string {
	cols := make([]string, 0, len(record))
	for col := range record {
		if col != "id" {
			cols = append(cols, col)
		}
	}
	sort.Strings(cols)
	if _, ok := record["id"]; ok {
		cols = append([]string{"id"}, cols...)
	}
	return cols
}

// toDBValue converts a record value into something database/sql can bind.
// Nested structures are stored as JSON text.
func toDBValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64, []byte:
		return val, nil
	case time.Time:
		return val.UTC(), nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return val.UTC(), nil
	case json.Number:
		return val.String(), nil
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("failed to encode value as JSON: %w", err)
		}
		return string(raw), nil
	}
}

type statement struct {
	query string
	args  []interface{}
}

func bindAll(record core.Record, cols []string) ([]string, []interface{}, error) {
	quoted := make([]string, 0, len(cols))
	args := make([]interface{}, 0, len(cols))
	for _, col := range cols {
		q, err := quoteIdent(col)
		if err != nil {
			return nil, nil, err
		}
		v, err := toDBValue(record[col])
		if err != nil {
			return nil, nil, fmt.Errorf("column %s: %w", col, err)
		}
		quoted = append(quoted, q)
		args = append(args, v)
	}
	return quoted, args, nil
}

// buildInsert returns INSERT INTO t (...) VALUES (...), optionally turned into
// an upsert with ON DUPLICATE KEY UPDATE for every non-id column.
func buildInsert(table string, record core.Record, upsert bool) (statement, error) {
	if len(record) == 0 {
		return statement{}, fmt.Errorf("no columns to insert")
	}
	qt, err := quoteIdent(table)
	if err != nil {
		return statement{}, err
	}

	cols := sortedColumns(record)
	quoted, args, err := bindAll(record, cols)
	if err != nil {
		return statement{}, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", qt, strings.Join(quoted, ", "), placeholders)

	if upsert {
		updates := make([]string, 0, len(quoted))
		for i, col := range cols {
			if col == "id" {
				continue
			}
			updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", quoted[i], quoted[i]))
		}
		if len(updates) == 0 {
			// Only the key: make the duplicate a no-op.
			updates = append(updates, "`id` = `id`")
		}
		query += " ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")
	}
	return statement{query: query, args: args}, nil
}

// buildUpdate returns UPDATE t SET ... WHERE id = ?.
func buildUpdate(table string, record core.Record) (statement, error) {
	id := record.ID()
	if id == "" {
		return statement{}, fmt.Errorf("update on %s requires an id", table)
	}
	qt, err := quoteIdent(table)
	if err != nil {
		return statement{}, err
	}

	cols := sortedColumns(record)[1:]
	if len(cols) == 0 {
		return statement{}, fmt.Errorf("no columns to update")
	}
	quoted, args, err := bindAll(record, cols)
	if err != nil {
		return statement{}, err
	}

	sets := make([]string, len(quoted))
	for i, q := range quoted {
		sets[i] = q + " = ?"
	}
	args = append(args, record["id"])
	return statement{
		query: fmt.Sprintf("UPDATE %s SET %s WHERE `id` = ?", qt, strings.Join(sets, ", ")),
		args:  args,
	}, nil
}

// buildDelete returns DELETE FROM t WHERE id = ?.
func buildDelete(table, id string) (statement, error) {
	if id == "" {
		return statement{}, fmt.Errorf("delete on %s requires an id", table)
	}
	qt, err := quoteIdent(table)
	if err != nil {
		return statement{}, err
	}
	return statement{query: fmt.Sprintf("DELETE FROM %s WHERE `id` = ?", qt), args: []interface{}{id}}, nil
}
