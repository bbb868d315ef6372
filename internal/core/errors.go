package core

import "fmt"

// SchemaMismatchError reports that the remote table lacks a column the record carries.
type SchemaMismatchError struct {
	Table  string
	Column string
	Err    error
}

func (e *SchemaMismatchError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("schema mismatch on table %s: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("schema mismatch on table %s: unknown column %q: %v", e.Table, e.Column, e.Err)
}

func (e *SchemaMismatchError) Unwrap() error {
	return e.Err
}
