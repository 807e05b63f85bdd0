package storage

import (
	"errors"
	"fmt"
)

// DatabaseError classifies any failure coming back from a sink call
// (constraint violation, connectivity, syntax). It is always fatal for the run.
type DatabaseError struct {
	Op    string // "connect", "insert", "lookup", "create", "drop"
	Table string
	Err   error
}

func (e *DatabaseError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("database %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("database %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// WrapDB wraps err as a *DatabaseError unless it is nil or already one.
func WrapDB(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var de *DatabaseError
	if errors.As(err, &de) {
		return err
	}
	return &DatabaseError{Op: op, Table: table, Err: err}
}

// IsDatabaseError reports whether err carries a *DatabaseError.
func IsDatabaseError(err error) bool {
	var de *DatabaseError
	return errors.As(err, &de)
}
