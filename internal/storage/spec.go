// Table and query descriptions live here so the schema package and every
// backend can share them without import cycles.
package storage

import (
	"fmt"
	"strings"
)

// Logical column types. Each backend maps them to its own DDL types.
const (
	TypeText      = "text"
	TypeInt       = "int"
	TypeBigInt    = "bigint"
	TypeDouble    = "double"
	TypeTimestamp = "timestamp"
	TypeSerial    = "serial"
)

type TableSpec struct {
	Name string

	// Surrogate key generated by the database (e.g. songplay_id). It is never
	// part of Columns and never written by the loader.
	PrimaryKey *PrimaryKeySpec

	Columns []ColumnSpec

	// Natural primary key columns, when the table has one.
	Key []string

	Constraints []ConstraintSpec
}

type PrimaryKeySpec struct {
	Name string
	Type string // TypeSerial
}

type ColumnSpec struct {
	Name       string
	Type       string
	Nullable   bool
	References *ForeignKey
}

type ForeignKey struct {
	Table  string
	Column string

	// OnDelete is rendered as "ON DELETE <OnDelete>" by dialects that support it.
	OnDelete string
}

type ConstraintSpec struct {
	Kind    string // "unique"
	Columns []string
}

// ColumnNames returns the insertable column names in declaration order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

// IsKeyColumn reports whether name is part of the natural primary key.
func (t TableSpec) IsKeyColumn(name string) bool {
	for _, k := range t.Key {
		if k == name {
			return true
		}
	}
	return false
}

// Validate reports table definitions the DDL builders cannot recover from.
func (t TableSpec) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("table name is empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: no columns", t.Name)
	}
	known := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Type) == "" {
			return fmt.Errorf("table %s: column name/type must be set", t.Name)
		}
		known[c.Name] = true
	}
	for _, k := range t.Key {
		if !known[k] {
			return fmt.Errorf("table %s: key column %q is not declared", t.Name, k)
		}
	}
	for _, con := range t.Constraints {
		if con.Kind != "unique" {
			return fmt.Errorf("table %s: unsupported constraint kind %q", t.Name, con.Kind)
		}
		if len(con.Columns) == 0 {
			return fmt.Errorf("table %s: unique constraint requires columns", t.Name)
		}
	}
	if t.PrimaryKey != nil && (t.PrimaryKey.Name == "" || t.PrimaryKey.Type == "") {
		return fmt.Errorf("table %s: primary_key.name and primary_key.type are required", t.Name)
	}
	return nil
}

// ---- conflict policy ----

type ConflictAction int

const (
	// ConflictNone inserts plainly; duplicate keys fail the statement.
	ConflictNone ConflictAction = iota
	// ConflictIgnore skips rows whose Target already exists.
	ConflictIgnore
	// ConflictUpdate overwrites the Update columns of the existing row.
	ConflictUpdate
)

func (a ConflictAction) String() string {
	switch a {
	case ConflictNone:
		return "none"
	case ConflictIgnore:
		return "ignore"
	case ConflictUpdate:
		return "update"
	default:
		return fmt.Sprintf("ConflictAction(%d)", int(a))
	}
}

type Conflict struct {
	Action ConflictAction
	Target []string
	Update []string
}

func NoConflict() Conflict { return Conflict{Action: ConflictNone} }

func IgnoreOn(target ...string) Conflict {
	return Conflict{Action: ConflictIgnore, Target: target}
}

func UpdateOn(target []string, update ...string) Conflict {
	return Conflict{Action: ConflictUpdate, Target: target, Update: update}
}

// Validate checks the policy against the statement's column list.
func (c Conflict) Validate(columns []string) error {
	has := make(map[string]bool, len(columns))
	for _, col := range columns {
		has[col] = true
	}
	switch c.Action {
	case ConflictNone:
		return nil
	case ConflictIgnore, ConflictUpdate:
		if len(c.Target) == 0 {
			return fmt.Errorf("conflict %s: target columns are required", c.Action)
		}
		for _, t := range c.Target {
			if !has[t] {
				return fmt.Errorf("conflict %s: target column %q not in columns", c.Action, t)
			}
		}
		if c.Action == ConflictUpdate {
			if len(c.Update) == 0 {
				return fmt.Errorf("conflict update: update columns are required")
			}
			for _, u := range c.Update {
				if !has[u] {
					return fmt.Errorf("conflict update: update column %q not in columns", u)
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown conflict action %d", int(c.Action))
	}
}

// ---- point lookups ----

// LookupQuery describes a single-row lookup, optionally joined to one table.
// Column names may be qualified ("songs.title").
type LookupQuery struct {
	Table  string
	Join   *JoinSpec
	Where  []Predicate
	Return []string
}

// JoinSpec is an inner join: Table ON Left = Right.
type JoinSpec struct {
	Table string
	Left  string
	Right string
}

// Predicate matches one argument against one or more columns. With several
// columns the predicate holds when any of them equals the argument.
type Predicate struct {
	AnyOf []string
}

func Eq(column string) Predicate { return Predicate{AnyOf: []string{column}} }

func EqAny(columns ...string) Predicate { return Predicate{AnyOf: columns} }

func (q LookupQuery) Validate(args []any) error {
	if strings.TrimSpace(q.Table) == "" {
		return fmt.Errorf("lookup: table is required")
	}
	if len(q.Return) == 0 {
		return fmt.Errorf("lookup %s: return columns are required", q.Table)
	}
	if len(q.Where) != len(args) {
		return fmt.Errorf("lookup %s: %d predicates but %d args", q.Table, len(q.Where), len(args))
	}
	for i, p := range q.Where {
		if len(p.AnyOf) == 0 {
			return fmt.Errorf("lookup %s: predicate %d has no columns", q.Table, i)
		}
	}
	if q.Join != nil && (q.Join.Table == "" || q.Join.Left == "" || q.Join.Right == "") {
		return fmt.Errorf("lookup %s: join requires table, left and right", q.Table)
	}
	return nil
}

// SplitQualified splits "schema.table" or "table.column" into its parts.
func SplitQualified(name string) []string {
	parts := strings.Split(strings.TrimSpace(name), ".")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// RowsPerStatement returns how many rows of width columns fit under a
// backend's bind-parameter limit, capped at maxRows.
func RowsPerStatement(columns, maxParams, maxRows int) int {
	if columns <= 0 {
		return maxRows
	}
	n := maxParams / columns
	if n < 1 {
		n = 1
	}
	if maxRows > 0 && n > maxRows {
		n = maxRows
	}
	return n
}

// CheckRows verifies every row has exactly len(columns) values.
func CheckRows(table string, columns []string, rows [][]any) error {
	if len(columns) == 0 {
		return fmt.Errorf("insert %s: columns is empty", table)
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return fmt.Errorf("insert %s: row %d has %d values, want %d", table, i, len(r), len(columns))
		}
	}
	return nil
}
