package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"sparkify/internal/storage"
)

// SQLite's compile-time default for SQLITE_MAX_VARIABLE_NUMBER is 32766.
const (
	maxParams       = 32766
	maxRowsPerChunk = 500
)

// Sink implements storage.Sink for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no native TIMESTAMP type. start_time is stored as TEXT in the
//     fixed-width "2006-01-02T15:04:05.000000" layout, which sorts and compares
//     correctly as a string.
//   - Placeholders are numbered (?NNN) so OR predicates can reuse an argument.
//   - The pool is limited to one connection; ":memory:" databases are
//     per-connection and SQLite serializes writers anyway.
type Sink struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Sink{db: db}, nil
}

func (s *Sink) Close() { _ = s.db.Close() }

// EnsureTables creates tables in order. It is safe to run on every invocation.
func (s *Sink) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		q, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return storage.WrapDB("create", t.Name, err)
		}
	}
	return nil
}

func (s *Sink) DropTables(ctx context.Context, tables []storage.TableSpec) error {
	for i := len(tables) - 1; i >= 0; i-- {
		name := tables[i].Name
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqlTableIdent(name)+";"); err != nil {
			return storage.WrapDB("drop", name, err)
		}
	}
	return nil
}

// BulkInsert inserts rows in chunks inside a single transaction.
//
// Ignore uses ON CONFLICT (...) DO NOTHING rather than INSERT OR IGNORE, so
// NOT NULL and CHECK violations still fail the statement.
func (s *Sink) BulkInsert(
	ctx context.Context,
	table string,
	columns []string,
	rows [][]any,
	conflict storage.Conflict,
) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := storage.CheckRows(table, columns, rows); err != nil {
		return 0, err
	}
	if err := conflict.Validate(columns); err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storage.WrapDB("insert", table, err)
	}
	defer func() { _ = tx.Rollback() }()

	per := storage.RowsPerStatement(len(columns), maxParams, maxRowsPerChunk)

	var total int64
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		q, args := buildInsertSQL(table, columns, rows[start:end], conflict)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, storage.WrapDB("insert", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, storage.WrapDB("insert", table, err)
	}
	return total, nil
}

func (s *Sink) LookupOne(ctx context.Context, q storage.LookupQuery, args []any) ([]any, bool, error) {
	if err := q.Validate(args); err != nil {
		return nil, false, err
	}

	rows, err := s.db.QueryContext(ctx, buildLookupSQL(q), args...)
	if err != nil {
		return nil, false, storage.WrapDB("lookup", q.Table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, storage.WrapDB("lookup", q.Table, err)
		}
		return nil, false, nil
	}

	vals := make([]any, len(q.Return))
	ptrs := make([]any, len(q.Return))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, false, storage.WrapDB("lookup", q.Table, err)
	}
	return vals, true, nil
}

// ---- SQL builders ----

func buildInsertSQL(table string, columns []string, rows [][]any, conflict storage.Conflict) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES ")

	ph := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ph)
		args = append(args, row...)
	}

	switch conflict.Action {
	case storage.ConflictIgnore:
		b.WriteString(" ON CONFLICT (")
		b.WriteString(joinIdents(conflict.Target))
		b.WriteString(") DO NOTHING")
	case storage.ConflictUpdate:
		b.WriteString(" ON CONFLICT (")
		b.WriteString(joinIdents(conflict.Target))
		b.WriteString(") DO UPDATE SET ")
		for i, c := range conflict.Update {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(sqlIdent(c))
			b.WriteString(" = excluded.")
			b.WriteString(sqlIdent(c))
		}
	}
	b.WriteString(";")
	return b.String(), args
}

func buildLookupSQL(q storage.LookupQuery) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	for i, c := range q.Return {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlTableIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(sqlTableIdent(q.Table))
	if q.Join != nil {
		b.WriteString(" JOIN ")
		b.WriteString(sqlTableIdent(q.Join.Table))
		b.WriteString(" ON ")
		b.WriteString(sqlTableIdent(q.Join.Left))
		b.WriteString(" = ")
		b.WriteString(sqlTableIdent(q.Join.Right))
	}
	for i, p := range q.Where {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		ph := fmt.Sprintf("?%d", i+1)
		if len(p.AnyOf) > 1 {
			b.WriteString("(")
		}
		for j, c := range p.AnyOf {
			if j > 0 {
				b.WriteString(" OR ")
			}
			b.WriteString(sqlTableIdent(c))
			b.WriteString(" = ")
			b.WriteString(ph)
		}
		if len(p.AnyOf) > 1 {
			b.WriteString(")")
		}
	}
	b.WriteString(" LIMIT 1;")
	return b.String()
}

// buildCreateSQL generates DDL for one table.
//
// A serial surrogate key becomes INTEGER PRIMARY KEY AUTOINCREMENT, the only
// spelling SQLite accepts for an auto-assigned rowid alias.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	defs := make([]string, 0, len(t.Columns)+2)
	if pk := t.PrimaryKey; pk != nil {
		if strings.ToLower(pk.Type) != storage.TypeSerial {
			return "", fmt.Errorf("table %s: unsupported primary key type %q", t.Name, pk.Type)
		}
		defs = append(defs, sqlIdent(pk.Name)+" INTEGER PRIMARY KEY AUTOINCREMENT")
	}

	singleKey := len(t.Key) == 1
	for _, c := range t.Columns {
		typ, err := columnType(c.Type)
		if err != nil {
			return "", fmt.Errorf("table %s: column %s: %w", t.Name, c.Name, err)
		}
		def := sqlIdent(c.Name) + " " + typ
		if singleKey && t.IsKeyColumn(c.Name) {
			// SQLite lets a non-integer PRIMARY KEY hold NULL unless told otherwise.
			def += " PRIMARY KEY NOT NULL"
		} else if !c.Nullable {
			def += " NOT NULL"
		}
		if ref := c.References; ref != nil {
			def += " REFERENCES " + sqlTableIdent(ref.Table) + " (" + sqlIdent(ref.Column) + ")"
			if ref.OnDelete != "" {
				def += " ON DELETE " + ref.OnDelete
			}
		}
		defs = append(defs, def)
	}

	if len(t.Key) > 1 {
		defs = append(defs, "PRIMARY KEY ("+joinIdents(t.Key)+")")
	}
	for _, con := range t.Constraints {
		defs = append(defs, "UNIQUE ("+joinIdents(con.Columns)+")")
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", sqlTableIdent(t.Name), strings.Join(defs, ", ")), nil
}

func columnType(logical string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(logical)) {
	case storage.TypeText, storage.TypeTimestamp:
		return "TEXT", nil
	case storage.TypeInt, storage.TypeBigInt:
		return "INTEGER", nil
	case storage.TypeDouble:
		return "REAL", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", logical)
	}
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func sqlTableIdent(name string) string {
	parts := storage.SplitQualified(name)
	for i := range parts {
		parts[i] = sqlIdent(parts[i])
	}
	return strings.Join(parts, ".")
}

func joinIdents(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = sqlIdent(c)
	}
	return strings.Join(out, ", ")
}
