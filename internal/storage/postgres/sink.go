package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sparkify/internal/storage"
)

// Postgres caps bind parameters at 65535 per statement.
const (
	maxParams       = 65535
	maxRowsPerChunk = 1000
)

/*
Sink implements storage.Sink for Postgres.

It provides:
  - CREATE TABLE IF NOT EXISTS / DROP TABLE IF EXISTS for the star schema
  - Multi-row INSERT with ON CONFLICT DO NOTHING / DO UPDATE
  - Single-row lookups with numbered placeholders

Every BulkInsert runs in one transaction so chunking stays atomic.
*/
type Sink struct {
	pool *pgxpool.Pool
}

// New creates a new Postgres-backed Sink.
func New(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Sink{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Sink) Close() {
	s.pool.Close()
}

func (s *Sink) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		schemaSQL, tableSQL, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
				return storage.WrapDB("create", t.Name, fmt.Errorf("create schema: %w", err))
			}
		}
		if _, err := s.pool.Exec(ctx, tableSQL); err != nil {
			return storage.WrapDB("create", t.Name, err)
		}
	}
	return nil
}

func (s *Sink) DropTables(ctx context.Context, tables []storage.TableSpec) error {
	for i := len(tables) - 1; i >= 0; i-- {
		t := tables[i]
		if _, err := s.pool.Exec(ctx, buildDropSQL(t.Name)); err != nil {
			return storage.WrapDB("drop", t.Name, err)
		}
	}
	return nil
}

// BulkInsert inserts rows in chunks inside a single transaction.
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
	// ON CONFLICT DO UPDATE rejects a statement that touches the same key
	// twice; the last row carries the wanted values.
	if conflict.Action == storage.ConflictUpdate {
		rows = storage.DedupeRows(rows, columns, conflict.Target, true)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, storage.WrapDB("insert", table, err)
	}
	defer tx.Rollback(ctx)

	total, err := insertChunks(ctx, tx, table, columns, rows, conflict)
	if err != nil {
		return 0, storage.WrapDB("insert", table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, storage.WrapDB("insert", table, err)
	}
	return total, nil
}

func insertChunks(
	ctx context.Context,
	tx pgx.Tx,
	table string,
	columns []string,
	rows [][]any,
	conflict storage.Conflict,
) (int64, error) {
	per := storage.RowsPerStatement(len(columns), maxParams, maxRowsPerChunk)

	var total int64
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		sql, args := buildInsertSQL(table, columns, rows[start:end], conflict)
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return total, err
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func (s *Sink) LookupOne(ctx context.Context, q storage.LookupQuery, args []any) ([]any, bool, error) {
	if err := q.Validate(args); err != nil {
		return nil, false, err
	}
	sql := buildLookupSQL(q)

	rows, err := s.pool.Query(ctx, sql, args...)
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
	vals, err := rows.Values()
	if err != nil {
		return nil, false, storage.WrapDB("lookup", q.Table, err)
	}
	return vals, true, nil
}

// ---- SQL builders ----

// buildInsertSQL constructs a single INSERT statement and its args for Postgres.
//
// Why this exists:
//   - It is pure and deterministic, so we can unit test correctness (especially
//     ON CONFLICT behavior and placeholder numbering) without a database.
//
// Constraints:
//   - rows must have the same length as columns for every row.
//   - columns must be non-empty.
func buildInsertSQL(table string, columns []string, rows [][]any, conflict storage.Conflict) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("$%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
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
			b.WriteString(pgIdent(c))
			b.WriteString(" = EXCLUDED.")
			b.WriteString(pgIdent(c))
		}
	}

	b.WriteString(";")
	return b.String(), args
}

// buildLookupSQL renders q with $n placeholders. An AnyOf predicate reuses
// its placeholder for every alternative, so args stay one per predicate.
func buildLookupSQL(q storage.LookupQuery) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	for i, c := range q.Return {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgTableIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(pgTableIdent(q.Table))
	if q.Join != nil {
		b.WriteString(" JOIN ")
		b.WriteString(pgTableIdent(q.Join.Table))
		b.WriteString(" ON ")
		b.WriteString(pgTableIdent(q.Join.Left))
		b.WriteString(" = ")
		b.WriteString(pgTableIdent(q.Join.Right))
	}
	for i, p := range q.Where {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		ph := fmt.Sprintf("$%d", i+1)
		if len(p.AnyOf) > 1 {
			b.WriteString("(")
		}
		for j, c := range p.AnyOf {
			if j > 0 {
				b.WriteString(" OR ")
			}
			b.WriteString(pgTableIdent(c))
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

func buildDropSQL(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", pgTableIdent(table))
}

// buildCreateSQL builds DDL for one table, plus a CREATE SCHEMA statement
// when the name is schema-qualified.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, tableSQL string, err error) {
	if err := t.Validate(); err != nil {
		return "", "", err
	}

	if parts := storage.SplitQualified(t.Name); len(parts) == 2 {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(parts[0]))
	}

	defs := make([]string, 0, len(t.Columns)+2)

	// Postgres supports inline PRIMARY KEY constraints.
	if t.PrimaryKey != nil {
		typ, err := columnType(t.PrimaryKey.Type)
		if err != nil {
			return "", "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		defs = append(defs, fmt.Sprintf(`%s %s PRIMARY KEY`, pgIdent(t.PrimaryKey.Name), typ))
	}

	singleKey := len(t.Key) == 1
	for _, c := range t.Columns {
		def, err := buildColumnDef(c, singleKey && t.IsKeyColumn(c.Name))
		if err != nil {
			return "", "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}

	if len(t.Key) > 1 {
		defs = append(defs, "PRIMARY KEY ("+joinIdents(t.Key)+")")
	}
	for _, con := range t.Constraints {
		defs = append(defs, "UNIQUE ("+joinIdents(con.Columns)+")")
	}

	tableSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`,
		pgTableIdent(t.Name), strings.Join(defs, ", "))
	return schemaSQL, tableSQL, nil
}

// buildColumnDef renders a single column definition.
//
// Foreign key references are expressed inline in the column definition.
// This keeps CreateTable DDL self-contained and matches typical Postgres style.
func buildColumnDef(c storage.ColumnSpec, primaryKey bool) (string, error) {
	typ, err := columnType(c.Type)
	if err != nil {
		return "", fmt.Errorf("column %s: %w", c.Name, err)
	}

	var b strings.Builder
	b.WriteString(pgIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(typ)
	if primaryKey {
		b.WriteString(" PRIMARY KEY")
	} else if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if ref := c.References; ref != nil {
		b.WriteString(" REFERENCES ")
		b.WriteString(pgTableIdent(ref.Table))
		b.WriteString(" (")
		b.WriteString(pgIdent(ref.Column))
		b.WriteString(")")
		if ref.OnDelete != "" {
			b.WriteString(" ON DELETE ")
			b.WriteString(ref.OnDelete)
		}
	}
	return b.String(), nil
}

func columnType(logical string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(logical)) {
	case storage.TypeText:
		return "TEXT", nil
	case storage.TypeInt:
		return "INTEGER", nil
	case storage.TypeBigInt:
		return "BIGINT", nil
	case storage.TypeDouble:
		return "DOUBLE PRECISION", nil
	case storage.TypeTimestamp:
		return "TIMESTAMP", nil
	case storage.TypeSerial:
		return "SERIAL", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", logical)
	}
}

// pgIdent quotes a single identifier, doubling embedded quotes.
func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// pgTableIdent quotes each part of a qualified name: public.time -> "public"."time".
func pgTableIdent(name string) string {
	parts := storage.SplitQualified(name)
	for i := range parts {
		parts[i] = pgIdent(parts[i])
	}
	return strings.Join(parts, ".")
}

func joinIdents(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return strings.Join(out, ", ")
}
