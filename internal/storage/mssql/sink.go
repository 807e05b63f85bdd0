package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"sparkify/internal/storage"
)

// SQL Server rejects statements with more than 2100 parameters; stay under it.
const (
	maxParams       = 2000
	maxRowsPerChunk = 1000
)

// Sink implements storage.Sink for Microsoft SQL Server.
//
// Conflict policies:
//   - Ignore: INSERT ... SELECT FROM (VALUES ...) WHERE NOT EXISTS.
//   - Update: MERGE ... WHEN MATCHED THEN UPDATE ... WHEN NOT MATCHED THEN INSERT.
//
// Unlike Postgres ON CONFLICT DO NOTHING, neither statement collapses
// duplicates inside its own VALUES source, so rows are deduplicated by the
// conflict target before each chunk is built: first occurrence wins for
// Ignore, last occurrence wins for Update.
type Sink struct {
	db dbConn
}

// New opens a "sqlserver" database/sql handle and validates connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// The loader is single-threaded; a small pool is plenty.
	raw.SetMaxOpenConns(4)
	raw.SetMaxIdleConns(4)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Sink{db: &sqlDB{db: raw}}, nil
}

func init() {
	storage.Register("mssql", New)
}

// Close releases database resources held by this sink.
func (s *Sink) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// EnsureTables creates each table unless it already exists.
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
		if _, err := s.db.ExecContext(ctx, buildDropSQL(name)); err != nil {
			return storage.WrapDB("drop", name, err)
		}
	}
	return nil
}

// BulkInsert inserts rows in parameter-limited chunks inside one transaction.
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

	// NOT EXISTS and MERGE compare against the target table only, so
	// duplicates inside the source would both be inserted.
	switch conflict.Action {
	case storage.ConflictIgnore:
		rows = storage.DedupeRows(rows, columns, conflict.Target, false)
	case storage.ConflictUpdate:
		rows = storage.DedupeRows(rows, columns, conflict.Target, true)
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

// LookupOne runs a SELECT TOP 1 and scans the single row, if any.
func (s *Sink) LookupOne(ctx context.Context, q storage.LookupQuery, args []any) ([]any, bool, error) {
	if err := q.Validate(args); err != nil {
		return nil, false, err
	}

	vals := make([]any, len(q.Return))
	ptrs := make([]any, len(q.Return))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	err := s.db.QueryRowContext(ctx, buildLookupSQL(q), args...).Scan(ptrs...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storage.WrapDB("lookup", q.Table, err)
	}
	return vals, true, nil
}

// ---- SQL builders ----

func buildInsertSQL(table string, columns []string, rows [][]any, conflict storage.Conflict) (string, []any) {
	switch conflict.Action {
	case storage.ConflictIgnore:
		return buildInsertNotExistsSQL(table, columns, rows, conflict.Target)
	case storage.ConflictUpdate:
		return buildMergeSQL(table, columns, rows, conflict)
	default:
		return buildBulkInsertSQL(table, columns, rows)
	}
}

// buildBulkInsertSQL constructs a plain multi-row INSERT ... VALUES.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents("", columns))
	b.WriteString(") VALUES ")
	args := writeValues(&b, columns, rows)
	b.WriteString(";")
	return b.String(), args
}

// buildInsertNotExistsSQL constructs a single INSERT...SELECT...WHERE NOT EXISTS for a chunk of rows.
//
// It materializes incoming rows as a derived table V via VALUES, then inserts only those
// rows that do not match existing rows per keyColumns.
func buildInsertNotExistsSQL(table string, columns []string, rows [][]any, keyColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdents("", columns))
	b.WriteString(") SELECT ")
	b.WriteString(joinIdents("v.", columns))
	b.WriteString(" FROM (VALUES ")
	args := writeValues(&b, columns, rows)
	b.WriteString(") AS v(")
	b.WriteString(joinIdents("", columns))
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" t WHERE ")
	writeKeyMatch(&b, keyColumns)
	b.WriteString(");")
	return b.String(), args
}

// buildMergeSQL upserts a chunk, overwriting only conflict.Update columns.
func buildMergeSQL(table string, columns []string, rows [][]any, conflict storage.Conflict) (string, []any) {
	var b strings.Builder
	b.WriteString("MERGE INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" AS t USING (VALUES ")
	args := writeValues(&b, columns, rows)
	b.WriteString(") AS v(")
	b.WriteString(joinIdents("", columns))
	b.WriteString(") ON ")
	writeKeyMatch(&b, conflict.Target)
	b.WriteString(" WHEN MATCHED THEN UPDATE SET ")
	for i, c := range conflict.Update {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("t.")
		b.WriteString(mssqlIdent(c))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(" WHEN NOT MATCHED THEN INSERT (")
	b.WriteString(joinIdents("", columns))
	b.WriteString(") VALUES (")
	b.WriteString(joinIdents("v.", columns))
	// MERGE must be terminated by a semicolon.
	b.WriteString(");")
	return b.String(), args
}

func buildLookupSQL(q storage.LookupQuery) string {
	var b strings.Builder
	b.WriteString("SELECT TOP 1 ")
	for i, c := range q.Return {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlTableIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(mssqlTableIdent(q.Table))
	if q.Join != nil {
		b.WriteString(" INNER JOIN ")
		b.WriteString(mssqlTableIdent(q.Join.Table))
		b.WriteString(" ON ")
		b.WriteString(mssqlTableIdent(q.Join.Left))
		b.WriteString(" = ")
		b.WriteString(mssqlTableIdent(q.Join.Right))
	}
	for i, p := range q.Where {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		ph := fmt.Sprintf("@p%d", i+1)
		if len(p.AnyOf) > 1 {
			b.WriteString("(")
		}
		for j, c := range p.AnyOf {
			if j > 0 {
				b.WriteString(" OR ")
			}
			b.WriteString(mssqlTableIdent(c))
			b.WriteString(" = ")
			b.WriteString(ph)
		}
		if len(p.AnyOf) > 1 {
			b.WriteString(")")
		}
	}
	b.WriteString(";")
	return b.String()
}

func buildDropSQL(table string) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;",
		strings.ReplaceAll(table, "'", "''"), mssqlTableIdent(table))
}

// buildCreateSQL renders the DDL for one table wrapped in an OBJECT_ID guard.
//
// Foreign keys are rendered as plain REFERENCES without ON DELETE actions.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	indexed := indexedColumns(t)
	defs := make([]string, 0, len(t.Columns)+2)

	if pk := t.PrimaryKey; pk != nil {
		def, err := mssqlPrimaryKeyDef(*pk)
		if err != nil {
			return "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}

	singleKey := len(t.Key) == 1
	for _, c := range t.Columns {
		typ, err := columnType(c.Type, indexed[c.Name])
		if err != nil {
			return "", fmt.Errorf("table %s: column %s: %w", t.Name, c.Name, err)
		}
		def := mssqlIdent(c.Name) + " " + typ
		switch {
		case singleKey && t.IsKeyColumn(c.Name):
			def += " NOT NULL PRIMARY KEY"
		case c.Nullable:
			def += " NULL"
		default:
			def += " NOT NULL"
		}
		if ref := c.References; ref != nil {
			def += " REFERENCES " + mssqlTableIdent(ref.Table) + " (" + mssqlIdent(ref.Column) + ")"
		}
		defs = append(defs, def)
	}

	if len(t.Key) > 1 {
		defs = append(defs, "PRIMARY KEY ("+joinIdents("", t.Key)+")")
	}
	for _, con := range t.Constraints {
		defs = append(defs, "UNIQUE ("+joinIdents("", con.Columns)+")")
	}

	return wrapCreateIfMissing(t.Name, strings.Join(defs, ", ")), nil
}

// indexedColumns lists the columns that take part in a key, a constraint or a
// reference. Text columns among them need a bounded NVARCHAR length.
func indexedColumns(t storage.TableSpec) map[string]bool {
	out := make(map[string]bool, len(t.Columns))
	for _, k := range t.Key {
		out[k] = true
	}
	for _, con := range t.Constraints {
		for _, c := range con.Columns {
			out[c] = true
		}
	}
	for _, c := range t.Columns {
		if c.References != nil {
			out[c.Name] = true
		}
	}
	return out
}

func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// mssqlPrimaryKeyDef returns a column definition for an identity primary key.
func mssqlPrimaryKeyDef(pk storage.PrimaryKeySpec) (string, error) {
	if strings.TrimSpace(pk.Name) == "" {
		return "", fmt.Errorf("mssql: primary key name is empty")
	}
	switch strings.ToLower(strings.TrimSpace(pk.Type)) {
	case storage.TypeSerial:
		return fmt.Sprintf("%s BIGINT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(pk.Name)), nil
	default:
		return "", fmt.Errorf("mssql: unsupported primary key type %q", pk.Type)
	}
}

// columnType maps a logical type to SQL Server. NVARCHAR(MAX) cannot be
// indexed, so key and reference columns use NVARCHAR(450) (900 bytes, the
// index key limit).
func columnType(logical string, indexed bool) (string, error) {
	switch strings.ToLower(strings.TrimSpace(logical)) {
	case storage.TypeText:
		if indexed {
			return "NVARCHAR(450)", nil
		}
		return "NVARCHAR(MAX)", nil
	case storage.TypeInt:
		return "INT", nil
	case storage.TypeBigInt:
		return "BIGINT", nil
	case storage.TypeDouble:
		return "FLOAT", nil
	case storage.TypeTimestamp:
		return "DATETIME2(6)", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", logical)
	}
}

func writeValues(b *strings.Builder, columns []string, rows [][]any) []any {
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
			b.WriteString(fmt.Sprintf("@p%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return args
}

func writeKeyMatch(b *strings.Builder, keyColumns []string) {
	for i, k := range keyColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(mssqlIdent(k))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(k))
	}
}

func joinIdents(prefix string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + mssqlIdent(c)
	}
	return strings.Join(out, ", ")
}

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for qualified names.
//
// Example:
//
//	"dbo.songs" -> [dbo].[songs]
func mssqlTableIdent(name string) string {
	parts := storage.SplitQualified(name)
	for i := range parts {
		parts[i] = mssqlIdent(parts[i])
	}
	return strings.Join(parts, ".")
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx used for testability.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

// rowScanner is a narrow adapter over *sql.Row.Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var _ dbConn = (*sqlDB)(nil)
