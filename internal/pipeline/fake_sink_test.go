package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"sparkify/internal/schema"
	"sparkify/internal/storage"
)

// fakeSink keeps rows in memory and applies the conflict policies the way
// the SQL backends do. LookupOne joins songs and artists like SongLookup.
type fakeSink struct {
	columns map[string][]string
	rows    map[string][][]any

	ensureCalls int
	dropCalls   int
	closed      bool
	lookups     int
	inserts     []string

	failTable string
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		columns: make(map[string][]string),
		rows:    make(map[string][][]any),
	}
}

func (f *fakeSink) Close() { f.closed = true }

func (f *fakeSink) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	f.ensureCalls++
	return nil
}

func (f *fakeSink) DropTables(ctx context.Context, tables []storage.TableSpec) error {
	f.dropCalls++
	f.rows = make(map[string][][]any)
	return nil
}

func (f *fakeSink) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any, conflict storage.Conflict) (int64, error) {
	f.inserts = append(f.inserts, table)
	if table == f.failTable {
		return 0, storage.WrapDB("insert", table, errors.New("connection reset"))
	}
	f.columns[table] = columns

	keyCols := conflict.Target
	if conflict.Action == storage.ConflictNone && table == schema.TableSongs {
		keyCols = []string{"song_id"}
	}

	var written int64
	for _, row := range rows {
		existing := -1
		if len(keyCols) > 0 {
			existing = f.find(table, columns, keyCols, row)
		}
		switch {
		case existing < 0:
			f.rows[table] = append(f.rows[table], slices.Clone(row))
			written++
		case conflict.Action == storage.ConflictNone:
			return 0, storage.WrapDB("insert", table, fmt.Errorf("duplicate key %v", row[0]))
		case conflict.Action == storage.ConflictUpdate:
			for _, c := range conflict.Update {
				i := slices.Index(columns, c)
				f.rows[table][existing][i] = row[i]
			}
			written++
		}
	}
	return written, nil
}

func (f *fakeSink) find(table string, columns, keyCols []string, row []any) int {
	for i, have := range f.rows[table] {
		match := true
		for _, k := range keyCols {
			j := slices.Index(columns, k)
			if storage.NormalizeKey(have[j]) != storage.NormalizeKey(row[j]) {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func (f *fakeSink) LookupOne(ctx context.Context, q storage.LookupQuery, args []any) ([]any, bool, error) {
	if err := q.Validate(args); err != nil {
		return nil, false, err
	}
	f.lookups++
	title, artist, length := args[0].(string), args[1].(string), args[2].(float64)
	for _, s := range f.rows[schema.TableSongs] {
		if s[1] != title || s[4] != length {
			continue
		}
		for _, a := range f.rows[schema.TableArtists] {
			if a[0] == s[2] && (a[1] == artist || a[0] == artist) {
				return []any{s[0], s[2]}, true, nil
			}
		}
	}
	return nil, false, nil
}

func (f *fakeSink) table(name string) [][]any { return f.rows[name] }

var _ storage.Sink = (*fakeSink)(nil)
