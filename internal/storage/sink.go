package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a Sink.
//
// When to use:
//   - Use Config when constructing a Sink via New.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Sink is the relational capability the loader needs.
//
// IMPORTANT: This interface is intentionally minimal. Each backend implements
// the conflict policies in its own idiomatic way (Postgres ON CONFLICT,
// SQLite OR IGNORE / ON CONFLICT DO UPDATE, SQL Server NOT EXISTS / MERGE).
type Sink interface {
	// Close releases any backend resources (connections, pools).
	//
	// Edge cases:
	//   - Callers should treat Close as "call once" at shutdown.
	Close()

	// EnsureTables creates the tables if they do not exist. Tables are created
	// in the given order, so referenced tables must come first.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// DropTables drops the tables if they exist, in reverse order of tables.
	DropTables(ctx context.Context, tables []TableSpec) error

	// BulkInsert writes rows positionally aligned with columns.
	//
	// The call is atomic: backends that must split rows into several
	// statements (parameter limits) run them in one transaction.
	//
	// Errors:
	//   - Constraint violations and connectivity failures are returned as
	//     *DatabaseError. Under ConflictNone a duplicate key is an error.
	BulkInsert(ctx context.Context, table string, columns []string, rows [][]any, conflict Conflict) (int64, error)

	// LookupOne returns the first row matching q, or ok=false when nothing
	// matches. args align with q.Where, one value per predicate.
	LookupOne(ctx context.Context, q LookupQuery, args []any) (row []any, ok bool, err error)
}

// ---- factories ----

type factory func(ctx context.Context, cfg Config) (Sink, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered. Duplicate
//     registration would make backend selection ambiguous.
func Register(kind string, f factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Sink using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns, wrapped as a
//     *DatabaseError so connectivity failures classify like any other sink error.
func New(ctx context.Context, cfg Config) (Sink, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	factoriesMu.RLock()
	f := factories[cfg.Kind]
	factoriesMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	s, err := f(ctx, cfg)
	if err != nil {
		return nil, WrapDB("connect", "", err)
	}
	return s, nil
}

// Kinds lists registered backend kinds in sorted order.
func Kinds() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
