package storage

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// keySep joins the parts of a composite cache key. Titles and names never
// contain NUL, so joined keys do not collide.
const keySep = "\x00"

// NormalizeKey converts a lookup value to a canonical string form, suitable
// for in-memory cache keys (e.g. "Stairway to Heaven" or "210.5").
//
// Backends must not assume a particular underlying type for keys; this helper
// keeps lookup caches consistent across backends. Floats use the shortest
// representation that round-trips, so 210.5 and 210.50 produce the same key.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		if math.IsNaN(t) {
			return "NaN"
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// CompositeKey joins the normalized parts with a separator.
func CompositeKey(parts ...any) string {
	ss := make([]string, len(parts))
	for i, p := range parts {
		ss[i] = NormalizeKey(p)
	}
	return strings.Join(ss, keySep)
}

// DedupeRows keeps one row per key. With keepLast=false the first
// occurrence wins; with keepLast=true the last one does. The output keeps the
// relative order of the surviving rows.
//
// Key columns must be present in columns; Conflict.Validate guarantees it.
func DedupeRows(rows [][]any, columns, keyColumns []string, keepLast bool) [][]any {
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}
	idx := make([]int, len(keyColumns))
	for i, k := range keyColumns {
		idx[i] = pos[k]
	}

	keyOf := func(row []any) string {
		parts := make([]any, len(idx))
		for i, j := range idx {
			parts[i] = row[j]
		}
		return CompositeKey(parts...)
	}

	winner := make(map[string]int, len(rows))
	for i, row := range rows {
		k := keyOf(row)
		if _, seen := winner[k]; seen && !keepLast {
			continue
		}
		winner[k] = i
	}
	if len(winner) == len(rows) {
		return rows
	}

	out := make([][]any, 0, len(winner))
	for i, row := range rows {
		if winner[keyOf(row)] == i {
			out = append(out, row)
		}
	}
	return out
}
