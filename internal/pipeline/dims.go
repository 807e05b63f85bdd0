package pipeline

import (
	"sparkify/internal/schema"
	"sparkify/internal/storage"
	"sparkify/internal/timedim"
)

// DedupeUsers keeps one user per (user_id, first_name, last_name, gender),
// the last one seen, so the latest subscription level wins. Survivors are
// ordered by the position of that last occurrence.
func DedupeUsers(users []schema.User) []schema.User {
	key := func(u schema.User) string {
		return storage.CompositeKey(u.UserID, u.FirstName, u.LastName, u.Gender)
	}
	last := make(map[string]int, len(users))
	for i, u := range users {
		last[key(u)] = i
	}
	out := make([]schema.User, 0, len(last))
	for i, u := range users {
		if last[key(u)] == i {
			out = append(out, u)
		}
	}
	return out
}

// DedupeTime keeps the first row per start_time. Rows sharing a start_time
// derive from the same instant and are identical.
func DedupeTime(attrs []timedim.Attr) []timedim.Attr {
	seen := make(map[string]struct{}, len(attrs))
	out := make([]timedim.Attr, 0, len(attrs))
	for _, a := range attrs {
		if _, ok := seen[a.StartTime]; ok {
			continue
		}
		seen[a.StartTime] = struct{}{}
		out = append(out, a)
	}
	return out
}
