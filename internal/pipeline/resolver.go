package pipeline

import (
	"context"
	"fmt"

	"sparkify/internal/metrics"
	"sparkify/internal/schema"
	"sparkify/internal/storage"
)

// LookupStats counts song resolutions. Lookups is the number of queries
// sent to the sink; Cached the number answered from memory.
type LookupStats struct {
	Lookups int64
	Hits    int64
	Misses  int64
	Cached  int64
}

func (s *LookupStats) add(o LookupStats) {
	s.Lookups += o.Lookups
	s.Hits += o.Hits
	s.Misses += o.Misses
	s.Cached += o.Cached
}

type songMatch struct {
	songID   *string
	artistID *string
}

// Resolver maps a play's (song, artist, length) to catalogue ids, memoizing
// both hits and misses until Reset.
type Resolver struct {
	sink  storage.Sink
	query storage.LookupQuery
	cache map[string]songMatch
	stats LookupStats
}

func NewResolver(sink storage.Sink) *Resolver {
	return &Resolver{
		sink:  sink,
		query: schema.SongLookup(),
		cache: make(map[string]songMatch),
	}
}

// Resolve returns nil ids when no catalogue song matches; that is not an
// error.
func (r *Resolver) Resolve(ctx context.Context, song, artist string, length float64) (songID, artistID *string, err error) {
	key := storage.CompositeKey(song, artist, length)
	if m, ok := r.cache[key]; ok {
		r.stats.Cached++
		metrics.RecordLookup(metrics.LookupCached)
		return m.songID, m.artistID, nil
	}

	r.stats.Lookups++
	row, ok, err := r.sink.LookupOne(ctx, r.query, []any{song, artist, length})
	if err != nil {
		return nil, nil, err
	}

	var m songMatch
	if ok {
		if len(row) != 2 {
			return nil, nil, fmt.Errorf("song lookup: got %d columns, want 2", len(row))
		}
		m = songMatch{songID: text(row[0]), artistID: text(row[1])}
	}
	if m.songID == nil || m.artistID == nil {
		m = songMatch{}
		r.stats.Misses++
		metrics.RecordLookup(metrics.LookupMiss)
	} else {
		r.stats.Hits++
		metrics.RecordLookup(metrics.LookupHit)
	}
	r.cache[key] = m
	return m.songID, m.artistID, nil
}

// Reset drops the memoized results. Stats are kept.
func (r *Resolver) Reset() {
	clear(r.cache)
}

func (r *Resolver) Stats() LookupStats { return r.stats }

// text converts a scanned column to a string; drivers return text columns as
// string or []byte.
func text(v any) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		s = fmt.Sprint(t)
	}
	return &s
}
