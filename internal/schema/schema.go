// Package schema defines the sparkify star schema: one fact table (songplays)
// and four dimensions (users, songs, artists, time).
//
// Column slices here are the positional contract between the record types'
// Row methods and the sink's BulkInsert.
package schema

import "sparkify/internal/storage"

const (
	TableSongplays = "songplays"
	TableUsers     = "users"
	TableSongs     = "songs"
	TableArtists   = "artists"
	TableTime      = "time"
)

var (
	SongplayColumns = []string{"start_time", "user_id", "level", "song_id", "artist_id", "session_id", "location", "user_agent"}
	UserColumns     = []string{"user_id", "first_name", "last_name", "gender", "level"}
	SongColumns     = []string{"song_id", "title", "artist_id", "year", "duration"}
	ArtistColumns   = []string{"artist_id", "name", "location", "latitude", "longitude"}
	TimeColumns     = []string{"start_time", "hour", "day", "week", "month", "year", "weekday"}
)

// Options alters the DDL and load policy of the fact table.
type Options struct {
	// IdempotentFacts adds UNIQUE(start_time, user_id, session_id) to
	// songplays and loads it with conflict-ignore, making reloads safe.
	IdempotentFacts bool
}

// FactNaturalKey identifies a play when IdempotentFacts is set.
var FactNaturalKey = []string{"start_time", "user_id", "session_id"}

// Tables returns the table specs in creation order: every referenced
// dimension precedes songplays. Drop order is the reverse.
func Tables(opts Options) []storage.TableSpec {
	return []storage.TableSpec{
		usersTable(),
		songsTable(),
		artistsTable(),
		timeTable(),
		songplaysTable(opts),
	}
}

func usersTable() storage.TableSpec {
	return storage.TableSpec{
		Name: TableUsers,
		Columns: []storage.ColumnSpec{
			{Name: "user_id", Type: storage.TypeInt},
			{Name: "first_name", Type: storage.TypeText, Nullable: true},
			{Name: "last_name", Type: storage.TypeText, Nullable: true},
			{Name: "gender", Type: storage.TypeText, Nullable: true},
			{Name: "level", Type: storage.TypeText, Nullable: true},
		},
		Key: []string{"user_id"},
	}
}

func songsTable() storage.TableSpec {
	return storage.TableSpec{
		Name: TableSongs,
		Columns: []storage.ColumnSpec{
			{Name: "song_id", Type: storage.TypeText},
			{Name: "title", Type: storage.TypeText, Nullable: true},
			{Name: "artist_id", Type: storage.TypeText, Nullable: true},
			{Name: "year", Type: storage.TypeInt, Nullable: true},
			{Name: "duration", Type: storage.TypeDouble, Nullable: true},
		},
		Key: []string{"song_id"},
	}
}

func artistsTable() storage.TableSpec {
	return storage.TableSpec{
		Name: TableArtists,
		Columns: []storage.ColumnSpec{
			{Name: "artist_id", Type: storage.TypeText},
			{Name: "name", Type: storage.TypeText, Nullable: true},
			{Name: "location", Type: storage.TypeText, Nullable: true},
			{Name: "latitude", Type: storage.TypeDouble, Nullable: true},
			{Name: "longitude", Type: storage.TypeDouble, Nullable: true},
		},
		Key: []string{"artist_id"},
	}
}

func timeTable() storage.TableSpec {
	return storage.TableSpec{
		Name: TableTime,
		Columns: []storage.ColumnSpec{
			{Name: "start_time", Type: storage.TypeTimestamp},
			{Name: "hour", Type: storage.TypeInt, Nullable: true},
			{Name: "day", Type: storage.TypeInt, Nullable: true},
			{Name: "week", Type: storage.TypeInt, Nullable: true},
			{Name: "month", Type: storage.TypeInt, Nullable: true},
			{Name: "year", Type: storage.TypeInt, Nullable: true},
			{Name: "weekday", Type: storage.TypeInt, Nullable: true},
		},
		Key: []string{"start_time"},
	}
}

func songplaysTable(opts Options) storage.TableSpec {
	t := storage.TableSpec{
		Name:       TableSongplays,
		PrimaryKey: &storage.PrimaryKeySpec{Name: "songplay_id", Type: storage.TypeSerial},
		Columns: []storage.ColumnSpec{
			{Name: "start_time", Type: storage.TypeTimestamp, References: fk(TableTime, "start_time")},
			{Name: "user_id", Type: storage.TypeInt, References: fk(TableUsers, "user_id")},
			{Name: "level", Type: storage.TypeText, Nullable: true},
			{Name: "song_id", Type: storage.TypeText, Nullable: true, References: fk(TableSongs, "song_id")},
			{Name: "artist_id", Type: storage.TypeText, Nullable: true, References: fk(TableArtists, "artist_id")},
			{Name: "session_id", Type: storage.TypeInt, Nullable: true},
			{Name: "location", Type: storage.TypeText, Nullable: true},
			{Name: "user_agent", Type: storage.TypeText, Nullable: true},
		},
	}
	if opts.IdempotentFacts {
		t.Constraints = []storage.ConstraintSpec{{Kind: "unique", Columns: FactNaturalKey}}
	}
	return t
}

func fk(table, column string) *storage.ForeignKey {
	return &storage.ForeignKey{Table: table, Column: column, OnDelete: "SET NULL"}
}

// ---- load policies ----

// Songs are never updated; a second load of the same song_id fails.
func SongConflict() storage.Conflict { return storage.NoConflict() }

// First artist seen wins.
func ArtistConflict() storage.Conflict { return storage.IgnoreOn("artist_id") }

func TimeConflict() storage.Conflict { return storage.IgnoreOn("start_time") }

// Only the subscription level of a known user changes.
func UserConflict() storage.Conflict {
	return storage.UpdateOn([]string{"user_id"}, "level")
}

func SongplayConflict(opts Options) storage.Conflict {
	if opts.IdempotentFacts {
		return storage.IgnoreOn(FactNaturalKey...)
	}
	return storage.NoConflict()
}

// SongLookup resolves (title, artist, duration) to (song_id, artist_id).
// The artist argument matches either the artist's name or its id.
func SongLookup() storage.LookupQuery {
	return storage.LookupQuery{
		Table: TableSongs,
		Join: &storage.JoinSpec{
			Table: TableArtists,
			Left:  TableArtists + ".artist_id",
			Right: TableSongs + ".artist_id",
		},
		Where: []storage.Predicate{
			storage.Eq(TableSongs + ".title"),
			storage.EqAny(TableArtists+".name", TableArtists+".artist_id"),
			storage.Eq(TableSongs + ".duration"),
		},
		Return: []string{TableSongs + ".song_id", TableSongs + ".artist_id"},
	}
}
