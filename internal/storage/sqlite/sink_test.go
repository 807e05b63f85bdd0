package sqlite

import (
	"context"
	"errors"
	"strings"
	"testing"

	"sparkify/internal/schema"
	"sparkify/internal/storage"
)

func newTestSink(t *testing.T, opts schema.Options) *Sink {
	t.Helper()

	ctx := context.Background()
	s, err := New(ctx, storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)

	if err := s.EnsureTables(ctx, schema.Tables(opts)); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	return s.(*Sink)
}

func count(t *testing.T, s *Sink, table string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + sqlIdent(table)).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestEnsureTables_IsIdempotent(t *testing.T) {
	s := newTestSink(t, schema.Options{})
	if err := s.EnsureTables(context.Background(), schema.Tables(schema.Options{})); err != nil {
		t.Fatalf("second EnsureTables: %v", err)
	}
}

func TestBulkInsert_SongsFailOnDuplicateArtistsIgnore(t *testing.T) {
	s := newTestSink(t, schema.Options{})
	ctx := context.Background()

	artist := schema.Artist{ArtistID: "AR1", Name: "Artist A"}
	if _, err := s.BulkInsert(ctx, schema.TableArtists, schema.ArtistColumns, [][]any{artist.Row()}, schema.ArtistConflict()); err != nil {
		t.Fatalf("insert artist: %v", err)
	}
	renamed := schema.Artist{ArtistID: "AR1", Name: "Renamed"}
	n, err := s.BulkInsert(ctx, schema.TableArtists, schema.ArtistColumns, [][]any{renamed.Row()}, schema.ArtistConflict())
	if err != nil {
		t.Fatalf("reinsert artist: %v", err)
	}
	if n != 0 {
		t.Fatalf("reinsert affected=%d, want 0", n)
	}
	var name string
	if err := s.db.QueryRow(`SELECT name FROM artists WHERE artist_id = 'AR1'`).Scan(&name); err != nil {
		t.Fatalf("select: %v", err)
	}
	if name != "Artist A" {
		t.Fatalf("name=%q, want first seen", name)
	}

	song := schema.Song{SongID: "S1", Title: "Song A", ArtistID: "AR1", Year: 2001, Duration: 210.5}
	if _, err := s.BulkInsert(ctx, schema.TableSongs, schema.SongColumns, [][]any{song.Row()}, schema.SongConflict()); err != nil {
		t.Fatalf("insert song: %v", err)
	}
	_, err = s.BulkInsert(ctx, schema.TableSongs, schema.SongColumns, [][]any{song.Row()}, schema.SongConflict())
	var de *storage.DatabaseError
	if !errors.As(err, &de) {
		t.Fatalf("duplicate song err=%v, want *storage.DatabaseError", err)
	}
	if de.Table != schema.TableSongs || de.Op != "insert" {
		t.Fatalf("DatabaseError=%+v", de)
	}
}

func TestBulkInsert_UserUpdateOverwritesOnlyLevel(t *testing.T) {
	s := newTestSink(t, schema.Options{})
	ctx := context.Background()

	first := schema.User{UserID: 8, FirstName: "Kaylee", LastName: "Summers", Gender: "F", Level: "free"}
	second := schema.User{UserID: 8, FirstName: "Other", LastName: "Name", Gender: "M", Level: "paid"}
	for _, u := range []schema.User{first, second} {
		if _, err := s.BulkInsert(ctx, schema.TableUsers, schema.UserColumns, [][]any{u.Row()}, schema.UserConflict()); err != nil {
			t.Fatalf("insert user: %v", err)
		}
	}

	var fn, level string
	if err := s.db.QueryRow(`SELECT first_name, level FROM users WHERE user_id = 8`).Scan(&fn, &level); err != nil {
		t.Fatalf("select: %v", err)
	}
	if fn != "Kaylee" || level != "paid" {
		t.Fatalf("user=(%q,%q), want (Kaylee, paid)", fn, level)
	}
}

func TestBulkInsert_ChunksInsideOneTransaction(t *testing.T) {
	s := newTestSink(t, schema.Options{})
	ctx := context.Background()

	rows := make([][]any, 0, maxRowsPerChunk*2+3)
	for i := 0; i < maxRowsPerChunk*2+3; i++ {
		ts := "2018-11-01T00:00:00." + sixDigits(i)
		rows = append(rows, []any{ts, 0, 1, 44, 11, 2018, 3})
	}
	n, err := s.BulkInsert(ctx, schema.TableTime, schema.TimeColumns, rows, schema.TimeConflict())
	if err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}
	if int(n) != len(rows) || count(t, s, schema.TableTime) != len(rows) {
		t.Fatalf("inserted=%d rows=%d, want %d", n, count(t, s, schema.TableTime), len(rows))
	}

	// A failure in the last chunk rolls back the earlier ones.
	songs := make([][]any, 0, maxRowsPerChunk+1)
	for i := 0; i < maxRowsPerChunk; i++ {
		songs = append(songs, schema.Song{SongID: "S" + sixDigits(i), Title: "t"}.Row())
	}
	songs = append(songs, songs[0])
	if _, err := s.BulkInsert(ctx, schema.TableSongs, schema.SongColumns, songs, schema.SongConflict()); err == nil {
		t.Fatalf("expected duplicate key error")
	}
	if got := count(t, s, schema.TableSongs); got != 0 {
		t.Fatalf("songs count=%d after failed call, want 0", got)
	}
}

func TestLookupOne_MatchesNameOrArtistID(t *testing.T) {
	s := newTestSink(t, schema.Options{})
	ctx := context.Background()

	if _, err := s.BulkInsert(ctx, schema.TableArtists, schema.ArtistColumns,
		[][]any{schema.Artist{ArtistID: "AR1", Name: "Artist A"}.Row()}, schema.ArtistConflict()); err != nil {
		t.Fatalf("insert artist: %v", err)
	}
	if _, err := s.BulkInsert(ctx, schema.TableSongs, schema.SongColumns,
		[][]any{schema.Song{SongID: "S1", Title: "Song A", ArtistID: "AR1", Year: 2001, Duration: 210.5}.Row()}, schema.SongConflict()); err != nil {
		t.Fatalf("insert song: %v", err)
	}

	cases := []struct {
		name   string
		args   []any
		wantOK bool
	}{
		{"by name", []any{"Song A", "Artist A", 210.5}, true},
		{"by id", []any{"Song A", "AR1", 210.5}, true},
		{"wrong duration", []any{"Song A", "Artist A", 210.0}, false},
		{"unknown title", []any{"Song B", "Artist A", 210.5}, false},
	}
	for _, tc := range cases {
		row, ok, err := s.LookupOne(ctx, schema.SongLookup(), tc.args)
		if err != nil {
			t.Fatalf("%s: LookupOne: %v", tc.name, err)
		}
		if ok != tc.wantOK {
			t.Fatalf("%s: ok=%v, want %v", tc.name, ok, tc.wantOK)
		}
		if ok && (row[0] != "S1" || row[1] != "AR1") {
			t.Fatalf("%s: row=%v, want [S1 AR1]", tc.name, row)
		}
	}
}

func TestIdempotentFacts_IgnoresReload(t *testing.T) {
	opts := schema.Options{IdempotentFacts: true}
	s := newTestSink(t, opts)
	ctx := context.Background()

	play := schema.SongPlay{StartTime: "2018-11-11T02:33:56.796000", UserID: 69, Level: "free", SessionID: 455}
	for i := 0; i < 2; i++ {
		if _, err := s.BulkInsert(ctx, schema.TableSongplays, schema.SongplayColumns, [][]any{play.Row()}, schema.SongplayConflict(opts)); err != nil {
			t.Fatalf("insert play %d: %v", i, err)
		}
	}
	if got := count(t, s, schema.TableSongplays); got != 1 {
		t.Fatalf("songplays=%d, want 1", got)
	}
}

func TestDropTables_RemovesEverything(t *testing.T) {
	s := newTestSink(t, schema.Options{})
	ctx := context.Background()

	if err := s.DropTables(ctx, schema.Tables(schema.Options{})); err != nil {
		t.Fatalf("DropTables: %v", err)
	}
	if err := s.DropTables(ctx, schema.Tables(schema.Options{})); err != nil {
		t.Fatalf("second DropTables: %v", err)
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`).Scan(&n); err != nil {
		t.Fatalf("sqlite_master: %v", err)
	}
	if n != 0 {
		t.Fatalf("tables left=%d, want 0", n)
	}
}

func TestBuildLookupSQL_NumberedPlaceholders(t *testing.T) {
	t.Parallel()

	got := buildLookupSQL(schema.SongLookup())
	if !strings.Contains(got, `("artists"."name" = ?2 OR "artists"."artist_id" = ?2)`) {
		t.Fatalf("sql=%s", got)
	}
	if !strings.HasSuffix(got, "LIMIT 1;") {
		t.Fatalf("sql=%s, want LIMIT 1", got)
	}
}

func sixDigits(n int) string {
	b := make([]byte, 6)
	for i := 5; i >= 0; i-- {
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b)
}
