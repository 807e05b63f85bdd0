// Package pipeline loads song and event-log files into the star schema.
//
// Files are processed one at a time in discovery order. Song files feed the
// songs and artists dimensions; log files feed time, users and the songplays
// fact, whose song and artist ids are resolved against the catalogue
// already loaded. The first error aborts the run; files loaded before it
// stay committed.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/afero"

	"sparkify/internal/config"
	"sparkify/internal/extract"
	"sparkify/internal/metrics"
	"sparkify/internal/schema"
	"sparkify/internal/source"
	"sparkify/internal/storage"
	"sparkify/internal/timedim"
)

// Logger is the minimal logging interface used by the engine.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Options are the load policies that vary per run.
type Options struct {
	// CacheScope is config.CacheScopeFile (default) or config.CacheScopePass.
	CacheScope      string
	IdempotentFacts bool
}

// FileFunc processes one discovered file.
type FileFunc func(ctx context.Context, path string) error

// Engine runs the per-file extract and load steps against a Sink.
type Engine struct {
	Sink    storage.Sink
	Fs      afero.Fs
	Ext     string
	Options Options

	Logger   Logger
	Progress Progress

	resolver *Resolver
	summary  Summary
}

func (e *Engine) logger() func(format string, v ...any) {
	if e.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return e.Logger.Printf
}

func (e *Engine) progress() Progress {
	if e.Progress == nil {
		return nopProgress{}
	}
	return e.Progress
}

func (e *Engine) init() {
	if e.Fs == nil {
		e.Fs = afero.NewOsFs()
	}
	if e.Ext == "" {
		e.Ext = "json"
	}
	if e.resolver == nil {
		e.resolver = NewResolver(e.Sink)
	}
	if e.summary.Rows == nil {
		e.summary = newSummary()
	}
}

// Summary returns the totals accumulated so far.
func (e *Engine) Summary() Summary {
	s := e.summary
	if e.resolver != nil {
		s.Lookups = e.resolver.Stats()
	}
	return s
}

// Run processes the categories of src in src.Order, never interleaving them.
func (e *Engine) Run(ctx context.Context, src config.Source) (Summary, error) {
	if e.Sink == nil {
		return Summary{}, fmt.Errorf("engine: Sink is required")
	}
	e.init()
	logf := e.logger()
	start := time.Now()

	for _, category := range src.Order {
		var fn FileFunc
		switch category {
		case config.CategorySong:
			fn = e.ProcessSongFile
		case config.CategoryLog:
			fn = e.ProcessLogFile
		default:
			return e.Summary(), fmt.Errorf("engine: unknown category %q", category)
		}

		stageStart := time.Now()
		if err := e.ProcessData(ctx, category, src.Root(category), fn); err != nil {
			e.summary.Duration = time.Since(start)
			return e.Summary(), err
		}
		logf("stage=%s_files ok duration=%s", category, durMS(stageStart))
	}

	e.summary.Duration = time.Since(start)
	return e.Summary(), nil
}

// ProcessData lists every *.<ext> file under root and hands each to fn in
// discovery order, reporting progress after each one. It stops at the first
// error.
func (e *Engine) ProcessData(ctx context.Context, category, root string, fn FileFunc) error {
	e.init()
	logf := e.logger()
	prog := e.progress()

	files, err := source.ListFiles(e.Fs, root, e.Ext)
	if err != nil {
		return err
	}
	total := len(files)
	logf("stage=discover category=%s files=%d root=%s", category, total, root)

	prog.Start(category, total)
	defer prog.Finish()

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		stepStart := time.Now()
		if err := fn(ctx, path); err != nil {
			metrics.RecordStep(category+"_file", "error", time.Since(stepStart))
			logf("stage=%s_file status=error path=%s err=%v", category, path, err)
			return fmt.Errorf("process %s file %s: %w", category, path, err)
		}
		metrics.RecordStep(category+"_file", "ok", time.Since(stepStart))
		metrics.RecordFile(category)
		prog.Advance(i+1, total)
	}
	return nil
}

// ProcessSongFile loads one song document: the artist first (first seen
// wins), then the song (a repeated song_id fails).
func (e *Engine) ProcessSongFile(ctx context.Context, path string) error {
	e.init()
	song, artist, n, err := extract.ReadSong(e.Fs, path)
	e.summary.Bytes += n
	if err != nil {
		return err
	}

	if err := e.insert(ctx, schema.TableArtists, schema.ArtistColumns, [][]any{artist.Row()}, schema.ArtistConflict()); err != nil {
		return err
	}
	if err := e.insert(ctx, schema.TableSongs, schema.SongColumns, [][]any{song.Row()}, schema.SongConflict()); err != nil {
		return err
	}
	e.summary.SongFiles++
	return nil
}

// ProcessLogFile loads one event log: time rows, then users, then one
// songplay per NextSong event.
func (e *Engine) ProcessLogFile(ctx context.Context, path string) error {
	e.init()
	logf := e.logger()

	if e.Options.CacheScope != config.CacheScopePass {
		e.resolver.Reset()
	}

	events, n, err := extract.ReadLog(e.Fs, path)
	e.summary.Bytes += n
	if err != nil {
		return err
	}

	ts := make([]int64, len(events))
	users := make([]schema.User, len(events))
	for i, ev := range events {
		ts[i] = ev.TS
		users[i] = schema.User{
			UserID:    ev.UserID,
			FirstName: ev.FirstName,
			LastName:  ev.LastName,
			Gender:    ev.Gender,
			Level:     ev.Level,
		}
	}

	attrs := timedim.Decompose(ts)
	timeAttrs := DedupeTime(attrs)
	timeRows := make([][]any, len(timeAttrs))
	for i, a := range timeAttrs {
		timeRows[i] = a.Row()
	}
	if err := e.insert(ctx, schema.TableTime, schema.TimeColumns, timeRows, schema.TimeConflict()); err != nil {
		return err
	}

	uniqueUsers := DedupeUsers(users)
	userRows := make([][]any, len(uniqueUsers))
	for i, u := range uniqueUsers {
		userRows[i] = u.Row()
	}
	if err := e.insert(ctx, schema.TableUsers, schema.UserColumns, userRows, schema.UserConflict()); err != nil {
		return err
	}

	lookupStart := time.Now()
	before := e.resolver.Stats()
	playRows := make([][]any, len(events))
	for i, ev := range events {
		songID, artistID, err := e.resolver.Resolve(ctx, ev.Song, ev.Artist, ev.Length)
		if err != nil {
			return fmt.Errorf("resolve line %d: %w", ev.Line, err)
		}
		playRows[i] = schema.SongPlay{
			StartTime: attrs[i].StartTime,
			UserID:    ev.UserID,
			Level:     ev.Level,
			SongID:    songID,
			ArtistID:  artistID,
			SessionID: ev.SessionID,
			Location:  ev.Location,
			UserAgent: ev.UserAgent,
		}.Row()
	}
	after := e.resolver.Stats()
	logf("stage=resolve_songs path=%s events=%d queried=%d hits=%d cached=%d duration=%s",
		path, len(events), after.Lookups-before.Lookups, after.Hits-before.Hits, after.Cached-before.Cached, durMS(lookupStart))

	if err := e.insert(ctx, schema.TableSongplays, schema.SongplayColumns, playRows, schema.SongplayConflict(schema.Options{IdempotentFacts: e.Options.IdempotentFacts})); err != nil {
		return err
	}
	e.summary.LogFiles++
	return nil
}

func (e *Engine) insert(ctx context.Context, table string, columns []string, rows [][]any, conflict storage.Conflict) error {
	if len(rows) == 0 {
		return nil
	}
	n, err := e.Sink.BulkInsert(ctx, table, columns, rows, conflict)
	if err != nil {
		return err
	}
	e.summary.Rows[table] += n
	metrics.RecordRows(table, n)
	return nil
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (n int, err error) { return len(p), nil }
