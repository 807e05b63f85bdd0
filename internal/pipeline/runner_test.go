package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"sparkify/internal/config"
	"sparkify/internal/schema"
	"sparkify/internal/storage"
)

func testPipeline() config.Pipeline {
	return config.Pipeline{
		Job: "sparkify",
		Source: config.Source{
			SongData: "/data/song_data",
			LogData:  "/data/log_data",
			Ext:      "json",
			Order:    []string{config.CategorySong, config.CategoryLog},
		},
		Storage: config.Storage{Kind: "fake", DSN: "fake://$SPARKIFY_TEST_USER@db"},
		Runtime: config.Runtime{LookupCacheScope: config.CacheScopeFile, EnsureSchema: true},
	}
}

func TestRunner_Run(t *testing.T) {
	t.Setenv("SPARKIFY_TEST_USER", "student")

	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/data/song_data/A/a.json", songDoc("S1", "Song A", "A1", "Artist A", 210.5))
	writeFile(t, fs, "/data/log_data/2018/11/a.json",
		event("NextSong", 1541106106796, "8", "Kaylee", "free", "Song A", "Artist A", 210.5))

	sink := newFakeSink()
	var gotCfg storage.Config
	var logs bytes.Buffer
	r := &Runner{
		NewSink: func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
			gotCfg = cfg
			return sink, nil
		},
		Fs:     fs,
		Logger: log.New(&logs, "", 0),
	}

	sum, err := r.Run(context.Background(), testPipeline())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotCfg.Kind != "fake" || gotCfg.DSN != "fake://student@db" {
		t.Fatalf("sink config=%+v, want expanded DSN", gotCfg)
	}
	if sink.ensureCalls != 1 || !sink.closed {
		t.Fatalf("ensureCalls=%d closed=%v", sink.ensureCalls, sink.closed)
	}
	if sum.SongFiles != 1 || sum.LogFiles != 1 || sum.Lookups.Hits != 1 {
		t.Fatalf("summary=%+v", sum)
	}
	for _, want := range []string{"stage=ddl ok", "stage=discover category=song files=1", "stage=log_files ok"} {
		if !strings.Contains(logs.String(), want) {
			t.Fatalf("logs missing %q:\n%s", want, logs.String())
		}
	}
}

func TestRunner_RunSkipsSchemaWhenDisabled(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = fs.MkdirAll("/data/song_data", 0o755)
	_ = fs.MkdirAll("/data/log_data", 0o755)
	sink := newFakeSink()
	r := &Runner{
		NewSink: func(context.Context, storage.Config) (storage.Sink, error) { return sink, nil },
		Fs:      fs,
	}
	cfg := testPipeline()
	cfg.Runtime.EnsureSchema = false
	if _, err := r.Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sink.ensureCalls != 0 {
		t.Fatalf("ensureCalls=%d, want 0", sink.ensureCalls)
	}
}

func TestRunner_SinkFactoryError(t *testing.T) {
	boom := errors.New("boom")
	r := &Runner{
		NewSink: func(context.Context, storage.Config) (storage.Sink, error) { return nil, boom },
	}
	if _, err := r.Run(context.Background(), testPipeline()); !errors.Is(err, boom) {
		t.Fatalf("err=%v, want boom", err)
	}
	if err := (&Runner{}).Schema(context.Background(), testPipeline(), SchemaCreate); err == nil {
		t.Fatalf("expected error without NewSink")
	}
}

func TestRunner_Schema(t *testing.T) {
	tests := []struct {
		action           string
		wantEnsure, drop int
	}{
		{SchemaCreate, 1, 0},
		{SchemaDrop, 0, 1},
		{SchemaReset, 1, 1},
	}
	for _, tc := range tests {
		t.Run(tc.action, func(t *testing.T) {
			sink := newFakeSink()
			sink.rows[schema.TableSongs] = [][]any{{"S1"}}
			r := &Runner{NewSink: func(context.Context, storage.Config) (storage.Sink, error) { return sink, nil }}
			if err := r.Schema(context.Background(), testPipeline(), tc.action); err != nil {
				t.Fatalf("Schema(%s): %v", tc.action, err)
			}
			if sink.ensureCalls != tc.wantEnsure || sink.dropCalls != tc.drop {
				t.Fatalf("ensure=%d drop=%d, want %d/%d", sink.ensureCalls, sink.dropCalls, tc.wantEnsure, tc.drop)
			}
			if !sink.closed {
				t.Fatalf("sink not closed")
			}
		})
	}

	opened := false
	r := &Runner{NewSink: func(context.Context, storage.Config) (storage.Sink, error) { opened = true; return newFakeSink(), nil }}
	if err := r.Schema(context.Background(), testPipeline(), "truncate"); err == nil || opened {
		t.Fatalf("err=%v opened=%v, want error before opening the sink", err, opened)
	}
}
