package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"sparkify/internal/config"
)

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "sparkify.yaml")
	writeTestFile(t, path, body)
	return path
}

func TestValidate_ReportsIssues(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "storage:\n  kind: oracle\n  dsn: x\n")

	_, stderr, err := execute(t, "validate", "--config", cfg)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(stderr, "error: storage.kind") {
		t.Fatalf("stderr=%q, want storage.kind issue", stderr)
	}
}

func TestValidate_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "storage:\n  kind: oracle\n  dsn: x\n")

	stdout, _, err := execute(t, "validate", "--config", cfg, "--storage-kind", "sqlite")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(stdout, "configuration is valid: storage=sqlite") {
		t.Fatalf("stdout=%q", stdout)
	}
}

const songJSON = `{"num_songs": 1, "artist_id": "ARD7TVE1187B99BFB1", "artist_latitude": null, "artist_longitude": null,
 "artist_location": "California - LA", "artist_name": "Casual", "song_id": "SOMZWCG12A8C13C480",
 "title": "I Didn't Mean To", "duration": 218.93179, "year": 0}`

const logJSON = `{"artist":"Casual","auth":"Logged In","firstName":"Kaylee","gender":"F","itemInSession":1,"lastName":"Summers","length":218.93179,"level":"free","location":"Phoenix-Mesa-Scottsdale, AZ","method":"PUT","page":"NextSong","registration":1540344794796.0,"sessionId":139,"song":"I Didn't Mean To","status":200,"ts":1541106106796,"userAgent":"Mozilla/5.0","userId":"8"}
{"artist":null,"auth":"Logged In","firstName":"Kaylee","gender":"F","itemInSession":2,"lastName":"Summers","length":null,"level":"free","location":"Phoenix-Mesa-Scottsdale, AZ","method":"GET","page":"Home","registration":1540344794796.0,"sessionId":139,"song":null,"status":200,"ts":1541106200000,"userAgent":"Mozilla/5.0","userId":"8"}
`

func TestRunAndSchema_SQLite(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "song_data", "A", "A", "TRAAAAW128F429D538.json"), songJSON)
	writeTestFile(t, filepath.Join(dir, "log_data", "2018", "11", "2018-11-01-events.json"), logJSON)
	cfg := writeConfig(t, dir, fmt.Sprintf(`
job: test
source:
  song_data: %s
  log_data: %s
storage:
  kind: sqlite
  dsn: %s
`, filepath.Join(dir, "song_data"), filepath.Join(dir, "log_data"), filepath.Join(dir, "sparkify.db")))

	stdout, stderr, err := execute(t, "run", "--config", cfg)
	if err != nil {
		t.Fatalf("run: %v\nstderr=%s", err, stderr)
	}
	for _, want := range []string{
		"1/1 files processed.",
		"rows songplays: 1",
		"rows artists:   1",
		"lookups: 1 queried, 1 hits, 0 misses, 0 cached",
	} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("stdout missing %q:\n%s", want, stdout)
		}
	}

	// Reloading the same song file violates the songs primary key.
	if _, _, err := execute(t, "run", "--config", cfg, "--order", "song"); err == nil || !strings.Contains(err.Error(), "database insert songs") {
		t.Fatalf("reload err=%v, want songs insert failure", err)
	}

	stdout, _, err = execute(t, "schema", "reset", "--config", cfg)
	if err != nil || !strings.Contains(stdout, "schema reset: ok") {
		t.Fatalf("schema reset: out=%q err=%v", stdout, err)
	}
	if _, _, err := execute(t, "run", "--config", cfg, "--order", "song"); err != nil {
		t.Fatalf("run after reset: %v", err)
	}
	if _, _, err := execute(t, "schema", "drop", "--config", cfg); err != nil {
		t.Fatalf("schema drop: %v", err)
	}
}

func TestSetupMetrics_PushgatewayFlushesOnClose(t *testing.T) {
	var pushes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/metrics/job/test/run/") {
			pushes.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := config.Pipeline{Job: "test", Metrics: config.Metrics{Backend: config.MetricsPushgateway, PushgatewayURL: srv.URL}}
	closeMetrics := setupMetrics(context.Background(), p, "r1", false)
	closeMetrics()
	if pushes.Load() != 1 {
		t.Fatalf("pushes=%d, want 1", pushes.Load())
	}
}

func TestSetupMetrics_DisabledBackends(t *testing.T) {
	for _, backend := range []string{"", config.MetricsNone, "statsd"} {
		closeMetrics := setupMetrics(context.Background(), config.Pipeline{Metrics: config.Metrics{Backend: backend}}, "r1", true)
		closeMetrics()
	}
}
