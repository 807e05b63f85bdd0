package source

import (
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/spf13/afero"
)

func writeFiles(t *testing.T, fsys afero.Fs, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := fsys.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", p, err)
		}
		if err := afero.WriteFile(fsys, p, []byte("{}"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
}

func TestListFiles_RecursesPerDirectory(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys,
		"/data/song_data/A/A/A/TRAAAAW128F429D538.json",
		"/data/song_data/A/A/B/TRAABJL12903CDCF1A.json",
		"/data/song_data/A/B/C/TRABCEI128F424C983.json",
		"/data/song_data/A/B/C/notes.txt",
		"/data/song_data/top.json",
		"/data/log_data/2018/11/2018-11-01-events.json",
	)

	got, err := ListFiles(fsys, "/data/song_data", "json")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}

	want := []string{
		"/data/song_data/top.json",
		"/data/song_data/A/A/A/TRAAAAW128F429D538.json",
		"/data/song_data/A/A/B/TRAABJL12903CDCF1A.json",
		"/data/song_data/A/B/C/TRABCEI128F424C983.json",
	}
	for i := range want {
		want[i] = filepath.FromSlash(want[i])
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ListFiles()=%v, want %v", got, want)
	}
}

func TestListFiles_ExtensionWithDotAndDirectoriesNamedLikeFiles(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writeFiles(t, fsys,
		"/root/a.json",
		"/root/weird.json/b.json",
	)

	got, err := ListFiles(fsys, "/root", ".json")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	sorted := append([]string(nil), got...)
	sort.Strings(sorted)
	want := []string{filepath.FromSlash("/root/a.json"), filepath.FromSlash("/root/weird.json/b.json")}
	if !reflect.DeepEqual(sorted, want) {
		t.Fatalf("ListFiles()=%v, want %v", got, want)
	}
}

func TestListFiles_EmptyTreeIsNotAnError(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	if err := fsys.MkdirAll("/empty/nested", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, err := ListFiles(fsys, "/empty", "json")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("ListFiles()=%#v, want empty non-nil slice", got)
	}
}

func TestListFiles_Errors(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()

	if _, err := ListFiles(fsys, "/missing", "json"); err == nil {
		t.Fatalf("ListFiles(missing root) err=nil, want error")
	}
	if _, err := ListFiles(fsys, "", "json"); err == nil {
		t.Fatalf("ListFiles(empty root) err=nil, want error")
	}
	if _, err := ListFiles(fsys, "/x", " "); err == nil {
		t.Fatalf("ListFiles(empty ext) err=nil, want error")
	}
}

func TestListFiles_OsFsReturnsAbsolutePaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fsys := afero.NewOsFs()
	writeFiles(t, fsys, filepath.Join(dir, "sub", "x.json"))

	got, err := ListFiles(fsys, dir, "json")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len=%d, want 1 (%v)", len(got), got)
	}
	if !filepath.IsAbs(got[0]) {
		t.Fatalf("path %q is not absolute", got[0])
	}
}
