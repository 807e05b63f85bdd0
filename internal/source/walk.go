// Package source discovers input files under a root directory.
package source

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ListFiles walks root and, at every directory level, collects the files
// matching "*.<ext>" directly inside that directory.
//
// Paths are absolute and returned in walk order. Callers must not rely on a
// global sort: a directory's own files come before files of its
// subdirectories, and siblings follow the walker's lexical order.
//
// A root with no matching files yields an empty, non-nil slice.
func ListFiles(fsys afero.Fs, root, ext string) ([]string, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		return nil, fmt.Errorf("source: extension is required")
	}

	absRoot, err := absPath(fsys, root)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, 64)
	err = afero.Walk(fsys, absRoot, func(dir string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.IsDir() {
			return nil
		}
		matches, err := afero.Glob(fsys, filepath.Join(dir, "*."+ext))
		if err != nil {
			return fmt.Errorf("source: glob %s: %w", dir, err)
		}
		for _, m := range matches {
			st, err := fsys.Stat(m)
			if err != nil {
				return fmt.Errorf("source: stat %s: %w", m, err)
			}
			// A directory named "x.json" matches the glob but is walked on its own.
			if st.IsDir() {
				continue
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("source: walk %s: %w", absRoot, err)
	}
	return out, nil
}

// absPath resolves root against the working directory only for the OS
// filesystem; in-memory filesystems have no working directory.
func absPath(fsys afero.Fs, root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", fmt.Errorf("source: root is required")
	}
	if _, ok := fsys.(*afero.OsFs); ok {
		abs, err := filepath.Abs(root)
		if err != nil {
			return "", fmt.Errorf("source: abs %s: %w", root, err)
		}
		return abs, nil
	}
	return filepath.Clean(string(os.PathSeparator) + strings.TrimPrefix(root, string(os.PathSeparator))), nil
}
