// Package fsutil holds the directory-copy helper shared by the build
// back-ends and the install pipeline.
package fsutil

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/termie/go-shutil"
)

// MergeTree copies the contents of src into dst, creating dst if needed.
// Unlike a strict tree copy, dst (and any subdirectory) may already
// exist: directories are merged and files are overwritten. Symlinks are
// copied as symlinks. Directory names in ignoreDirs are skipped at every
// level. A missing src is a no-op.
func MergeTree(src, dst string, ignoreDirs ...string) error {
	fi, err := os.Stat(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "reading copy source %s", src)
	}
	if !fi.IsDir() {
		return errors.Errorf("copy source %s is not a directory", src)
	}

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", dst)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return errors.Wrapf(err, "reading %s", src)
	}
	for _, e := range entries {
		s := filepath.Join(src, e.Name())
		d := filepath.Join(dst, e.Name())

		if e.IsDir() {
			if contains(ignoreDirs, e.Name()) {
				continue
			}
			if err := MergeTree(s, d, ignoreDirs...); err != nil {
				return err
			}
			continue
		}

		if e.Type()&os.ModeSymlink != 0 {
			// os.Symlink refuses to replace an existing path.
			if err := os.Remove(d); err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "replacing %s", d)
			}
		}
		if _, err := shutil.Copy(s, d, false); err != nil {
			return errors.Wrapf(err, "copying %s", s)
		}
	}
	return nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
