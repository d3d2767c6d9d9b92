// Package fsatomic provides write-to-temp-then-rename file replacement so a
// crash mid-write never leaves a partially written file at the target path.
package fsatomic

import (
	"encoding/csv"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriteCSV writes CSV content produced by fill into path atomically. The
// temporary file lives in the target directory (rename must not cross
// filesystems), is verified non-empty and fsynced before the rename, and is
// removed on every exit path.
func WriteCSV(path string, fill func(w *csv.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create parent directory")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := writeAndSync(tmp, fill); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "rename temp file")
	}
	return nil
}

func writeAndSync(f *os.File, fill func(w *csv.Writer) error) error {
	w := csv.NewWriter(f)
	if err := fill(w); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "flush csv")
	}

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat temp file")
	}
	if info.Size() == 0 {
		return errors.New("temporary csv file is empty")
	}
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, "fsync temp file")
	}
	return nil
}

// RestoreOwnership reapplies the permission bits of info to path, and the
// uid/gid as well when running as root. chmod/chown failures are reported to
// the caller; the freshly written file stays in place regardless.
func RestoreOwnership(path string, info os.FileInfo) error {
	if err := os.Chmod(path, info.Mode().Perm()); err != nil {
		return errors.Wrap(err, "restore permissions")
	}
	if os.Geteuid() == 0 {
		if st, ok := sysStat(info); ok {
			if err := os.Chown(path, st.uid, st.gid); err != nil {
				return errors.Wrap(err, "restore ownership")
			}
		}
	}
	return nil
}
