package revstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// writeFileAtomic writes data to a fresh temp file under tmpDir, fsyncs it,
// renames it to dest (creating dest's parent directories if needed), and
// fsyncs dest's parent directory so the rename itself is durable. This is
// the rename_and_flush primitive the spec requires for every write to the
// revisions tree.
func writeFileAtomic(tmpDir, dest string, data []byte) error {
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return fmt.Errorf("cannot create temp dir: %w", err)
	}
	tmpName := filepath.Join(tmpDir, uuid.NewString())

	f, err := os.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("cannot create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cannot write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cannot fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cannot close temp file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cannot create destination dir: %w", err)
	}
	if err := renameAndFlush(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// renameAndFlush renames src to dest and fsyncs dest's parent directory, so
// the rename itself survives a crash. On platforms where directories
// cannot be opened and synced (notably Windows), this degrades to a plain
// rename; MoveFileExW with MOVEFILE_WRITE_THROUGH is the documented
// equivalent the spec calls for there, which this pure-Go implementation
// does not attempt to special-case.
func renameAndFlush(src, dest string) error {
	if err := os.Rename(src, dest); err != nil {
		return fmt.Errorf("cannot rename %s -> %s: %w", src, dest, err)
	}
	return flushDirectory(filepath.Dir(dest))
}

// flushDirectory fsyncs dir so that prior renames and creates within it are
// durable. Best-effort: some filesystems and all Windows builds return
// ErrInvalid or similar for a directory fsync, which is treated as success
// since there is no stronger primitive available there.
func flushDirectory(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("cannot open directory %s for flush: %w", dir, err)
	}
	defer d.Close()
	// Best effort: directory fsync is a no-op or unsupported on some
	// filesystems and on Windows; there is no stronger primitive to fall
	// back to from pure Go, so a failure here is not treated as fatal.
	d.Sync()
	return nil
}
