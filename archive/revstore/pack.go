package revstore

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// readFromPack opens the Pack16 container at packFile and returns the bytes
// of the entry named entryName. Returns an os.ErrNotExist-wrapping error if
// the pack itself does not exist, so callers can fall back to the
// individual-file path.
func readFromPack(packFile, entryName string) ([]byte, error) {
	r, err := zip.OpenReader(packFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("cannot open pack %s: %w", packFile, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != entryName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("cannot open entry %s in %s: %w", entryName, packFile, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("cannot read entry %s in %s: %w", entryName, packFile, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("entry %s not found in pack %s: %w", entryName, packFile, os.ErrNotExist)
}

// buildPack constructs the Pack16 container for the group [first, last]
// from whichever members' individual v2 files exist (a missing member, such
// as the never-assigned id 0, is left out), and deletes the individuals
// once the pack is durably in place. It is a no-op if the pack
// already exists, which is what makes migration and write-path invocations
// idempotent and safely retryable.
func (s *Store) buildPack(first, last int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	dest := packPath(s.root, last)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	present := 0
	for id := first; id <= last; id++ {
		data, err := os.ReadFile(v2Path(s.root, id))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			w.Close()
			return fmt.Errorf("cannot read individual %d while packing: %w", id, err)
		}
		present++
		fw, err := w.CreateHeader(&zip.FileHeader{
			Name:   packEntryName(id),
			Method: zip.Store,
		})
		if err != nil {
			w.Close()
			return fmt.Errorf("cannot add entry %s to pack: %w", packEntryName(id), err)
		}
		if _, err := fw.Write(data); err != nil {
			w.Close()
			return fmt.Errorf("cannot write entry %s to pack: %w", packEntryName(id), err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("cannot finalize pack: %w", err)
	}
	if present == 0 {
		// Nothing to pack: all individuals are already gone, presumably a
		// previous run completed the pack and this is a stale retry.
		return nil
	}

	if err := os.MkdirAll(s.tmp, 0755); err != nil {
		return fmt.Errorf("cannot create temp dir: %w", err)
	}
	tmpName := filepath.Join(s.tmp, uuid.NewString())
	if err := os.WriteFile(tmpName, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("cannot write temp pack: %w", err)
	}
	f, err := os.OpenFile(tmpName, os.O_RDWR, 0644)
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cannot reopen temp pack for fsync: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cannot fsync temp pack: %w", err)
	}
	f.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cannot create pack dir: %w", err)
	}
	if err := renameAndFlush(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cannot publish pack: %w", err)
	}

	// Pack is durable: delete the contributing individuals. A crash here
	// leaves both pack and individuals present, which Read tolerates (pack
	// takes priority); nothing removes the leftover individuals later.
	for id := first; id <= last; id++ {
		os.Remove(v2Path(s.root, id))
	}
	return nil
}
