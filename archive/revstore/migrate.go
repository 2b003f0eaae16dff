package revstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/crystal-web-archiver/crystal/core/logger"
	"github.com/crystal-web-archiver/crystal/core/registry"
)

// registry keys used to track in-progress migrations, namespaced so they
// read clearly among the project's other properties.
const (
	propMajorVersion    = "major_version"
	propMajorVersionOld = "major_version_old"
)

// MigrateV1ToV2 upgrades a project's revisions tree from the flat to the
// hierarchical layout. It builds the new tree under inProgressDir while
// root remains untouched, then commits by renaming root out of the way and
// inProgressDir into its place. A crash at any point leaves inProgressDir
// present, which a subsequent call resumes from (files already renamed
// into inProgressDir are skipped).
//
// maxID is the highest revision id in the project; if it exceeds
// MaxRevisionID the migration is vetoed before any I/O occurs.
func MigrateV1ToV2(root, inProgressDir, tmpTrash string, props registry.Accessor, maxID int64) error {
	if maxID > MaxRevisionID {
		return fmt.Errorf("cannot migrate: highest revision id %d exceeds %d", maxID, MaxRevisionID)
	}

	if err := os.MkdirAll(inProgressDir, 0755); err != nil {
		return fmt.Errorf("cannot create in-progress tree: %w", err)
	}

	var lastParent string
	for id := int64(0); id <= maxID; id++ {
		src := v1Path(root, id)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		dest := v2Path(inProgressDir, id)
		if _, err := os.Stat(dest); err == nil {
			continue // already migrated by a prior, interrupted run
		}

		parent := filepath.Dir(dest)
		if parent != lastParent {
			if err := os.MkdirAll(parent, 0755); err != nil {
				return fmt.Errorf("cannot create %s: %w", parent, err)
			}
			lastParent = parent
		}
		if err := os.Rename(src, dest); err != nil {
			return fmt.Errorf("cannot migrate revision %d: %w", id, err)
		}

		// Every rename landing in a leaf directory (id ending in hex fff)
		// gets its leaf fsynced, bounding the fsync cost to once per 4096
		// ids instead of once per id.
		if id&0xfff == 0xfff {
			flushDirectory(parent)
		}
	}

	if err := renameAndFlush(root, filepath.Join(tmpTrash, filepath.Base(root))); err != nil {
		return fmt.Errorf("cannot retire old revisions tree: %w", err)
	}
	if err := renameAndFlush(inProgressDir, root); err != nil {
		return fmt.Errorf("cannot publish migrated revisions tree: %w", err)
	}
	return props.Write(propMajorVersion, int(VersionHierarchical))
}

// MigrateV2ToV3 upgrades a v2 project to Pack16 by packing every complete
// group of 16 ids that does not already have a pack. It marks the
// migration in progress via major_version_old so a crash mid-scan resumes
// from scratch (pack construction being idempotent makes a full rescan
// cheap and correct, not merely safe).
func MigrateV2ToV3(store *Store, props registry.Accessor, maxID int64, progress func(scanned, total int64)) error {
	inProgress, err := props.Has(propMajorVersionOld)
	if err != nil {
		return err
	}
	if !inProgress {
		if err := props.Write(propMajorVersionOld, int(VersionHierarchical)); err != nil {
			return err
		}
		if err := props.Write(propMajorVersion, int(VersionPack16)); err != nil {
			return err
		}
	}
	store.version = VersionPack16

	lastReport := time.Now()
	for group := int64(0); group <= maxID; group += PackGroupSize {
		first, last := group, group+PackGroupSize-1
		if last > maxID {
			break // final partial group stays as individuals
		}
		if err := store.buildPack(first, last); err != nil {
			logger.Default().WithError(err).Errorf("revstore: migration pack [%d,%d] failed, will retry on next open", first, last)
		}
		if progress != nil && time.Since(lastReport) > time.Second {
			progress(last, maxID)
			lastReport = time.Now()
		}
	}
	if progress != nil {
		progress(maxID, maxID)
	}
	return props.Delete(propMajorVersionOld)
}
