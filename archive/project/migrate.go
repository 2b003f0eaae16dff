package project

import (
	"fmt"

	"github.com/crystal-web-archiver/crystal/archive/revstore"
	"github.com/crystal-web-archiver/crystal/core/db"
	"github.com/crystal-web-archiver/crystal/core/logger"
	"github.com/crystal-web-archiver/crystal/core/registry"
)

// runMigrations upgrades a writable project in place from its current major
// version to the latest one this build supports, running v1->v2 and then
// v2->v3 as needed, and returns the resulting version.
func runMigrations(l layout, database *db.DB, props registry.Accessor, current revstore.MajorVersion) (revstore.MajorVersion, error) {
	version := current

	if version == revstore.VersionFlat {
		maxID, err := maxRevisionID(database)
		if err != nil {
			return version, fmt.Errorf("cannot determine highest revision id: %w", err)
		}
		if maxID > 0 || hasAnyRevisions(database) {
			logger.Default().Infof("project: migrating revisions tree from v1 to v2 (highest id %d)", maxID)
			if err := revstore.MigrateV1ToV2(l.RevisionsDir, l.RevisionsInProgressDir, l.TmpDir, props, maxID); err != nil {
				return version, fmt.Errorf("v1 to v2 migration failed: %w", err)
			}
		} else if err := props.Write(propMajorVersion, int(revstore.VersionHierarchical)); err != nil {
			return version, err
		}
		version = revstore.VersionHierarchical
	}

	resumingV3, err := props.Has("major_version_old")
	if err != nil {
		return version, err
	}
	if (version == revstore.VersionHierarchical || (version == revstore.VersionPack16 && resumingV3)) &&
		revstore.LatestVersion >= revstore.VersionPack16 {
		store := revstore.Open(l.RevisionsDir, l.TmpDir, revstore.VersionHierarchical, false)
		maxID, err := maxRevisionID(database)
		if err != nil {
			return version, fmt.Errorf("cannot determine highest revision id: %w", err)
		}
		var lastReport int64 = -1
		progress := func(scanned, total int64) {
			if total > 0 && scanned != lastReport {
				logger.Default().Infof("project: packing revisions %d/%d", scanned, total)
				lastReport = scanned
			}
		}
		logger.Default().Infof("project: migrating revisions tree from v2 to v3 (highest id %d)", maxID)
		if err := revstore.MigrateV2ToV3(store, props, maxID, progress); err != nil {
			return version, fmt.Errorf("v2 to v3 migration failed: %w", err)
		}
		version = revstore.VersionPack16
	}

	return version, nil
}

func maxRevisionID(database *db.DB) (int64, error) {
	var id int64
	err := database.QueryRow(`SELECT IFNULL(MAX(id), 0) FROM resource_revision;`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func hasAnyRevisions(database *db.DB) bool {
	var n int
	if err := database.QueryRow(`SELECT COUNT(*) FROM resource_revision;`).Scan(&n); err != nil {
		return false
	}
	return n > 0
}
