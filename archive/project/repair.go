package project

import (
	"github.com/crystal-web-archiver/crystal/archive/model"
	"github.com/crystal-web-archiver/crystal/archive/revstore"
	"github.com/crystal-web-archiver/crystal/core/logger"
)

// repairOrphanRevision implements the "failed rollback" detection from
// spec.md §4.8: if CreateFromStream's DB commit succeeded but its body
// write and its own rollback both failed (e.g. the disk was disconnected
// mid-write), the project is left with a revision row that has no body.
// This only ever runs on open-as-writable, after migrations.
func repairOrphanRevision(m *model.Model, store *revstore.Store) error {
	maxID, err := m.MaxRevisionID()
	if err != nil {
		return err
	}
	if maxID == 0 {
		return nil // empty project, nothing to check
	}

	last, err := m.Revision(maxID)
	if err != nil {
		return err
	}
	if !last.HasBody() {
		return nil // an error revision has no body to begin with
	}
	if store.Exists(last.ID) {
		return nil // body present, nothing to repair
	}

	others, err := m.RecentNonErrorRevisions(maxID, 3)
	if err != nil {
		return err
	}
	if len(others) < 3 {
		return nil // not enough evidence either way
	}
	for _, o := range others {
		if !store.Exists(o.ID) {
			// more than one missing body suggests a filesystem-wide
			// problem, not a single failed rollback; leave it alone.
			return nil
		}
	}

	logger.Default().Errorf(
		"project: revision %d has a database row but no body file. Probable rollback failure; deleting the row.", last.ID)
	if err := m.DeleteRevision(last.ID); err != nil {
		return err
	}

	// For v3 projects, the orphaned revision may be the 16th member of a
	// pack that never got assembled. If any individuals from its group
	// still exist on disk, finish the job now.
	first, lastOfGroup := revstore.GroupBounds(last.ID)
	if lastOfGroup == last.ID && !store.PackExists(last.ID) {
		for id := first; id < last.ID; id++ {
			if store.HasIndividual(id) {
				if err := store.RepairPack(last.ID); err != nil {
					logger.Default().WithError(err).Errorf("project: could not assemble pack for group containing revision %d during repair", last.ID)
				}
				break
			}
		}
	}
	return nil
}
