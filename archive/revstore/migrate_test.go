package revstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-web-archiver/crystal/core/db"
	"github.com/crystal-web-archiver/crystal/core/registry"
)

func newTestRegistry(t *testing.T) registry.Accessor {
	t.Helper()
	database, err := db.Create(filepath.Join(t.TempDir(), "props.db"), `
CREATE TABLE IF NOT EXISTS project_property(
	name varchar NOT NULL,
	value json NOT NULL,
	updated_at timestamp NOT NULL,
	PRIMARY KEY(name)
);`)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return registry.MustNew(database).Accessor("")
}

func TestMigrateV1ToV2MovesEveryFlatFile(t *testing.T) {
	root := t.TempDir()
	revisions := filepath.Join(root, "revisions")
	inProgress := filepath.Join(root, "revisions.migrating")
	tmpTrash := filepath.Join(root, "tmp")
	require.NoError(t, os.MkdirAll(revisions, 0755))
	require.NoError(t, os.MkdirAll(tmpTrash, 0755))

	const maxID = int64(5)
	for id := int64(1); id <= maxID; id++ {
		require.NoError(t, os.WriteFile(v1Path(revisions, id), []byte("body"), 0644))
	}

	props := newTestRegistry(t)
	require.NoError(t, MigrateV1ToV2(revisions, inProgress, tmpTrash, props, maxID))

	store := Open(revisions, tmpTrash, VersionHierarchical, true)
	for id := int64(1); id <= maxID; id++ {
		data, err := store.Read(id)
		require.NoError(t, err)
		assert.Equal(t, "body", string(data))
	}

	version, err := props.Has("major_version")
	require.NoError(t, err)
	assert.True(t, version)
}

func TestMigrateV1ToV2ResumesAfterInterruption(t *testing.T) {
	root := t.TempDir()
	revisions := filepath.Join(root, "revisions")
	inProgress := filepath.Join(root, "revisions.migrating")
	tmpTrash := filepath.Join(root, "tmp")
	require.NoError(t, os.MkdirAll(revisions, 0755))
	require.NoError(t, os.MkdirAll(tmpTrash, 0755))

	const maxID = int64(3)
	for id := int64(1); id <= maxID; id++ {
		require.NoError(t, os.WriteFile(v1Path(revisions, id), []byte("body"), 0644))
	}

	// Simulate a crash partway through: id 1 already landed in the
	// in-progress tree, the others are still in the old flat tree.
	require.NoError(t, os.MkdirAll(filepath.Dir(v2Path(inProgress, 1)), 0755))
	require.NoError(t, os.Rename(v1Path(revisions, 1), v2Path(inProgress, 1)))

	props := newTestRegistry(t)
	require.NoError(t, MigrateV1ToV2(revisions, inProgress, tmpTrash, props, maxID))

	store := Open(revisions, tmpTrash, VersionHierarchical, true)
	for id := int64(1); id <= maxID; id++ {
		data, err := store.Read(id)
		require.NoError(t, err)
		assert.Equal(t, "body", string(data))
	}
}
