package revstore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-web-archiver/crystal/archive/revstore"
)

func newStore(t *testing.T, version revstore.MajorVersion) (*revstore.Store, string) {
	t.Helper()
	root := t.TempDir()
	revisions := filepath.Join(root, "revisions")
	tmp := filepath.Join(root, "tmp")
	require.NoError(t, os.MkdirAll(revisions, 0755))
	require.NoError(t, os.MkdirAll(tmp, 0755))
	return revstore.Open(revisions, tmp, version, false), revisions
}

func TestWriteReadRoundTrip(t *testing.T) {
	store, _ := newStore(t, revstore.VersionHierarchical)

	body := []byte("hello, archive")
	require.NoError(t, store.Write(1, body))

	got, err := store.Read(1)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestPack16Boundary(t *testing.T) {
	store, revisions := newStore(t, revstore.VersionPack16)

	for id := int64(1); id <= 15; id++ {
		require.NoError(t, store.Write(id, []byte{byte(id)}))
	}

	// At id 15: no pack yet, individuals 001..00f exist.
	_, err := os.Stat(filepath.Join(revisions, "000", "000", "000", "000", "00f"))
	assert.NoError(t, err)

	require.NoError(t, store.Write(16, []byte{16}))

	// At id 16: the group [0,15] completes and is packed at the v2 path of
	// id 15; its individuals are gone. Id 0 was never written, so the pack
	// it forms from individuals 1..15 still reads back correctly for each.
	packPath := filepath.Join(revisions, "000", "000", "000", "000", "00f")
	_, err = os.Stat(packPath)
	assert.NoError(t, err, "pack should exist at the v2 path of the last id in the group")

	_, err = os.Stat(filepath.Join(revisions, "000", "000", "000", "000", "001"))
	assert.True(t, os.IsNotExist(err), "individual files should be removed once packed")

	for id := int64(1); id <= 15; id++ {
		got, err := store.Read(id)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(id)}, got)
	}

	// id 16 starts the next group and is not yet packed.
	_, err = os.Stat(filepath.Join(revisions, "000", "000", "000", "000", "010"))
	assert.NoError(t, err)
}

func TestReadMissingRevisionIsError(t *testing.T) {
	store, _ := newStore(t, revstore.VersionHierarchical)
	_, err := store.Read(42)
	assert.Error(t, err)
}

func TestWriteRejectsReadOnlyStore(t *testing.T) {
	root := t.TempDir()
	store := revstore.Open(filepath.Join(root, "revisions"), filepath.Join(root, "tmp"), revstore.VersionHierarchical, true)
	err := store.Write(1, []byte("x"))
	assert.Error(t, err)
}

func TestWriteRejectsIDBeyondMax(t *testing.T) {
	store, _ := newStore(t, revstore.VersionHierarchical)
	err := store.Write(revstore.MaxRevisionID+1, []byte("x"))
	assert.Error(t, err)
}
