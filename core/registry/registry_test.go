package registry_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-web-archiver/crystal/core/db"
	"github.com/crystal-web-archiver/crystal/core/registry"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Create(filepath.Join(t.TempDir(), "project.db"), `
CREATE TABLE IF NOT EXISTS project_property(
	name varchar NOT NULL,
	value json NOT NULL,
	updated_at timestamp NOT NULL,
	PRIMARY KEY(name)
);`)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	reg := registry.MustNew(newTestDB(t))
	acc := reg.Accessor("")

	require.NoError(t, acc.Write("major_version", 3))

	var version int
	updatedAt, err := acc.Read("major_version", &version)
	require.NoError(t, err)
	assert.Equal(t, 3, version)
	assert.WithinDuration(t, time.Now().UTC(), updatedAt, time.Minute)
}

func TestReadMissingKeyReturnsZeroTimeNoError(t *testing.T) {
	reg := registry.MustNew(newTestDB(t))
	acc := reg.Accessor("")

	var version int
	updatedAt, err := acc.Read("missing", &version)
	require.NoError(t, err)
	assert.True(t, updatedAt.IsZero())
}

func TestHasReflectsPresence(t *testing.T) {
	reg := registry.MustNew(newTestDB(t))
	acc := reg.Accessor("")

	has, err := acc.Has("major_version_old")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, acc.Write("major_version_old", 2))
	has, err = acc.Has("major_version_old")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestDeleteRemovesKey(t *testing.T) {
	reg := registry.MustNew(newTestDB(t))
	acc := reg.Accessor("")

	require.NoError(t, acc.Write("major_version_old", 2))
	require.NoError(t, acc.Delete("major_version_old"))

	has, err := acc.Has("major_version_old")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestPrefixedAccessorsDoNotCollide(t *testing.T) {
	reg := registry.MustNew(newTestDB(t))
	a := reg.Accessor("a")
	b := reg.Accessor("b")

	require.NoError(t, a.Write("value", "from-a"))
	require.NoError(t, b.Write("value", "from-b"))

	var got string
	_, err := a.Read("value", &got)
	require.NoError(t, err)
	assert.Equal(t, "from-a", got)

	_, err = b.Read("value", &got)
	require.NoError(t, err)
	assert.Equal(t, "from-b", got)
}
