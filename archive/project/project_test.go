package project_test

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-web-archiver/crystal/archive/model"
	"github.com/crystal-web-archiver/crystal/archive/project"
)

func TestCreateThenOpenRoundTrips(t *testing.T) {
	root := filepath.Join(t.TempDir(), "archive.crystalproj")

	p, err := project.Create(root, project.Options{})
	require.NoError(t, err)
	require.False(t, p.ReadOnly())

	_, err = p.Model.CreateResource("https://example.test/")
	require.NoError(t, err)
	require.NoError(t, p.Close())

	reopened, err := project.Open(root, project.Options{})
	require.NoError(t, err)
	defer reopened.Close()

	r := reopened.Model.GetResourceByURL("https://example.test/")
	require.NotNil(t, r)
	assert.Equal(t, "https://example.test/", r.URL)
}

func TestCreateWritesMarkerFiles(t *testing.T) {
	root := filepath.Join(t.TempDir(), "archive.crystalproj")
	p, err := project.Create(root, project.Options{})
	require.NoError(t, err)
	defer p.Close()

	marker, err := os.ReadFile(filepath.Join(root, "OPEN ME.crystalopen"))
	require.NoError(t, err)
	assert.Equal(t, "CrOp", string(marker))

	_, err = os.Stat(filepath.Join(root, "README.txt"))
	require.NoError(t, err)
}

func TestOpenForWritingTwiceFails(t *testing.T) {
	root := filepath.Join(t.TempDir(), "archive.crystalproj")
	p, err := project.Create(root, project.Options{})
	require.NoError(t, err)
	defer p.Close()

	_, err = project.Open(root, project.Options{})
	assert.Error(t, err)
}

func TestNonLoopbackBindForcesReadOnly(t *testing.T) {
	root := filepath.Join(t.TempDir(), "archive.crystalproj")
	p, err := project.Create(root, project.Options{})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	reopened, err := project.Open(root, project.Options{BindHost: "0.0.0.0:2797"})
	require.NoError(t, err)
	defer reopened.Close()
	assert.True(t, reopened.ReadOnly())
}

func TestSaveAsCopiesProject(t *testing.T) {
	root := filepath.Join(t.TempDir(), "archive.crystalproj")
	p, err := project.Create(root, project.Options{})
	require.NoError(t, err)
	_, err = p.Model.CreateResource("https://example.test/")
	require.NoError(t, err)

	destRoot := filepath.Join(t.TempDir(), "copy.crystalproj")
	copied, err := p.SaveAs(destRoot, project.Options{})
	require.NoError(t, err)
	defer copied.Close()
	defer p.Close()

	r := copied.Model.GetResourceByURL("https://example.test/")
	require.NotNil(t, r)
}

// TestOrphanRevisionWithThreeGoodPredecessorsIsRepaired simulates a failed
// rollback: the highest revision's database row commits but its body file
// never lands on disk (e.g. the disk was disconnected mid-write), leaving
// exactly one orphaned row. With three healthy, body-bearing revisions
// immediately before it, repairOrphanRevision should delete the orphan on
// the next writable open.
func TestOrphanRevisionWithThreeGoodPredecessorsIsRepaired(t *testing.T) {
	root := filepath.Join(t.TempDir(), "archive.crystalproj")
	p, err := project.Create(root, project.Options{})
	require.NoError(t, err)

	resource, err := p.Model.CreateResource("https://example.test/page")
	require.NoError(t, err)

	var lastRevID int64
	for i := 0; i < 4; i++ {
		rev, err := p.Model.CreateFromStream(resource.ID, "", &model.RevisionMetadata{
			StatusCode: 200, ReasonPhrase: "OK",
			Headers: [][2]string{{"Content-Type", "text/plain"}},
		}, nil, []byte("body"))
		require.NoError(t, err)
		lastRevID = rev.ID
	}
	require.NoError(t, p.Close())

	// Every body file lives under a hexPath of fixed width, so
	// lexicographic order of full paths matches numeric id order; the
	// last one found is the highest-id revision just written above.
	var bodyFiles []string
	revisionsDir := filepath.Join(root, "revisions")
	require.NoError(t, filepath.Walk(revisionsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		bodyFiles = append(bodyFiles, path)
		return nil
	}))
	require.NotEmpty(t, bodyFiles)
	sort.Strings(bodyFiles)
	require.NoError(t, os.Remove(bodyFiles[len(bodyFiles)-1]))

	reopened, err := project.Open(root, project.Options{})
	require.NoError(t, err)
	defer reopened.Close()

	rev, err := reopened.Model.Revision(lastRevID)
	require.NoError(t, err)
	assert.Nil(t, rev, "orphaned revision row should have been deleted by repair")
}
