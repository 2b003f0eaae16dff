package replay_test

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-web-archiver/crystal/archive/download"
	"github.com/crystal-web-archiver/crystal/archive/model"
	"github.com/crystal-web-archiver/crystal/archive/project"
	"github.com/crystal-web-archiver/crystal/archive/replay"
	"github.com/crystal-web-archiver/crystal/archive/scheduler"
	"github.com/crystal-web-archiver/crystal/core/testclient"
)

func newTestServer(t *testing.T) (*replay.Server, *project.Project) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "archive.crystalproj")
	p, err := project.Create(root, project.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	sched := scheduler.New()
	fetcher := download.NewFetcher("crystal-test/1.0")
	server, err := replay.New(p, sched, fetcher)
	require.NoError(t, err)
	return server, p
}

func TestArchiveURLServesKnownRevision(t *testing.T) {
	server, p := newTestServer(t)

	resource, err := p.Model.CreateResource("https://example.test/page.html")
	require.NoError(t, err)
	_, err = p.Model.CreateFromStream(resource.ID, "", &model.RevisionMetadata{
		StatusCode:   200,
		ReasonPhrase: "OK",
		Headers:      [][2]string{{"Content-Type", "text/html"}},
	}, nil, []byte("<html><head></head><body>hi</body></html>"))
	require.NoError(t, err)

	client := testclient.New(server.Router())
	rec, err := client.GetRaw("/_/https/example.test/page.html", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "Archived by Crystal")
	assert.Contains(t, rec.Body.String(), "pin_date.js")
}

func TestArchiveURLNotFoundRendersNotInArchivePage(t *testing.T) {
	server, _ := newTestServer(t)
	client := testclient.New(server.Router())

	rec, err := client.GetRaw("/_/https/example.test/missing.html", nil)
	require.NoError(t, err)
	assert.Equal(t, 404, rec.Code)
	assert.Contains(t, rec.Body.String(), "Not in archive")
}

func TestConditionalRequestReturns304(t *testing.T) {
	server, p := newTestServer(t)
	resource, err := p.Model.CreateResource("https://example.test/a.txt")
	require.NoError(t, err)
	rev, err := p.Model.CreateFromStream(resource.ID, "", &model.RevisionMetadata{
		StatusCode: 200, Headers: [][2]string{{"Content-Type", "text/plain"}},
	}, nil, []byte("hello"))
	require.NoError(t, err)

	client := testclient.New(server.Router())
	etag := `"` + strconv.FormatInt(rev.ID, 10) + `"`
	rec, err := client.GetRaw("/_/https/example.test/a.txt", map[string]string{"If-None-Match": etag})
	require.NoError(t, err)
	assert.Equal(t, 304, rec.Code)
}

func TestDownloadURLRejectedWhenReadOnly(t *testing.T) {
	root := filepath.Join(t.TempDir(), "archive.crystalproj")
	p, err := project.Create(root, project.Options{})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	reopened, err := project.Open(root, project.Options{ForceReadOnly: true})
	require.NoError(t, err)
	defer reopened.Close()

	sched := scheduler.New()
	fetcher := download.NewFetcher("crystal-test/1.0")
	server, err := replay.New(reopened, sched, fetcher)
	require.NoError(t, err)

	client := testclient.New(server.Router())
	rec, err := client.Post("/_/crystal/download-url", map[string]string{"url": "https://example.test/"}, nil)
	require.Error(t, err)
	assert.Equal(t, 403, rec)
}

func TestPreviewURLsMatchesKnownResources(t *testing.T) {
	server, p := newTestServer(t)
	_, err := p.Model.CreateResource("https://example.test/comics/1")
	require.NoError(t, err)
	_, err = p.Model.CreateResource("https://example.test/comics/2")
	require.NoError(t, err)
	_, err = p.Model.CreateResource("https://example.test/about")
	require.NoError(t, err)

	client := testclient.New(server.Router())
	var resp struct {
		URLs []string `json:"urls"`
	}
	status, err := client.Post("/_/crystal/preview-urls", map[string]string{"pattern": "https://example.test/comics/#"}, &resp)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Len(t, resp.URLs, 2)
}

func TestStaticAssetAllowlist(t *testing.T) {
	server, _ := newTestServer(t)
	client := testclient.New(server.Router())

	rec, err := client.GetRaw("/_/crystal/resources/style.css", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)

	rec, err = client.GetRaw("/_/crystal/resources/not-a-real-asset", nil)
	require.NoError(t, err)
	assert.Equal(t, 404, rec.Code)
}

func TestExternalAliasRedirectsWithoutCreatingAResource(t *testing.T) {
	server, p := newTestServer(t)
	_, err := p.Model.CreateAlias("http://a.test/ext/", "https://b.test/", true)
	require.NoError(t, err)

	client := testclient.New(server.Router())
	rec, err := client.GetRaw("/_/http/a.test/ext/page", nil)
	require.NoError(t, err)
	assert.Equal(t, 307, rec.Code)
	assert.Equal(t, "https://b.test/page", rec.Header().Get("Location"))

	assert.Nil(t, p.Model.GetResourceByURL("http://a.test/ext/page"))
	assert.Nil(t, p.Model.GetResourceByURL("https://b.test/page"))
}

func TestExternalAliasLinkIsRewrittenToSourceArchivePath(t *testing.T) {
	server, p := newTestServer(t)
	_, err := p.Model.CreateAlias("http://a.test/ext/", "https://b.test/", true)
	require.NoError(t, err)

	resource, err := p.Model.CreateResource("https://example.test/index.html")
	require.NoError(t, err)
	_, err = p.Model.CreateFromStream(resource.ID, "", &model.RevisionMetadata{
		StatusCode: 200, ReasonPhrase: "OK",
		Headers: [][2]string{{"Content-Type", "text/html"}},
	}, nil, []byte(`<html><head></head><body><a href="http://a.test/ext/page">ext</a></body></html>`))
	require.NoError(t, err)

	client := testclient.New(server.Router())
	rec, err := client.GetRaw("/_/https/example.test/index.html", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="/_/http/a.test/ext/page"`)
	assert.NotContains(t, rec.Body.String(), "b.test")
}

func TestWelcomeRescuesRequestWithArchiveReferer(t *testing.T) {
	server, _ := newTestServer(t)
	client := testclient.New(server.Router())

	rec, err := client.GetRaw("/style.css", map[string]string{
		"Referer": "http://127.0.0.1:2797/_/https/example.test/page/index.html",
	})
	require.NoError(t, err)
	assert.Equal(t, 307, rec.Code)
	assert.Equal(t, "/_/https/example.test/style.css", rec.Header().Get("Location"))
}

func TestWelcomeServesLandingPageWithoutArchiveReferer(t *testing.T) {
	server, _ := newTestServer(t)
	client := testclient.New(server.Router())

	rec, err := client.GetRaw("/", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "Crystal")
}

func TestPinDateScriptRejectsInvalidTimestamp(t *testing.T) {
	server, _ := newTestServer(t)
	client := testclient.New(server.Router())

	rec, err := client.GetRaw(`/_/crystal/pin_date.js?t=%3Cscript%3E`, nil)
	require.NoError(t, err)
	assert.Equal(t, 400, rec.Code)
}
