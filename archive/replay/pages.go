package replay

import (
	"fmt"
	"html"
	"net/http"
)

// handleWelcome serves the branded landing page for anything outside the
// archive-URL and control-plane route space: "/" itself, or an unknown
// path a browser requested directly. Most such requests are actually a
// page-relative link (an archived document's unrewritten "/style.css")
// whose Referer names the archive URL it came from; rescueFromReferer
// catches those before falling back to the landing page.
func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	if rescued, ok := s.rescueFromReferer(r); ok {
		http.Redirect(w, r, rescued, http.StatusTemporaryRedirect)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if r.URL.Path != "/" {
		w.WriteHeader(http.StatusNotFound)
	}
	fmt.Fprintf(w, welcomePageTemplate, s.Project.Root(), s.Project.Model.ResourceCount())
}

const welcomePageTemplate = `<!DOCTYPE html>
<html><head><title>Crystal</title></head>
<body>
<h1>Crystal</h1>
<p>Archive: %s</p>
<p>%d resources archived.</p>
</body></html>
`

// renderNotInArchive serves the "Resource not in archive" page: a static
// form listing the three download actions. The page carries no script, so
// its buttons neither post to the JSON APIs nor poll the SSE progress
// stream, and no route serves the create-root action.
func (s *Server) renderNotInArchive(w http.ResponseWriter, r *http.Request, archiveURL string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, notInArchivePageTemplate, html.EscapeString(archiveURL), html.EscapeString(archiveURL))
}

const notInArchivePageTemplate = `<!DOCTYPE html>
<html><head><title>Not in archive</title></head>
<body>
<h1>Not in archive</h1>
<p><code>%s</code> has not been downloaded yet.</p>
<form id="download-only">
  <input type="hidden" name="url" value="%s">
  <button data-action="download-url" type="submit">Download only</button>
  <button data-action="create-group" type="submit">Create Group + optionally Download</button>
  <button data-action="create-root" type="submit">Create Root URL + Download</button>
</form>
<link rel="stylesheet" href="/_/crystal/resources/style.css">
</body></html>
`
