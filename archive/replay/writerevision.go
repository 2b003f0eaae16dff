package replay

import (
	"bytes"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/crystal-web-archiver/crystal/archive/doc"
	"github.com/crystal-web-archiver/crystal/archive/model"
)

// footerBanner is appended to every HTML document served, advertising
// Crystal the same way the teacher's public-facing pages carry a small
// branded footer.
const footerBanner = `<div style="position:fixed;bottom:0;left:0;right:0;padding:4px 8px;background:#222;color:#eee;font:12px sans-serif;z-index:999999">Archived by Crystal</div>`

// writeRevision implements spec.md §4.7 steps 5-7: status line and headers,
// body streaming with link rewriting, and HTML injection.
func (s *Server) writeRevision(w http.ResponseWriter, r *http.Request, resource *model.Resource, revision *model.ResourceRevision, body []byte, etag string) {
	statusCode := http.StatusOK
	contentType := ""
	if revision.Metadata != nil {
		if revision.Metadata.StatusCode != 0 {
			statusCode = revision.Metadata.StatusCode
		}
		for _, h := range revision.Metadata.Headers {
			name := strings.ToLower(h[0])
			if headerDenyList[name] || !headerAllowList[name] {
				continue
			}
			value := h[1]
			if name == "location" {
				if rewritten, err := rewriteLocationHeader(value); err == nil {
					value = rewritten
				}
			}
			w.Header().Add(h[0], value)
		}
		if contentType == "" {
			contentType = w.Header().Get("Content-Type")
		}
	}

	if w.Header().Get("Etag") == "" {
		w.Header().Set("Etag", etag)
	}
	if w.Header().Get("Date") == "" {
		w.Header().Set("Date", revision.CreatedAt.UTC().Format(http.TimeFormat))
	}
	w.Header().Set("Cache-Control", cacheControlFor(resource))

	isHTML := strings.Contains(strings.ToLower(contentType), "text/html")
	if isHTML {
		body = s.rewriteDocument(body, resource.URL, revision.CreatedAt)
	}

	w.WriteHeader(statusCode)
	w.Write(body)
}

func cacheControlFor(resource *model.Resource) string {
	if isSiteRoot(resource.URL) {
		return "max-age=0"
	}
	return "max-age=3600"
}

func isSiteRoot(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Path == "" || u.Path == "/") && u.RawQuery == ""
}

func rewriteLocationHeader(archiveURL string) (string, error) {
	return archiveURLToRequestPath(archiveURL)
}

// rewriteDocument rewrites every href/src attribute found in an HTML
// document, injecting the pin_date.js snippet (pinning the page's clock to
// the revision's archived fetch time) and the footer banner.
func (s *Server) rewriteDocument(body []byte, baseURL string, archivedAt time.Time) []byte {
	aliases := s.aliases()
	rewritten := doc.RewriteLinks(body, func(link string) string {
		return rewriteLink(link, baseURL, aliases)
	})

	ts := strconv.FormatInt(archivedAt.UTC().UnixMilli(), 10)
	pinScript := []byte(`<script src="/_/crystal/pin_date.js?t=` + ts + `"></script>`)
	if idx := bytes.Index(rewritten, []byte("<head>")); idx >= 0 {
		insertAt := idx + len("<head>")
		rewritten = append(rewritten[:insertAt:insertAt], append(pinScript, rewritten[insertAt:]...)...)
	}

	if idx := bytes.LastIndex(rewritten, []byte("</body>")); idx >= 0 {
		banner := []byte(footerBanner)
		rewritten = append(rewritten[:idx:idx], append(banner, rewritten[idx:]...)...)
	} else {
		rewritten = append(rewritten, []byte(footerBanner)...)
	}
	return rewritten
}

