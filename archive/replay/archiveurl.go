package replay

import (
	"fmt"
	"net/url"
	"strings"
)

// archivePathPrefix is the path prefix under which this server's own
// control-plane routes and archive-URL routing both live.
const archivePathPrefix = "/_/"

// requestURLToArchiveURL parses a request path of the form
// "/_/<scheme>/<authority>/<path>" (with the original query string
// preserved verbatim) back into the original absolute URL it archives.
func requestURLToArchiveURL(requestPath, rawQuery string) (string, error) {
	if !strings.HasPrefix(requestPath, archivePathPrefix) {
		return "", fmt.Errorf("not an archive URL path: %s", requestPath)
	}
	rest := strings.TrimPrefix(requestPath, archivePathPrefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("malformed archive URL path: %s", requestPath)
	}
	scheme := parts[0]
	authorityAndPath := parts[1]

	archiveURL := scheme + "://" + authorityAndPath
	if rawQuery != "" {
		archiveURL += "?" + rawQuery
	}
	return archiveURL, nil
}

// archiveURLToRequestPath is the inverse of requestURLToArchiveURL: it maps
// an absolute URL to the path (and query) this server would serve it at,
// used for rewriting links found in served documents so the browser
// requests back through this server.
func archiveURLToRequestPath(archiveURL string) (string, error) {
	u, err := url.Parse(archiveURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("not an absolute URL: %s", archiveURL)
	}
	path := archivePathPrefix + u.Scheme + "/" + u.Host + u.Path
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path, nil
}
