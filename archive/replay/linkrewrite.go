package replay

import (
	"net/url"
	"strings"

	"github.com/crystal-web-archiver/crystal/archive/model"
	"github.com/crystal-web-archiver/crystal/archive/urlnorm"
)

// rewriteLink resolves relativeURL against baseURL and maps it through
// normalization, then aliases, then archive-URL-path mapping, per spec.md
// §4.7 step 6. An anchor-only link is left untouched. A link that resolves
// to an externally-aliased target still maps through the archive-URL path
// for its *source* URL: the browser must request the source path so the
// server can issue the redirect (spec.md §8 scenario 4), not the external
// target directly.
func rewriteLink(relativeURL, baseURL string, aliases []*model.Alias) string {
	if strings.HasPrefix(relativeURL, "#") {
		return relativeURL
	}

	resolved, err := resolveAgainst(baseURL, relativeURL)
	if err != nil {
		return relativeURL
	}

	canonical, err := urlnorm.Normalize(resolved)
	if err != nil {
		canonical = resolved
	}

	if target, external, ok := model.ApplyAlias(aliases, canonical); ok && !external {
		canonical = target
	}

	requestPath, err := archiveURLToRequestPath(canonical)
	if err != nil {
		return relativeURL
	}
	return requestPath
}

func resolveAgainst(baseURL, relativeURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(relativeURL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
