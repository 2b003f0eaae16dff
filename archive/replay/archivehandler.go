package replay

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/crystal-web-archiver/crystal/archive/model"
	"github.com/crystal-web-archiver/crystal/archive/scheduler"
	"github.com/crystal-web-archiver/crystal/archive/urlnorm"
	"github.com/crystal-web-archiver/crystal/core/logger"
)

// headerAllowList is the set of archived response headers forwarded to the
// client verbatim (after Location rewriting). Everything else is dropped,
// per spec.md §4.7 step 5.
var headerAllowList = map[string]bool{
	"content-type":     true,
	"content-language": true,
	"last-modified":    true,
	"etag":             true,
	"location":         true,
}

// headerDenyList documents headers that are never forwarded even if a
// future allow-list change would otherwise let them through: hop-by-hop,
// cookie, cache-control, alt-protocol, and rate-limit headers all
// describe the live connection, not the archived document.
var headerDenyList = map[string]bool{
	"connection":            true,
	"keep-alive":            true,
	"transfer-encoding":     true,
	"upgrade":               true,
	"set-cookie":            true,
	"cache-control":         true,
	"alt-svc":               true,
	"x-ratelimit-limit":     true,
	"x-ratelimit-remaining": true,
}

func (s *Server) handleArchiveURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	archiveURL, err := requestURLToArchiveURL(r.URL.Path, r.URL.RawQuery)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	resource := s.lookupResource(archiveURL)
	if resource == nil {
		if target, ok := s.externalAliasTarget(archiveURL); ok {
			http.Redirect(w, r, target, http.StatusTemporaryRedirect)
			return
		}
		resource, err = s.maybeSynthesizeAndDownload(ctx, archiveURL)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Warnln("on-demand download failed")
		}
	}
	if resource == nil {
		s.renderNotInArchive(w, r, archiveURL)
		return
	}

	revision, err := s.Project.Model.DefaultRevision(resource.ID, s.Project.ReadOnly())
	if err != nil || revision == nil {
		s.renderNotInArchive(w, r, archiveURL)
		return
	}

	etag := revisionETag(revision)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if revision.Error != nil {
		http.Error(w, revision.Error.Message, http.StatusBadGateway)
		return
	}

	body, err := s.Project.Store.Read(revision.ID)
	if err != nil {
		http.Error(w, "archived body missing", http.StatusInternalServerError)
		return
	}

	s.writeRevision(w, r, resource, revision, body, etag)
}

// lookupResource tries the raw archive URL first (resources created by
// older, less-normalizing versions of the software are stored verbatim),
// then each of urlnorm's progressively-more-normalized alternatives.
func (s *Server) lookupResource(archiveURL string) *model.Resource {
	for _, candidate := range urlnorm.ResourceURLAlternatives(archiveURL) {
		if r := s.Project.Model.GetResourceByURL(candidate); r != nil {
			return r
		}
	}
	return nil
}

// externalAliasTarget reports whether archiveURL matches an alias flagged
// target_is_external, per spec.md §2's Alias definition: requests for the
// source URL redirect to the rewritten external target, since the target
// itself is never scheduled for download or given a resource row.
func (s *Server) externalAliasTarget(archiveURL string) (string, bool) {
	target, external, ok := model.ApplyAlias(s.aliases(), archiveURL)
	if !ok || !external {
		return "", false
	}
	return target, true
}

// maybeSynthesizeAndDownload implements spec.md §4.7 step 2: if the URL
// matches a writable group, create the resource and block on an
// interactive-priority download before returning, so the caller can serve
// the freshly fetched revision in the same request. Links found in that
// document are recorded as resources by a follow-up ParseLinksTask; they
// are not downloaded.
func (s *Server) maybeSynthesizeAndDownload(ctx context.Context, archiveURL string) (*model.Resource, error) {
	if s.Project.ReadOnly() {
		return nil, nil
	}
	groups, err := s.Project.Model.Groups()
	if err != nil {
		return nil, err
	}
	var matched *model.ResourceGroup
	for _, g := range groups {
		if model.MatchPattern(g.Pattern, archiveURL) {
			matched = g
			break
		}
	}
	if matched == nil {
		return nil, nil
	}

	resource, err := s.Project.Model.CreateResource(archiveURL)
	if err != nil {
		return nil, err
	}

	future := scheduler.NewFuture[*scheduler.BodyResult]()
	task := &scheduler.DownloadResourceTask{
		Resource: resource, Fetcher: s.Fetcher, Model: s.Project.Model, Extractor: s.Extractor,
		Future: future,
	}
	node := scheduler.NewNode(task, scheduler.PriorityInteractive)
	s.Scheduler.Schedule(node)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	select {
	case <-future.Done():
	case <-waitCtx.Done():
		return resource, waitCtx.Err()
	}
	if _, err := future.Wait(); err != nil {
		return resource, err
	}
	return resource, nil
}

// rescueFromReferer implements spec.md §4.7's dynamic link-rewriting
// rescue: a request whose path isn't already an archive-URL path, but
// whose Referer is, gets resolved against the referer's archive URL and
// redirected to the correctly-rewritten form. Called from handleWelcome,
// since any request this server receives outside the "/_/" route space is
// by definition a path that missed link rewriting (an unrewritten relative
// asset on an archived page, say) rather than one already routed as an
// archive URL.
func (s *Server) rescueFromReferer(r *http.Request) (string, bool) {
	if strings.HasPrefix(r.URL.Path, archivePathPrefix) {
		return "", false
	}
	referer := r.Header.Get("Referer")
	if referer == "" {
		return "", false
	}
	refURL, err := url.Parse(referer)
	if err != nil || !strings.HasPrefix(refURL.Path, archivePathPrefix) {
		return "", false
	}
	refererArchiveURL, err := requestURLToArchiveURL(refURL.Path, "")
	if err != nil {
		return "", false
	}
	requestedRaw := r.URL.Path
	if r.URL.RawQuery != "" {
		requestedRaw += "?" + r.URL.RawQuery
	}
	resolved, err := resolveAgainst(refererArchiveURL, requestedRaw)
	if err != nil {
		return "", false
	}
	requestPath, err := archiveURLToRequestPath(resolved)
	if err != nil {
		return "", false
	}
	return requestPath, true
}

func revisionETag(rev *model.ResourceRevision) string {
	return `"` + strconv.FormatInt(rev.ID, 10) + `"`
}
