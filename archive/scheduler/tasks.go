package scheduler

import (
	"context"
	"net/url"

	"github.com/crystal-web-archiver/crystal/archive/download"
	"github.com/crystal-web-archiver/crystal/archive/model"
)

// LinkExtractor turns a fetched document into the links it references, so
// DownloadResourceTask can hand a downloaded document to a ParseLinksTask
// that records each link as a resource. It is deliberately minimal: real extraction (HTML/XML/JSON parsing)
// is an external collaborator outside this package's scope.
type LinkExtractor interface {
	ExtractLinks(contentType string, body []byte, baseURL string) []string
}

// DownloadResourceBodyTask fetches and persists exactly one revision for a
// resource, with no further decomposition. It is the leaf every other
// download task eventually bottoms out at.
type DownloadResourceBodyTask struct {
	Resource *model.Resource
	Fetcher  *download.Fetcher
	Model    *model.Model
	Cookie   string

	Future *Future[*BodyResult]
}

// BodyResult pairs a persisted revision row with the raw bytes fetched
// alongside it, since the revision row itself never carries a body (that
// lives in the revision store). Callers that only care about the row, such
// as the replay server, can ignore Body.
type BodyResult struct {
	Revision *model.ResourceRevision
	Body     []byte
}

// Run issues the fetch and persists the outcome as a revision in one unit
// of work, since a single HTTP GET is the spec's atomic suspension point
// here.
func (t *DownloadResourceBodyTask) Run(ctx context.Context, node *Node) ([]*Node, bool, error) {
	outcome := t.Fetcher.Fetch(ctx, t.Resource.URL, t.Cookie, nil)

	var (
		rev *model.ResourceRevision
		err error
	)
	if outcome.Err != nil {
		rev, err = t.Model.CreateFromStream(t.Resource.ID, t.Cookie, nil,
			&model.RevisionError{Type: outcome.Err.Type, Message: outcome.Err.Message}, nil)
	} else {
		rev, err = t.Model.CreateFromStream(t.Resource.ID, t.Cookie,
			&model.RevisionMetadata{
				HTTPVersion:  outcome.Metadata.HTTPVersion,
				StatusCode:   outcome.Metadata.StatusCode,
				ReasonPhrase: outcome.Metadata.ReasonPhrase,
				Headers:      outcome.Metadata.Headers,
			}, nil, outcome.Body)
	}
	if err != nil {
		if t.Future != nil {
			t.Future.SetError(err)
		}
		return nil, true, err
	}
	if t.Future != nil {
		t.Future.Set(&BodyResult{Revision: rev, Body: outcome.Body})
	}
	return nil, true, nil
}

// Host returns the resource's hostname, for politeness bookkeeping.
func (t *DownloadResourceBodyTask) Host() string {
	u, err := url.Parse(t.Resource.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// DownloadResourceTask fetches a resource's body and, for documents with
// extractable links, kicks off ParseLinksTask once the body lands.
type DownloadResourceTask struct {
	Resource  *model.Resource
	Fetcher   *download.Fetcher
	Model     *model.Model
	Extractor LinkExtractor
	Cookie    string

	bodyFuture *Future[*BodyResult]
	bodyNode   *Node
	Future     *Future[*BodyResult]
}

// Run appends a DownloadResourceBodyTask child on its first call, then
// waits for that child's future to settle on subsequent calls, appending a
// ParseLinksTask once a body with extractable links arrives.
func (t *DownloadResourceTask) Run(ctx context.Context, node *Node) ([]*Node, bool, error) {
	if t.bodyNode == nil {
		t.bodyFuture = NewFuture[*BodyResult]()
		bodyTask := &DownloadResourceBodyTask{
			Resource: t.Resource, Fetcher: t.Fetcher, Model: t.Model, Cookie: t.Cookie, Future: t.bodyFuture,
		}
		t.bodyNode = NewNode(bodyTask, node.Priority)
		return []*Node{t.bodyNode}, false, nil
	}

	select {
	case <-t.bodyFuture.Done():
	default:
		return nil, false, nil // body still in flight, nothing more to do this tick
	}

	result, err := t.bodyFuture.Wait()
	if t.Future != nil {
		if err != nil {
			t.Future.SetError(err)
		} else {
			t.Future.Set(result)
		}
	}

	var children []*Node
	if err == nil && result.Revision.HasBody() && t.Extractor != nil {
		parseTask := &ParseLinksTask{
			Resource: t.Resource, Model: t.Model, Extractor: t.Extractor,
			Revision: result.Revision, body: result.Body,
		}
		children = append(children, NewNode(parseTask, node.Priority))
	}
	return children, true, nil
}

// Host returns "" because the compound task itself never contacts the
// network directly; its body child does.
func (t *DownloadResourceTask) Host() string { return "" }

// ParseLinksTask extracts links from a freshly downloaded document. Link
// discovery creating new Resource rows happens here, matching the spec's
// description of resources being created "when a link is discovered during
// download".
type ParseLinksTask struct {
	Resource  *model.Resource
	Model     *model.Model
	Extractor LinkExtractor
	Revision  *model.ResourceRevision

	body []byte
}

// Run extracts links and creates a Resource row for each one not already
// known. It performs no network I/O, so it never needs more than one tick.
func (t *ParseLinksTask) Run(ctx context.Context, node *Node) ([]*Node, bool, error) {
	contentType := ""
	if t.Revision.Metadata != nil {
		for _, h := range t.Revision.Metadata.Headers {
			if h[0] == "Content-Type" {
				contentType = h[1]
			}
		}
	}
	links := t.Extractor.ExtractLinks(contentType, t.body, t.Resource.URL)
	for _, link := range links {
		if _, err := t.Model.CreateResource(link); err != nil {
			return nil, true, err
		}
	}
	return nil, true, nil
}

// Host returns "" since link parsing is local work.
func (t *ParseLinksTask) Host() string { return "" }

// DownloadResourceGroupMembersTask enumerates the members of a group by
// matching every known resource against the group's pattern; the group's
// source root resource or source group is not consulted. It appends
// a DownloadResourceTask for each undownloaded member in creation order, so
// last_downloaded_member_id advances monotonically as the spec requires.
type DownloadResourceGroupMembersTask struct {
	Group     *model.ResourceGroup
	Model     *model.Model
	Fetcher   *download.Fetcher
	Extractor LinkExtractor

	started bool
}

// Run enumerates resources matching the group's pattern that haven't yet
// been downloaded, and schedules one DownloadResourceTask per member.
func (t *DownloadResourceGroupMembersTask) Run(ctx context.Context, node *Node) ([]*Node, bool, error) {
	if t.started {
		return nil, true, nil
	}
	t.started = true

	if t.Group.DoNotDownload {
		return nil, true, nil
	}

	var afterID int64
	if t.Group.LastDownloadedMemberID != nil {
		afterID = *t.Group.LastDownloadedMemberID
	}

	var children []*Node
	lastID := afterID
	for _, r := range t.Model.AllResources() {
		if r.ID <= afterID {
			continue
		}
		if !model.MatchPattern(t.Group.Pattern, r.URL) {
			continue
		}
		children = append(children, NewNode(&DownloadResourceTask{
			Resource: r, Fetcher: t.Fetcher, Model: t.Model, Extractor: t.Extractor,
		}, node.Priority))
		lastID = r.ID
	}
	if lastID != afterID {
		if err := t.Model.SetLastDownloadedMember(t.Group.ID, lastID); err != nil {
			return nil, true, err
		}
	}
	return children, true, nil
}

// Host returns "" since enumeration itself is local work; member downloads
// carry their own host.
func (t *DownloadResourceGroupMembersTask) Host() string { return "" }

// DownloadResourceGroupTask is the user-visible "download this whole group"
// action: a single bounded pass over the group's current membership. A
// group that keeps discovering new members (e.g. pagination) is driven by
// rescheduling a fresh DownloadResourceGroupTask, not by this task looping
// on itself; the scheduler revisits a node only after all of its children
// have completed.
type DownloadResourceGroupTask struct {
	Group     *model.ResourceGroup
	Model     *model.Model
	Fetcher   *download.Fetcher
	Extractor LinkExtractor
}

// Run spawns one DownloadResourceGroupMembersTask covering the group's
// membership as of now.
func (t *DownloadResourceGroupTask) Run(ctx context.Context, node *Node) ([]*Node, bool, error) {
	members := &DownloadResourceGroupMembersTask{Group: t.Group, Model: t.Model, Fetcher: t.Fetcher, Extractor: t.Extractor}
	return []*Node{NewNode(members, node.Priority)}, true, nil
}

// Host returns "" since this task only ever spawns children.
func (t *DownloadResourceGroupTask) Host() string { return "" }

// UpdateResourceGroupMembersTask refreshes a group's membership without
// downloading anything, used when a group's do_not_download flag is set but
// the UI still wants an up to date member count.
type UpdateResourceGroupMembersTask struct {
	Group *model.ResourceGroup
	Model *model.Model
}

// Run walks known resources once, advancing last_downloaded_member_id past
// every matching one, without scheduling any downloads.
func (t *UpdateResourceGroupMembersTask) Run(ctx context.Context, node *Node) ([]*Node, bool, error) {
	var afterID int64
	if t.Group.LastDownloadedMemberID != nil {
		afterID = *t.Group.LastDownloadedMemberID
	}
	lastID := afterID
	for _, r := range t.Model.AllResources() {
		if r.ID <= afterID {
			continue
		}
		if model.MatchPattern(t.Group.Pattern, r.URL) {
			lastID = r.ID
		}
	}
	if lastID != afterID {
		if err := t.Model.SetLastDownloadedMember(t.Group.ID, lastID); err != nil {
			return nil, true, err
		}
	}
	return nil, true, nil
}

// Host returns "" since this task never touches the network.
func (t *UpdateResourceGroupMembersTask) Host() string { return "" }
