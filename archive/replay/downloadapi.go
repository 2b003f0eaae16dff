package replay

import (
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/crystal-web-archiver/crystal/archive/model"
	"github.com/crystal-web-archiver/crystal/archive/scheduler"
	"github.com/crystal-web-archiver/crystal/archive/urlnorm"
	"github.com/crystal-web-archiver/crystal/core/access"
	"github.com/crystal-web-archiver/crystal/core/pointers"
)

type downloadURLRequest struct {
	URL string `json:"url"`
}

type createGroupRequest struct {
	Name                  string `json:"name"`
	Pattern               string `json:"pattern"`
	SourceRootResourceURL string `json:"source_root_resource_url"`
	Download              bool   `json:"download"`
}

type previewURLsRequest struct {
	Pattern string `json:"pattern"`
}

type taskResponse struct {
	TaskID string `json:"task_id"`
}

type previewURLsResponse struct {
	URLs []string `json:"urls"`
}

// handleDownloadURL implements the "Download only" action on the "not in
// archive" page: create the resource if needed and schedule a single
// interactive-priority DownloadResourceTask, returning a task_id the client
// polls via the SSE progress stream.
func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	if !s.requireWritable(w, r) {
		return
	}
	body, ok := s.readAndValidate(w, r, "download-url")
	if !ok {
		return
	}
	var req downloadURLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	canonical, err := urlnorm.Normalize(req.URL)
	if err != nil {
		http.Error(w, "invalid url: "+err.Error(), http.StatusBadRequest)
		return
	}
	resource, err := s.Project.Model.CreateResource(canonical)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	taskID, progress := s.progress.start(1)
	future := scheduler.NewFuture[*scheduler.BodyResult]()
	node := scheduler.NewNode(&scheduler.DownloadResourceTask{
		Resource: resource, Fetcher: s.Fetcher, Model: s.Project.Model, Extractor: s.Extractor,
		Future: future,
	}, scheduler.PriorityInteractive)
	s.Scheduler.Schedule(node)

	go func() {
		<-future.Done()
		if _, err := future.Wait(); err != nil {
			progress.update(0, err.Error())
			progress.finish("failed")
			return
		}
		progress.update(1, "done")
		progress.finish("completed")
	}()

	s.writeJSON(w, http.StatusAccepted, taskResponse{TaskID: taskID})
}

// handleCreateGroup implements the "Create Group + optionally Download"
// action: creates a ResourceGroup rooted at source_root_resource_url (if
// given) and, if download is set, schedules a DownloadResourceGroupTask.
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	if !s.requireWritable(w, r) {
		return
	}
	body, ok := s.readAndValidate(w, r, "create-group")
	if !ok {
		return
	}
	var req createGroupRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var sourceRootID *int64
	if req.SourceRootResourceURL != "" {
		canonical, err := urlnorm.Normalize(req.SourceRootResourceURL)
		if err != nil {
			http.Error(w, "invalid source_root_resource_url: "+err.Error(), http.StatusBadRequest)
			return
		}
		root, err := s.Project.Model.CreateResource(canonical)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		sourceRootID = pointers.Int64Ptr(root.ID)
	}

	group, err := s.Project.Model.CreateGroup(req.Name, req.Pattern, sourceRootID, nil, !req.Download)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if !req.Download {
		s.writeJSON(w, http.StatusCreated, struct {
			GroupID int64 `json:"group_id"`
		}{GroupID: group.ID})
		return
	}

	taskID, progress := s.progress.start(0)
	node := scheduler.NewNode(&scheduler.DownloadResourceGroupTask{
		Group: group, Model: s.Project.Model, Fetcher: s.Fetcher, Extractor: s.Extractor,
	}, scheduler.PriorityInteractive)
	s.Scheduler.Schedule(node)
	go s.watchNodeCompletion(node, progress)

	s.writeJSON(w, http.StatusAccepted, taskResponse{TaskID: taskID})
}

// handlePreviewURLs implements the pattern-preview step of "Create Group":
// it reports every already-known resource that the candidate pattern would
// match, without creating anything.
func (s *Server) handlePreviewURLs(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readAndValidate(w, r, "preview-urls")
	if !ok {
		return
	}
	var req previewURLsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var matches []string
	for _, res := range s.Project.Model.AllResources() {
		if model.MatchPattern(req.Pattern, res.URL) {
			matches = append(matches, res.URL)
		}
	}
	s.writeJSON(w, http.StatusOK, previewURLsResponse{URLs: matches})
}

// watchNodeCompletion polls a node's completion for progress reporting
// when no single future is available, such as a group download that
// fans out into many member tasks.
func (s *Server) watchNodeCompletion(node *scheduler.Node, progress *progressTask) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for !node.IsComplete() {
		<-ticker.C
	}
	if err := node.CrashReason(); err != nil {
		progress.update(0, err.Error())
		progress.finish("failed")
		return
	}
	progress.update(1, "done")
	progress.finish("completed")
}

func (s *Server) requireWritable(w http.ResponseWriter, r *http.Request) bool {
	if err := access.RequireWritable(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return false
	}
	return true
}

func (s *Server) readAndValidate(w http.ResponseWriter, r *http.Request, schemaID string) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	if err := s.validator.ValidateString(string(body), schemaID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoded, _ := json.Marshal(v)
	w.Write(encoded)
}
