package replay

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// progressStatus mirrors the SSE event shape spec.md §4.7 requires:
// {status, progress, completed, total, message}, polled by the "not in
// archive" page while a download runs.
type progressStatus struct {
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Message   string `json:"message"`
}

// progressTask is one task_id's mutable progress state, written by the
// handler that kicked off the download and read by the SSE stream.
type progressTask struct {
	mutex sync.Mutex
	state progressStatus
	done  chan struct{}
}

func newProgressTask(total int) *progressTask {
	return &progressTask{
		state: progressStatus{Status: "running", Total: total},
		done:  make(chan struct{}),
	}
}

func (t *progressTask) update(completed int, message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.state.Completed = completed
	t.state.Message = message
	if t.state.Total > 0 {
		t.state.Progress = completed * 100 / t.state.Total
	}
}

func (t *progressTask) finish(status string) {
	t.mutex.Lock()
	t.state.Status = status
	t.state.Progress = 100
	t.mutex.Unlock()
	close(t.done)
}

func (t *progressTask) snapshot() progressStatus {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.state
}

// progressRegistry hands out task ids for in-flight downloads and lets the
// SSE handler look them back up, matching the "task_id" query parameter the
// "not in archive" page's poller uses.
type progressRegistry struct {
	mutex sync.Mutex
	tasks map[string]*progressTask
}

func newProgressRegistry() *progressRegistry {
	return &progressRegistry{tasks: make(map[string]*progressTask)}
}

func (r *progressRegistry) start(total int) (string, *progressTask) {
	id := uuid.NewString()
	task := newProgressTask(total)
	r.mutex.Lock()
	r.tasks[id] = task
	r.mutex.Unlock()
	return id, task
}

func (r *progressRegistry) get(id string) *progressTask {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.tasks[id]
}

func (r *progressRegistry) forget(id string) {
	r.mutex.Lock()
	delete(r.tasks, id)
	r.mutex.Unlock()
}

// handleDownloadProgress streams a task's progress as Server-Sent Events
// every half second until it completes or five minutes elapse, per
// spec.md §4.7.
func (s *Server) handleDownloadProgress(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	task := s.progress.get(taskID)
	if task == nil {
		http.Error(w, "unknown task_id", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(5 * time.Minute)
	defer deadline.Stop()

	writeEvent := func() bool {
		snap := task.snapshot()
		encoded, err := json.Marshal(snap)
		if err != nil {
			return false
		}
		fmt.Fprintf(w, "data: %s\n\n", encoded)
		flusher.Flush()
		return true
	}

	writeEvent()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-task.done:
			writeEvent()
			s.progress.forget(taskID)
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			if !writeEvent() {
				return
			}
		}
	}
}
