// Package scheduler drives the task tree that coordinates downloads: a
// single background goroutine walks the tree depth-first, dispatches one
// unit of work per non-complete leaf whose host politeness delay has
// expired, and bulkheads every dispatch so a single task's panic or error
// cannot take down the loop.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/crystal-web-archiver/crystal/core/logger"
	"github.com/crystal-web-archiver/crystal/core/projerr"
)

// DefaultPoliteness is the minimum delay between two downloads to the same
// host, per the spec's DELAY_BETWEEN_DOWNLOADS default.
const DefaultPoliteness = time.Second

// Scheduler owns the task tree and the single goroutine that drains it.
type Scheduler struct {
	root       *RootTask
	politeness time.Duration

	mutex        sync.Mutex
	lastDownload map[string]time.Time // host -> time of last completed download
	inFlight     map[int64]*Node      // resource id -> in-flight download task, for dedup

	trigger chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

// New returns a Scheduler with an empty task tree. Run must be called to
// start the background goroutine.
func New() *Scheduler {
	return &Scheduler{
		root:         NewRootTask(),
		politeness:   DefaultPoliteness,
		lastDownload: make(map[string]time.Time),
		inFlight:     make(map[int64]*Node),
		trigger:      make(chan struct{}, 1),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// Root returns the scheduler's root task, for tests.
func (s *Scheduler) Root() *RootTask { return s.root }

// Schedule appends node as a child of the root task and wakes the loop.
func (s *Scheduler) Schedule(node *Node) {
	s.root.AddChild(node)
	s.Poke()
}

// Poke wakes the scheduling loop without waiting for its next politeness
// timeout, used after appending new work or cancelling a task.
func (s *Scheduler) Poke() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Dedup returns the existing in-flight task for resourceID, if a compatible
// one is already running, so callers reuse its future instead of
// duplicating the download. The caller installs a new task with Register
// once it has decided none exists.
func (s *Scheduler) Dedup(resourceID int64) *Node {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.inFlight[resourceID]
}

// Register records node as the in-flight task for resourceID. Nothing
// clears the entry automatically; the caller removes it with Unregister
// once node completes.
func (s *Scheduler) Register(resourceID int64, node *Node) {
	s.mutex.Lock()
	s.inFlight[resourceID] = node
	s.mutex.Unlock()
}

// Unregister clears the in-flight entry for resourceID if it still points
// at node, which is the side-table equivalent of a weak reference being
// cleared on task completion (Go has no first-class weak references).
func (s *Scheduler) Unregister(resourceID int64, node *Node) {
	s.mutex.Lock()
	if s.inFlight[resourceID] == node {
		delete(s.inFlight, resourceID)
	}
	s.mutex.Unlock()
}

// politenessRemaining returns how long the caller must still wait before
// starting a download to host. It only reads s.lastDownload; the caller
// records the new download time itself, via recordHostIfDownload, once it
// actually dispatches.
func (s *Scheduler) politenessRemaining(host string) time.Duration {
	if host == "" {
		return 0
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	last, ok := s.lastDownload[host]
	if !ok {
		return 0
	}
	elapsed := time.Since(last)
	if elapsed >= s.politeness {
		return 0
	}
	return s.politeness - elapsed
}

func (s *Scheduler) recordDownload(host string) {
	if host == "" {
		return
	}
	s.mutex.Lock()
	s.lastDownload[host] = time.Now()
	s.mutex.Unlock()
}

// Run drains the task tree until Stop is called. It is meant to run in its
// own goroutine for the lifetime of an open, writable project.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.stopped)
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		node, wait, found := s.pickLeaf(&s.root.Node)
		if !found {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-s.trigger:
			case <-time.After(maxDuration(wait, 50*time.Millisecond)):
			}
			continue
		}
		s.dispatch(ctx, node)
	}
}

// Stop requests the loop to exit and blocks until it has, or ctx is done.
// It corresponds to the spec's 5-second join-with-timeout on project close;
// the timeout itself is the caller's responsibility via ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.stopped:
		return nil
	default:
	}
	close(s.stop)
	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler did not stop before deadline")
	}
}

// pickLeaf walks the tree depth-first looking for a non-complete leaf whose
// politeness delay (if any) has expired, preferring the highest-priority
// candidate and, among equals, the leftmost. A node whose children have all
// completed counts as a leaf again, so a task that waits on its children
// gets its next call once they are done.
// It returns the shortest wait among leaves it skipped for politeness, so
// the caller can sleep productively instead of busy-polling.
func (s *Scheduler) pickLeaf(n *Node) (found *Node, wait time.Duration, ok bool) {
	if n.CancelPending() && !n.IsComplete() {
		return n, 0, true
	}
	children := n.Children()
	pending := false
	for _, c := range children {
		if !c.IsComplete() {
			pending = true
			break
		}
	}
	if !pending {
		if n.IsComplete() {
			return nil, 0, false
		}
		remaining := s.politenessRemaining(n.Runner.Host())
		if remaining == 0 {
			return n, 0, true
		}
		return nil, remaining, false
	}

	minWait := time.Duration(0)
	haveWait := false
	var best *Node
	for _, c := range children {
		candidate, w, candidateOK := s.pickLeaf(c)
		if candidateOK {
			if best == nil || candidate.Priority > best.Priority {
				best = candidate
			}
			continue
		}
		if w > 0 && (!haveWait || w < minWait) {
			minWait, haveWait = w, true
		}
	}
	if best != nil {
		return best, 0, true
	}
	return nil, minWait, false
}

// dispatch runs one unit of work for node inside a bulkhead: a panic or
// error is caught, annotated onto the node as its crash reason, and
// swallowed so the loop keeps servicing other tasks.
func (s *Scheduler) dispatch(ctx context.Context, node *Node) {
	if node.CancelPending() {
		node.markCrashed(projerr.ErrCancelled)
		s.recordHostIfDownload(node)
		return
	}

	children, done, err := s.runWithBulkhead(ctx, node)
	for _, c := range children {
		node.AddChild(c)
	}
	if err != nil {
		node.markCrashed(err)
		logger.Default().WithError(err).Errorf("scheduler: task %s failed", node.ID)
		return
	}
	if done {
		node.markComplete()
	}
	s.recordHostIfDownload(node)
}

func (s *Scheduler) recordHostIfDownload(node *Node) {
	if host := node.Runner.Host(); host != "" {
		s.recordDownload(host)
	}
}

func (s *Scheduler) runWithBulkhead(ctx context.Context, node *Node) (children []*Node, done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic in task %s: %v\n%s", node.ID, r, debug.Stack())
		}
	}()
	return node.Runner.Run(ctx, node)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
