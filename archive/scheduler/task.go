package scheduler

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Priority is a task's scheduling priority. Higher-priority tasks are
// dispatched before lower-priority ones at the same tree depth.
type Priority int

// The three priorities a task can hold, in ascending urgency.
const (
	PriorityBackground Priority = iota
	PriorityNormal
	PriorityInteractive
)

// Runner does the actual unit of work for a task: one blocking operation
// such as an HTTP fetch or a link parse. It returns any child tasks it
// decomposed its remaining work into, so the scheduler can append them and
// keep making progress next tick. The node is marked complete once Run
// reports done; a node that is not done is called again once none of its
// children is still running.
type Runner interface {
	// Run performs one unit of work. done is true once the task has no
	// further work of its own, regardless of whether it appended children.
	Run(ctx context.Context, node *Node) (children []*Node, done bool, err error)

	// Host returns the hostname this task's next unit of work would
	// contact, for politeness delay purposes, or "" if it doesn't touch
	// the network.
	Host() string
}

// Node is one task in the scheduling tree.
type Node struct {
	ID       string
	Priority Priority
	Runner   Runner

	mutex         sync.Mutex
	children      []*Node
	complete      bool
	cancelPending bool
	crashReason   error

	parent *Node
}

// NewNode wraps runner in a tree node at the given priority.
func NewNode(runner Runner, priority Priority) *Node {
	id, _ := uuid.NewRandom()
	return &Node{ID: id.String(), Priority: priority, Runner: runner}
}

// AddChild appends child to node's children, setting its parent pointer so
// cancellation and priority escalation can propagate.
func (n *Node) AddChild(child *Node) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	child.parent = n
	n.children = append(n.children, child)
}

// Children returns a snapshot of node's current children.
func (n *Node) Children() []*Node {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// IsComplete reports whether node has finished all its work.
func (n *Node) IsComplete() bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.complete
}

// CancelPending reports whether node has been asked to cancel.
func (n *Node) CancelPending() bool {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.cancelPending
}

// CrashReason returns the error a bulkhead caught while running node, if
// any.
func (n *Node) CrashReason() error {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.crashReason
}

// CancelTree marks node and every descendant as cancel-pending.
func (n *Node) CancelTree() {
	n.mutex.Lock()
	n.cancelPending = true
	children := make([]*Node, len(n.children))
	copy(children, n.children)
	n.mutex.Unlock()
	for _, c := range children {
		c.CancelTree()
	}
}

// Escalate raises node's priority in place if newPriority is higher than
// its current one, and propagates the same escalation to its ancestors so
// the scheduler's leftmost-leaf walk reorders toward it. This implements
// the spec's "a resource with an in-flight background task is requested
// interactively" priority bump.
func (n *Node) Escalate(newPriority Priority) {
	n.mutex.Lock()
	if newPriority <= n.Priority {
		n.mutex.Unlock()
		return
	}
	n.Priority = newPriority
	parent := n.parent
	n.mutex.Unlock()
	if parent != nil {
		parent.Escalate(newPriority)
	}
}

func (n *Node) markComplete() {
	n.mutex.Lock()
	n.complete = true
	n.mutex.Unlock()
}

func (n *Node) markCrashed(err error) {
	n.mutex.Lock()
	n.complete = true
	n.crashReason = err
	n.mutex.Unlock()
}

// RootTask is the tree root every scheduled task hangs off of.
type RootTask struct {
	Node
}

// NewRootTask returns an empty root task at background priority; its own
// Runner never does any work, it only ever holds children.
func NewRootTask() *RootTask {
	root := &RootTask{}
	root.ID = "root"
	root.Priority = PriorityBackground
	root.Runner = noopRunner{}
	return root
}

type noopRunner struct{}

func (noopRunner) Run(context.Context, *Node) ([]*Node, bool, error) { return nil, true, nil }
func (noopRunner) Host() string                                      { return "" }
