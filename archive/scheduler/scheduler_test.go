package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystal-web-archiver/crystal/archive/scheduler"
)

// countingRunner completes after N calls to Run, recording every call.
type countingRunner struct {
	host  string
	left  int32
	calls int32
}

func (r *countingRunner) Run(ctx context.Context, node *scheduler.Node) ([]*scheduler.Node, bool, error) {
	atomic.AddInt32(&r.calls, 1)
	if atomic.AddInt32(&r.left, -1) <= 0 {
		return nil, true, nil
	}
	return nil, false, nil
}

func (r *countingRunner) Host() string { return r.host }

func runScheduler(t *testing.T) (*scheduler.Scheduler, func()) {
	t.Helper()
	s := scheduler.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	return s, func() {
		cancel()
		<-done
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestSchedulerRunsTaskToCompletion(t *testing.T) {
	s, stop := runScheduler(t)
	defer stop()

	runner := &countingRunner{left: 3}
	node := scheduler.NewNode(runner, scheduler.PriorityNormal)
	s.Schedule(node)

	waitFor(t, time.Second, node.IsComplete)
	assert.EqualValues(t, 3, atomic.LoadInt32(&runner.calls))
}

func TestSchedulerEnforcesPolitenessBetweenSameHostTasks(t *testing.T) {
	s := scheduler.New()
	s.Schedule(scheduler.NewNode(&countingRunner{host: "example.test", left: 1}, scheduler.PriorityNormal))
	s.Schedule(scheduler.NewNode(&countingRunner{host: "example.test", left: 1}, scheduler.PriorityNormal))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := time.Now()
	go s.Run(ctx)

	waitFor(t, 3*time.Second, func() bool {
		for _, c := range s.Root().Children() {
			if !c.IsComplete() {
				return false
			}
		}
		return true
	})
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, scheduler.DefaultPoliteness, "second same-host task should wait out the politeness delay")
}

func TestSchedulerCancelTreeStopsDescendants(t *testing.T) {
	s, stop := runScheduler(t)
	defer stop()

	parent := &countingRunner{left: 100}
	parentNode := scheduler.NewNode(parent, scheduler.PriorityNormal)
	s.Schedule(parentNode)

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&parent.calls) > 0 })
	parentNode.CancelTree()
	s.Poke()

	waitFor(t, time.Second, parentNode.IsComplete)
	assert.ErrorContains(t, parentNode.CrashReason(), "cancel")
}

func TestNodeEscalatePropagatesToAncestors(t *testing.T) {
	root := scheduler.NewNode(&countingRunner{left: 1}, scheduler.PriorityBackground)
	child := scheduler.NewNode(&countingRunner{left: 1}, scheduler.PriorityBackground)
	grandchild := scheduler.NewNode(&countingRunner{left: 1}, scheduler.PriorityBackground)
	root.AddChild(child)
	child.AddChild(grandchild)

	grandchild.Escalate(scheduler.PriorityInteractive)

	assert.Equal(t, scheduler.PriorityInteractive, root.Priority)
	assert.Equal(t, scheduler.PriorityInteractive, child.Priority)
	assert.Equal(t, scheduler.PriorityInteractive, grandchild.Priority)
}

func TestSchedulerDedupReturnsRegisteredNode(t *testing.T) {
	s := scheduler.New()
	require.Nil(t, s.Dedup(42))

	node := scheduler.NewNode(&countingRunner{left: 1}, scheduler.PriorityNormal)
	s.Register(42, node)
	assert.Same(t, node, s.Dedup(42))

	s.Unregister(42, node)
	assert.Nil(t, s.Dedup(42))
}

func TestFutureCancelWinsOverLateSet(t *testing.T) {
	f := scheduler.NewFuture[int]()
	f.Cancel()
	f.Set(7) // must be a no-op, Cancel already settled the future

	value, err := f.Wait()
	assert.Error(t, err)
	assert.Zero(t, value)
}

func TestFutureSetWinsOverLateCancel(t *testing.T) {
	f := scheduler.NewFuture[int]()
	f.Set(7)
	f.Cancel()

	value, err := f.Wait()
	require.NoError(t, err)
	assert.Equal(t, 7, value)
}
