package scheduler

import (
	"sync"

	"github.com/crystal-web-archiver/crystal/core/projerr"
)

// Future is a cancellation-safe handle to a result produced on the
// scheduler goroutine and consumed on any other. It implements the spec's
// "interruptable future": a Cancel on the consumer side transitions the
// future's state even if the producer is still running and later calls Set,
// which is then silently ignored.
type Future[T any] struct {
	once sync.Once
	done chan struct{}

	mutex sync.Mutex
	value T
	err   error
}

// NewFuture returns an unsettled Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Set settles the future with value, unless it was already settled (by a
// prior Set or a Cancel). Only the first call has any effect.
func (f *Future[T]) Set(value T) {
	f.once.Do(func() {
		f.mutex.Lock()
		f.value = value
		f.mutex.Unlock()
		close(f.done)
	})
}

// SetError settles the future with an error, unless already settled.
func (f *Future[T]) SetError(err error) {
	f.once.Do(func() {
		f.mutex.Lock()
		f.err = err
		f.mutex.Unlock()
		close(f.done)
	})
}

// Cancel settles the future with projerr.ErrCancelled, unless it was already
// settled. A producer that later calls Set or SetError on an already
// cancelled future has no effect, since once.Do only runs the first winner.
func (f *Future[T]) Cancel() {
	f.SetError(projerr.ErrCancelled)
}

// Done returns a channel that is closed once the future is settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is settled and returns its value or error.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.value, f.err
}
