package project

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// writerLock is the project's single-writer guard: an OS file lock on
// <root>/.crystal-writer-lock, standing in for the Postgres advisory lock
// the teacher takes in core/backend/backend.go before a schema update. A
// second process opening the same project for writing fails fast instead of
// corrupting the revisions tree or racing the scheduler goroutine.
type writerLock struct {
	flock *flock.Flock
}

// acquireWriterLock attempts to take the project's writer lock without
// blocking. It fails if another process already holds it.
func acquireWriterLock(root string) (*writerLock, error) {
	l := flock.New(filepath.Join(root, ".crystal-writer-lock"))
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("cannot acquire writer lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("project is already open for writing by another process")
	}
	return &writerLock{flock: l}, nil
}

// Release gives up the writer lock.
func (w *writerLock) Release() error {
	if w == nil || w.flock == nil {
		return nil
	}
	return w.flock.Unlock()
}
