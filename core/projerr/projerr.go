// Package projerr collects the named error values that flow out of project
// lifecycle, migration, and scheduler code, replacing what the original
// implementation expressed as an exception hierarchy.
package projerr

import "errors"

// Sentinel project errors. Callers compare against these with errors.Is;
// wrapping with fmt.Errorf("...: %w", ...) is expected and preserves the
// comparison.
var (
	// ErrReadOnly is returned by any mutating operation attempted against a
	// project that was opened read-only.
	ErrReadOnly = errors.New("project is read-only")

	// ErrCorrupt is returned when the on-disk project fails a structural
	// check: a missing database, an unreadable revision, a revision id that
	// does not match its stored path.
	ErrCorrupt = errors.New("project is corrupt")

	// ErrTooNew is returned when a project's major_version is higher than
	// the one this build knows how to read.
	ErrTooNew = errors.New("project format is too new")

	// ErrVetoed is returned when the caller declines an offered format
	// migration. The project remains open read-only.
	ErrVetoed = errors.New("migration vetoed by caller")

	// ErrCancelled is returned by a task or future whose work was cancelled
	// before or during execution.
	ErrCancelled = errors.New("task cancelled")

	// ErrRevisionBodyMissing is returned when a revision's metadata exists
	// but its body file is absent from the revision store.
	ErrRevisionBodyMissing = errors.New("revision body missing")

	// ErrCancelOpen is returned when opening a project is aborted by the
	// caller before the database is touched.
	ErrCancelOpen = errors.New("project open cancelled")
)
