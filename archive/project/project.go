// Package project owns the lifecycle of one on-disk Crystal archive: the
// directory layout, the single-writer lock, format migrations, and the
// post-migration orphan-revision repair pass. It wires together
// core/db, core/registry, archive/model, and archive/revstore into one
// opened project.
package project

import (
	"fmt"
	"net"
	"os"

	"github.com/crystal-web-archiver/crystal/archive/model"
	"github.com/crystal-web-archiver/crystal/archive/revstore"
	"github.com/crystal-web-archiver/crystal/core/db"
	"github.com/crystal-web-archiver/crystal/core/logger"
	"github.com/crystal-web-archiver/crystal/core/registry"
)

const propMajorVersion = "major_version"

// Project is one opened Crystal archive: a database, a revision store, and
// the data model built on top of them.
type Project struct {
	layout   layout
	lock     *writerLock
	readOnly bool

	DB       *db.DB
	Registry *registry.Registry
	Store    *revstore.Store
	Model    *model.Model
}

// Options controls how a project is opened.
type Options struct {
	// ForceReadOnly opens the project read-only even if it would
	// otherwise be eligible for writing.
	ForceReadOnly bool
	// ForceWritable overrides the host-based readonly auto-detection
	// below. It has no effect if ForceReadOnly is also set.
	ForceWritable bool
	// BindHost is the host the replay server intends to bind to, used
	// for the "non-loopback implies read-only" rule. Empty defaults to
	// loopback.
	BindHost string
	// EventBus, if non-nil, is registered as a model.Observer so
	// mutations are published to the archive event bus.
	EventBus model.Observer
}

func (o Options) resolveReadOnly() bool {
	if o.ForceReadOnly {
		return true
	}
	if o.ForceWritable {
		return false
	}
	host := o.BindHost
	if host == "" {
		return false
	}
	return !isLoopback(host)
}

func isLoopback(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return host == "localhost"
	}
	return ip.IsLoopback()
}

// Create initializes a brand new project directory at root and opens it.
func Create(root string, opts Options) (*Project, error) {
	l, err := createLayout(root)
	if err != nil {
		return nil, err
	}
	database, err := db.Create(l.DatabasePath, `
CREATE TABLE IF NOT EXISTS project_property(
	name varchar NOT NULL,
	value json NOT NULL,
	updated_at timestamp NOT NULL,
	PRIMARY KEY(name)
);`)
	if err != nil {
		return nil, fmt.Errorf("cannot create project database: %w", err)
	}
	reg := registry.MustNew(database)
	if err := reg.Accessor("").Write(propMajorVersion, int(revstore.LatestVersion)); err != nil {
		database.Close()
		return nil, fmt.Errorf("cannot record format version: %w", err)
	}
	database.Close()

	return Open(root, opts)
}

// Open opens an existing project directory, running any pending migrations
// and the orphan-revision repair pass if the project is writable.
func Open(root string, opts Options) (*Project, error) {
	l := newLayout(root)
	if _, err := os.Stat(l.DatabasePath); err != nil {
		return nil, fmt.Errorf("project may be corrupted: missing database: %w", err)
	}
	if _, err := os.Stat(l.RevisionsDir); err != nil {
		return nil, fmt.Errorf("project may be corrupted: missing revisions directory: %w", err)
	}

	readOnly := opts.resolveReadOnly()

	var lock *writerLock
	if !readOnly {
		var err error
		lock, err = acquireWriterLock(root)
		if err != nil {
			return nil, err
		}
	}

	database := db.Open(l.DatabasePath, readOnly)
	reg := registry.MustNew(database)
	props := reg.Accessor("")

	var version int
	if _, err := props.Read(propMajorVersion, &version); err != nil {
		database.Close()
		releaseAndIgnore(lock)
		return nil, fmt.Errorf("cannot read project format version: %w", err)
	}
	majorVersion := revstore.MajorVersion(version)
	if majorVersion == 0 {
		majorVersion = revstore.VersionFlat
	}
	if majorVersion > revstore.LatestVersion {
		database.Close()
		releaseAndIgnore(lock)
		return nil, fmt.Errorf("project format version %d is newer than this build supports (%d)", majorVersion, revstore.LatestVersion)
	}

	if !readOnly {
		if err := cleanTmpDir(l.TmpDir); err != nil {
			database.Close()
			releaseAndIgnore(lock)
			return nil, err
		}
		newVersion, err := runMigrations(l, database, props, majorVersion)
		if err != nil {
			database.Close()
			releaseAndIgnore(lock)
			return nil, err
		}
		majorVersion = newVersion
	}

	store := revstore.Open(l.RevisionsDir, l.TmpDir, majorVersion, readOnly)
	m, err := model.New(database, store)
	if err != nil {
		database.Close()
		releaseAndIgnore(lock)
		return nil, err
	}
	if opts.EventBus != nil {
		m.AddObserver(opts.EventBus)
	}

	if !readOnly {
		if err := repairOrphanRevision(m, store); err != nil {
			logger.Default().WithError(err).Error("project: orphan repair failed, continuing with project open")
		}
	}

	return &Project{
		layout:   l,
		lock:     lock,
		readOnly: readOnly,
		DB:       database,
		Registry: reg,
		Store:    store,
		Model:    m,
	}, nil
}

// ReadOnly reports whether the project was opened read-only.
func (p *Project) ReadOnly() bool { return p.readOnly }

// Root returns the project's directory path.
func (p *Project) Root() string { return p.layout.Root }

// SaveAs copies the project's database and revisions tree to a new
// directory and returns a Project opened on the copy, leaving the original
// untouched and still open.
func (p *Project) SaveAs(destRoot string, opts Options) (*Project, error) {
	if err := copyProjectTree(p.layout.Root, destRoot); err != nil {
		return nil, fmt.Errorf("cannot save project as %s: %w", destRoot, err)
	}
	return Open(destRoot, opts)
}

// Close releases the project's writer lock and closes its database
// connection. The caller is responsible for stopping the scheduler before
// calling Close; in-flight tasks are not saved.
func (p *Project) Close() error {
	var firstErr error
	if err := p.DB.Close(); err != nil {
		firstErr = err
	}
	if err := p.lock.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func releaseAndIgnore(l *writerLock) {
	_ = l.Release()
}

func cleanTmpDir(tmpDir string) error {
	entries, err := os.ReadDir(tmpDir)
	if os.IsNotExist(err) {
		return os.MkdirAll(tmpDir, 0755)
	}
	if err != nil {
		return fmt.Errorf("cannot read tmp dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(tmpDir + string(os.PathSeparator) + e.Name()); err != nil {
			return fmt.Errorf("cannot clean tmp dir: %w", err)
		}
	}
	return nil
}
