// Package model implements the persistent data model of an archive project:
// resources, root resources, resource groups, aliases, and revisions, backed
// by the project's SQLite database, with in-memory caches and listener
// fan-out mirroring the foreground-thread ordering guarantees archived
// projects rely on.
package model

import (
	"fmt"
	"sync"

	"github.com/crystal-web-archiver/crystal/core/db"
	"github.com/crystal-web-archiver/crystal/core/logger"
)

// schema is applied by New every time a project's model is opened. Every
// statement uses IF NOT EXISTS, so applying it to an existing database
// leaves that database unchanged.
const schema = `
CREATE TABLE IF NOT EXISTS resource(
	id INTEGER PRIMARY KEY,
	url TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS root_resource(
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	resource_id INTEGER UNIQUE NOT NULL REFERENCES resource(id)
);

CREATE TABLE IF NOT EXISTS resource_group(
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	pattern TEXT NOT NULL,
	source_root_resource_id INTEGER REFERENCES root_resource(id),
	source_group_id INTEGER REFERENCES resource_group(id),
	do_not_download INTEGER NOT NULL DEFAULT 0,
	last_downloaded_member_id INTEGER REFERENCES resource(id)
);

CREATE TABLE IF NOT EXISTS alias(
	id INTEGER PRIMARY KEY,
	source_url_prefix TEXT UNIQUE NOT NULL,
	target_url_prefix TEXT NOT NULL,
	target_is_external INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS resource_revision(
	id INTEGER PRIMARY KEY,
	resource_id INTEGER NOT NULL REFERENCES resource(id) ON DELETE CASCADE,
	request_cookie TEXT,
	error TEXT NOT NULL DEFAULT 'null',
	metadata TEXT NOT NULL DEFAULT 'null',
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS resource_revision_resource_id ON resource_revision(resource_id);
`

// Operation identifies the kind of mutation that produced a Notification.
type Operation string

// The operations that model mutations are reported as.
const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Observer receives notifications of model mutations, in the order they
// committed on the foreground goroutine. Embedding a no-op default is the
// idiomatic way to implement a subset of these methods.
type Observer interface {
	OnResource(op Operation, r *Resource)
	OnGroup(op Operation, g *ResourceGroup)
	OnAlias(op Operation, a *Alias)
	OnRevision(r *ResourceRevision)
}

// NopObserver implements Observer with no-op methods, so callers can embed
// it and override only the notifications they care about.
type NopObserver struct{}

func (NopObserver) OnResource(Operation, *Resource)   {}
func (NopObserver) OnGroup(Operation, *ResourceGroup) {}
func (NopObserver) OnAlias(Operation, *Alias)         {}
func (NopObserver) OnRevision(*ResourceRevision)      {}

// Store is the body-storage collaborator CreateRevision delegates to. It is
// implemented by archive/revstore.Store; the interface lives here to avoid a
// model<->revstore import cycle, since revstore needs no knowledge of model
// types beyond a revision id and a byte stream.
type Store interface {
	// Write durably persists body under id and returns once the write (and
	// any resulting Pack16 construction) is complete.
	Write(id int64, body []byte) error
}

// Model owns the in-memory caches and database handle for one open project.
// mutex guards the in-memory resource caches and the observer list.
// Mutations that touch neither, such as alias and root-resource changes,
// do not take it.
type Model struct {
	db    *db.DB
	store Store

	mutex sync.RWMutex

	resourcesByID  map[int64]*Resource
	resourcesByURL map[string]*Resource

	observers []Observer
}

// New creates the schema (if absent) and loads every resource into memory.
// Groups, aliases and root resources are not loaded here.
func New(database *db.DB, store Store) (*Model, error) {
	if _, err := database.Exec(schema); err != nil {
		return nil, fmt.Errorf("cannot apply model schema: %w", err)
	}
	m := &Model{
		db:             database,
		store:          store,
		resourcesByID:  make(map[int64]*Resource),
		resourcesByURL: make(map[string]*Resource),
	}
	if err := m.loadResources(); err != nil {
		return nil, err
	}
	return m, nil
}

// AddObserver registers o to receive future mutation notifications.
func (m *Model) AddObserver(o Observer) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.observers = append(m.observers, o)
}

func (m *Model) notifyResource(op Operation, r *Resource) {
	for _, o := range m.observers {
		o.OnResource(op, r)
	}
}

func (m *Model) notifyGroup(op Operation, g *ResourceGroup) {
	for _, o := range m.observers {
		o.OnGroup(op, g)
	}
}

func (m *Model) notifyAlias(op Operation, a *Alias) {
	for _, o := range m.observers {
		o.OnAlias(op, a)
	}
}

func (m *Model) notifyRevision(r *ResourceRevision) {
	for _, o := range m.observers {
		o.OnRevision(r)
	}
}

func (m *Model) loadResources() error {
	rows, err := m.db.Query(`SELECT id, url FROM resource;`)
	if err != nil {
		return fmt.Errorf("cannot load resources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		r := &Resource{model: m}
		if err := rows.Scan(&r.ID, &r.URL); err != nil {
			return err
		}
		m.resourcesByID[r.ID] = r
		m.resourcesByURL[r.URL] = r
	}
	logger.Default().Infoln("model: loaded", len(m.resourcesByID), "resources")
	return rows.Err()
}
