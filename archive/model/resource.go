package model

import (
	"fmt"
	"sort"
)

// Resource is a URL the archive knows about, identified by a row in the
// resource table. URL is always the canonical (normalized) form, except for
// resources written by older versions of the software that predate full
// normalization.
type Resource struct {
	ID  int64
	URL string

	model *Model
}

// GetResourceByURL returns the resource whose URL is exactly url, or nil if
// none exists. Callers wanting normalization should normalize url first;
// Resource.URL lookups are always on the exact stored string, per the
// spec's "exact URL first" lookup rule for pre-normalization projects.
func (m *Model) GetResourceByURL(url string) *Resource {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.resourcesByURL[url]
}

// GetResourceByID returns the resource with the given id, or nil.
func (m *Model) GetResourceByID(id int64) *Resource {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.resourcesByID[id]
}

// CreateResource inserts a new resource with the given canonical url. It
// returns the existing resource unchanged if url is already known, matching
// the idempotent "discovered during download" creation path.
func (m *Model) CreateResource(url string) (*Resource, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if r, ok := m.resourcesByURL[url]; ok {
		return r, nil
	}

	var id int64
	err := m.db.QueryRow(`INSERT INTO resource(url) VALUES(?) RETURNING id;`, url).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("cannot create resource %q: %w", url, err)
	}
	r := &Resource{ID: id, URL: url, model: m}
	m.resourcesByID[id] = r
	m.resourcesByURL[url] = r
	m.notifyResource(OperationCreate, r)
	return r, nil
}

// DeleteResource removes a resource and cascades to its revisions (enforced
// by the ON DELETE CASCADE foreign key).
func (m *Model) DeleteResource(id int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	r, ok := m.resourcesByID[id]
	if !ok {
		return nil
	}
	if _, err := m.db.Exec(`DELETE FROM resource WHERE id=?;`, id); err != nil {
		return fmt.Errorf("cannot delete resource %d: %w", id, err)
	}
	delete(m.resourcesByID, id)
	delete(m.resourcesByURL, r.URL)
	m.notifyResource(OperationDelete, r)
	return nil
}

// ResourceCount returns the number of known resources.
func (m *Model) ResourceCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.resourcesByID)
}

// AllResources returns every known resource, ordered by id. Used by
// pattern-preview and enumeration paths that need to scan every resource
// rather than look one up by id or URL.
func (m *Model) AllResources() []*Resource {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	resources := make([]*Resource, 0, len(m.resourcesByID))
	for _, r := range m.resourcesByID {
		resources = append(resources, r)
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].ID < resources[j].ID })
	return resources
}

// RootResource is a named Resource declared as an entry point.
type RootResource struct {
	ID         int64
	Name       string
	ResourceID int64
}

// CreateRootResource declares resource as a named entry point. If resource
// is already a root resource, that root resource keeps its id and is
// renamed to name.
func (m *Model) CreateRootResource(name string, resource *Resource) (*RootResource, error) {
	var id int64
	err := m.db.QueryRow(`
INSERT INTO root_resource(name, resource_id) VALUES(?, ?)
ON CONFLICT(resource_id) DO UPDATE SET name=excluded.name
RETURNING id;`, name, resource.ID).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("cannot create root resource %q: %w", name, err)
	}
	return &RootResource{ID: id, Name: name, ResourceID: resource.ID}, nil
}

// DeleteRootResource forgets the named entry point without touching the
// underlying resource or its revisions.
func (m *Model) DeleteRootResource(id int64) error {
	_, err := m.db.Exec(`DELETE FROM root_resource WHERE id=?;`, id)
	return err
}
