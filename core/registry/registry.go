// Package registry provides a persistent key/value registry backed by the
// project's `project_property` table. It is used for the small set of
// project-wide settings that don't warrant their own table: the format major
// version and the in-progress-migration marker.
package registry

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/crystal-web-archiver/crystal/core/db"
)

// MustNew creates the project_property table if it does not exist yet and
// returns a Registry bound to database.
func MustNew(database *db.DB) *Registry {
	_, err := database.Exec(`CREATE TABLE IF NOT EXISTS project_property(
name varchar NOT NULL,
value json NOT NULL,
updated_at timestamp NOT NULL,
PRIMARY KEY(name)
);`)
	if err != nil {
		panic(err)
	}
	return &Registry{db: database}
}

// Registry provides a persistent registry of named properties in the
// project's database.
type Registry struct {
	db *db.DB
}

// Accessor is a Registry accessor with an optional key prefix, used to
// namespace properties owned by a single component (e.g. "migration:").
type Accessor struct {
	Prefix   string
	Registry *Registry
}

// Accessor returns a registry accessor with prefix.
func (r *Registry) Accessor(prefix string) Accessor {
	return Accessor{
		Prefix:   prefix,
		Registry: r,
	}
}

// Read reads a property into value and returns the time it was last written.
// If the property does not exist, it returns the zero time and a nil error.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:".
func (r *Accessor) Read(key string, value interface{}) (time.Time, error) {
	var (
		rawValue  []byte
		updatedAt time.Time
	)
	if len(r.Prefix) > 0 {
		key = r.Prefix + ":" + key
	}

	err := r.Registry.db.QueryRow(
		`SELECT value, updated_at FROM project_property WHERE name=?;`,
		key).Scan(&rawValue, &updatedAt)
	if err == db.ErrNoRows {
		return updatedAt, nil
	}
	if err != nil {
		return updatedAt, fmt.Errorf("cannot read property '%s': %w", key, err)
	}
	return updatedAt, json.Unmarshal(rawValue, value)
}

// Has reports whether key is currently set, without decoding its value. It is
// used for marker properties such as major_version_old whose mere presence
// signals an in-progress migration.
func (r *Accessor) Has(key string) (bool, error) {
	if len(r.Prefix) > 0 {
		key = r.Prefix + ":" + key
	}
	var name string
	err := r.Registry.db.QueryRow(`SELECT name FROM project_property WHERE name=?;`, key).Scan(&name)
	if err == db.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cannot check property '%s': %w", key, err)
	}
	return true, nil
}

// Write writes a property, overwriting any previous value.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:".
func (r *Accessor) Write(key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if len(r.Prefix) > 0 {
		key = r.Prefix + ":" + key
	}
	now := time.Now().UTC()
	_, err = r.Registry.db.Exec(
		`INSERT INTO project_property(name, value, updated_at) VALUES(?, ?, ?)
ON CONFLICT(name) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at;`,
		key, string(body), now)
	return err
}

// Delete removes a property. It is used to clear the major_version_old
// marker once a migration completes.
//
// If the accessor has a prefix, the key is prepended with "{prefix}:".
func (r *Accessor) Delete(key string) error {
	if len(r.Prefix) > 0 {
		key = r.Prefix + ":" + key
	}
	_, err := r.Registry.db.Exec(`DELETE FROM project_property WHERE name=?;`, key)
	return err
}
