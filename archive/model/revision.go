package model

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// RevisionError is the tagged error a revision carries when its fetch
// failed. It replaces the JSON string "null" / {type,message} duality with
// an explicit nilable struct: a nil *RevisionError means the fetch
// succeeded and a body exists.
type RevisionError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RevisionMetadata is the archived response metadata for a successful
// fetch.
type RevisionMetadata struct {
	HTTPVersion  string     `json:"http_version"`
	StatusCode   int        `json:"status_code"`
	ReasonPhrase string     `json:"reason_phrase"`
	Headers      [][2]string `json:"headers"`
}

// ResourceRevision is one persisted fetch of a Resource. The body, if any,
// lives in the revision store, not in this row.
type ResourceRevision struct {
	ID            int64
	ResourceID    int64
	RequestCookie string
	Error         *RevisionError
	Metadata      *RevisionMetadata
	CreatedAt     time.Time
}

// HasBody reports whether this revision is expected to have a body file,
// i.e. its fetch did not end in an error.
func (r *ResourceRevision) HasBody() bool {
	return r.Error == nil
}

// CreateFromStream is the single choke point for persisting a revision. It
// inserts the database row and, for a successful fetch, durably writes body
// through the model's Store before returning, so that callers never observe
// a row without its body (absent a crash, which orphan repair handles).
//
// error and metadata are mutually exclusive in the sense the spec requires:
// passing a non-nil revErr means body must be nil.
func (m *Model) CreateFromStream(resourceID int64, cookie string, metadata *RevisionMetadata, revErr *RevisionError, body []byte) (*ResourceRevision, error) {
	if revErr != nil && body != nil {
		return nil, fmt.Errorf("revision cannot carry both an error and a body")
	}

	errJSON := []byte("null")
	if revErr != nil {
		encoded, err := json.Marshal(revErr)
		if err != nil {
			return nil, err
		}
		errJSON = encoded
	}
	metaJSON := []byte("null")
	if metadata != nil {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return nil, err
		}
		metaJSON = encoded
	}

	now := time.Now().UTC()

	tx, err := m.db.Begin()
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	var id int64
	err = tx.QueryRow(`
INSERT INTO resource_revision(resource_id, request_cookie, error, metadata, created_at)
VALUES(?, ?, ?, ?, ?) RETURNING id;`,
		resourceID, cookie, string(errJSON), string(metaJSON), now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("cannot insert revision: %w", err)
	}

	if revErr == nil && body != nil {
		if err := m.store.Write(id, body); err != nil {
			// Per the rollback protocol: delete the row we just inserted.
			// If this rollback itself fails the row survives with no body,
			// an orphan for the next open's repair pass to find.
			return nil, fmt.Errorf("cannot persist revision body: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("cannot commit revision: %w", err)
	}
	committed = true

	rev := &ResourceRevision{
		ID: id, ResourceID: resourceID, RequestCookie: cookie,
		Error: revErr, Metadata: metadata, CreatedAt: now,
	}
	m.notifyRevision(rev)
	return rev, nil
}

// DefaultRevision returns the resource's most recent non-error revision, or
// (if allowStale) its most recent revision overall when no successful one
// exists. It returns nil if the resource has no revisions.
func (m *Model) DefaultRevision(resourceID int64, allowStale bool) (*ResourceRevision, error) {
	rev, err := m.scanRevision(`
SELECT id, resource_id, request_cookie, error, metadata, created_at
FROM resource_revision WHERE resource_id=? AND error='null' ORDER BY id DESC LIMIT 1;`, resourceID)
	if err != nil {
		return nil, err
	}
	if rev != nil || !allowStale {
		return rev, nil
	}
	return m.scanRevision(`
SELECT id, resource_id, request_cookie, error, metadata, created_at
FROM resource_revision WHERE resource_id=? ORDER BY id DESC LIMIT 1;`, resourceID)
}

// Revision loads a single revision by id.
func (m *Model) Revision(id int64) (*ResourceRevision, error) {
	return m.scanRevision(`
SELECT id, resource_id, request_cookie, error, metadata, created_at
FROM resource_revision WHERE id=?;`, id)
}

// MaxRevisionID returns the greatest assigned revision id, or 0 if there are
// none.
func (m *Model) MaxRevisionID() (int64, error) {
	var id sql.NullInt64
	err := m.db.QueryRow(`SELECT MAX(id) FROM resource_revision;`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// DeleteRevision removes a revision row without touching its body file. It
// is used exclusively by orphan repair, which has already established the
// body is missing.
func (m *Model) DeleteRevision(id int64) error {
	_, err := m.db.Exec(`DELETE FROM resource_revision WHERE id=?;`, id)
	return err
}

// RecentNonErrorRevisions returns up to n of the most recent non-error
// revisions with id strictly less than beforeID, used by orphan repair to
// gather corroborating evidence.
func (m *Model) RecentNonErrorRevisions(beforeID int64, n int) ([]*ResourceRevision, error) {
	rows, err := m.db.Query(`
SELECT id, resource_id, request_cookie, error, metadata, created_at
FROM resource_revision WHERE id<? AND error='null' ORDER BY id DESC LIMIT ?;`, beforeID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var revs []*ResourceRevision
	for rows.Next() {
		rev, err := scanRevisionRow(rows)
		if err != nil {
			return nil, err
		}
		revs = append(revs, rev)
	}
	return revs, rows.Err()
}

func (m *Model) scanRevision(query string, args ...interface{}) (*ResourceRevision, error) {
	row := m.db.QueryRow(query, args...)
	rev, err := scanRevisionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rev, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRevisionRow(row rowScanner) (*ResourceRevision, error) {
	var (
		rev      ResourceRevision
		errJSON  string
		metaJSON string
	)
	if err := row.Scan(&rev.ID, &rev.ResourceID, &rev.RequestCookie, &errJSON, &metaJSON, &rev.CreatedAt); err != nil {
		return nil, err
	}
	if errJSON != "null" {
		rev.Error = &RevisionError{}
		if err := json.Unmarshal([]byte(errJSON), rev.Error); err != nil {
			return nil, fmt.Errorf("cannot parse revision error: %w", err)
		}
	}
	if metaJSON != "null" {
		rev.Metadata = &RevisionMetadata{}
		if err := json.Unmarshal([]byte(metaJSON), rev.Metadata); err != nil {
			return nil, fmt.Errorf("cannot parse revision metadata: %w", err)
		}
	}
	return &rev, nil
}
