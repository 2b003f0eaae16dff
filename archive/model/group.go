package model

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/crystal-web-archiver/crystal/core/pointers"
)

// ResourceGroup is a named URL pattern used to collect similar URLs (e.g.
// all comic pages) and drive bulk downloads. Patterns use the wildcard
// alphabet documented on MatchPattern.
type ResourceGroup struct {
	ID                     int64
	Name                   string
	Pattern                string
	SourceRootResourceID   *int64
	SourceGroupID          *int64
	DoNotDownload          bool
	LastDownloadedMemberID *int64
}

// CreateGroup creates a resource group. Exactly one of sourceRootResourceID
// and sourceGroupID should be non-nil, or both nil for an unsourced group
// that matches against every resource.
func (m *Model) CreateGroup(name, pattern string, sourceRootResourceID, sourceGroupID *int64, doNotDownload bool) (*ResourceGroup, error) {
	var id int64
	err := m.db.QueryRow(`
INSERT INTO resource_group(name, pattern, source_root_resource_id, source_group_id, do_not_download)
VALUES(?, ?, ?, ?, ?) RETURNING id;`,
		name, pattern, sourceRootResourceID, sourceGroupID, doNotDownload).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("cannot create group %q: %w", name, err)
	}
	g := &ResourceGroup{
		ID: id, Name: name, Pattern: pattern,
		SourceRootResourceID: sourceRootResourceID, SourceGroupID: sourceGroupID,
		DoNotDownload: doNotDownload,
	}
	m.notifyGroup(OperationCreate, g)
	return g, nil
}

// DeleteGroup deletes a group. Any group that referenced it as a source has
// its source cleared in the same transaction, per the spec's cascading-null
// requirement (SQLite's ON DELETE SET NULL equivalent, applied explicitly
// since source_group_id has no such constraint declared in the schema to
// keep the foreign key acyclic-checkable).
func (m *Model) DeleteGroup(id int64) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE resource_group SET source_group_id=NULL WHERE source_group_id=?;`, id); err != nil {
		return fmt.Errorf("cannot clear group sources: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM resource_group WHERE id=?;`, id); err != nil {
		return fmt.Errorf("cannot delete group %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	m.notifyGroup(OperationDelete, &ResourceGroup{ID: id})
	return nil
}

// SetLastDownloadedMember records the most recently downloaded member of a
// group, advancing monotonically by member creation order per the spec's
// ordering guarantee. The caller is responsible for only calling this with
// ids observed in increasing order.
func (m *Model) SetLastDownloadedMember(groupID, resourceID int64) error {
	_, err := m.db.Exec(`UPDATE resource_group SET last_downloaded_member_id=? WHERE id=?;`, resourceID, groupID)
	return err
}

// GetGroup loads a group by id, or returns nil if none exists.
func (m *Model) GetGroup(id int64) (*ResourceGroup, error) {
	g := &ResourceGroup{}
	var sourceRoot, sourceGroup, lastMember sql.NullInt64
	err := m.db.QueryRow(`
SELECT id, name, pattern, source_root_resource_id, source_group_id, do_not_download, last_downloaded_member_id
FROM resource_group WHERE id=?;`, id).Scan(
		&g.ID, &g.Name, &g.Pattern, &sourceRoot, &sourceGroup, &g.DoNotDownload, &lastMember)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot load group %d: %w", id, err)
	}
	if sourceRoot.Valid {
		g.SourceRootResourceID = pointers.Int64Ptr(sourceRoot.Int64)
	}
	if sourceGroup.Valid {
		g.SourceGroupID = pointers.Int64Ptr(sourceGroup.Int64)
	}
	if lastMember.Valid {
		g.LastDownloadedMemberID = pointers.Int64Ptr(lastMember.Int64)
	}
	return g, nil
}

// Groups returns every resource group that is eligible to drive downloads,
// i.e. not marked do_not_download, ordered by id. Used by the replay server
// to find which group (if any) should synthesize and fetch a resource that
// was requested but not yet archived.
func (m *Model) Groups() ([]*ResourceGroup, error) {
	rows, err := m.db.Query(`
SELECT id, name, pattern, source_root_resource_id, source_group_id, do_not_download, last_downloaded_member_id
FROM resource_group WHERE do_not_download = 0 ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("cannot list groups: %w", err)
	}
	defer rows.Close()

	var groups []*ResourceGroup
	for rows.Next() {
		g := &ResourceGroup{}
		var sourceRoot, sourceGroup, lastMember sql.NullInt64
		if err := rows.Scan(&g.ID, &g.Name, &g.Pattern, &sourceRoot, &sourceGroup, &g.DoNotDownload, &lastMember); err != nil {
			return nil, fmt.Errorf("cannot scan group: %w", err)
		}
		if sourceRoot.Valid {
			g.SourceRootResourceID = pointers.Int64Ptr(sourceRoot.Int64)
		}
		if sourceGroup.Valid {
			g.SourceGroupID = pointers.Int64Ptr(sourceGroup.Int64)
		}
		if lastMember.Valid {
			g.LastDownloadedMemberID = pointers.Int64Ptr(lastMember.Int64)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// MatchPattern reports whether url matches pattern using the archive's
// wildcard alphabet:
//
//	#  one or more ASCII digits
//	@  one or more ASCII letters
//	*  one or more characters, no slash
//	** any characters, including slash
//
// All other characters match literally.
func MatchPattern(pattern, url string) bool {
	return matchPattern([]rune(pattern), []rune(url))
}

func matchPattern(pattern, url []rune) bool {
	for len(pattern) > 0 {
		switch {
		case strings.HasPrefix(string(pattern), "**"):
			rest := pattern[2:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(url); i++ {
				if matchPattern(rest, url[i:]) {
					return true
				}
			}
			return false
		case pattern[0] == '#':
			n := spanClass(url, isDigit)
			if n == 0 {
				return false
			}
			return matchPattern(pattern[1:], url[n:])
		case pattern[0] == '@':
			n := spanClass(url, isLetter)
			if n == 0 {
				return false
			}
			return matchPattern(pattern[1:], url[n:])
		case pattern[0] == '*':
			for i := len(url); i >= 1; i-- {
				if !containsSlash(url[:i]) && matchPattern(pattern[1:], url[i:]) {
					return true
				}
			}
			return false
		default:
			if len(url) == 0 || url[0] != pattern[0] {
				return false
			}
			pattern = pattern[1:]
			url = url[1:]
		}
	}
	return len(url) == 0
}

func spanClass(s []rune, class func(rune) bool) int {
	n := 0
	for n < len(s) && class(s[n]) {
		n++
	}
	return n
}

func containsSlash(s []rune) bool {
	for _, r := range s {
		if r == '/' {
			return true
		}
	}
	return false
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
