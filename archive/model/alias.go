package model

import (
	"fmt"
	"strings"
)

// Alias is a rewrite rule applied during link processing: any URL whose
// canonical form begins with SourceURLPrefix is rewritten by replacing that
// prefix with TargetURLPrefix. When TargetIsExternal is set the rewritten
// URL is never scheduled for download.
type Alias struct {
	ID               int64
	SourceURLPrefix  string
	TargetURLPrefix  string
	TargetIsExternal bool
}

// CreateAlias creates an alias. SourceURLPrefix must be unique; violating
// that returns the underlying SQL UNIQUE constraint error.
func (m *Model) CreateAlias(sourcePrefix, targetPrefix string, targetIsExternal bool) (*Alias, error) {
	var id int64
	err := m.db.QueryRow(`
INSERT INTO alias(source_url_prefix, target_url_prefix, target_is_external)
VALUES(?, ?, ?) RETURNING id;`, sourcePrefix, targetPrefix, targetIsExternal).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("cannot create alias %q -> %q: %w", sourcePrefix, targetPrefix, err)
	}
	a := &Alias{ID: id, SourceURLPrefix: sourcePrefix, TargetURLPrefix: targetPrefix, TargetIsExternal: targetIsExternal}
	m.notifyAlias(OperationCreate, a)
	return a, nil
}

// DeleteAlias removes an alias.
func (m *Model) DeleteAlias(id int64) error {
	if _, err := m.db.Exec(`DELETE FROM alias WHERE id=?;`, id); err != nil {
		return fmt.Errorf("cannot delete alias %d: %w", id, err)
	}
	m.notifyAlias(OperationDelete, &Alias{ID: id})
	return nil
}

// Aliases returns every alias currently defined, longest source prefix
// first so that ApplyAlias prefers the most specific match.
func (m *Model) Aliases() ([]*Alias, error) {
	rows, err := m.db.Query(`SELECT id, source_url_prefix, target_url_prefix, target_is_external FROM alias;`)
	if err != nil {
		return nil, fmt.Errorf("cannot load aliases: %w", err)
	}
	defer rows.Close()
	var aliases []*Alias
	for rows.Next() {
		a := &Alias{}
		if err := rows.Scan(&a.ID, &a.SourceURLPrefix, &a.TargetURLPrefix, &a.TargetIsExternal); err != nil {
			return nil, err
		}
		aliases = append(aliases, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortAliasesByPrefixLengthDesc(aliases)
	return aliases, nil
}

func sortAliasesByPrefixLengthDesc(aliases []*Alias) {
	for i := 1; i < len(aliases); i++ {
		for j := i; j > 0 && len(aliases[j].SourceURLPrefix) > len(aliases[j-1].SourceURLPrefix); j-- {
			aliases[j], aliases[j-1] = aliases[j-1], aliases[j]
		}
	}
}

// ErrExternalTarget signals that a URL rewrites to a target flagged
// external. ApplyAlias itself reports that through its external result and
// never returns this error.
var ErrExternalTarget = fmt.Errorf("alias target is external")

// ApplyAlias rewrites url through the first matching alias, if any. It
// returns the rewritten url unchanged (ok=false) when no alias matches.
func ApplyAlias(aliases []*Alias, url string) (rewritten string, external bool, ok bool) {
	for _, a := range aliases {
		if strings.HasPrefix(url, a.SourceURLPrefix) {
			return a.TargetURLPrefix + strings.TrimPrefix(url, a.SourceURLPrefix), a.TargetIsExternal, true
		}
	}
	return url, false, false
}
