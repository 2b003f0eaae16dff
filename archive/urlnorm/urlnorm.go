// Package urlnorm implements the canonicalization pipeline that produces
// the primary-key form of a resource URL, and the alternatives list used to
// look up resources written by older, less-normalizing versions of the
// software.
package urlnorm

import (
	"net/url"
	"strings"
)

// Normalize reduces raw to its canonical form by applying, in order until a
// fixed point: stripping the fragment, lowercasing the host, percent
// encoding non-ASCII/reserved bytes, and replacing an empty path with "/".
//
// Open question resolution: normalization always runs before alias
// rewriting (see model.ApplyAlias), per the spec's own suggested ordering.
func Normalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	// url.URL.String re-encodes Path/RawQuery using net/url's own percent
	// encoding rules, which already encode non-ASCII and reserved bytes not
	// otherwise marked safe; reparsing+restringifying is the normalization
	// step for rule 3.
	return u.String(), nil
}

// ResourceURLAlternatives returns the list (original, ..., canonical) of
// forms a resource lookup should try, in order, to find a resource created
// by an older, less-normalizing version of the software. The canonical form
// from Normalize is always last.
func ResourceURLAlternatives(raw string) []string {
	var alts []string
	seen := make(map[string]bool)
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			alts = append(alts, s)
		}
	}

	add(raw)

	// Legacy intermediate form: fragment stripped but host case and
	// percent-encoding untouched, matching early versions that only
	// implemented step 1 of normalization.
	if u, err := url.Parse(raw); err == nil {
		u.Fragment = ""
		u.RawFragment = ""
		add(u.String())
	}

	if canonical, err := Normalize(raw); err == nil {
		add(canonical)
	}

	return alts
}
