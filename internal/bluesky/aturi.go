package bluesky

import (
	"fmt"
	"strings"
)

// ATURI is a parsed at:// URI of the form at://authority/collection/rkey.
type ATURI struct {
	Authority  string
	Collection string
	RKey       string
}

// ParseATURI parses an AT-URI. The collection and record key segments are
// optional, so a bare at://did URI is accepted.
func ParseATURI(uri string) (ATURI, error) {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return ATURI{}, fmt.Errorf("invalid at-uri %q: missing at:// scheme", uri)
	}
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	parts := strings.Split(rest, "/")
	if parts[0] == "" {
		return ATURI{}, fmt.Errorf("invalid at-uri %q: missing authority", uri)
	}
	if len(parts) > 3 {
		return ATURI{}, fmt.Errorf("invalid at-uri %q: too many path segments", uri)
	}

	u := ATURI{Authority: parts[0]}
	if len(parts) > 1 {
		u.Collection = parts[1]
	}
	if len(parts) > 2 {
		u.RKey = parts[2]
	}
	return u, nil
}

// String formats the URI.
func (u ATURI) String() string {
	s := "at://" + u.Authority
	if u.Collection != "" {
		s += "/" + u.Collection
		if u.RKey != "" {
			s += "/" + u.RKey
		}
	}
	return s
}

// AuthorityOf returns the authority (usually a DID) of an AT-URI, or "" if
// uri does not parse.
func AuthorityOf(uri string) string {
	u, err := ParseATURI(uri)
	if err != nil {
		return ""
	}
	return u.Authority
}
