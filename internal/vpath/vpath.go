package vpath

import (
	"errors"
	"net/url"
	"strings"
)

// DefaultNamespace is the first path segment of every virtual URL.
const DefaultNamespace = "peerweb-site"

var (
	ErrNotVirtual = errors.New("not a virtual url")
	ErrMalformed  = errors.New("malformed virtual url")
)

// Location is a parsed virtual URL: /<Namespace>/<SiteID>/<Rest>.
type Location struct {
	Namespace string
	SiteID    string
	Rest      string
}

// ValidSiteID reports whether id is a 40 character hex content identifier.
func ValidSiteID(id string) bool {
	if len(id) != 40 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Parse splits an escaped request path into its virtual URL parts. Any query
// or fragment is cut before unescaping, so Rest keeps an escaped ? or # as
// part of the file name. ErrNotVirtual is returned when the path is outside
// the namespace.
func Parse(path, ns string) (Location, error) {
	if ns == "" {
		ns = DefaultNamespace
	}
	prefix := "/" + ns
	if path != prefix && !strings.HasPrefix(path, prefix+"/") {
		return Location{}, ErrNotVirtual
	}
	tail := strings.TrimPrefix(strings.TrimPrefix(path, prefix), "/")
	if tail == "" {
		return Location{}, ErrMalformed
	}
	id, rest, _ := strings.Cut(StripQuery(tail), "/")
	if !ValidSiteID(id) {
		return Location{}, ErrMalformed
	}
	if un, err := url.PathUnescape(rest); err == nil {
		rest = un
	} else {
		return Location{}, ErrMalformed
	}
	return Location{Namespace: ns, SiteID: id, Rest: rest}, nil
}

// Build returns /<ns>/<siteID>/<p>.
func Build(ns, siteID, p string) string {
	if ns == "" {
		ns = DefaultNamespace
	}
	return "/" + ns + "/" + siteID + "/" + p
}

// Root is the virtual URL of a site's root document.
func Root(ns, siteID string) string {
	return Build(ns, siteID, "")
}

type Kind int

const (
	Other Kind = iota
	External
	Virtual
)

func (k Kind) String() string {
	switch k {
	case External:
		return "external"
	case Virtual:
		return "virtual"
	default:
		return "other"
	}
}

// Classify decides how an intercepted fetch is routed. self is the host the
// virtual origin is served on; an empty self accepts any host.
func Classify(u *url.URL, self, ns string) Kind {
	if u == nil {
		return Other
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return External
	}
	if u.Host != "" && self != "" && !strings.EqualFold(u.Host, self) {
		return External
	}
	if u.Opaque != "" {
		return External
	}
	if ns == "" {
		ns = DefaultNamespace
	}
	p := u.EscapedPath()
	if p == "/"+ns || strings.HasPrefix(p, "/"+ns+"/") {
		return Virtual
	}
	return Other
}
