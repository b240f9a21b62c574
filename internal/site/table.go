package site

import (
	"strings"
)

// Resource is one file of a site. Data is never modified once stored.
type Resource struct {
	Path        string
	Data        []byte
	ContentType string
}

func (r Resource) Size() int { return len(r.Data) }

// Tier identifies which lookup rule matched.
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierTrimmed
	TierFilename
	TierSuffix
)

func (t Tier) String() string {
	switch t {
	case TierExact:
		return "exact"
	case TierTrimmed:
		return "trimmed"
	case TierFilename:
		return "filename"
	case TierSuffix:
		return "suffix"
	default:
		return "none"
	}
}

// Table is the resource table of one site. Keys keep insertion order, which
// breaks ties between lookup candidates of the same tier. It is not safe for
// concurrent writes; the host swaps whole tables instead of mutating them.
type Table struct {
	keys  []string
	items map[string]Resource
}

func NewTable() *Table {
	return &Table{items: map[string]Resource{}}
}

// Put stores r under r.Path. Re-putting a path replaces its value and keeps
// its original position.
func (t *Table) Put(r Resource) {
	if _, ok := t.items[r.Path]; !ok {
		t.keys = append(t.keys, r.Path)
	}
	t.items[r.Path] = r
}

func (t *Table) Get(path string) (Resource, bool) {
	r, ok := t.items[path]
	return r, ok
}

func (t *Table) Len() int { return len(t.keys) }

// Paths returns the keys in insertion order.
func (t *Table) Paths() []string {
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// Resources returns the values in insertion order.
func (t *Table) Resources() []Resource {
	out := make([]Resource, 0, len(t.keys))
	for _, k := range t.keys {
		out = append(out, t.items[k])
	}
	return out
}

// TotalSize is the sum of all resource sizes.
func (t *Table) TotalSize() int64 {
	var n int64
	for _, r := range t.items {
		n += int64(len(r.Data))
	}
	return n
}

// Clone returns a table sharing resource bytes but not structure.
func (t *Table) Clone() *Table {
	c := &Table{keys: make([]string, len(t.keys)), items: make(map[string]Resource, len(t.items))}
	copy(c.keys, t.keys)
	for k, v := range t.items {
		c.items[k] = v
	}
	return c
}

// Lookup resolves a requested logical path. Rules are tried in order and the
// first hit wins:
//
//  1. exact key
//  2. key equal to the path without its leading "./" or "/"
//  3. key whose last segment equals the path's last segment
//  4. key ending with the path, or path ending with the key
func (t *Table) Lookup(path string) (Resource, Tier, bool) {
	if path == "" {
		return Resource{}, TierNone, false
	}
	if r, ok := t.items[path]; ok {
		return r, TierExact, true
	}

	trimmed := trimLeading(path)
	if trimmed != "" && trimmed != path {
		if r, ok := t.items[trimmed]; ok {
			return r, TierTrimmed, true
		}
	}

	name := lastSegment(trimmed)
	if name != "" {
		for _, k := range t.keys {
			if lastSegment(k) == name {
				return t.items[k], TierFilename, true
			}
		}
	}

	if trimmed != "" {
		for _, k := range t.keys {
			if strings.HasSuffix(k, trimmed) || strings.HasSuffix(trimmed, k) {
				return t.items[k], TierSuffix, true
			}
		}
	}
	return Resource{}, TierNone, false
}

func trimLeading(p string) string {
	p = strings.TrimPrefix(p, "./")
	return strings.TrimPrefix(p, "/")
}

func lastSegment(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// IndexPath returns the site's entry document: a key named index.html, or
// ending in /index.html, preferring the shallowest one.
func (t *Table) IndexPath() (string, bool) {
	best, depth := "", -1
	for _, k := range t.keys {
		lk := strings.ToLower(k)
		if lk != "index.html" && !strings.HasSuffix(lk, "/index.html") {
			continue
		}
		d := strings.Count(k, "/")
		if depth < 0 || d < depth {
			best, depth = k, d
		}
	}
	return best, depth >= 0
}
