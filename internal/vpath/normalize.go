package vpath

import "strings"

const indexDocument = "index.html"

// FileSet is the advertised path list of the active site.
type FileSet map[string]struct{}

func NewFileSet(paths []string) FileSet {
	fs := make(FileSet, len(paths))
	for _, p := range paths {
		fs[p] = struct{}{}
	}
	return fs
}

func (fs FileSet) Has(p string) bool {
	_, ok := fs[p]
	return ok
}

// Normalize maps the decoded path part of a virtual URL, as returned by Parse,
// to the logical path sent to the content side. Directory-like paths are completed with index.html; a path
// without extension prefers <p>/index.html, then <p>.html, when the advertised
// list contains them.
func Normalize(rest string, files FileSet) string {
	p := rest
	if p == "" {
		return indexDocument
	}
	if strings.HasSuffix(p, "/") {
		return p + indexDocument
	}
	last := p
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		last = p[i+1:]
	}
	if !strings.Contains(last, ".") {
		dir := p + "/" + indexDocument
		if files.Has(dir) {
			return dir
		}
		if files.Has(p + ".html") {
			return p + ".html"
		}
		return dir
	}
	return p
}

// StripQuery drops any query string or fragment.
func StripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}
