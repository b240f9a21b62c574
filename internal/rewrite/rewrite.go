// Package rewrite turns a site's entry document into markup that is safe to
// serve from the virtual origin and whose internal references resolve back
// through it.
package rewrite

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"peerweb/internal/vpath"
)

type Options struct {
	// Namespace is the first path segment of virtual URLs.
	Namespace string
	// AllowScripts keeps <script> elements through sanitation.
	AllowScripts bool
}

type Rewriter struct {
	ns     string
	policy *bluemonday.Policy
}

func New(opts Options) *Rewriter {
	ns := opts.Namespace
	if ns == "" {
		ns = vpath.DefaultNamespace
	}
	return &Rewriter{ns: ns, policy: newPolicy(opts.AllowScripts)}
}

type attrTarget struct {
	selector string
	attr     string
}

var resourceTargets = []attrTarget{
	{"link[href]", "href"},
	{"script[src]", "src"},
	{"img[src]", "src"},
	{"source[src]", "src"},
	{"video[src]", "src"},
	{"video[poster]", "poster"},
	{"audio[src]", "src"},
	{"track[src]", "src"},
	{"embed[src]", "src"},
	{"object[data]", "data"},
}

var srcsetTargets = []string{"source[srcset]", "img[srcset]"}

// Rewrite rewrites and sanitizes markup, the document stored at indexPath of
// site siteID.
func (rw *Rewriter) Rewrite(markup []byte, indexPath, siteID string) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, err
	}
	base := vpath.BasePath(indexPath)
	rw.rewriteDocument(doc, base, siteID)

	out, err := doc.Html()
	if err != nil {
		return nil, err
	}
	clean := rw.policy.Sanitize(out)
	return []byte("<!DOCTYPE html>\n" + clean), nil
}

func (rw *Rewriter) rewriteDocument(doc *goquery.Document, base, siteID string) {
	for _, t := range resourceTargets {
		attr := t.attr
		doc.Find(t.selector).Each(func(_ int, s *goquery.Selection) {
			v, _ := s.Attr(attr)
			if vpath.IsInternalResource(v) {
				s.SetAttr(attr, vpath.ToVirtual(v, base, rw.ns, siteID))
			} else if attr == "poster" && !safeExternal(v) {
				s.RemoveAttr(attr)
			}
		})
	}

	for _, sel := range srcsetTargets {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			v, _ := s.Attr("srcset")
			if out := rw.rewriteSrcset(v, base, siteID); out != "" {
				s.SetAttr("srcset", out)
			} else {
				s.RemoveAttr("srcset")
			}
		})
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if strings.HasPrefix(href, "#") || !vpath.IsInternalNavigation(href) {
			return
		}
		s.SetAttr("href", vpath.ToVirtual(href, base, rw.ns, siteID))
	})

	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		setRawText(s, RewriteCSS(s.Text(), base, rw.ns, siteID))
	})

	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr("style")
		if unsafeInlineStyle(v) {
			s.RemoveAttr("style")
			return
		}
		s.SetAttr("style", RewriteCSS(v, base, rw.ns, siteID))
	})
}

// rewriteSrcset rewrites each candidate of a srcset list, keeping width and
// density descriptors. Candidates with a scheme other than http(s), data or
// blob are dropped.
func (rw *Rewriter) rewriteSrcset(srcset, base, siteID string) string {
	parts := strings.Split(srcset, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		u := fields[0]
		switch {
		case vpath.IsInternalResource(u):
			fields[0] = vpath.ToVirtual(u, base, rw.ns, siteID)
		case !safeExternal(u):
			continue
		}
		out = append(out, strings.Join(fields, " "))
	}
	return strings.Join(out, ", ")
}

// setRawText replaces the children of each node with one text node. Unlike
// Selection.SetText the text is not escaped, which raw text elements such as
// <style> require.
func setRawText(s *goquery.Selection, text string) {
	for _, n := range s.Nodes {
		for c := n.FirstChild; c != nil; c = n.FirstChild {
			n.RemoveChild(c)
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func safeExternal(u string) bool {
	lu := strings.ToLower(strings.TrimSpace(u))
	for _, p := range []string{"http://", "https://", "//", "data:image/", "blob:"} {
		if strings.HasPrefix(lu, p) {
			return true
		}
	}
	return false
}

func unsafeInlineStyle(v string) bool {
	lv := strings.ToLower(v)
	return strings.Contains(lv, "javascript:") || strings.Contains(lv, "expression(") || strings.Contains(lv, "behavior:")
}
