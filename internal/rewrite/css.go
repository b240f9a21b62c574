package rewrite

import (
	"regexp"

	"peerweb/internal/vpath"
)

var (
	cssImportRe = regexp.MustCompile(`@import\s+['"]([^'"]+)['"]`)
	cssURLRe    = regexp.MustCompile(`url\(['"]?([^'")\s]+)['"]?\)`)
)

// RewriteCSS points @import and url() targets of css found in a document under
// base at the virtual namespace. Matching is lexical; comments and nested
// functions are not understood.
func RewriteCSS(css, base, ns, siteID string) string {
	css = replaceRef(cssImportRe, css, base, ns, siteID, func(u string) string {
		return `@import "` + u + `"`
	})
	return replaceRef(cssURLRe, css, base, ns, siteID, func(u string) string {
		return `url("` + u + `")`
	})
}

func replaceRef(re *regexp.Regexp, css, base, ns, siteID string, format func(string) string) string {
	return re.ReplaceAllStringFunc(css, func(match string) string {
		sub := re.FindStringSubmatch(match)
		if len(sub) < 2 || !vpath.IsInternalResource(sub[1]) {
			return match
		}
		return format(vpath.ToVirtual(sub[1], base, ns, siteID))
	})
}
