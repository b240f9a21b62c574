package rewrite

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

var targetRe = regexp.MustCompile(`^(?:_blank|_self|_parent|_top)$`)

// newPolicy builds the sanitizer applied after rewriting. It keeps the
// document skeleton, style blocks, stylesheets and media elements with the
// attributes the rewriter fills in, and drops event handlers, frames, forms,
// plugins and javascript: URLs. Scripts survive only when allowScripts is set.
func newPolicy(allowScripts bool) *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.RequireNoFollowOnLinks(false)

	// AllowUnsafe is what lets <style> text through unescaped.
	p.AllowUnsafe(true)

	p.AllowElements(
		"html", "head", "body", "title", "style",
		"main", "nav", "header", "footer", "section", "article", "aside",
		"figure", "figcaption", "picture", "video", "audio", "track", "span", "div",
	)
	p.AllowAttrs("charset", "name", "content").OnElements("meta")
	p.AllowAttrs("media", "type").OnElements("style")
	p.AllowAttrs("href", "rel", "type", "media", "sizes", "as", "crossorigin", "integrity").OnElements("link")
	p.AllowAttrs("src", "srcset", "sizes", "type", "media").OnElements("source")
	p.AllowAttrs("src", "srcset", "sizes", "alt", "width", "height", "loading", "crossorigin").OnElements("img")
	p.AllowAttrs("src", "poster", "controls", "autoplay", "loop", "muted", "playsinline", "preload", "width", "height", "crossorigin").OnElements("video")
	p.AllowAttrs("src", "controls", "autoplay", "loop", "muted", "preload", "crossorigin").OnElements("audio")
	p.AllowAttrs("src", "kind", "srclang", "label", "default").OnElements("track")
	p.AllowAttrs("href", "rel", "type").OnElements("a")
	p.AllowAttrs("target").Matching(targetRe).OnElements("a")
	p.AllowAttrs("id", "class", "style", "title", "lang", "dir").Globally()

	p.AllowURLSchemes("mailto", "tel", "sms", "http", "https", "ftp", "magnet", "blob")
	p.AllowRelativeURLs(true)
	p.AllowDataURIImages()

	if allowScripts {
		p.AllowElements("script")
		p.AllowNoAttrs().OnElements("script")
		p.AllowAttrs("src", "type", "crossorigin", "integrity", "async", "defer", "nomodule").OnElements("script")
	}
	return p
}
