package vpath

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testID = strings.Repeat("ab12", 10)

func TestValidSiteID(t *testing.T) {
	assert.True(t, ValidSiteID(testID))
	assert.True(t, ValidSiteID(strings.ToUpper(testID)))
	assert.False(t, ValidSiteID(testID[:39]))
	assert.False(t, ValidSiteID(strings.Repeat("zz", 20)))
	assert.False(t, ValidSiteID(""))
}

func TestParse(t *testing.T) {
	loc, err := Parse("/peerweb-site/"+testID+"/css/app.css", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultNamespace, loc.Namespace)
	assert.Equal(t, testID, loc.SiteID)
	assert.Equal(t, "css/app.css", loc.Rest)

	loc, err = Parse("/peerweb-site/"+testID, "")
	require.NoError(t, err)
	assert.Equal(t, "", loc.Rest)

	loc, err = Parse("/ns/"+testID+"/my%20file.txt", "ns")
	require.NoError(t, err)
	assert.Equal(t, "my file.txt", loc.Rest)

	loc, err = Parse("/ns/"+testID+"/css/app.css?v=3#x", "ns")
	require.NoError(t, err)
	assert.Equal(t, "css/app.css", loc.Rest)

	loc, err = Parse("/ns/"+testID+"?v=1", "ns")
	require.NoError(t, err)
	assert.Equal(t, testID, loc.SiteID)
	assert.Equal(t, "", loc.Rest)

	_, err = Parse("/static/app.js", "")
	assert.ErrorIs(t, err, ErrNotVirtual)

	_, err = Parse("/peerweb-site-other/x", "")
	assert.ErrorIs(t, err, ErrNotVirtual)

	for _, p := range []string{"/peerweb-site", "/peerweb-site/", "/peerweb-site/nothex/index.html", "/peerweb-site/" + testID + "/%zz"} {
		_, err = Parse(p, "")
		assert.ErrorIs(t, err, ErrMalformed, p)
	}
}

func TestParseKeepsEscapedQueryAndFragmentInFileName(t *testing.T) {
	files := NewFileSet([]string{"a?b.txt", "c#d.txt"})

	loc, err := Parse("/ns/"+testID+"/a%3Fb.txt", "ns")
	require.NoError(t, err)
	assert.Equal(t, "a?b.txt", loc.Rest)
	assert.Equal(t, "a?b.txt", Normalize(loc.Rest, files))

	loc, err = Parse("/ns/"+testID+"/c%23d.txt?x=1", "ns")
	require.NoError(t, err)
	assert.Equal(t, "c#d.txt", loc.Rest)
	assert.Equal(t, "c#d.txt", Normalize(loc.Rest, files))
}

func TestBuild(t *testing.T) {
	assert.Equal(t, "/ns/"+testID+"/img/a.png", Build("ns", testID, "img/a.png"))
	assert.Equal(t, "/peerweb-site/"+testID+"/", Root("", testID))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		raw  string
		want Kind
	}{
		{"/peerweb-site/" + testID + "/index.html", Virtual},
		{"http://localhost:8080/peerweb-site/" + testID + "/", Virtual},
		{"https://cdn.example.com/peerweb-site/" + testID + "/", External},
		{"/app.js", Other},
		{"/", Other},
		{"ftp://localhost:8080/peerweb-site/x", External},
		{"mailto:someone@example.com", External},
	}
	for _, c := range cases {
		u, err := url.Parse(c.raw)
		require.NoError(t, err)
		assert.Equal(t, c.want, Classify(u, "localhost:8080", ""), c.raw)
	}
}

func TestNormalize(t *testing.T) {
	files := NewFileSet([]string{"index.html", "docs/index.html", "about.html", "blog/post.html"})

	assert.Equal(t, "index.html", Normalize("", files))
	assert.Equal(t, "docs/index.html", Normalize("docs/", files))
	assert.Equal(t, "docs/index.html", Normalize("docs", files))
	assert.Equal(t, "about.html", Normalize("about", files))
	assert.Equal(t, "blog/post.html", Normalize("blog/post", files))
	assert.Equal(t, "missing/index.html", Normalize("missing", files))
	assert.Equal(t, "notes/a?b.txt", Normalize("notes/a?b.txt", files))
	assert.Equal(t, "tag#1.html", Normalize("tag#1.html", files))
	assert.Equal(t, "index.html", Normalize("", nil))
}

func TestNormalizeDirectoryBeatsHTMLSibling(t *testing.T) {
	files := NewFileSet([]string{"guide/index.html", "guide.html"})
	assert.Equal(t, "guide/index.html", Normalize("guide", files))
}

func TestContentType(t *testing.T) {
	ct, ok := ContentType("assets/logo.PNG")
	assert.True(t, ok)
	assert.Equal(t, "image/png", ct)

	ct, ok = ContentType("blob.bin")
	assert.False(t, ok)
	assert.Equal(t, DefaultContentType, ct)

	assert.True(t, IsText("readme.md"))
	assert.False(t, IsText("logo.png"))
	assert.True(t, IsMediaPath("movies/clip.mp4?t=3"))
	assert.False(t, IsMediaPath("index.html"))
	assert.True(t, IsMediaType("video/mp4"))
	assert.True(t, IsMediaType("audio/mpeg; codecs=mp3"))
	assert.True(t, IsMediaType("image/gif"))
	assert.False(t, IsMediaType("image/png"))
}

func TestIsInternalResource(t *testing.T) {
	internal := []string{"app.js", "./app.js", "../img/a.png", "/css/site.css", "img/a.png?v=2"}
	external := []string{"", "http://x.org/a.js", "https://x.org/a.js", "//cdn.x.org/a.js",
		"data:image/png;base64,AAAA", "blob:http://x/1", "javascript:alert(1)", "ipfs:Qm"}
	for _, r := range internal {
		assert.True(t, IsInternalResource(r), r)
	}
	for _, r := range external {
		assert.False(t, IsInternalResource(r), r)
	}
}

func TestIsInternalNavigation(t *testing.T) {
	assert.True(t, IsInternalNavigation("#top"))
	assert.True(t, IsInternalNavigation("about.html"))
	assert.False(t, IsInternalNavigation("mailto:a@b.c"))
	assert.False(t, IsInternalNavigation("tel:+123"))
	assert.False(t, IsInternalNavigation("https://example.com"))
}

func TestResolveRef(t *testing.T) {
	assert.Equal(t, "pages/style.css", ResolveRef("style.css", "pages/"))
	assert.Equal(t, "pages/style.css", ResolveRef("./style.css", "pages/"))
	assert.Equal(t, "img/a.png", ResolveRef("../img/a.png", "pages/"))
	assert.Equal(t, "img/a.png", ResolveRef("../../img/a.png", "pages/"))
	assert.Equal(t, "a/img/x.png", ResolveRef("../img/x.png", "a/b/"))
	assert.Equal(t, "css/site.css", ResolveRef("/css/site.css", "pages/"))
	assert.Equal(t, "pages/app.js", ResolveRef("app.js?v=1#frag", "pages/"))
}

func TestToVirtual(t *testing.T) {
	assert.Equal(t, "/ns/H/img/a.png", ToVirtual("../img/a.png", BasePath("pages/index.html"), "ns", "H"))
	assert.Equal(t, "", BasePath("index.html"))
	assert.Equal(t, "a/b/", BasePath("a/b/index.html"))
}
