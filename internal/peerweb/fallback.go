package peerweb

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"

	"peerweb/internal/vpath"
)

// fallbackPage is served when a page request gets no answer in time. It
// navigates back to the site root after a few seconds.
var fallbackPage = template.Must(template.New("fallback").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<meta http-equiv="refresh" content="{{.Delay}}; url={{.Home}}">
<title>PeerWeb Navigation</title>
<style>
body{font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,sans-serif;display:flex;justify-content:center;align-items:center;min-height:100vh;margin:0;background:linear-gradient(135deg,#667eea 0%,#764ba2 100%);color:#fff}
.box{text-align:center;padding:2rem;background:rgba(255,255,255,.1);border-radius:15px}
.spinner{width:50px;height:50px;border:4px solid rgba(255,255,255,.3);border-top:4px solid #fff;border-radius:50%;animation:spin 1s linear infinite;margin:0 auto 1rem}
@keyframes spin{to{transform:rotate(360deg)}}
a{color:#fff}
</style>
</head>
<body>
<div class="box">
<div class="spinner"></div>
<h2>PeerWeb Navigation</h2>
<p>Redirecting to home page...</p>
<p><small>Requested: {{.Path}}</small></p>
<p><a href="{{.Home}}">Go to Home</a></p>
</div>
</body>
</html>
`))

const fallbackDelay = 3

func renderFallback(ns, siteID, path string) []byte {
	var buf bytes.Buffer
	_ = fallbackPage.Execute(&buf, struct {
		Delay int
		Home  string
		Path  string
	}{fallbackDelay, vpath.Root(ns, siteID), path})
	return buf.Bytes()
}

// writeFallback answers a request whose resource did not arrive in time.
// Media gets a retryable 503, anything else the navigation page.
func writeFallback(w http.ResponseWriter, r *http.Request, ns, siteID, path string) int {
	h := w.Header()
	setOutcome(h, outcomeFallback)
	if vpath.IsMediaPath(path) {
		h.Set("Retry-After", "5")
		writeText(w, http.StatusServiceUnavailable, "Media file not available")
		return 0
	}
	page := renderFallback(ns, siteID, path)
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(page)))
	h.Set("Cache-Control", "no-cache")
	writeBody(w, r, http.StatusOK, page)
	return len(page)
}
