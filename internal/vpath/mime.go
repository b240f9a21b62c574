package vpath

import (
	"path"
	"strings"
)

const DefaultContentType = "application/octet-stream"

var contentTypes = map[string]string{
	"html":  "text/html",
	"htm":   "text/html",
	"css":   "text/css",
	"js":    "application/javascript",
	"mjs":   "application/javascript",
	"json":  "application/json",
	"txt":   "text/plain",
	"md":    "text/markdown",
	"xml":   "application/xml",
	"png":   "image/png",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"gif":   "image/gif",
	"svg":   "image/svg+xml",
	"webp":  "image/webp",
	"ico":   "image/x-icon",
	"woff":  "font/woff",
	"woff2": "font/woff2",
	"ttf":   "font/ttf",
	"otf":   "font/otf",
	"eot":   "application/vnd.ms-fontobject",
	"mp4":   "video/mp4",
	"webm":  "video/webm",
	"mov":   "video/quicktime",
	"ogg":   "audio/ogg",
	"mp3":   "audio/mpeg",
	"m4a":   "audio/mp4",
	"wav":   "audio/wav",
	"pdf":   "application/pdf",
}

var textExts = map[string]bool{
	"html": true, "css": true, "js": true, "json": true,
	"txt": true, "md": true, "xml": true, "svg": true,
}

var mediaExts = map[string]bool{
	"mp4": true, "webm": true, "ogg": true, "mp3": true, "wav": true, "m4a": true,
	"mov": true, "avi": true, "mkv": true, "flac": true, "aac": true, "gif": true,
}

func ext(name string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(StripQuery(name))), ".")
}

// ContentType returns the MIME type for name's extension and whether the
// extension is known.
func ContentType(name string) (string, bool) {
	ct, ok := contentTypes[ext(name)]
	if !ok {
		return DefaultContentType, false
	}
	return ct, true
}

func IsText(name string) bool { return textExts[ext(name)] }

// IsMediaPath reports whether name looks like a media file. It selects the
// longer RPC budget and the 503 fallback.
func IsMediaPath(name string) bool { return mediaExts[ext(name)] }

// IsMediaType reports whether ct qualifies for the media range cache.
func IsMediaType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return strings.HasPrefix(ct, "video/") || strings.HasPrefix(ct, "audio/") || ct == "image/gif"
}
