package peerweb

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"peerweb/internal/vpath"
	"peerweb/internal/wire"
)

const longLivedCache = "public, max-age=31536000"

// ByteRange is an inclusive byte interval of a resource.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Length() int64 { return r.End - r.Start + 1 }

// ParseRange interprets a "bytes=<start>-<end>" header against a resource of
// size bytes. Either bound may be missing or unparsable: start then means 0
// and end the last byte. Both are clamped into the resource and end is never
// below start. Only the first range of a multi-range header is honored. ok is
// false when header is not a bytes range or the resource is empty.
func ParseRange(header string, size int64) (ByteRange, bool) {
	spec, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || size <= 0 {
		return ByteRange{}, false
	}
	if i := strings.IndexByte(spec, ','); i >= 0 {
		spec = spec[:i]
	}
	s, e, _ := strings.Cut(spec, "-")

	start, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		start = 0
	}
	end, err := strconv.ParseInt(strings.TrimSpace(e), 10, 64)
	if err != nil {
		end = size - 1
	}
	start = min(max(start, 0), size-1)
	end = max(start, min(end, size-1))
	return ByteRange{Start: start, End: end}, true
}

// rangeHint turns a Range header into the hint forwarded with a request.
func rangeHint(header string) *wire.RangeSpec {
	spec, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found {
		return nil
	}
	if i := strings.IndexByte(spec, ','); i >= 0 {
		spec = spec[:i]
	}
	s, e, _ := strings.Cut(spec, "-")
	h := &wire.RangeSpec{}
	if v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
		h.Start = &v
	}
	if v, err := strconv.ParseInt(strings.TrimSpace(e), 10, 64); err == nil {
		h.End = &v
	}
	return h
}

func contentTypeOr(ct string) string {
	if ct == "" {
		return vpath.DefaultContentType
	}
	return ct
}

func setBodyHeaders(h http.Header, ct string, length int64) {
	h.Set("Content-Type", contentTypeOr(ct))
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", longLivedCache)
	h.Set("Access-Control-Allow-Origin", "*")
}

func writeBody(w http.ResponseWriter, r *http.Request, status int, body []byte) {
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}

// writeResource answers with a whole resource, or with the requested slice
// when the request carries a Range header and the resource is media.
func writeResource(w http.ResponseWriter, r *http.Request, data []byte, ct, outcome string) int {
	header := r.Header.Get("Range")
	if header == "" || !vpath.IsMediaType(ct) {
		setOutcome(w.Header(), outcome)
		setBodyHeaders(w.Header(), ct, int64(len(data)))
		writeBody(w, r, http.StatusOK, data)
		return len(data)
	}
	size := int64(len(data))
	br, ok := ParseRange(header, size)
	if !ok {
		writeUnsatisfiable(w, size)
		return 0
	}
	return writeSlice(w, r, data[br.Start:br.End+1], br, size, ct, outcome)
}

// writeSlice answers 206 with chunk, the bytes br of a resource of total
// bytes.
func writeSlice(w http.ResponseWriter, r *http.Request, chunk []byte, br ByteRange, total int64, ct, outcome string) int {
	h := w.Header()
	setOutcome(h, outcome)
	setBodyHeaders(h, ct, int64(len(chunk)))
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", br.Start, br.End, total))
	writeBody(w, r, http.StatusPartialContent, chunk)
	return len(chunk)
}

func writeUnsatisfiable(w http.ResponseWriter, total int64) {
	h := w.Header()
	setOutcome(h, outcomeBadRange)
	h.Set("Content-Range", fmt.Sprintf("bytes */%d", total))
	writeText(w, http.StatusRequestedRangeNotSatisfiable, "Chunk not available")
}

func writeText(w http.ResponseWriter, status int, msg string) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, msg)
}
