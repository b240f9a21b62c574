package peerweb

import (
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"peerweb/internal/vpath"
)

const outcomeHeader = "X-Peerweb"

var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Connection", "Proxy-Authenticate",
	"Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

func setOutcome(h http.Header, outcome string) {
	if outcome != "" {
		h.Set(outcomeHeader, outcome)
	}
	// browsers hide custom headers from scripts unless exposed
	ensureExposedHeader(h, outcomeHeader)
}

func ensureExposedHeader(h http.Header, name string) {
	if name == "" {
		return
	}

	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}

	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}
	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}

// passThrough forwards a request that is not for the virtual origin. Paths
// go to the configured upstream; absolute-form requests for other hosts are
// only forwarded when allowed.
func (s *Service) passThrough(w http.ResponseWriter, r *http.Request, kind vpath.Kind) {
	var target string
	switch {
	case kind == vpath.External && r.URL.IsAbs():
		if !s.cfg.Server.AllowExternal {
			setOutcome(w.Header(), outcomeNotFound)
			writeText(w, http.StatusNotFound, "external requests are not proxied")
			return
		}
		target = r.URL.String()
	case s.cfg.Server.Origin != "":
		target = s.cfg.Server.Origin + r.URL.RequestURI()
	default:
		setOutcome(w.Header(), outcomeNotFound)
		writeText(w, http.StatusNotFound, "not found")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		s.badGateway(w, target, err)
		return
	}
	copyHeaders(req.Header, r.Header)
	req.ContentLength = r.ContentLength

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.badGateway(w, target, err)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	setOutcome(w.Header(), outcomeProxy)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Debug("proxy copy interrupted", zap.String("target", target), zap.Error(err))
	}
}

func (s *Service) badGateway(w http.ResponseWriter, target string, err error) {
	s.logger.Warn("upstream request failed", zap.String("target", target), zap.Error(err))
	setOutcome(w.Header(), outcomeBadGateway)
	writeText(w, http.StatusBadGateway, "bad gateway")
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") || isHopHeader(k) {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func isHopHeader(k string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(k, h) {
			return true
		}
	}
	return false
}
