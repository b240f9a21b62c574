package peerweb

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPassThroughToOrigin(t *testing.T) {
	var gotURI, gotHop, gotAccept string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.URL.RequestURI()
		gotHop = r.Header.Get("Proxy-Authorization")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("X-Upstream", "1")
		w.Header().Set("Access-Control-Expose-Headers", "X-Upstream")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("from upstream"))
	}))
	defer upstream.Close()

	svc, err := NewService(testConfig(func(c *Config) { c.Server.Origin = upstream.URL + "/" }), zap.NewNop())
	require.NoError(t, err)
	defer svc.Close()

	w := get(svc, "/app/main.js?v=2", "Accept", "text/javascript", "Proxy-Authorization", "secret")
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "from upstream", w.Body.String())
	assert.Equal(t, "/app/main.js?v=2", gotURI)
	assert.Equal(t, "text/javascript", gotAccept)
	assert.Empty(t, gotHop)
	assert.Equal(t, "1", w.Header().Get("X-Upstream"))
	assert.Equal(t, outcomeProxy, w.Header().Get(outcomeHeader))
	assert.Equal(t, "X-Upstream, X-Peerweb", w.Header().Get("Access-Control-Expose-Headers"))
}

func TestPassThroughWithoutOrigin(t *testing.T) {
	svc, err := NewService(testConfig(nil), zap.NewNop())
	require.NoError(t, err)
	defer svc.Close()

	w := get(svc, "/favicon.ico")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, outcomeNotFound, w.Header().Get(outcomeHeader))
}

func TestPassThroughBadGateway(t *testing.T) {
	svc, err := NewService(testConfig(func(c *Config) { c.Server.Origin = "http://127.0.0.1:1" }), zap.NewNop())
	require.NoError(t, err)
	defer svc.Close()

	w := get(svc, "/x")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, outcomeBadGateway, w.Header().Get(outcomeHeader))
}

func TestExternalRequests(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("external " + r.URL.Path))
	}))
	defer upstream.Close()

	svc, err := NewService(testConfig(func(c *Config) { c.Server.Host = "peerweb.local" }), zap.NewNop())
	require.NoError(t, err)
	defer svc.Close()

	w := get(svc, upstream.URL+"/lib.js")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "external requests are not proxied", w.Body.String())

	svc.cfg.Server.AllowExternal = true
	w = get(svc, upstream.URL+"/lib.js")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "external /lib.js", w.Body.String())
}

func TestEnsureExposedHeader(t *testing.T) {
	h := http.Header{}
	ensureExposedHeader(h, "X-Peerweb")
	assert.Equal(t, "X-Peerweb", h.Get("Access-Control-Expose-Headers"))

	h = http.Header{}
	h.Set("Access-Control-Expose-Headers", "Content-Length")
	ensureExposedHeader(h, "X-Peerweb")
	ensureExposedHeader(h, "x-peerweb")
	assert.Equal(t, "Content-Length, X-Peerweb", h.Get("Access-Control-Expose-Headers"))

	ensureExposedHeader(h, "")
	assert.Equal(t, "Content-Length, X-Peerweb", h.Get("Access-Control-Expose-Headers"))
}

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Set("Connection", "keep-alive")
	src.Set("Transfer-Encoding", "chunked")
	src.Set("Host", "evil")
	src.Add("Set-Cookie", "a=1")
	src.Add("Set-Cookie", "b=2")

	dst := http.Header{}
	copyHeaders(dst, src)
	assert.Empty(t, dst.Get("Connection"))
	assert.Empty(t, dst.Get("Transfer-Encoding"))
	assert.Empty(t, dst.Get("Host"))
	assert.Equal(t, []string{"a=1", "b=2"}, dst.Values("Set-Cookie"))
}
