package peerweb

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"peerweb/internal/vpath"
	"peerweb/internal/wire"
)

// session is the router's view of the active site.
type session struct {
	hash  string
	files vpath.FileSet
	ready bool
}

// Service is the request router of the virtual origin. It owns the session
// state, the pending request table and the media range cache.
type Service struct {
	cfg    Config
	ns     string
	logger *zap.Logger

	httpClient *http.Client
	upgrader   websocket.Upgrader

	mu   sync.RWMutex
	sess session

	portMu sync.Mutex
	port   wire.Port

	rpc     *rpcClient
	media   *mediaCache
	metrics *metrics
	stats   *statsCollector

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ http.Handler = (*Service)(nil)

func NewService(cfg Config, logger *zap.Logger) (*Service, error) {
	if err := cfg.compile(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("router")

	s := &Service{
		cfg:        cfg,
		ns:         cfg.Server.Namespace,
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		metrics:    newMetrics(),
		stopCh:     make(chan struct{}),
	}
	s.media = newMediaCache(cfg.Media.threshold, cfg.Media.max, newRateLimitedLogger(logger, time.Minute))
	s.rpc = newRPCClient(s.currentPort, cfg.RPC.timeout, cfg.RPC.mediaTimeout, logger.Named("rpc"), s.metrics)
	s.metrics.registerGauges(s.rpc.Pending, s.media.TotalSize, s.rpc.Unknown)

	if cfg.Logging.statsEvery > 0 {
		s.stats = newStatsCollector()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(cfg.Logging.statsEvery)
		}()
	}
	return s, nil
}

// Close stops the receive loops and fails whatever is still pending.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.rpc.FailAll(ErrSessionClosed)
	})
}

func (s *Service) Handler() http.Handler { return s }

func (s *Service) MetricsHandler() http.Handler { return s.metrics.Handler() }

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Channel.Mode == "websocket" && r.URL.Path == s.cfg.Channel.Path {
		s.serveChannel(w, r)
		return
	}
	switch kind := vpath.Classify(r.URL, s.cfg.Server.Host, s.ns); kind {
	case vpath.Virtual:
		s.handleVirtual(w, r)
	default:
		s.passThrough(w, r, kind)
	}
}

func (s *Service) handleVirtual(w http.ResponseWriter, r *http.Request) {
	outcome, n := s.serveVirtual(w, r)
	s.metrics.requests.WithLabelValues(outcome).Inc()
	if s.stats != nil {
		switch outcome {
		case outcomeHit, outcomeRPC, outcomeChunk:
			s.stats.Observe(n)
		}
	}
}

func (s *Service) serveVirtual(w http.ResponseWriter, r *http.Request) (string, int) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		setOutcome(w.Header(), outcomeMethod)
		writeText(w, http.StatusMethodNotAllowed, "method not allowed")
		return outcomeMethod, 0
	}

	loc, err := vpath.Parse(r.URL.EscapedPath(), s.ns)
	if err != nil {
		setOutcome(w.Header(), outcomeBadRequest)
		writeText(w, http.StatusBadRequest, "Invalid PeerWeb URL")
		return outcomeBadRequest, 0
	}

	sess := s.session()
	if loc.SiteID != sess.hash {
		return s.writeMismatch(w, sess.hash, loc.SiteID)
	}

	filePath := vpath.Normalize(loc.Rest, sess.files)
	key := r.URL.RequestURI()

	if ent, ok := s.media.Get(key); ok {
		return outcomeHit, writeResource(w, r, ent.Data, ent.ContentType, outcomeHit)
	}

	msg, err := s.rpc.Fetch(r.Context(), wire.ResourceRequest{
		URL:      key,
		FilePath: filePath,
		Range:    rangeHint(r.Header.Get("Range")),
	})

	// the session may have moved on while the request was in flight
	if cur := s.session(); cur.hash != loc.SiteID {
		return s.writeMismatch(w, cur.hash, loc.SiteID)
	}
	switch {
	case errors.Is(err, ErrSessionClosed):
		return s.writeMismatch(w, "", loc.SiteID)
	case err != nil:
		s.logger.Debug("serving fallback", zap.String("path", filePath), zap.Error(err))
		return outcomeFallback, writeFallback(w, r, s.ns, loc.SiteID, filePath)
	}

	switch m := msg.(type) {
	case wire.ResourceResponse:
		if m.Data == nil {
			setOutcome(w.Header(), outcomeNotFound)
			writeText(w, http.StatusNotFound, "File not found in torrent")
			return outcomeNotFound, 0
		}
		data := []byte(m.Data)
		if s.media.Eligible(m.ContentType, len(data)) {
			s.cacheMedia(loc.SiteID, key, mediaEntry{Data: data, ContentType: m.ContentType, StoredAt: time.Now().Unix()})
		}
		return outcomeRPC, writeResource(w, r, data, m.ContentType, outcomeRPC)

	case wire.MediaChunkResponse:
		if len(m.Chunk) == 0 {
			writeUnsatisfiable(w, m.Total)
			return outcomeBadRange, 0
		}
		if !validChunk(m) {
			s.logger.Warn("inconsistent media chunk",
				zap.String("path", filePath), zap.Int64("start", m.Start), zap.Int64("end", m.End),
				zap.Int64("total", m.Total), zap.Int("bytes", len(m.Chunk)))
			return outcomeFallback, writeFallback(w, r, s.ns, loc.SiteID, filePath)
		}
		ct, _ := vpath.ContentType(filePath)
		br := ByteRange{Start: m.Start, End: m.End}
		return outcomeChunk, writeSlice(w, r, m.Chunk, br, m.Total, ct, outcomeChunk)

	default:
		s.logger.Warn("unexpected reply", zap.String("type", msg.Type()))
		return outcomeFallback, writeFallback(w, r, s.ns, loc.SiteID, filePath)
	}
}

// validChunk reports whether a chunk's bounds agree with its payload.
func validChunk(m wire.MediaChunkResponse) bool {
	return m.Start >= 0 && m.Start <= m.End && m.End < m.Total &&
		int64(len(m.Chunk)) == m.End-m.Start+1
}

func (s *Service) writeMismatch(w http.ResponseWriter, expected, got string) (string, int) {
	if expected == "" {
		expected = "none"
	}
	setOutcome(w.Header(), outcomeMismatch)
	writeText(w, http.StatusNotFound, fmt.Sprintf("Site not loaded. Expected: %s, Got: %s", expected, got))
	return outcomeMismatch, 0
}

// cacheMedia stores ent unless the session changed. The session lock is held
// so a concurrent transition cannot clear the cache in between.
func (s *Service) cacheMedia(siteID, key string, ent mediaEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sess.hash != siteID {
		return
	}
	if s.media.Put(key, ent) {
		s.logger.Debug("cached media", zap.String("url", key), zap.Int("bytes", len(ent.Data)))
	}
}

func (s *Service) session() session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess
}

// Session returns the active site id and whether it finished loading.
func (s *Service) Session() (string, bool) {
	sess := s.session()
	return sess.hash, sess.ready
}

// OnSessionLoading makes hash the active site before its files are known.
func (s *Service) OnSessionLoading(hash string) {
	s.transition("loading", session{hash: hash})
}

// OnSessionReady installs the advertised file list of hash.
func (s *Service) OnSessionReady(hash string, fileCount int, files []string) {
	s.transition("ready", session{hash: hash, files: vpath.NewFileSet(files), ready: true},
		zap.Int("files", fileCount))
}

// OnSessionUnloaded clears the active site. Requests still waiting for a
// response resolve with ErrSessionClosed.
func (s *Service) OnSessionUnloaded() {
	s.transition("unloaded", session{})
	if n := s.rpc.FailAll(ErrSessionClosed); n > 0 {
		s.logger.Info("failed pending requests", zap.Int("count", n))
	}
}

func (s *Service) transition(event string, next session, fields ...zap.Field) {
	s.mu.Lock()
	s.sess = next
	dropped := s.media.Clear()
	s.mu.Unlock()

	s.metrics.sessions.WithLabelValues(event).Inc()
	fields = append(fields, zap.String("site", next.hash), zap.Int("mediaDropped", dropped))
	s.logger.Info("site "+event, fields...)
}

// Attach registers the port of the content side. The newest port receives
// requests; every attached port is read until it is done.
func (s *Service) Attach(p wire.Port) {
	s.portMu.Lock()
	s.port = p
	s.portMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.receive(p)
	}()
}

func (s *Service) currentPort() wire.Port {
	s.portMu.Lock()
	defer s.portMu.Unlock()
	return s.port
}

func (s *Service) detach(p wire.Port) {
	s.portMu.Lock()
	if s.port == p {
		s.port = nil
	}
	s.portMu.Unlock()
}

func (s *Service) receive(p wire.Port) {
	defer s.detach(p)
	for {
		select {
		case <-s.stopCh:
			return
		case <-p.Done():
			s.logger.Info("content provider detached")
			return
		case m := <-p.Messages():
			s.dispatch(m)
		}
	}
}

func (s *Service) dispatch(m wire.Message) {
	switch v := m.(type) {
	case wire.ResourceResponse:
		s.rpc.Deliver(v.RequestID, v)
	case wire.MediaChunkResponse:
		s.rpc.Deliver(v.RequestID, v)
	case wire.SiteLoading:
		s.OnSessionLoading(v.Hash)
	case wire.SiteReady:
		s.OnSessionReady(v.Hash, v.FileCount, v.FileList)
	case wire.SiteUnloaded:
		s.OnSessionUnloaded()
	case wire.ResourceRequest:
		s.logger.Debug("ignoring resource request from content side", zap.String("id", v.RequestID))
	}
}

// serveChannel upgrades a content side connection and attaches it.
func (s *Service) serveChannel(w http.ResponseWriter, r *http.Request) {
	if status := s.authorizeChannel(r); status != http.StatusOK {
		s.logger.Warn("channel connection refused", zap.String("remote", r.RemoteAddr), zap.Int("status", status))
		writeText(w, status, http.StatusText(status))
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("channel upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	s.logger.Info("content provider connected", zap.String("remote", r.RemoteAddr))
	s.Attach(wire.NewWSPort(conn, s.logger.Named("channel")))
}

// authorizeChannel checks the bearer token when one is configured and
// otherwise only admits loopback peers.
func (s *Service) authorizeChannel(r *http.Request) int {
	if token := s.cfg.Channel.Token; token != "" {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return http.StatusUnauthorized
		}
		return http.StatusOK
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
		return http.StatusForbidden
	}
	return http.StatusOK
}
