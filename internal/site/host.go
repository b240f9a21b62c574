package site

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"peerweb/internal/rewrite"
	"peerweb/internal/vpath"
	"peerweb/internal/wire"
)

var ErrNoIndex = errors.New("no index.html found in site")

// maxQueued bounds the requests held while a site is loading.
const maxQueued = 1024

type queuedRequest struct {
	port wire.Port
	req  wire.ResourceRequest
}

// Rewriter prepares the entry document before it is served.
type Rewriter interface {
	Rewrite(markup []byte, indexPath, siteID string) ([]byte, error)
}

type HostOptions struct {
	Namespace string
	Provider  Provider
	// Store is optional.
	Store    Store
	Rewriter Rewriter
	// MaxInlineBytes is the media size above which a ranged request is
	// answered with only the requested chunk, itself at most MaxInlineBytes
	// long. Zero always sends whole files.
	MaxInlineBytes int64
	Logger         *zap.Logger
}

// Host is the content side of the channel. It owns the resource table of the
// active site and answers resource requests arriving on its port.
type Host struct {
	provider  Provider
	store     Store
	rewriter  Rewriter
	maxInline int64
	logger    *zap.Logger

	mu      sync.RWMutex
	siteID  string
	table   *Table
	loading bool
	// requests that arrived while loading, answered once the load settles
	queued []queuedRequest

	portMu sync.Mutex
	port   wire.Port
}

func NewHost(opts HostOptions) *Host {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rw := opts.Rewriter
	if rw == nil {
		rw = rewrite.New(rewrite.Options{Namespace: opts.Namespace})
	}
	return &Host{
		provider:  opts.Provider,
		store:     opts.Store,
		rewriter:  rw,
		maxInline: opts.MaxInlineBytes,
		logger:    logger.Named("host"),
	}
}

// Attach sets the port announcements and responses go out on. Run must be
// (re)started for the new port.
func (h *Host) Attach(p wire.Port) {
	h.portMu.Lock()
	h.port = p
	h.portMu.Unlock()
}

func (h *Host) currentPort() wire.Port {
	h.portMu.Lock()
	defer h.portMu.Unlock()
	return h.port
}

// Active returns the id of the installed site.
func (h *Host) Active() (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.siteID, h.table != nil
}

// Run answers requests from the attached port until ctx ends or the port is
// closed.
func (h *Host) Run(ctx context.Context) error {
	p := h.currentPort()
	if p == nil {
		return wire.ErrClosed
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Done():
			return wire.ErrClosed
		case m := <-p.Messages():
			h.handle(ctx, p, m)
		}
	}
}

func (h *Host) handle(ctx context.Context, p wire.Port, m wire.Message) {
	switch v := m.(type) {
	case wire.ResourceRequest:
		h.serve(ctx, p, v)
	case wire.ResourceResponse, wire.MediaChunkResponse, wire.SiteLoading, wire.SiteReady, wire.SiteUnloaded:
		h.logger.Debug("ignoring message", zap.String("type", m.Type()))
	}
}

func (h *Host) serve(ctx context.Context, p wire.Port, req wire.ResourceRequest) {
	h.mu.Lock()
	if h.loading {
		if len(h.queued) < maxQueued {
			h.queued = append(h.queued, queuedRequest{port: p, req: req})
			h.mu.Unlock()
			return
		}
		siteID := h.siteID
		h.mu.Unlock()
		h.logger.Warn("load queue full, answering not found", zap.String("site", siteID), zap.String("path", req.FilePath))
		h.send(ctx, p, wire.ResourceResponse{RequestID: req.RequestID, URL: req.URL})
		return
	}
	t, siteID := h.table, h.siteID
	h.mu.Unlock()
	h.serveFrom(ctx, p, req, t, siteID)
}

func (h *Host) serveFrom(ctx context.Context, p wire.Port, req wire.ResourceRequest, t *Table, siteID string) {
	resp := wire.ResourceResponse{RequestID: req.RequestID, URL: req.URL}
	if t == nil {
		h.send(ctx, p, resp)
		return
	}
	r, tier, ok := t.Lookup(req.FilePath)
	if !ok {
		h.logger.Debug("file not found", zap.String("site", siteID), zap.String("path", req.FilePath))
		h.send(ctx, p, resp)
		return
	}
	if tier != TierExact {
		h.logger.Debug("resolved by fallback",
			zap.String("path", req.FilePath), zap.String("match", r.Path), zap.Stringer("tier", tier))
	}

	size := int64(r.Size())
	if req.Range != nil && h.maxInline > 0 && size > h.maxInline && vpath.IsMediaType(r.ContentType) {
		start, end := clampRange(req.Range, size)
		end = min(end, start+h.maxInline-1)
		h.send(ctx, p, wire.MediaChunkResponse{
			RequestID: req.RequestID,
			URL:       req.URL,
			Chunk:     wire.Bytes(r.Data[start : end+1]),
			Start:     start,
			End:       end,
			Total:     size,
		})
		return
	}

	resp.Data = wire.Bytes(r.Data)
	if resp.Data == nil {
		resp.Data = wire.Bytes{}
	}
	resp.ContentType = r.ContentType
	h.send(ctx, p, resp)
}

// answerNotFound replies to held requests with a not-found response.
func (h *Host) answerNotFound(ctx context.Context, held []queuedRequest) {
	for _, q := range held {
		h.send(ctx, q.port, wire.ResourceResponse{RequestID: q.req.RequestID, URL: q.req.URL})
	}
}

// clampRange applies the router's range rules to a hint; size must be
// positive.
func clampRange(rs *wire.RangeSpec, size int64) (int64, int64) {
	start, end := int64(0), size-1
	if rs.Start != nil {
		start = *rs.Start
	}
	if rs.End != nil {
		end = *rs.End
	}
	start = min(max(start, 0), size-1)
	end = min(max(end, 0), size-1)
	return start, max(start, end)
}

// Load makes hash the active site: the durable cache is consulted first, then
// the provider. The index document is rewritten before the table is
// installed. A failed load leaves no site active.
func (h *Host) Load(ctx context.Context, hash string) error {
	if !vpath.ValidSiteID(hash) {
		return fmt.Errorf("%w: %q", ErrInvalidSiteID, hash)
	}

	h.mu.Lock()
	h.siteID, h.table, h.loading = hash, nil, true
	stale := h.takeQueued()
	h.mu.Unlock()
	h.announce(ctx, wire.SiteLoading{Hash: hash})
	h.answerNotFound(ctx, stale)

	t, err := h.install(ctx, hash)
	if err != nil {
		var held []queuedRequest
		h.mu.Lock()
		if h.siteID == hash {
			h.siteID, h.table, h.loading = "", nil, false
			held = h.takeQueued()
		}
		h.mu.Unlock()
		h.announce(ctx, wire.SiteUnloaded{})
		h.answerNotFound(ctx, held)
		return err
	}

	var held []queuedRequest
	h.mu.Lock()
	superseded := h.siteID != hash
	if !superseded {
		h.table, h.loading = t, false
		held = h.takeQueued()
	}
	h.mu.Unlock()
	if superseded {
		return fmt.Errorf("load of %s superseded", hash)
	}

	h.logger.Info("site ready",
		zap.String("site", hash), zap.Int("files", t.Len()), zap.Int64("bytes", t.TotalSize()))
	h.announce(ctx, wire.SiteReady{Hash: hash, FileCount: t.Len(), FileList: t.Paths()})
	if len(held) > 0 {
		h.logger.Debug("serving requests held during load", zap.String("site", hash), zap.Int("count", len(held)))
	}
	for _, q := range held {
		h.serveFrom(ctx, q.port, q.req, t, hash)
	}
	return nil
}

func (h *Host) install(ctx context.Context, hash string) (*Table, error) {
	raw, err := h.fetch(ctx, hash)
	if err != nil {
		return nil, err
	}
	indexPath, ok := raw.IndexPath()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoIndex, hash)
	}
	idx, _ := raw.Get(indexPath)
	out, err := h.rewriter.Rewrite(idx.Data, indexPath, hash)
	if err != nil {
		return nil, fmt.Errorf("rewrite %s: %w", indexPath, err)
	}
	served := raw.Clone()
	served.Put(Resource{Path: indexPath, Data: out, ContentType: idx.ContentType})
	return served, nil
}

// fetch returns the raw, not yet rewritten, table of a site.
func (h *Host) fetch(ctx context.Context, hash string) (*Table, error) {
	if h.store != nil {
		t, ok, err := h.store.Get(ctx, hash)
		switch {
		case err != nil:
			h.logger.Warn("durable cache read failed", zap.String("site", hash), zap.Error(err))
		case ok:
			h.logger.Debug("loaded site from durable cache", zap.String("site", hash))
			return t, nil
		}
	}
	if h.provider == nil {
		return nil, fmt.Errorf("%w: %s", ErrSiteNotFound, hash)
	}
	files, err := h.provider.Files(ctx, hash)
	if err != nil {
		return nil, err
	}
	t := NewTable()
	for _, f := range files {
		t.Put(f)
	}
	if h.store != nil {
		if err := h.store.Set(ctx, hash, t); err != nil {
			h.logger.Warn("durable cache write failed", zap.String("site", hash), zap.Error(err))
		}
	}
	return t, nil
}

// Unload drops the active site.
func (h *Host) Unload(ctx context.Context) {
	h.mu.Lock()
	h.siteID, h.table, h.loading = "", nil, false
	held := h.takeQueued()
	h.mu.Unlock()
	h.announce(ctx, wire.SiteUnloaded{})
	h.answerNotFound(ctx, held)
}

// takeQueued empties the load queue; h.mu must be held.
func (h *Host) takeQueued() []queuedRequest {
	q := h.queued
	h.queued = nil
	return q
}

func (h *Host) announce(ctx context.Context, m wire.Message) {
	if p := h.currentPort(); p != nil {
		h.send(ctx, p, m)
	}
}

func (h *Host) send(ctx context.Context, p wire.Port, m wire.Message) {
	if err := p.Send(ctx, m); err != nil {
		h.logger.Warn("send failed", zap.String("type", m.Type()), zap.Error(err))
	}
}
