package peerweb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"peerweb/internal/vpath"
	"peerweb/internal/wire"
)

var (
	ErrTimeout       = errors.New("resource request timed out")
	ErrNoProvider    = errors.New("no content provider attached")
	ErrSessionClosed = errors.New("site session closed")
)

type reply struct {
	msg wire.Message
	err error
}

type pendingRequest struct {
	ch        chan reply
	path      string
	createdAt time.Time
}

// rpcClient correlates resource requests with their responses. An entry
// leaves the pending table exactly once; whoever removes it resolves it.
type rpcClient struct {
	port         func() wire.Port
	timeout      time.Duration
	mediaTimeout time.Duration
	logger       *zap.Logger
	timeoutLog   *rateLimitedLogger
	metrics      *metrics

	mu      sync.Mutex
	pending map[string]*pendingRequest

	unknown atomic.Uint64
}

func newRPCClient(port func() wire.Port, timeout, mediaTimeout time.Duration, logger *zap.Logger, m *metrics) *rpcClient {
	return &rpcClient{
		port:         port,
		timeout:      timeout,
		mediaTimeout: mediaTimeout,
		logger:       logger,
		timeoutLog:   newRateLimitedLogger(logger, 10*time.Second),
		metrics:      m,
		pending:      map[string]*pendingRequest{},
	}
}

func newRequestID() string {
	return "req_" + ulid.Make().String()
}

// Fetch sends req with a fresh id and waits for the matching response, the
// timeout or ctx. Without a port, or when sending fails, it returns
// ErrNoProvider at once.
func (c *rpcClient) Fetch(ctx context.Context, req wire.ResourceRequest) (wire.Message, error) {
	port := c.port()
	if port == nil {
		return nil, ErrNoProvider
	}

	req.RequestID = newRequestID()
	pr := &pendingRequest{ch: make(chan reply, 1), path: req.FilePath, createdAt: time.Now()}
	c.mu.Lock()
	c.pending[req.RequestID] = pr
	c.mu.Unlock()

	if err := port.Send(ctx, req); err != nil {
		if _, ok := c.take(req.RequestID); ok {
			return nil, fmt.Errorf("%w: %v", ErrNoProvider, err)
		}
		r := <-pr.ch
		return r.msg, r.err
	}

	timeout := c.timeout
	if vpath.IsMediaPath(req.FilePath) {
		timeout = c.mediaTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case r := <-pr.ch:
		c.observe(pr, r.err)
		return r.msg, r.err
	case <-timer.C:
		err = ErrTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}
	if _, ok := c.take(req.RequestID); !ok {
		// lost the race to a delivery
		r := <-pr.ch
		c.observe(pr, r.err)
		return r.msg, r.err
	}
	c.observe(pr, err)
	if errors.Is(err, ErrTimeout) {
		c.timeoutLog.Warn("resource request timed out",
			zap.String("id", req.RequestID), zap.String("path", req.FilePath), zap.Duration("after", timeout))
	}
	return nil, err
}

func (c *rpcClient) observe(pr *pendingRequest, err error) {
	if c.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, ErrTimeout):
		result = "timeout"
	case errors.Is(err, ErrSessionClosed):
		result = "closed"
	case err != nil:
		result = "error"
	}
	c.metrics.rpcLatency.WithLabelValues(result).Observe(time.Since(pr.createdAt).Seconds())
}

func (c *rpcClient) take(id string) (*pendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pr, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return pr, ok
}

// Deliver resolves the pending request id with m. It reports false for ids
// that are no longer pending.
func (c *rpcClient) Deliver(id string, m wire.Message) bool {
	pr, ok := c.take(id)
	if !ok {
		c.unknown.Add(1)
		c.logger.Debug("response for unknown request", zap.String("id", id), zap.String("type", m.Type()))
		return false
	}
	pr.ch <- reply{msg: m}
	return true
}

// FailAll resolves every pending request with err and returns how many
// there were.
func (c *rpcClient) FailAll(err error) int {
	c.mu.Lock()
	pending := c.pending
	c.pending = map[string]*pendingRequest{}
	c.mu.Unlock()
	for _, pr := range pending {
		pr.ch <- reply{err: err}
	}
	return len(pending)
}

func (c *rpcClient) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Unknown counts responses that arrived for no pending request.
func (c *rpcClient) Unknown() uint64 { return c.unknown.Load() }
