package wire

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait    = 10 * time.Second
	wsMaxMessage   = 512 << 20
	wsInboundQueue = 256
)

// ErrMessageTooLarge is returned by Send for an envelope the peer would
// refuse to read. The port stays open.
var ErrMessageTooLarge = errors.New("message exceeds channel limit")

// WSPort carries envelopes as websocket text frames.
type WSPort struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex
	limit   int64

	in     chan Message
	once   sync.Once
	closed chan struct{}
}

var _ Port = (*WSPort)(nil)

// NewWSPort takes ownership of conn and starts its read loop.
func NewWSPort(conn *websocket.Conn, logger *zap.Logger) *WSPort {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &WSPort{
		conn:   conn,
		logger: logger,
		in:     make(chan Message, wsInboundQueue),
		closed: make(chan struct{}),
		limit:  wsMaxMessage,
	}
	conn.SetReadLimit(wsMaxMessage)
	go p.readLoop()
	return p
}

func (p *WSPort) readLoop() {
	defer p.Close()
	for {
		typ, data, err := p.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, websocket.ErrCloseSent) {
				p.logger.Debug("channel read stopped", zap.Error(err))
			}
			return
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		m, err := Decode(data)
		if err != nil {
			p.logger.Warn("dropping undecodable message", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		select {
		case p.in <- m:
		case <-p.closed:
			return
		}
	}
}

// SetMessageLimit sets the largest envelope, in bytes, read from or sent to
// the peer. Both ends must agree on it.
func (p *WSPort) SetMessageLimit(n int64) {
	p.writeMu.Lock()
	p.limit = n
	p.writeMu.Unlock()
	p.conn.SetReadLimit(n)
}

func (p *WSPort) Send(ctx context.Context, m Message) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	b, err := Encode(m)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.writeMu.Lock()
	if int64(len(b)) > p.limit {
		limit := p.limit
		p.writeMu.Unlock()
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrMessageTooLarge, m.Type(), len(b), limit)
	}
	_ = p.conn.SetWriteDeadline(deadline)
	err = p.conn.WriteMessage(websocket.TextMessage, b)
	p.writeMu.Unlock()
	if err != nil {
		p.Close()
		return err
	}
	return nil
}

func (p *WSPort) Messages() <-chan Message { return p.in }

func (p *WSPort) Done() <-chan struct{} { return p.closed }

func (p *WSPort) Close() error {
	var err error
	p.once.Do(func() {
		close(p.closed)
		// WriteControl may run concurrently with WriteMessage.
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = p.conn.Close()
	})
	return err
}

// Dial connects to a router channel endpoint. header is sent with the
// handshake and may carry credentials.
func Dial(ctx context.Context, url string, header http.Header, logger *zap.Logger) (*WSPort, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, err
	}
	return NewWSPort(conn, logger), nil
}
