package wire

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrClosed    = errors.New("port closed")
	ErrQueueFull = errors.New("message queue is full")
)

// Port is one end of an asynchronous message channel between the router and
// the content side. Delivery is per message; there is no ordering guarantee
// callers may rely on.
type Port interface {
	Send(ctx context.Context, m Message) error
	// Messages is never closed; receivers also select on Done.
	Messages() <-chan Message
	// Done is closed once the port can no longer deliver in either direction.
	Done() <-chan struct{}
	Close() error
}

// memPort is one side of a Pipe.
type memPort struct {
	in   chan Message
	peer *memPort

	once   *sync.Once
	closed chan struct{}
}

var _ Port = (*memPort)(nil)

// Pipe returns two connected in-memory ports. Each direction buffers up to
// buffer messages; Send fails with ErrQueueFull beyond that.
func Pipe(buffer int) (Port, Port) {
	if buffer <= 0 {
		buffer = 256
	}
	once := &sync.Once{}
	closed := make(chan struct{})
	a := &memPort{in: make(chan Message, buffer), once: once, closed: closed}
	b := &memPort{in: make(chan Message, buffer), once: once, closed: closed}
	a.peer, b.peer = b, a
	return a, b
}

func (p *memPort) Send(ctx context.Context, m Message) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.peer.in <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *memPort) Messages() <-chan Message { return p.in }

func (p *memPort) Done() <-chan struct{} { return p.closed }

// Close shuts both ends. Buffered messages stay readable.
func (p *memPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
