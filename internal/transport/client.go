package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-zeromq/zmq4"
)

const DefaultEndpoint = "tcp://localhost:12345"

var (
	ErrBusy   = errors.New("transport: request already in flight")
	ErrClosed = errors.New("transport: connection closed")
)

// Conn is a ZeroMQ REQ socket. Requests strictly alternate with replies;
// a second RoundTrip while one is pending fails with ErrBusy.
type Conn struct {
	endpoint string
	sock     zmq4.Socket
	cancel   context.CancelFunc

	busy atomic.Bool

	mu     sync.Mutex
	closed bool
}

// Dial connects a REQ socket to endpoint. It gives up when ctx is done.
func Dial(ctx context.Context, endpoint string) (*Conn, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	sctx, cancel := context.WithCancel(context.Background())
	sock := zmq4.NewReq(sctx)

	done := make(chan error, 1)
	go func() { done <- sock.Dial(endpoint) }()
	select {
	case err := <-done:
		if err != nil {
			cancel()
			_ = sock.Close()
			return nil, fmt.Errorf("transport: dial %s: %w", endpoint, err)
		}
	case <-ctx.Done():
		cancel()
		_ = sock.Close()
		return nil, fmt.Errorf("transport: dial %s: %w", endpoint, ctx.Err())
	}
	return &Conn{endpoint: endpoint, sock: sock, cancel: cancel}, nil
}

func (c *Conn) Endpoint() string { return c.endpoint }

type reply struct {
	b   []byte
	err error
}

// RoundTrip sends req and waits for its reply. If ctx ends first the socket
// is closed: a REQ socket that lost its reply can never send again.
func (c *Conn) RoundTrip(ctx context.Context, req []byte) ([]byte, error) {
	if !c.IsOpen() {
		return nil, ErrClosed
	}
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer c.busy.Store(false)

	done := make(chan reply, 1)
	go func() {
		if err := c.sock.Send(zmq4.NewMsg(req)); err != nil {
			done <- reply{err: fmt.Errorf("transport: send: %w", err)}
			return
		}
		msg, err := c.sock.Recv()
		if err != nil {
			done <- reply{err: fmt.Errorf("transport: recv: %w", err)}
			return
		}
		if len(msg.Frames) == 0 {
			done <- reply{err: fmt.Errorf("transport: recv: empty message")}
			return
		}
		done <- reply{b: msg.Frames[0]}
	}()

	select {
	case r := <-done:
		return r.b, r.err
	case <-ctx.Done():
		_ = c.Close()
		return nil, fmt.Errorf("transport: awaiting reply from %s: %w", c.endpoint, ctx.Err())
	}
}

func (c *Conn) IsOpen() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close is idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.sock.Close()
	c.cancel()
	return err
}
