package transport

import (
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"
)

// Handler answers one request. Returning an error stops Serve.
type Handler func(req []byte) ([]byte, error)

// Server is a ZeroMQ REP socket answering requests one at a time. It stands
// in for the scripting host in tests and local tooling.
type Server struct {
	sock   zmq4.Socket
	ctx    context.Context
	cancel context.CancelFunc
}

// Listen binds a REP socket, e.g. "tcp://127.0.0.1:0" for an ephemeral port.
func Listen(endpoint string) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sock := zmq4.NewRep(ctx)
	if err := sock.Listen(endpoint); err != nil {
		cancel()
		_ = sock.Close()
		return nil, fmt.Errorf("transport: listen %s: %w", endpoint, err)
	}
	return &Server{sock: sock, ctx: ctx, cancel: cancel}, nil
}

// Endpoint is the dialable address of the bound socket.
func (s *Server) Endpoint() string {
	addr := s.sock.Addr()
	if addr == nil {
		return ""
	}
	return fmt.Sprintf("%s://%s", addr.Network(), addr.String())
}

// Serve handles requests until ctx is done, the socket is stopped or h fails.
func (s *Server) Serve(ctx context.Context, h Handler) error {
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.ctx.Done():
		}
	}()
	stopped := func() bool { return ctx.Err() != nil || s.ctx.Err() != nil }
	for {
		msg, err := s.sock.Recv()
		if err != nil {
			if stopped() {
				return nil
			}
			return fmt.Errorf("transport: serve recv: %w", err)
		}
		var req []byte
		if len(msg.Frames) > 0 {
			req = msg.Frames[0]
		}
		rep, err := h(req)
		if err != nil {
			return err
		}
		if err := s.sock.Send(zmq4.NewMsg(rep)); err != nil {
			if stopped() {
				return nil
			}
			return fmt.Errorf("transport: serve send: %w", err)
		}
	}
}

// Stop closes the socket; a blocked Serve returns. Safe to call twice.
func (s *Server) Stop() {
	s.cancel()
	_ = s.sock.Close()
}
