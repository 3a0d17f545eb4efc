package transport

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, h Handler) *Server {
	t.Helper()
	srv, err := Listen("tcp://127.0.0.1:0")
	require.NoError(t, err)
	require.NotEmpty(t, srv.Endpoint())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, h)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv
}

func TestConn_RoundTrip(t *testing.T) {
	srv := startServer(t, func(req []byte) ([]byte, error) {
		return bytes.ToUpper(req), nil
	})

	c, err := Dial(t.Context(), srv.Endpoint())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.True(t, c.IsOpen())

	for _, in := range []string{"hello", "again"} {
		out, err := c.RoundTrip(t.Context(), []byte(in))
		require.NoError(t, err)
		require.Equal(t, bytes.ToUpper([]byte(in)), out)
	}
}

func TestConn_BusyFailsFast(t *testing.T) {
	srv := startServer(t, func(req []byte) ([]byte, error) { return req, nil })
	c, err := Dial(t.Context(), srv.Endpoint())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	c.busy.Store(true)
	_, err = c.RoundTrip(t.Context(), []byte("x"))
	require.ErrorIs(t, err, ErrBusy)
	c.busy.Store(false)

	out, err := c.RoundTrip(t.Context(), []byte("x"))
	require.NoError(t, err)
	require.Equal(t, []byte("x"), out)
}

func TestConn_TimeoutClosesSocket(t *testing.T) {
	release := make(chan struct{})
	srv := startServer(t, func(req []byte) ([]byte, error) {
		<-release
		return req, nil
	})
	t.Cleanup(func() { close(release) })

	c, err := Dial(t.Context(), srv.Endpoint())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err = c.RoundTrip(ctx, []byte("slow"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, c.IsOpen())

	_, err = c.RoundTrip(t.Context(), []byte("again"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestConn_CloseIdempotent(t *testing.T) {
	srv := startServer(t, func(req []byte) ([]byte, error) { return req, nil })
	c, err := Dial(t.Context(), srv.Endpoint())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.False(t, c.IsOpen())

	var nilConn *Conn
	require.False(t, nilConn.IsOpen())
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()
	_, err := Dial(ctx, "tcp://127.0.0.1:1")
	require.Error(t, err)
}
