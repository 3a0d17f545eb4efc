package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"ijscript/internal/imagefile"
	"ijscript/internal/logging"
	"ijscript/internal/transport"
)

const DefaultAddress = transport.DefaultEndpoint

var (
	ErrNotConnected = errors.New("client: not connected, call Connect")
	ErrConnection   = errors.New("client: connection failed")
	ErrBusy         = transport.ErrBusy
)

// Transport is one request/reply channel to the server.
type Transport interface {
	RoundTrip(ctx context.Context, req []byte) ([]byte, error)
	IsOpen() bool
	Close() error
}

// Dialer opens a Transport to address.
type Dialer func(ctx context.Context, address string) (Transport, error)

// Observer receives one call per finished Run.
type Observer interface {
	ObserveRun(outcome string, d time.Duration)
}

// TempObserver is optionally implemented by an Observer to count the
// temporary image files each Run creates.
type TempObserver interface {
	ObserveTempFiles(n int)
}

func dialZMQ(ctx context.Context, address string) (Transport, error) {
	c, err := transport.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ScriptRunner is safe to share, but runs on one runner never overlap: a Run
// issued while another is waiting for its reply fails with ErrBusy.
type ScriptRunner struct {
	dial     Dialer
	log      *slog.Logger
	diag     io.Writer
	tempDir  string
	axes     string
	timeout  time.Duration
	observer Observer

	mu      sync.Mutex
	tr      Transport
	address string

	inflight atomic.Bool
}

type Option func(*ScriptRunner)

func WithDialer(d Dialer) Option { return func(r *ScriptRunner) { r.dial = d } }

func WithLogger(l *slog.Logger) Option { return func(r *ScriptRunner) { r.log = l } }

// WithDiagnostics sets where remote stack traces are written (stderr by default).
func WithDiagnostics(w io.Writer) Option { return func(r *ScriptRunner) { r.diag = w } }

// WithTempDir places temporary image files under dir.
func WithTempDir(dir string) Option { return func(r *ScriptRunner) { r.tempDir = dir } }

// WithAxes sets the default axis order for input images.
func WithAxes(axes string) Option { return func(r *ScriptRunner) { r.axes = axes } }

// WithTimeout bounds every Run that does not set its own timeout.
// Zero leaves runs bounded only by their context.
func WithTimeout(d time.Duration) Option { return func(r *ScriptRunner) { r.timeout = d } }

func WithObserver(o Observer) Option { return func(r *ScriptRunner) { r.observer = o } }

// New returns a disconnected runner.
func New(opts ...Option) *ScriptRunner {
	r := &ScriptRunner{
		dial: dialZMQ,
		diag: os.Stderr,
		axes: imagefile.DefaultAxes,
	}
	for _, o := range opts {
		o(r)
	}
	if r.log == nil {
		r.log = logging.L()
	}
	return r
}

// Dial returns a runner connected to address, or DefaultAddress when empty.
func Dial(ctx context.Context, address string, opts ...Option) (*ScriptRunner, error) {
	r := New(opts...)
	if err := r.Connect(ctx, address); err != nil {
		return nil, err
	}
	return r, nil
}

// Connect drops any open connection and dials address. There is no retry.
func (r *ScriptRunner) Connect(ctx context.Context, address string) error {
	if address == "" {
		address = DefaultAddress
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tr != nil {
		_ = r.tr.Close()
		r.tr = nil
	}
	tr, err := r.dial(ctx, address)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnection, address, err)
	}
	r.tr = tr
	r.address = address
	r.log.Debug("connected", "address", address)
	return nil
}

// Disconnect closes the connection. Calling it when disconnected is a no-op.
func (r *ScriptRunner) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tr == nil {
		return nil
	}
	err := r.tr.Close()
	r.tr = nil
	r.log.Debug("disconnected", "address", r.address)
	return err
}

// IsConnected reports whether the connection is open.
func (r *ScriptRunner) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tr != nil && r.tr.IsOpen()
}

// Address is the last address passed to Connect.
func (r *ScriptRunner) Address() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.address
}

func (r *ScriptRunner) transport() Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tr == nil || !r.tr.IsOpen() {
		return nil
	}
	return r.tr
}
