package client_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"ijscript/client"
	"ijscript/internal/envelope"
	"ijscript/internal/imagefile"
	"ijscript/ndarray"
)

var (
	loadRe = regexp.MustCompile(`(\w+) = ij\.scifio\(\)\.datasetIO\(\)\.open\("([^"]+)"\)`)
	saveRe = regexp.MustCompile(`ij\.scifio\(\)\.datasetIO\(\)\.save\((\w+), "([^"]+)"\)`)
)

// call is what the fake host saw for one request.
type call struct {
	req envelope.Request
	// inputs are the images loaded by the script, read while the call was live.
	inputs map[string]*ndarray.Array
	saves  map[string]string
}

// fakeHost plays the scripting server in-process. It reads input images,
// writes the arrays in images to save paths and replies with reply.
type fakeHost struct {
	t *testing.T

	mu     sync.Mutex
	open   bool
	calls  []call
	images map[string]*ndarray.Array
	reply  envelope.Response
	err    error
	// block, when set, holds RoundTrip until it is closed or ctx ends.
	block   chan struct{}
	entered chan struct{}
}

func newFakeHost(t *testing.T) *fakeHost {
	return &fakeHost{t: t, open: true, images: map[string]*ndarray.Array{}}
}

func (f *fakeHost) dialer() client.Dialer {
	return func(context.Context, string) (client.Transport, error) {
		f.mu.Lock()
		f.open = true
		f.mu.Unlock()
		return f, nil
	}
}

func (f *fakeHost) RoundTrip(ctx context.Context, raw []byte) ([]byte, error) {
	req, err := envelope.DecodeRequest(raw)
	if err != nil {
		return nil, err
	}
	c := call{req: req, inputs: map[string]*ndarray.Array{}, saves: map[string]string{}}
	for _, m := range loadRe.FindAllStringSubmatch(req.Code, -1) {
		a, _, err := imagefile.ReadFile(m[2])
		if err != nil {
			return nil, err
		}
		c.inputs[m[1]] = a
	}

	f.mu.Lock()
	f.calls = append(f.calls, c)
	block, entered := f.block, f.entered
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, m := range saveRe.FindAllStringSubmatch(req.Code, -1) {
		c.saves[m[1]] = m[2]
		if a, ok := f.images[m[1]]; ok {
			if err := imagefile.WriteFile(m[2], a, imagefile.Metadata{}); err != nil {
				return nil, err
			}
		}
	}
	return envelope.EncodeResponse(f.reply)
}

func (f *fakeHost) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeHost) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return errors.New("fake host: already closed")
	}
	f.open = false
	return nil
}

func (f *fakeHost) lastCall() call {
	f.t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		f.t.Fatal("fake host received no request")
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeHost) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
