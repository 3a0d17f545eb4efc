package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"testing"

	"ijscript/internal/config"
	"ijscript/internal/envelope"
	"ijscript/internal/imagefile"
	"ijscript/internal/spec"
	"ijscript/internal/transport"
	"ijscript/ndarray"

	"github.com/stretchr/testify/require"
)

var (
	loadRe = regexp.MustCompile(`(\w+) = ij\.scifio\(\)\.datasetIO\(\)\.open\("([^"]+)"\)`)
	saveRe = regexp.MustCompile(`ij\.scifio\(\)\.datasetIO\(\)\.save\((\w+), "([^"]+)"\)`)
)

// invertHost is a REP server that inverts the first loaded 8-bit image into
// every saved output and reports the pixel count as "n".
func invertHost(t *testing.T) string {
	t.Helper()
	srv, err := transport.Listen("tcp://127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, func(raw []byte) ([]byte, error) {
			req, err := envelope.DecodeRequest(raw)
			if err != nil {
				return envelope.EncodeResponse(envelope.Fields(envelope.ExceptionKey, err.Error(), envelope.StackTraceKey, ""))
			}
			loads := loadRe.FindAllStringSubmatch(req.Code, -1)
			if len(loads) == 0 {
				return envelope.EncodeResponse(envelope.Fields(envelope.ExceptionKey, "no image", envelope.StackTraceKey, "at Host.serve"))
			}
			in, _, err := imagefile.ReadFile(loads[0][2])
			if err != nil {
				return nil, err
			}
			out, err := ndarray.New(in.DType(), in.Shape()...)
			if err != nil {
				return nil, err
			}
			for i, v := range in.Values() {
				out.Values()[i] = 255 - v
			}
			for _, m := range saveRe.FindAllStringSubmatch(req.Code, -1) {
				if err := imagefile.WriteFile(m[2], out, imagefile.Metadata{}); err != nil {
					return nil, err
				}
			}
			return envelope.EncodeResponse(envelope.Fields("n", "6", "args", req.Args, "headless", req.Headless))
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv.Endpoint()
}

func testConfig(t *testing.T, addr string) config.Client {
	return config.Client{Address: addr, Axes: "XYC", TempDir: t.TempDir(), Metrics: config.MetricsCfg{Job: "ijscript"}}
}

func TestRunJob_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	in, err := ndarray.FromUint8([]uint8{0, 10, 20, 30, 40, 50}, 2, 3)
	require.NoError(t, err)
	inPath := filepath.Join(dir, "in.png")
	require.NoError(t, SaveArray(inPath, in, ""))

	e, err := Bootstrap(t.Context(), testConfig(t, invertHost(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	headless := true
	outPath := filepath.Join(dir, "out", "inverted.tif")
	res, err := e.RunJob(t.Context(), spec.Job{
		Script:   "out = invert(img)",
		Headless: &headless,
		Params: []spec.ParamSpec{
			{Name: "img", Type: "Image", File: inPath},
			{Name: "gain", Type: "Double", Value: "1.5"},
		},
		Outputs: []spec.OutputSpec{
			{Name: "out", Type: "Image", File: outPath},
			{Name: "n", Type: "Integer"},
		},
	})
	require.NoError(t, err)
	require.False(t, res.Failed())

	n, err := res.Int("n")
	require.NoError(t, err)
	require.Equal(t, 6, n)

	saved, err := LoadArray(outPath)
	require.NoError(t, err)
	require.Equal(t, []float64{255, 245, 235, 225, 215, 205}, saved.Values())
	require.True(t, e.Runner().IsConnected())
}

func TestRunJob_RemoteException(t *testing.T) {
	e, err := Bootstrap(t.Context(), testConfig(t, invertHost(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	res, err := e.RunJob(t.Context(), spec.Job{
		Script:  "x = 1",
		Outputs: []spec.OutputSpec{{Name: "out", Type: "Image", File: filepath.Join(t.TempDir(), "never.tif")}},
	})
	require.NoError(t, err)
	require.True(t, res.Failed())
	require.Equal(t, "no image", res.Exception().Message)
}

func TestRequest_Validation(t *testing.T) {
	e := &Engine{cfg: config.Client{Axes: "XYC", Headless: true}}

	req, err := e.Request(spec.Job{Script: "x", Params: []spec.ParamSpec{{Name: "n", Type: "int", Value: "3"}}})
	require.NoError(t, err)
	require.True(t, req.Headless)
	require.Equal(t, "XYC", req.Axes)
	require.Len(t, req.Params, 1)

	_, err = e.Request(spec.Job{Params: []spec.ParamSpec{{Name: "n", Type: "Long", Value: "3"}}})
	require.Error(t, err)
	_, err = e.Request(spec.Job{Params: []spec.ParamSpec{{Name: "img", Type: "Image"}}})
	require.Error(t, err)
	_, err = e.Request(spec.Job{Outputs: []spec.OutputSpec{{Name: "n", Type: "Integer", File: "n.tif"}}})
	require.Error(t, err)
}

func TestClose_PushesMetrics(t *testing.T) {
	var pushes atomic.Int32
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		pushes.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(gw.Close)

	cfg := testConfig(t, invertHost(t))
	cfg.Metrics.PushURL = gw.URL
	e, err := Bootstrap(t.Context(), cfg)
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.Equal(t, int32(1), pushes.Load())
	require.False(t, e.Runner().IsConnected())
}
