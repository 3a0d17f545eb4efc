package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ijscript/internal/envelope"
	"ijscript/internal/imagefile"
	"ijscript/internal/telemetry"
	"ijscript/script"

	"github.com/google/uuid"
)

// Request describes one script run.
type Request struct {
	// Script is the body; declarations and image I/O are added around it.
	Script string
	// Name selects the script language by extension, e.g. "macro.js".
	// Empty lets the server decide.
	Name    string
	Params  []script.Param
	Outputs []script.Output
	// Headless asks the server to run without UI.
	Headless bool
	// Axes is the axis order of input images; defaults to the runner's.
	Axes string
	// Timeout overrides the runner's default when non-zero.
	Timeout time.Duration
}

// Run executes req and waits for the reply. Temporary image files are
// removed before Run returns, whatever the outcome.
func (r *ScriptRunner) Run(ctx context.Context, req Request) (res *Result, err error) {
	tr := r.transport()
	if tr == nil {
		return nil, ErrNotConnected
	}
	if !r.inflight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer r.inflight.Store(false)

	log := r.log.With("request_id", uuid.NewString())
	if req.Name != "" {
		log = log.With("script", req.Name)
	}
	start := time.Now()
	defer func() { r.observe(res, err, time.Since(start)) }()

	if err := script.Validate(req.Params, req.Outputs); err != nil {
		return nil, err
	}

	tmp := imagefile.NewTempSet(r.tempDir)
	defer func() {
		if cerr := tmp.Cleanup(); cerr != nil {
			log.Warn("temp file cleanup failed", "err", cerr)
		}
	}()

	axes := req.Axes
	if axes == "" {
		axes = r.axes
	}
	var b script.Builder
	for _, p := range req.Params {
		if p.Kind != script.KindImage {
			if err := b.Param(p); err != nil {
				return nil, err
			}
			continue
		}
		path, err := tmp.Create(p.Name)
		if err != nil {
			return nil, fmt.Errorf("client: temp file for %q: %w", p.Name, err)
		}
		if err := imagefile.WriteFile(path, p.Array(), imagefile.Metadata{Axes: axes}); err != nil {
			return nil, fmt.Errorf("client: write image %q: %w", p.Name, err)
		}
		b.Load(p.Name, path)
	}

	images := make(map[string]string)
	for _, o := range req.Outputs {
		if o.Kind != script.KindImage {
			if err := b.Output(o); err != nil {
				return nil, err
			}
			continue
		}
		path, err := tmp.Create(o.Name)
		if err != nil {
			return nil, fmt.Errorf("client: temp file for %q: %w", o.Name, err)
		}
		images[o.Name] = path
		b.Save(o.Name, path)
	}
	if t, ok := r.observer.(TempObserver); ok {
		t.ObserveTempFiles(len(tmp.Paths()))
	}

	env := envelope.NewRequest(req.Name, b.Code(req.Script), b.Args(), req.Headless)
	raw, err := envelope.EncodeRequest(env)
	if err != nil {
		return nil, err
	}

	if d := req.Timeout; d > 0 || r.timeout > 0 {
		if d == 0 {
			d = r.timeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	log.Debug("sending script", "code_bytes", len(env.Code), "params", len(req.Params), "outputs", len(req.Outputs))
	reply, err := tr.RoundTrip(ctx, raw)
	if err != nil {
		if !tr.IsOpen() {
			log.Warn("connection dropped, reconnect before the next run", "err", err)
		}
		return nil, err
	}
	resp, err := envelope.DecodeResponse(reply)
	if err != nil {
		return nil, err
	}

	if msg, stack, ok := resp.Exception(); ok {
		log.Error("remote script exception", "message", msg)
		if stack != "" && r.diag != nil {
			fmt.Fprintln(r.diag, stack)
		}
		return &Result{exception: &RemoteException{Message: msg, StackTrace: stack, Raw: resp.Map()}}, nil
	}
	res, err = collect(req.Outputs, resp, images)
	if err != nil {
		return nil, err
	}
	log.Debug("script finished", "outputs", res.Len(), "elapsed", time.Since(start))
	return res, nil
}

func collect(outputs []script.Output, resp envelope.Response, images map[string]string) (*Result, error) {
	res := newResult()
	if len(outputs) == 0 {
		for _, f := range resp.Fields {
			if f.Value == nil {
				res.add(f.Key, script.KindString, nil, false)
				continue
			}
			res.add(f.Key, script.KindString, *f.Value, true)
		}
		return res, nil
	}
	for _, o := range outputs {
		if o.Kind == script.KindImage {
			a, _, err := imagefile.ReadFile(images[o.Name])
			if err != nil {
				return nil, fmt.Errorf("client: read output image %q: %w", o.Name, err)
			}
			res.add(o.Name, o.Kind, a, true)
			continue
		}
		raw, _ := resp.Lookup(o.Name)
		v, present, err := script.Coerce(o.Kind, raw)
		if err != nil {
			return nil, fmt.Errorf("client: output %q: %w", o.Name, err)
		}
		res.add(o.Name, o.Kind, v, present)
	}
	return res, nil
}

func (r *ScriptRunner) observe(res *Result, err error, d time.Duration) {
	if r.observer == nil {
		return
	}
	outcome := telemetry.OutcomeOK
	switch {
	case err != nil:
		outcome = telemetry.OutcomeError
	case res != nil && res.Failed():
		outcome = telemetry.OutcomeRemoteErr
	}
	r.observer.ObserveRun(outcome, d)
}

// LogValue lets a Request be logged without dumping the script or pixels.
func (req Request) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", req.Name),
		slog.Int("script_bytes", len(req.Script)),
		slog.Int("params", len(req.Params)),
		slog.Int("outputs", len(req.Outputs)),
		slog.Bool("headless", req.Headless),
	)
}
