package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ijscript/client"
	"ijscript/internal/config"
	"ijscript/internal/imagefile"
	"ijscript/internal/logging"
	"ijscript/internal/spec"
	"ijscript/internal/telemetry"
	"ijscript/ndarray"
	"ijscript/script"
)

type Engine struct {
	cfg     config.Client
	runner  *client.ScriptRunner
	metrics *telemetry.Metrics
}

func (e *Engine) Runner() *client.ScriptRunner { return e.runner }

func (e *Engine) Metrics() *telemetry.Metrics { return e.metrics }

// RunJob loads the job's input images, runs it and saves image outputs that
// name a file. A remote exception is returned in the Result, not as an error.
func (e *Engine) RunJob(ctx context.Context, job spec.Job) (*client.Result, error) {
	req, err := e.Request(job)
	if err != nil {
		return nil, err
	}
	res, err := e.runner.Run(ctx, req)
	if err != nil || res.Failed() {
		return res, err
	}
	for _, o := range job.Outputs {
		if o.File == "" {
			continue
		}
		a, err := res.Array(o.Name)
		if err != nil {
			return res, fmt.Errorf("output %s: %w", o.Name, err)
		}
		if err := SaveArray(o.File, a, ""); err != nil {
			return res, fmt.Errorf("output %s: %w", o.Name, err)
		}
		logging.L().Info("saved output image", "name", o.Name, "file", o.File, "shape", a.Shape())
	}
	return res, nil
}

// Request translates a job into a client request.
func (e *Engine) Request(job spec.Job) (client.Request, error) {
	req := client.Request{
		Script:   job.Script,
		Name:     job.Name,
		Headless: e.cfg.Headless,
		Axes:     job.Axes,
		Timeout:  time.Duration(job.TimeoutMS) * time.Millisecond,
	}
	if job.Headless != nil {
		req.Headless = *job.Headless
	}
	if req.Axes == "" {
		req.Axes = e.cfg.Axes
	}
	for _, p := range job.Params {
		kind, err := script.ParseKind(p.Type)
		if err != nil {
			return req, fmt.Errorf("param %s: %w", p.Name, err)
		}
		if kind != script.KindImage {
			sp, err := script.ParseParam(p.Name, kind, p.Value)
			if err != nil {
				return req, err
			}
			req.Params = append(req.Params, sp)
			continue
		}
		if p.File == "" {
			return req, fmt.Errorf("param %s: image needs a file", p.Name)
		}
		a, err := LoadArray(p.File)
		if err != nil {
			return req, fmt.Errorf("param %s: %w", p.Name, err)
		}
		req.Params = append(req.Params, script.Image(p.Name, a))
	}
	for _, o := range job.Outputs {
		kind, err := script.ParseKind(o.Type)
		if err != nil {
			return req, fmt.Errorf("output %s: %w", o.Name, err)
		}
		if o.File != "" && kind != script.KindImage {
			return req, fmt.Errorf("output %s: only image outputs can be saved to a file", o.Name)
		}
		req.Outputs = append(req.Outputs, script.Output{Name: o.Name, Kind: kind})
	}
	return req, nil
}

// Close pushes metrics when a Pushgateway is configured and disconnects.
func (e *Engine) Close() error {
	var errs []error
	if url := e.cfg.Metrics.PushURL; url != "" {
		if err := e.metrics.Push(url, e.cfg.Metrics.Job); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.runner.Disconnect(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func isTIFF(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return true
	}
	return false
}

// LoadArray reads TIFFs with the hyperstack codec and other formats through imaging.
func LoadArray(path string) (*ndarray.Array, error) {
	if isTIFF(path) {
		a, _, err := imagefile.ReadFile(path)
		return a, err
	}
	return imagefile.LoadImage(path)
}

// SaveArray is the counterpart of LoadArray; parent directories are created.
// Axes too short for a are replaced by XYCZT.
func SaveArray(path string, a *ndarray.Array, axes string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if len(axes) < a.NDim() {
		axes = "XYCZT"
	}
	if isTIFF(path) {
		return imagefile.WriteFile(path, a, imagefile.Metadata{Axes: axes})
	}
	return imagefile.SaveImage(path, a)
}
