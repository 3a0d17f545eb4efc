package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ijscript/internal/spec"
)

// runFlags are the repeated flags of the run command.
type runFlags struct {
	name     string
	params   []string // name:Type=value
	images   []string // name=path
	outputs  []string // name:Type
	saves    []string // name=path
	headless bool
	axes     string
	timeout  int // ms
}

// splitPair cuts s at the first sep, requiring both sides.
func splitPair(s, sep, what string) (string, string, error) {
	k, v, ok := strings.Cut(s, sep)
	if !ok || k == "" {
		return "", "", fmt.Errorf("invalid %s %q", what, s)
	}
	return k, v, nil
}

// readScript reads the script body from a file or from stdin when path is "-".
func readScript(path string, stdin io.Reader) (body, name string, err error) {
	if path == "-" {
		b, err := io.ReadAll(stdin)
		return string(b), "", err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	return string(b), filepath.Base(path), nil
}

// job turns the run flags plus a script body into a job.
func (f runFlags) job(body, name string, headlessSet bool) (spec.Job, error) {
	job := spec.Job{
		SchemaVersion: "v1",
		Name:          name,
		Script:        body,
		Axes:          f.axes,
		TimeoutMS:     f.timeout,
	}
	if f.name != "" {
		job.Name = f.name
	}
	if headlessSet {
		h := f.headless
		job.Headless = &h
	}

	for _, p := range f.params {
		decl, value, err := splitPair(p, "=", "--param")
		if err != nil {
			return job, err
		}
		n, typ, err := splitPair(decl, ":", "--param")
		if err != nil {
			return job, err
		}
		job.Params = append(job.Params, spec.ParamSpec{Name: n, Type: typ, Value: value})
	}
	for _, p := range f.images {
		n, path, err := splitPair(p, "=", "--image")
		if err != nil {
			return job, err
		}
		job.Params = append(job.Params, spec.ParamSpec{Name: n, Type: "Image", File: path})
	}

	saves := map[string]string{}
	for _, s := range f.saves {
		n, path, err := splitPair(s, "=", "--save")
		if err != nil {
			return job, err
		}
		saves[n] = path
	}
	for _, o := range f.outputs {
		n, typ, err := splitPair(o, ":", "--output")
		if err != nil {
			return job, err
		}
		job.Outputs = append(job.Outputs, spec.OutputSpec{Name: n, Type: typ, File: saves[n]})
		delete(saves, n)
	}
	// --save without --output declares an image output
	for _, s := range f.saves {
		n, _, _ := strings.Cut(s, "=")
		if path, ok := saves[n]; ok {
			job.Outputs = append(job.Outputs, spec.OutputSpec{Name: n, Type: "Image", File: path})
			delete(saves, n)
		}
	}
	return job, nil
}

// parseTimeout accepts a Go duration; negative values disable the timeout.
func parseTimeout(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid --timeout %q: %w", s, err)
	}
	if d < 0 {
		d = 0
	}
	return d, nil
}
