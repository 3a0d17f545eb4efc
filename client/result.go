package client

import (
	"errors"
	"fmt"

	"ijscript/ndarray"
	"ijscript/script"
)

var (
	ErrNoOutput   = errors.New("client: no such output")
	ErrOutputType = errors.New("client: output has a different type")
)

// RemoteException is an exception thrown by the script on the server.
type RemoteException struct {
	Message    string
	StackTrace string
	// Raw is the complete reply envelope.
	Raw map[string]string
}

func (e *RemoteException) Error() string {
	if e.Message == "" {
		return "remote script exception"
	}
	return "remote script exception: " + e.Message
}

type entry struct {
	key     string
	kind    script.Kind
	value   any
	present bool
}

// Result holds the outputs of one run in declaration order. A declared
// output whose value came back null is listed by Keys but not present.
type Result struct {
	entries   []entry
	index     map[string]int
	exception *RemoteException
}

func newResult() *Result { return &Result{index: map[string]int{}} }

func (r *Result) add(key string, kind script.Kind, v any, present bool) {
	if i, ok := r.index[key]; ok {
		r.entries[i] = entry{key, kind, v, present}
		return
	}
	r.index[key] = len(r.entries)
	r.entries = append(r.entries, entry{key, kind, v, present})
}

// Failed reports whether the remote script raised an exception.
func (r *Result) Failed() bool { return r.exception != nil }

// Exception is the remote failure, or nil.
func (r *Result) Exception() *RemoteException { return r.exception }

// Err returns the remote failure as an error, or nil.
func (r *Result) Err() error {
	if r.exception == nil {
		return nil
	}
	return r.exception
}

func (r *Result) Keys() []string {
	keys := make([]string, len(r.entries))
	for i, e := range r.entries {
		keys[i] = e.key
	}
	return keys
}

func (r *Result) Len() int { return len(r.entries) }

// Kind is the declared kind of key. Undeclared raw replies are KindString.
func (r *Result) Kind(key string) (script.Kind, bool) {
	i, ok := r.index[key]
	if !ok {
		return script.KindInvalid, false
	}
	return r.entries[i].kind, true
}

// Value returns the converted value and whether it is present.
func (r *Result) Value(key string) (any, bool) {
	i, ok := r.index[key]
	if !ok || !r.entries[i].present {
		return nil, false
	}
	return r.entries[i].value, true
}

// Map copies the present values.
func (r *Result) Map() map[string]any {
	m := make(map[string]any, len(r.entries))
	for _, e := range r.entries {
		if e.present {
			m[e.key] = e.value
		}
	}
	return m
}

func get[T any](r *Result, key string) (T, error) {
	var zero T
	v, ok := r.Value(key)
	if !ok {
		return zero, fmt.Errorf("%w: %q", ErrNoOutput, key)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q is %T, not %T", ErrOutputType, key, v, zero)
	}
	return t, nil
}

func (r *Result) String(key string) (string, error)   { return get[string](r, key) }
func (r *Result) Bool(key string) (bool, error)       { return get[bool](r, key) }
func (r *Result) Int(key string) (int, error)         { return get[int](r, key) }
func (r *Result) Float32(key string) (float32, error) { return get[float32](r, key) }
func (r *Result) Float64(key string) (float64, error) { return get[float64](r, key) }

func (r *Result) Array(key string) (*ndarray.Array, error) {
	return get[*ndarray.Array](r, key)
}
