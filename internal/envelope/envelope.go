// Package envelope is the msgpack wire format shared with the scripting
// server: one request map per exchange, answered by one flat string map.
package envelope

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	ExceptionKey  = "__exception__"
	StackTraceKey = "stacktrace"
)

var ErrMalformed = errors.New("envelope: malformed response")

// Request is what the server reads as Map<String, String>.
type Request struct {
	Name     *string `msgpack:"name"`
	Code     string  `msgpack:"code"`
	Args     string  `msgpack:"args"`
	Headless string  `msgpack:"headless"`
}

// NewRequest fills Headless with "True" or "False"; an empty name is sent as nil.
func NewRequest(name, code, args string, headless bool) Request {
	r := Request{Code: code, Args: args, Headless: "False"}
	if name != "" {
		r.Name = &name
	}
	if headless {
		r.Headless = "True"
	}
	return r
}

func EncodeRequest(r Request) ([]byte, error) {
	b, err := msgpack.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode request: %w", err)
	}
	return b, nil
}

func DecodeRequest(b []byte) (Request, error) {
	var r Request
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("envelope: decode request: %w", err)
	}
	return r, nil
}

// Field is one response entry. A nil Value is a msgpack nil.
type Field struct {
	Key   string
	Value *string
}

// Response keeps fields in the order the server wrote them.
type Response struct {
	Fields []Field
}

// Lookup returns the value for key and whether the key was present.
func (r Response) Lookup(key string) (*string, bool) {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Exception reports a remote failure. The message may be empty when the
// server had none to give.
func (r Response) Exception() (msg, stack string, ok bool) {
	v, ok := r.Lookup(ExceptionKey)
	if !ok {
		return "", "", false
	}
	if v != nil {
		msg = *v
	}
	if s, _ := r.Lookup(StackTraceKey); s != nil {
		stack = *s
	}
	return msg, stack, true
}

// Map flattens the response; nil values become absent keys.
func (r Response) Map() map[string]string {
	m := make(map[string]string, len(r.Fields))
	for _, f := range r.Fields {
		if f.Value != nil {
			m[f.Key] = *f.Value
		}
	}
	return m
}

// DecodeResponse reads a msgpack map. Keys and values may be str or bin;
// other scalar values are rendered with fmt.
func DecodeResponse(b []byte) (Response, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	n, err := dec.DecodeMapLen()
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if n < 0 {
		return Response{}, fmt.Errorf("%w: nil map", ErrMalformed)
	}
	resp := Response{Fields: make([]Field, 0, n)}
	for i := 0; i < n; i++ {
		k, err := dec.DecodeInterface()
		if err != nil {
			return Response{}, fmt.Errorf("%w: key %d: %v", ErrMalformed, i, err)
		}
		key, ok := text(k)
		if !ok || key == nil {
			return Response{}, fmt.Errorf("%w: key %d has type %T", ErrMalformed, i, k)
		}
		v, err := dec.DecodeInterface()
		if err != nil {
			return Response{}, fmt.Errorf("%w: value for %q: %v", ErrMalformed, *key, err)
		}
		val, ok := text(v)
		if !ok {
			s := fmt.Sprint(v)
			val = &s
		}
		resp.Fields = append(resp.Fields, Field{Key: *key, Value: val})
	}
	return resp, nil
}

func text(v any) (*string, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case string:
		return &x, true
	case []byte:
		s := string(x)
		return &s, true
	}
	return nil, false
}

// EncodeResponse writes fields in order, the way the server does.
func EncodeResponse(r Response) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(len(r.Fields)); err != nil {
		return nil, err
	}
	for _, f := range r.Fields {
		if err := enc.EncodeString(f.Key); err != nil {
			return nil, err
		}
		var err error
		if f.Value == nil {
			err = enc.EncodeNil()
		} else {
			err = enc.EncodeString(*f.Value)
		}
		if err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Fields is a convenience for building a Response from key/value pairs.
func Fields(kv ...string) Response {
	r := Response{Fields: make([]Field, 0, len(kv)/2)}
	for i := 0; i+1 < len(kv); i += 2 {
		v := kv[i+1]
		r.Fields = append(r.Fields, Field{Key: kv[i], Value: &v})
	}
	return r
}
