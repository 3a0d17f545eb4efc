package script

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"ijscript/ndarray"
)

var (
	ErrUnsupportedType = errors.New("script: unsupported type")
	ErrInvalidName     = errors.New("script: invalid name")
	ErrDuplicateName   = errors.New("script: duplicate name")
)

// Param is a named value passed into a script, either as a typed argument
// or, for KindImage, as an image loaded from a temporary file.
type Param struct {
	Name  string
	Kind  Kind
	value any
}

func String(name, v string) Param       { return Param{Name: name, Kind: KindString, value: v} }
func Bool(name string, v bool) Param     { return Param{Name: name, Kind: KindBoolean, value: v} }
func Int(name string, v int) Param       { return Param{Name: name, Kind: KindInteger, value: v} }
func Float(name string, v float32) Param { return Param{Name: name, Kind: KindFloat, value: v} }
func Double(name string, v float64) Param {
	return Param{Name: name, Kind: KindDouble, value: v}
}

func Image(name string, a *ndarray.Array) Param {
	return Param{Name: name, Kind: KindImage, value: a}
}

// ParamOf picks the parameter kind from the dynamic type of v.
func ParamOf(name string, v any) (Param, error) {
	switch x := v.(type) {
	case string:
		return String(name, x), nil
	case bool:
		return Bool(name, x), nil
	case int:
		return Int(name, x), nil
	case int32:
		return Int(name, int(x)), nil
	case int64:
		return Int(name, int(x)), nil
	case float32:
		return Float(name, x), nil
	case float64:
		return Double(name, x), nil
	case *ndarray.Array:
		if x == nil {
			break
		}
		return Image(name, x), nil
	}
	return Param{}, fmt.Errorf("%w: parameter %q has type %T", ErrUnsupportedType, name, v)
}

// ParseParam builds a scalar parameter from its textual form.
func ParseParam(name string, kind Kind, raw string) (Param, error) {
	switch kind {
	case KindString:
		return String(name, raw), nil
	case KindBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Param{}, fmt.Errorf("parameter %q: %w", name, err)
		}
		return Bool(name, b), nil
	case KindInteger:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Param{}, fmt.Errorf("parameter %q: %w", name, err)
		}
		return Int(name, n), nil
	case KindFloat:
		f, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return Param{}, fmt.Errorf("parameter %q: %w", name, err)
		}
		return Float(name, float32(f)), nil
	case KindDouble:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Param{}, fmt.Errorf("parameter %q: %w", name, err)
		}
		return Double(name, f), nil
	}
	return Param{}, fmt.Errorf("%w: parameter %q cannot be parsed as %s", ErrUnsupportedType, name, kind)
}

// Array returns the image of a KindImage parameter, nil otherwise.
func (p Param) Array() *ndarray.Array {
	a, _ := p.value.(*ndarray.Array)
	return a
}

// Literal is the string form sent in the argument list.
func (p Param) Literal() (string, error) {
	switch v := p.value.(type) {
	case string:
		if p.Kind == KindString {
			return v, nil
		}
	case bool:
		if p.Kind == KindBoolean {
			return strconv.FormatBool(v), nil
		}
	case int:
		if p.Kind == KindInteger {
			return strconv.Itoa(v), nil
		}
	case float32:
		if p.Kind == KindFloat {
			return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
		}
	case float64:
		if p.Kind == KindDouble {
			return strconv.FormatFloat(v, 'g', -1, 64), nil
		}
	}
	return "", fmt.Errorf("%w: parameter %q of kind %s", ErrUnsupportedType, p.Name, p.Kind)
}

// Output declares a value the script is expected to produce.
type Output struct {
	Name string
	Kind Kind
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ServiceName is the ImageJ gateway variable declared by Preamble. Every
// load and save goes through it, so no parameter or output may shadow it.
const ServiceName = "ij"

// Validate checks names are usable as script variables and unique within
// params and within outputs. A name may appear once on each side.
func Validate(params []Param, outputs []Output) error {
	seen := make(map[string]struct{}, len(params))
	for _, p := range params {
		if err := checkName(p.Name, seen); err != nil {
			return fmt.Errorf("parameter: %w", err)
		}
		if p.Kind == KindImage && p.Array() == nil {
			return fmt.Errorf("%w: image parameter %q has no array", ErrUnsupportedType, p.Name)
		}
	}
	seen = make(map[string]struct{}, len(outputs))
	for _, o := range outputs {
		if err := checkName(o.Name, seen); err != nil {
			return fmt.Errorf("output: %w", err)
		}
		if o.Kind != KindImage && !o.Kind.Scalar() {
			return fmt.Errorf("%w: output %q of kind %s", ErrUnsupportedType, o.Name, o.Kind)
		}
	}
	return nil
}

func checkName(name string, seen map[string]struct{}) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if name == ServiceName {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	if _, dup := seen[name]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	seen[name] = struct{}{}
	return nil
}
