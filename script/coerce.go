package script

import (
	"fmt"
	"strconv"
)

// Null is the host's rendering of a missing value.
const Null = "null"

// Coerce converts a raw response value to the Go type of kind:
// string, bool, int, float32 or float64. A nil raw value or the literal
// "null" yields present == false.
func Coerce(kind Kind, raw *string) (v any, present bool, err error) {
	if raw == nil || *raw == Null {
		return nil, false, nil
	}
	s := *raw
	switch kind {
	case KindString:
		return s, true, nil
	case KindBoolean:
		v, err = strconv.ParseBool(s)
	case KindInteger:
		v, err = strconv.Atoi(s)
	case KindFloat:
		var f float64
		f, err = strconv.ParseFloat(s, 32)
		v = float32(f)
	case KindDouble:
		v, err = strconv.ParseFloat(s, 64)
	default:
		return nil, false, fmt.Errorf("%w: cannot coerce to %s", ErrUnsupportedType, kind)
	}
	if err != nil {
		return nil, false, fmt.Errorf("coerce %q to %s: %w", s, kind, err)
	}
	return v, true, nil
}
