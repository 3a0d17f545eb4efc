package script

import (
	"fmt"
	"strings"
)

// Kind tags a parameter or output. Every scalar kind maps to exactly one
// parameter type name understood by the remote host.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindBoolean
	KindInteger
	KindFloat
	KindDouble
	KindImage
)

var typeNames = map[Kind]string{
	KindString:  "String",
	KindBoolean: "Boolean",
	KindInteger: "Integer",
	KindFloat:   "Float",
	KindDouble:  "Double",
}

// TypeName is the name used in `// #@<TypeName> <key>` declarations.
// It is empty for images and invalid kinds.
func (k Kind) TypeName() string { return typeNames[k] }

// Scalar reports whether the kind travels as a script argument.
func (k Kind) Scalar() bool { return typeNames[k] != "" }

func (k Kind) String() string {
	switch {
	case k == KindImage:
		return "Image"
	case k.Scalar():
		return k.TypeName()
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ParseKind accepts a type name case-insensitively, plus a few common aliases
// (str, bool, int, float32, float64, array).
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "str":
		return KindString, nil
	case "boolean", "bool":
		return KindBoolean, nil
	case "integer", "int":
		return KindInteger, nil
	case "float", "float32":
		return KindFloat, nil
	case "double", "float64":
		return KindDouble, nil
	case "image", "array":
		return KindImage, nil
	}
	return KindInvalid, fmt.Errorf("%w: %q", ErrUnsupportedType, s)
}
