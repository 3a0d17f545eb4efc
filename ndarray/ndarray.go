// Package ndarray holds the n-dimensional numeric arrays exchanged with the
// remote script host as images. Arrays are dense and row-major: the last
// dimension varies fastest, as with numpy's default layout.
package ndarray

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// DType is the element type of an Array.
type DType uint8

// Uint8, Uint16 and Float32 are the ImageJ hyperstack types. The others
// show up in images saved by ImageJ2 datasets.
const (
	Invalid DType = iota
	Uint8
	Uint16
	Float32
	Int8
	Int16
	Int32
	Uint32
	Float64
)

var dtypes = [...]struct {
	name string
	bits int
	min  float64
	max  float64
}{
	Uint8:   {"uint8", 8, 0, math.MaxUint8},
	Uint16:  {"uint16", 16, 0, math.MaxUint16},
	Float32: {"float32", 32, 0, 0},
	Int8:    {"int8", 8, math.MinInt8, math.MaxInt8},
	Int16:   {"int16", 16, math.MinInt16, math.MaxInt16},
	Int32:   {"int32", 32, math.MinInt32, math.MaxInt32},
	Uint32:  {"uint32", 32, 0, math.MaxUint32},
	Float64: {"float64", 64, 0, 0},
}

func (d DType) valid() bool { return d > Invalid && int(d) < len(dtypes) }

func (d DType) String() string {
	if !d.valid() {
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
	return dtypes[d].name
}

// Bits is the storage width of one element.
func (d DType) Bits() int {
	if !d.valid() {
		return 0
	}
	return dtypes[d].bits
}

// Float reports whether d is a floating point type.
func (d DType) Float() bool { return d == Float32 || d == Float64 }

// Signed reports whether d is a signed integer type.
func (d DType) Signed() bool { return d == Int8 || d == Int16 || d == Int32 }

var (
	ErrShape = errors.New("ndarray: invalid shape")
	ErrDType = errors.New("ndarray: invalid dtype")
)

// Array is a dense n-dimensional array. Values are held as float64, which
// represents every supported dtype exactly; Set clamps or rounds to the dtype.
type Array struct {
	dtype DType
	shape []int
	data  []float64
}

// New allocates a zero-filled array.
func New(dtype DType, shape ...int) (*Array, error) {
	if dtype.Bits() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDType, dtype)
	}
	n, err := size(shape)
	if err != nil {
		return nil, err
	}
	return &Array{dtype: dtype, shape: slices.Clone(shape), data: make([]float64, n)}, nil
}

// FromUint8 wraps data (copied) with the given shape.
func FromUint8(data []uint8, shape ...int) (*Array, error) {
	return from(Uint8, data, shape)
}

// FromUint16 wraps data (copied) with the given shape.
func FromUint16(data []uint16, shape ...int) (*Array, error) {
	return from(Uint16, data, shape)
}

// FromFloat32 wraps data (copied) with the given shape.
func FromFloat32(data []float32, shape ...int) (*Array, error) {
	return from(Float32, data, shape)
}

// FromInt16 wraps data (copied) with the given shape.
func FromInt16(data []int16, shape ...int) (*Array, error) {
	return from(Int16, data, shape)
}

// FromFloat64 wraps data (copied) with the given shape.
func FromFloat64(data []float64, shape ...int) (*Array, error) {
	return from(Float64, data, shape)
}

func from[T uint8 | uint16 | float32 | int16 | float64](dtype DType, data []T, shape []int) (*Array, error) {
	a, err := New(dtype, shape...)
	if err != nil {
		return nil, err
	}
	if len(data) != len(a.data) {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShape, len(data), shape)
	}
	for i, v := range data {
		a.data[i] = float64(v)
	}
	return a, nil
}

func size(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("%w: no dimensions", ErrShape)
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0, fmt.Errorf("%w: %v", ErrShape, shape)
		}
		n *= d
	}
	return n, nil
}

func (a *Array) DType() DType { return a.dtype }

// Shape returns a copy of the dimensions.
func (a *Array) Shape() []int { return slices.Clone(a.shape) }

// NDim is the number of dimensions.
func (a *Array) NDim() int { return len(a.shape) }

// Len is the total number of elements.
func (a *Array) Len() int { return len(a.data) }

// Values exposes the backing storage in row-major order. Writes through the
// returned slice bypass dtype clamping.
func (a *Array) Values() []float64 { return a.data }

func (a *Array) offset(idx []int) int {
	if len(idx) != len(a.shape) {
		panic(fmt.Sprintf("ndarray: %d indices for %d dimensions", len(idx), len(a.shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= a.shape[i] {
			panic(fmt.Sprintf("ndarray: index %v out of range for shape %v", idx, a.shape))
		}
		off = off*a.shape[i] + v
	}
	return off
}

// At returns the element at idx. It panics on a bad index, like slice access.
func (a *Array) At(idx ...int) float64 { return a.data[a.offset(idx)] }

// Set stores v at idx after converting it to the array's dtype.
func (a *Array) Set(v float64, idx ...int) { a.data[a.offset(idx)] = a.dtype.convert(v) }

func (d DType) convert(v float64) float64 {
	switch {
	case d == Float32:
		return float64(float32(v))
	case d == Float64 || !d.valid():
		return v
	}
	t := dtypes[d]
	return math.Round(math.Max(t.min, math.Min(t.max, v)))
}

// Reshape returns an array sharing a's storage with a new shape of equal size.
func (a *Array) Reshape(shape ...int) (*Array, error) {
	n, err := size(shape)
	if err != nil {
		return nil, err
	}
	if n != len(a.data) {
		return nil, fmt.Errorf("%w: cannot reshape %v into %v", ErrShape, a.shape, shape)
	}
	return &Array{dtype: a.dtype, shape: slices.Clone(shape), data: a.data}, nil
}

// Equal reports whether a and b have the same dtype, shape and values.
// NaN compares equal to NaN.
func (a *Array) Equal(b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.dtype != b.dtype || !slices.Equal(a.shape, b.shape) {
		return false
	}
	for i, v := range a.data {
		w := b.data[i]
		if v != w && !(math.IsNaN(v) && math.IsNaN(w)) {
			return false
		}
	}
	return true
}

func (a *Array) String() string {
	return fmt.Sprintf("ndarray(%s, shape=%v)", a.dtype, a.shape)
}
