package onnx

import (
	"strings"

	"github.com/gomlx/exceptions"
)

// Shape is the list of dimensions of a tensor. A scalar has an empty (or nil) Shape.
type Shape []Dim

// Dims is a shortcut to create a Shape from integers. Negative values are unknown dimensions.
func Dims(dimensions ...int) Shape {
	s := make(Shape, len(dimensions))
	for axis, dim := range dimensions {
		s[axis] = Concrete(dim)
	}
	return s
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int { return len(s) }

// IsScalar returns whether the shape has rank 0.
func (s Shape) IsScalar() bool { return len(s) == 0 }

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	return append(Shape{}, s...)
}

// Equal compares the shapes dimension by dimension, see Dim.Equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for axis, d := range s {
		if !d.Equal(other[axis]) {
			return false
		}
	}
	return true
}

// IsConcrete returns whether all dimensions are concrete.
func (s Shape) IsConcrete() bool {
	for _, d := range s {
		if !d.IsConcrete() {
			return false
		}
	}
	return true
}

// ConcreteDims returns the dimensions as integers. It returns false if any of them is not concrete.
func (s Shape) ConcreteDims() ([]int, bool) {
	dims := make([]int, len(s))
	for axis, d := range s {
		if !d.IsConcrete() {
			return nil, false
		}
		dims[axis] = d.value
	}
	return dims, true
}

// Size returns the number of elements of the shape. It returns false if any dimension is not concrete.
func (s Shape) Size() (int, bool) {
	size := 1
	for _, d := range s {
		if !d.IsConcrete() {
			return 0, false
		}
		size *= d.value
	}
	return size, true
}

// MustSize is like Size, but it panics (with an exception) if the shape is not concrete.
func (s Shape) MustSize() int {
	size, ok := s.Size()
	if !ok {
		exceptions.Panicf("cannot make shape %s concrete", s)
	}
	return size
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	parts := make([]string, len(s))
	for axis, d := range s {
		parts[axis] = d.String()
	}
	return formatDims(parts)
}

func formatDims(parts []string) string {
	return "(" + strings.Join(parts, ", ") + ")"
}

// IsMoreSpecific returns whether newShape carries more information than oldShape, in which case it should
// replace it: either the ranks differ, or some dimension unknown in oldShape is known (concrete or symbolic)
// in newShape.
func IsMoreSpecific(oldShape, newShape Shape) bool {
	if len(oldShape) != len(newShape) {
		return true
	}
	for axis, oldDim := range oldShape {
		if oldDim.IsUnknown() && !newShape[axis].IsUnknown() {
			return true
		}
	}
	return false
}
