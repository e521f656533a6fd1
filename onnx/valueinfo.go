package onnx

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"k8s.io/klog/v2"
)

// ValueInfo is the metadata of a named tensor.
type ValueInfo struct {
	Name   string
	Shape  Shape
	DType  dtypes.DType
	Origin Origin
}

// String implements fmt.Stringer.
func (vi ValueInfo) String() string {
	return fmt.Sprintf("%s: %s%s [%s]", vi.Name, vi.DType, vi.Shape, vi.Origin)
}

// ValueInfoStore holds the one value-info record of each tensor name, in registration order.
//
// Shapes follow a refinement policy: a later registration only replaces the recorded shape if it is more
// specific (see IsMoreSpecific). The dtype and origin of the latest registration win, unless they are not set.
type ValueInfoStore struct {
	records   map[string]*ValueInfo
	order     []string
	overrides map[string]Shape
}

// NewValueInfoStore creates an empty store.
func NewValueInfoStore() *ValueInfoStore {
	return &ValueInfoStore{
		records:   make(map[string]*ValueInfo),
		overrides: make(map[string]Shape),
	}
}

// SetShapeOverrides sets shapes (usually symbolic ones, known to the tracer) that take precedence over the
// shapes given to Register for the same names.
func (s *ValueInfoStore) SetShapeOverrides(overrides map[string]Shape) {
	s.overrides = make(map[string]Shape, len(overrides))
	for name, shape := range overrides {
		s.overrides[name] = shape.Clone()
	}
}

// Register records (or refines) the metadata of name and returns the resulting record.
func (s *ValueInfoStore) Register(name string, shape Shape, dtype dtypes.DType, origin Origin) ValueInfo {
	if override, found := s.overrides[name]; found {
		shape = override
	}
	vi, found := s.records[name]
	if !found {
		vi = &ValueInfo{Name: name, Shape: shape.Clone(), DType: dtype, Origin: origin}
		s.records[name] = vi
		s.order = append(s.order, name)
		return *vi
	}
	if IsMoreSpecific(vi.Shape, shape) {
		klog.V(2).Infof("value-info %q: shape %s refined to %s", name, vi.Shape, shape)
		vi.Shape = shape.Clone()
	}
	if dtype != dtypes.InvalidDType {
		vi.DType = dtype
	}
	if origin != "" {
		vi.Origin = origin
	}
	return *vi
}

// Replace overwrites the record of name, bypassing the refinement policy and the shape overrides. It is used for
// tensors whose value is known (initializers and constants).
func (s *ValueInfoStore) Replace(name string, shape Shape, dtype dtypes.DType, origin Origin) ValueInfo {
	vi, found := s.records[name]
	if !found {
		vi = &ValueInfo{Name: name}
		s.records[name] = vi
		s.order = append(s.order, name)
	} else if !vi.Shape.Equal(shape) {
		klog.V(2).Infof("value-info %q: shape %s replaced by %s", name, vi.Shape, shape)
	}
	vi.Shape = shape.Clone()
	vi.DType = dtype
	vi.Origin = origin
	return *vi
}

// Lookup returns the record for name.
func (s *ValueInfoStore) Lookup(name string) (ValueInfo, bool) {
	vi, found := s.records[name]
	if !found {
		return ValueInfo{}, false
	}
	return *vi, true
}

// Has returns whether name has a record.
func (s *ValueInfoStore) Has(name string) bool {
	_, found := s.records[name]
	return found
}

// Names returns the recorded names, in registration order.
func (s *ValueInfoStore) Names() []string {
	return append([]string(nil), s.order...)
}

// Len returns the number of records.
func (s *ValueInfoStore) Len() int {
	return len(s.order)
}

// Reset removes all records. Shape overrides are kept.
func (s *ValueInfoStore) Reset() {
	s.records = make(map[string]*ValueInfo)
	s.order = nil
}
