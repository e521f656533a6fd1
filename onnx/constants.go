package onnx

import (
	"math"
	"reflect"

	"fortio.org/safecast"
	"github.com/chewxy/math32"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// AddConstant interns the value as a constant tensor and returns its (new) name.
//
// The value can be a Go scalar, a (multi-dimensional) slice or a *tensors.Tensor. The dtype is chosen as follows:
//
//   - Go `int` values become Int32 if they all fit and double precision is disabled, Int64 otherwise.
//   - Floating point values become Float32, or Float64 if Config.EnableDoublePrecision is set.
//   - Other dtypes (bool, sized integers) are kept.
//
// Main graph and subgraph builders emit an initializer; function builders emit a Constant node.
//
// It panics (with an error) if the value is not supported.
func (b *Builder) AddConstant(value any) string {
	b.checkOpen("add constant")
	t := b.constantTensor(value)
	name := b.names.Get("const")
	b.addTensor(name, t, OriginConstant)
	return name
}

// AddInitializer adds the tensor as an initializer (e.g. a model weight) with the given name, and returns the name.
// An existing initializer with the same name is replaced. The tensor dtype is kept as is.
func (b *Builder) AddInitializer(name string, t *tensors.Tensor) string {
	b.checkOpen("add initializer " + name)
	b.names.Reserve(name)
	b.addTensor(name, t, OriginInitializer)
	return name
}

// ConstantValue returns the value of a constant or initializer created by AddConstant or AddInitializer.
func (b *Builder) ConstantValue(name string) (*tensors.Tensor, error) {
	if proto, found := b.constantNodes[name]; found {
		return tensorToGoMLX(proto)
	}
	for _, proto := range b.initializers {
		if proto.Name == name {
			return tensorToGoMLX(proto)
		}
	}
	return nil, errors.Errorf("%q is not a constant of this builder", name)
}

func (b *Builder) isInitializer(name string) bool {
	for _, proto := range b.initializers {
		if proto.Name == name {
			return true
		}
	}
	return false
}

// addTensor stores the tensor as an initializer or, for function bodies, as a Constant node.
func (b *Builder) addTensor(name string, t *tensors.Tensor, origin Origin) {
	proto, err := TensorToONNX(name, t)
	if err != nil {
		panic(err)
	}
	vi := b.values.Replace(name, ShapeOf(t), t.DType(), origin)
	b.symbols.RegisterShapeOrigins(name, vi.Shape)
	if b.kind == functionBody {
		b.constantNodes[name] = proto
		b.Op("Constant", nil, []string{name}, AttrTensor("value", t))
		return
	}
	for ii, existing := range b.initializers {
		if existing.Name == name {
			klog.V(1).Infof("initializer %q replaced", name)
			b.initializers[ii] = proto
			return
		}
	}
	b.initializers = append(b.initializers, proto)
}

// constantTensor converts a host value to a tensor, applying the dtype narrowing rules of AddConstant.
func (b *Builder) constantTensor(value any) *tensors.Tensor {
	if t, ok := value.(*tensors.Tensor); ok {
		return b.adjustFloatPrecision(t)
	}
	t := tensors.FromAnyValue(value)
	if isGoInt(value) {
		return b.narrowInts(t)
	}
	return b.adjustFloatPrecision(t)
}

// isGoInt returns whether the value is an `int` or a (multi-dimensional) slice of `int`.
func isGoInt(value any) bool {
	t := reflect.TypeOf(value)
	for t != nil && (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) {
		t = t.Elem()
	}
	return t != nil && t.Kind() == reflect.Int
}

// narrowInts converts Int64 tensors created from Go `int` values to Int32, if all values fit.
func (b *Builder) narrowInts(t *tensors.Tensor) *tensors.Tensor {
	if b.config.EnableDoublePrecision || t.DType() != dtypes.Int64 {
		return t
	}
	flat := tensors.MustCopyFlatData[int64](t)
	narrowed := make([]int32, len(flat))
	for ii, v := range flat {
		n, err := safecast.Conv[int32](v)
		if err != nil {
			return t
		}
		narrowed[ii] = n
	}
	return tensors.FromFlatDataAndDimensions(narrowed, t.Shape().Dimensions...)
}

// adjustFloatPrecision converts floating point tensors to the working float dtype: Float32, or Float64 with double
// precision enabled.
func (b *Builder) adjustFloatPrecision(t *tensors.Tensor) *tensors.Tensor {
	dtype := t.DType()
	if !dtype.IsFloat() {
		return t
	}
	dims := t.Shape().Dimensions
	if b.config.EnableDoublePrecision {
		if dtype == dtypes.Float64 {
			return t
		}
		return tensors.FromFlatDataAndDimensions(toFloat64(floatsAsFloat32(t)), dims...)
	}
	if dtype == dtypes.Float32 {
		return t
	}
	return tensors.FromFlatDataAndDimensions(floatsAsFloat32(t), dims...)
}

// floatsAsFloat32 returns the flat values of a floating point tensor as float32. Values that overflow float32 are
// logged.
func floatsAsFloat32(t *tensors.Tensor) []float32 {
	var values []float32
	switch t.DType() {
	case dtypes.Float32:
		values = tensors.MustCopyFlatData[float32](t)
	case dtypes.Float64:
		flat := tensors.MustCopyFlatData[float64](t)
		values = make([]float32, len(flat))
		overflows := 0
		for ii, v := range flat {
			values[ii] = float32(v)
			if math32.IsInf(values[ii], 0) && !math.IsInf(v, 0) {
				overflows++
			}
		}
		if overflows > 0 {
			klog.Warningf("%d float64 constant value(s) overflow float32 and were converted to infinity", overflows)
		}
	case dtypes.Float16:
		flat := tensors.MustCopyFlatData[float16.Float16](t)
		values = make([]float32, len(flat))
		for ii, v := range flat {
			values[ii] = v.Float32()
		}
	case dtypes.BFloat16:
		flat := tensors.MustCopyFlatData[bfloat16.BFloat16](t)
		values = make([]float32, len(flat))
		for ii, v := range flat {
			values[ii] = v.Float32()
		}
	default:
		panic(errors.Errorf("unsupported float dtype %s for constants", t.DType()))
	}
	return values
}

func toFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for ii, v := range values {
		out[ii] = float64(v)
	}
	return out
}
