package onnx

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/trace2onnx/internal/protos"
	"github.com/pkg/errors"
)

// ShapeOf returns the (concrete) Shape of a GoMLX tensor.
func ShapeOf(t *tensors.Tensor) Shape {
	return Dims(t.Shape().Dimensions...)
}

// gomlxShape converts the ONNX data type and shape of a tensor to a GoMLX shapes.Shape (it includes the dtype).
func gomlxShape(proto *protos.TensorProto) (shape shapes.Shape, err error) {
	if proto == nil {
		err = errors.New("ONNX TensorProto is nil")
		return
	}
	dtype, err := dtypeForONNX(protos.TensorProto_DataType(proto.DataType))
	if err != nil {
		return
	}
	dims := make([]int, len(proto.Dims))
	for axis, dim := range proto.Dims {
		dims[axis] = int(dim)
	}
	return shapes.Make(dtype, dims...), nil
}

// TensorToONNX converts a GoMLX tensor to an ONNX TensorProto, with the values stored as raw data.
func TensorToONNX(name string, t *tensors.Tensor) (*protos.TensorProto, error) {
	onnxDType, err := DTypeToONNX(t.DType())
	if err != nil {
		return nil, errors.WithMessagef(err, "while converting tensor %q", name)
	}
	dims := t.Shape().Dimensions
	proto := &protos.TensorProto{
		Name:     name,
		DataType: int32(onnxDType),
		Dims:     make([]int64, len(dims)),
	}
	for axis, dim := range dims {
		proto.Dims[axis] = int64(dim)
	}
	err = t.ConstBytes(func(data []byte) {
		proto.RawData = make([]byte, len(data))
		copy(proto.RawData, data)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading bytes of tensor %q", name)
	}
	return proto, nil
}

// checkAndCreateTensor implements the generic check and copy of the ONNX proto data to a tensor for the supported data type.
func checkAndCreateTensor[T interface {
	float32 | float64 | int32 | int64 | uint64
}](proto *protos.TensorProto, onnxData []T, shape shapes.Shape) (*tensors.Tensor, error) {
	if onnxData == nil {
		// Not this type of data.
		return nil, nil
	}
	if shape.DType != dtypes.FromGenericsType[T]() {
		return nil, errors.Errorf("tensor %q shaped %s provided data as %T!?", proto.Name, shape, onnxData)
	}
	if len(onnxData) != shape.Size() {
		return nil, errors.Errorf("tensor %q shaped %s has size %d , but the proto has %d values!?",
			proto.Name, shape, shape.Size(), len(onnxData))
	}
	return tensors.FromFlatDataAndDimensions[T](onnxData, shape.Dimensions...), nil
}

// tensorToGoMLX converts a protos.TensorProto back to a tensors.Tensor.
func tensorToGoMLX(proto *protos.TensorProto) (t *tensors.Tensor, err error) {
	var shape shapes.Shape
	shape, err = gomlxShape(proto)
	if err != nil {
		err = errors.WithMessagef(err, "while parsing tensor %q", proto.Name)
		return
	}

	if proto.RawData != nil {
		t = tensors.FromShape(shape)
		var copyErr error
		err = t.MutableBytes(func(data []byte) {
			if len(data) != len(proto.RawData) {
				copyErr = errors.Errorf("tensor %q shaped %s uses %d bytes, but the proto has %d bytes of raw-data!?",
					proto.Name, shape, len(data), len(proto.RawData))
				return
			}
			copy(data, proto.RawData)
		})
		if err == nil {
			err = copyErr
		}
		if err != nil {
			return nil, err
		}
		return
	}

	// Tries each typed field.
	t, err = checkAndCreateTensor(proto, proto.FloatData, shape)
	if t != nil || err != nil {
		return
	}
	t, err = checkAndCreateTensor(proto, proto.DoubleData, shape)
	if t != nil || err != nil {
		return
	}
	t, err = checkAndCreateTensor(proto, proto.Int32Data, shape)
	if t != nil || err != nil {
		return
	}
	t, err = checkAndCreateTensor(proto, proto.Int64Data, shape)
	if t != nil || err != nil {
		return
	}
	t, err = checkAndCreateTensor(proto, proto.Uint64Data, shape)
	if t != nil || err != nil {
		return
	}
	return nil, errors.Errorf("tensor %q shaped %s has no supported format of data!?", proto.Name, shape)
}

// shapeToONNX converts the shape to ONNX dimensions, naming symbolic dimensions through the registry.
func shapeToONNX(shape Shape, symbols *SymbolRegistry) *protos.TensorShapeProto {
	proto := &protos.TensorShapeProto{Dim: make([]*protos.TensorShapeProto_Dimension, len(shape))}
	for axis, d := range shape {
		dim := &protos.TensorShapeProto_Dimension{}
		value, name := symbols.Canonicalize(d)
		switch {
		case value >= 0:
			dim.Value = &protos.TensorShapeProto_Dimension_DimValue{DimValue: int64(value)}
		case name != "":
			dim.Value = &protos.TensorShapeProto_Dimension_DimParam{DimParam: name}
		}
		proto.Dim[axis] = dim
	}
	return proto
}

// valueInfoToONNX converts a value-info record to its ONNX proto.
func valueInfoToONNX(vi ValueInfo, symbols *SymbolRegistry) (*protos.ValueInfoProto, error) {
	onnxDType, err := DTypeToONNX(vi.DType)
	if err != nil {
		return nil, errors.WithMessagef(err, "value-info of %q", vi.Name)
	}
	proto := &protos.ValueInfoProto{
		Name: vi.Name,
		Type: &protos.TypeProto{Value: &protos.TypeProto_TensorType{TensorType: &protos.TypeProto_Tensor{
			ElemType: int32(onnxDType),
			Shape:    shapeToONNX(vi.Shape, symbols),
		}}},
	}
	if vi.Origin != "" {
		proto.DocString = "origin: " + string(vi.Origin)
	}
	return proto, nil
}
