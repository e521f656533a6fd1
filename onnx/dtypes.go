package onnx

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/trace2onnx/internal/protos"
	"github.com/pkg/errors"
)

// onnxDTypes maps the GoMLX dtypes supported by the builder to their ONNX counterpart.
var onnxDTypes = map[dtypes.DType]protos.TensorProto_DataType{
	dtypes.Float32:    protos.TensorProto_FLOAT,
	dtypes.Float16:    protos.TensorProto_FLOAT16,
	dtypes.BFloat16:   protos.TensorProto_BFLOAT16,
	dtypes.Float64:    protos.TensorProto_DOUBLE,
	dtypes.Int32:      protos.TensorProto_INT32,
	dtypes.Int64:      protos.TensorProto_INT64,
	dtypes.Uint8:      protos.TensorProto_UINT8,
	dtypes.Int8:       protos.TensorProto_INT8,
	dtypes.Int16:      protos.TensorProto_INT16,
	dtypes.Uint16:     protos.TensorProto_UINT16,
	dtypes.Uint32:     protos.TensorProto_UINT32,
	dtypes.Uint64:     protos.TensorProto_UINT64,
	dtypes.Bool:       protos.TensorProto_BOOL,
	dtypes.Complex64:  protos.TensorProto_COMPLEX64,
	dtypes.Complex128: protos.TensorProto_COMPLEX128,
}

var gomlxDTypes = func() map[protos.TensorProto_DataType]dtypes.DType {
	m := make(map[protos.TensorProto_DataType]dtypes.DType, len(onnxDTypes))
	for dtype, onnxDType := range onnxDTypes {
		m[onnxDType] = dtype
	}
	return m
}()

// DTypeToONNX converts a GoMLX dtype to the ONNX element type.
func DTypeToONNX(dtype dtypes.DType) (protos.TensorProto_DataType, error) {
	onnxDType, found := onnxDTypes[dtype]
	if !found {
		return protos.TensorProto_UNDEFINED, errors.Errorf("dtype %s has no ONNX equivalent", dtype)
	}
	return onnxDType, nil
}

// dtypeForONNX converts an ONNX data type to a GoMLX data type.
func dtypeForONNX(onnxDType protos.TensorProto_DataType) (dtypes.DType, error) {
	dtype, found := gomlxDTypes[onnxDType]
	if !found {
		return dtypes.InvalidDType, errors.Errorf("unsupported/unknown ONNX data type %s", onnxDType)
	}
	return dtype, nil
}
