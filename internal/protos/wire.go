package protos

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from onnx.proto.
const (
	modelIrVersion       protowire.Number = 1
	modelProducerName    protowire.Number = 2
	modelProducerVersion protowire.Number = 3
	modelDomain          protowire.Number = 4
	modelModelVersion    protowire.Number = 5
	modelDocString       protowire.Number = 6
	modelGraph           protowire.Number = 7
	modelOpsetImport     protowire.Number = 8
	modelMetadataProps   protowire.Number = 14
	modelFunctions       protowire.Number = 25

	opsetDomain  protowire.Number = 1
	opsetVersion protowire.Number = 2

	entryKey   protowire.Number = 1
	entryValue protowire.Number = 2

	graphNode        protowire.Number = 1
	graphName        protowire.Number = 2
	graphInitializer protowire.Number = 5
	graphDocString   protowire.Number = 10
	graphInput       protowire.Number = 11
	graphOutput      protowire.Number = 12
	graphValueInfo   protowire.Number = 13

	nodeInput     protowire.Number = 1
	nodeOutput    protowire.Number = 2
	nodeName      protowire.Number = 3
	nodeOpType    protowire.Number = 4
	nodeAttribute protowire.Number = 5
	nodeDocString protowire.Number = 6
	nodeDomain    protowire.Number = 7

	attrName      protowire.Number = 1
	attrF         protowire.Number = 2
	attrI         protowire.Number = 3
	attrS         protowire.Number = 4
	attrT         protowire.Number = 5
	attrG         protowire.Number = 6
	attrFloats    protowire.Number = 7
	attrInts      protowire.Number = 8
	attrStrings   protowire.Number = 9
	attrTensors   protowire.Number = 10
	attrGraphs    protowire.Number = 11
	attrDocString protowire.Number = 13
	attrType      protowire.Number = 20

	valueInfoName      protowire.Number = 1
	valueInfoType      protowire.Number = 2
	valueInfoDocString protowire.Number = 3

	typeTensorType protowire.Number = 1

	tensorTypeElemType protowire.Number = 1
	tensorTypeShape    protowire.Number = 2

	shapeDim protowire.Number = 1

	dimValue      protowire.Number = 1
	dimParam      protowire.Number = 2
	dimDenotation protowire.Number = 3

	tensorDims       protowire.Number = 1
	tensorDataType   protowire.Number = 2
	tensorFloatData  protowire.Number = 4
	tensorInt32Data  protowire.Number = 5
	tensorInt64Data  protowire.Number = 7
	tensorName       protowire.Number = 8
	tensorRawData    protowire.Number = 9
	tensorDoubleData protowire.Number = 10
	tensorUint64Data protowire.Number = 11
	tensorDocString  protowire.Number = 12

	functionName        protowire.Number = 1
	functionInput       protowire.Number = 4
	functionOutput      protowire.Number = 5
	functionAttribute   protowire.Number = 6
	functionNode        protowire.Number = 7
	functionDocString   protowire.Number = 8
	functionOpsetImport protowire.Number = 9
	functionDomain      protowire.Number = 10
	functionValueInfo   protowire.Number = 12
)

// Marshal encodes the model in the protobuf wire format.
func (x *ModelProto) Marshal() []byte {
	return x.appendTo(nil)
}

// Marshal encodes the function in the protobuf wire format.
func (x *FunctionProto) Marshal() []byte {
	return x.appendTo(nil)
}

// Marshal encodes the graph in the protobuf wire format.
func (x *GraphProto) Marshal() []byte {
	return x.appendTo(nil)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendMessage(b []byte, num protowire.Number, appendFn func([]byte) []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, appendFn(nil))
}

func (x *ModelProto) appendTo(b []byte) []byte {
	b = appendInt(b, modelIrVersion, x.IrVersion)
	b = appendString(b, modelProducerName, x.ProducerName)
	b = appendString(b, modelProducerVersion, x.ProducerVersion)
	b = appendString(b, modelDomain, x.Domain)
	b = appendInt(b, modelModelVersion, x.ModelVersion)
	b = appendString(b, modelDocString, x.DocString)
	if x.Graph != nil {
		b = appendMessage(b, modelGraph, x.Graph.appendTo)
	}
	for _, opset := range x.OpsetImport {
		b = appendMessage(b, modelOpsetImport, opset.appendTo)
	}
	for _, entry := range x.MetadataProps {
		b = appendMessage(b, modelMetadataProps, entry.appendTo)
	}
	for _, fn := range x.Functions {
		b = appendMessage(b, modelFunctions, fn.appendTo)
	}
	return b
}

func (x *OperatorSetIdProto) appendTo(b []byte) []byte {
	b = appendString(b, opsetDomain, x.Domain)
	return appendInt(b, opsetVersion, x.Version)
}

func (x *StringStringEntryProto) appendTo(b []byte) []byte {
	b = appendString(b, entryKey, x.Key)
	return appendString(b, entryValue, x.Value)
}

func (x *GraphProto) appendTo(b []byte) []byte {
	for _, node := range x.Node {
		b = appendMessage(b, graphNode, node.appendTo)
	}
	b = appendString(b, graphName, x.Name)
	for _, t := range x.Initializer {
		b = appendMessage(b, graphInitializer, t.appendTo)
	}
	b = appendString(b, graphDocString, x.DocString)
	for _, vi := range x.Input {
		b = appendMessage(b, graphInput, vi.appendTo)
	}
	for _, vi := range x.Output {
		b = appendMessage(b, graphOutput, vi.appendTo)
	}
	for _, vi := range x.ValueInfo {
		b = appendMessage(b, graphValueInfo, vi.appendTo)
	}
	return b
}

func (x *NodeProto) appendTo(b []byte) []byte {
	// Inputs are positional: empty names (omitted optional inputs) must be kept.
	for _, input := range x.Input {
		b = protowire.AppendTag(b, nodeInput, protowire.BytesType)
		b = protowire.AppendString(b, input)
	}
	for _, output := range x.Output {
		b = protowire.AppendTag(b, nodeOutput, protowire.BytesType)
		b = protowire.AppendString(b, output)
	}
	b = appendString(b, nodeName, x.Name)
	b = appendString(b, nodeOpType, x.OpType)
	for _, attr := range x.Attribute {
		b = appendMessage(b, nodeAttribute, attr.appendTo)
	}
	b = appendString(b, nodeDocString, x.DocString)
	return appendString(b, nodeDomain, x.Domain)
}

func (x *AttributeProto) appendTo(b []byte) []byte {
	b = appendString(b, attrName, x.Name)
	if x.F != 0 {
		b = protowire.AppendTag(b, attrF, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(x.F))
	}
	b = appendInt(b, attrI, x.I)
	if x.S != nil {
		b = protowire.AppendTag(b, attrS, protowire.BytesType)
		b = protowire.AppendBytes(b, x.S)
	}
	if x.T != nil {
		b = appendMessage(b, attrT, x.T.appendTo)
	}
	if x.G != nil {
		b = appendMessage(b, attrG, x.G.appendTo)
	}
	for _, f := range x.Floats {
		b = protowire.AppendTag(b, attrFloats, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(f))
	}
	for _, i := range x.Ints {
		b = protowire.AppendTag(b, attrInts, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(i))
	}
	for _, s := range x.Strings {
		b = protowire.AppendTag(b, attrStrings, protowire.BytesType)
		b = protowire.AppendBytes(b, s)
	}
	for _, t := range x.Tensors {
		b = appendMessage(b, attrTensors, t.appendTo)
	}
	for _, g := range x.Graphs {
		b = appendMessage(b, attrGraphs, g.appendTo)
	}
	b = appendString(b, attrDocString, x.DocString)
	b = protowire.AppendTag(b, attrType, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(x.Type))
}

func (x *ValueInfoProto) appendTo(b []byte) []byte {
	b = appendString(b, valueInfoName, x.Name)
	if x.Type != nil {
		b = appendMessage(b, valueInfoType, x.Type.appendTo)
	}
	return appendString(b, valueInfoDocString, x.DocString)
}

func (x *TypeProto) appendTo(b []byte) []byte {
	if tt := x.GetTensorType(); tt != nil {
		b = appendMessage(b, typeTensorType, tt.appendTo)
	}
	return b
}

func (x *TypeProto_Tensor) appendTo(b []byte) []byte {
	b = appendInt(b, tensorTypeElemType, int64(x.ElemType))
	if x.Shape != nil {
		b = appendMessage(b, tensorTypeShape, x.Shape.appendTo)
	}
	return b
}

func (x *TensorShapeProto) appendTo(b []byte) []byte {
	for _, dim := range x.Dim {
		b = appendMessage(b, shapeDim, dim.appendTo)
	}
	return b
}

func (x *TensorShapeProto_Dimension) appendTo(b []byte) []byte {
	switch v := x.Value.(type) {
	case *TensorShapeProto_Dimension_DimValue:
		// Written even when 0: a zero-sized dimension is not the same as an unknown one.
		b = protowire.AppendTag(b, dimValue, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.DimValue))
	case *TensorShapeProto_Dimension_DimParam:
		b = protowire.AppendTag(b, dimParam, protowire.BytesType)
		b = protowire.AppendString(b, v.DimParam)
	}
	return appendString(b, dimDenotation, x.Denotation)
}

func appendPacked[T any](b []byte, num protowire.Number, values []T, appendFn func([]byte, T) []byte) []byte {
	if len(values) == 0 {
		return b
	}
	var packed []byte
	for _, v := range values {
		packed = appendFn(packed, v)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func (x *TensorProto) appendTo(b []byte) []byte {
	// dims is not declared packed in onnx.proto.
	for _, dim := range x.Dims {
		b = protowire.AppendTag(b, tensorDims, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(dim))
	}
	b = appendInt(b, tensorDataType, int64(x.DataType))
	b = appendPacked(b, tensorFloatData, x.FloatData, func(b []byte, v float32) []byte {
		return protowire.AppendFixed32(b, math.Float32bits(v))
	})
	b = appendPacked(b, tensorInt32Data, x.Int32Data, func(b []byte, v int32) []byte {
		return protowire.AppendVarint(b, uint64(int64(v)))
	})
	b = appendPacked(b, tensorInt64Data, x.Int64Data, func(b []byte, v int64) []byte {
		return protowire.AppendVarint(b, uint64(v))
	})
	b = appendString(b, tensorName, x.Name)
	if x.RawData != nil {
		b = protowire.AppendTag(b, tensorRawData, protowire.BytesType)
		b = protowire.AppendBytes(b, x.RawData)
	}
	b = appendPacked(b, tensorDoubleData, x.DoubleData, func(b []byte, v float64) []byte {
		return protowire.AppendFixed64(b, math.Float64bits(v))
	})
	b = appendPacked(b, tensorUint64Data, x.Uint64Data, protowire.AppendVarint)
	return appendString(b, tensorDocString, x.DocString)
}

func (x *FunctionProto) appendTo(b []byte) []byte {
	b = appendString(b, functionName, x.Name)
	for _, input := range x.Input {
		b = protowire.AppendTag(b, functionInput, protowire.BytesType)
		b = protowire.AppendString(b, input)
	}
	for _, output := range x.Output {
		b = protowire.AppendTag(b, functionOutput, protowire.BytesType)
		b = protowire.AppendString(b, output)
	}
	for _, attr := range x.Attribute {
		b = protowire.AppendTag(b, functionAttribute, protowire.BytesType)
		b = protowire.AppendString(b, attr)
	}
	for _, node := range x.Node {
		b = appendMessage(b, functionNode, node.appendTo)
	}
	b = appendString(b, functionDocString, x.DocString)
	for _, opset := range x.OpsetImport {
		b = appendMessage(b, functionOpsetImport, opset.appendTo)
	}
	b = appendString(b, functionDomain, x.Domain)
	for _, vi := range x.ValueInfo {
		b = appendMessage(b, functionValueInfo, vi.appendTo)
	}
	return b
}
