package protos

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

type wireField struct {
	num   protowire.Number
	typ   protowire.Type
	value uint64
	bytes []byte
}

// parseFields decodes the top-level fields of a message.
func parseFields(t *testing.T, b []byte) []wireField {
	var fields []wireField
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		require.GreaterOrEqual(t, n, 0, "invalid tag")
		b = b[n:]
		f := wireField{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.value, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.value = uint64(v)
		case protowire.Fixed64Type:
			f.value, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		require.GreaterOrEqual(t, n, 0, "invalid value for field %d", num)
		b = b[n:]
		fields = append(fields, f)
	}
	return fields
}

func fieldsNumbered(fields []wireField, num protowire.Number) []wireField {
	var selected []wireField
	for _, f := range fields {
		if f.num == num {
			selected = append(selected, f)
		}
	}
	return selected
}

func TestModelMarshal(t *testing.T) {
	model := &ModelProto{
		IrVersion:    10,
		ProducerName: "trace2onnx",
		OpsetImport:  []*OperatorSetIdProto{{Domain: "", Version: 21}, {Domain: "custom", Version: 1}},
		Graph: &GraphProto{
			Name: "main",
			Node: []*NodeProto{{
				Name:      "Dropout_0",
				OpType:    "Dropout",
				Input:     []string{"x", "", "training"},
				Output:    []string{"y"},
				Attribute: []*AttributeProto{{Name: "seed", Type: AttributeProto_INT, I: 0}},
			}},
		},
		MetadataProps: []*StringStringEntryProto{{Key: "k", Value: "v"}},
	}
	fields := parseFields(t, model.Marshal())

	irVersion := fieldsNumbered(fields, modelIrVersion)
	require.Len(t, irVersion, 1)
	assert.Equal(t, uint64(10), irVersion[0].value)
	require.Len(t, fieldsNumbered(fields, modelOpsetImport), 2)
	require.Len(t, fieldsNumbered(fields, modelMetadataProps), 1)

	graphs := fieldsNumbered(fields, modelGraph)
	require.Len(t, graphs, 1)
	graphFields := parseFields(t, graphs[0].bytes)
	nodes := fieldsNumbered(graphFields, graphNode)
	require.Len(t, nodes, 1)

	nodeFields := parseFields(t, nodes[0].bytes)
	inputs := fieldsNumbered(nodeFields, nodeInput)
	require.Len(t, inputs, 3, "empty optional inputs are kept")
	assert.Equal(t, "", string(inputs[1].bytes))
	assert.Equal(t, "training", string(inputs[2].bytes))

	attrs := fieldsNumbered(nodeFields, nodeAttribute)
	require.Len(t, attrs, 1)
	attrFields := parseFields(t, attrs[0].bytes)
	attrTypes := fieldsNumbered(attrFields, attrType)
	require.Len(t, attrTypes, 1, "the attribute type is always written")
	assert.Equal(t, uint64(AttributeProto_INT), attrTypes[0].value)
	assert.Empty(t, fieldsNumbered(attrFields, attrI), "zero values are omitted")
}

func TestValueInfoMarshal(t *testing.T) {
	vi := &ValueInfoProto{
		Name: "x",
		Type: &TypeProto{Value: &TypeProto_TensorType{TensorType: &TypeProto_Tensor{
			ElemType: int32(TensorProto_FLOAT),
			Shape: &TensorShapeProto{Dim: []*TensorShapeProto_Dimension{
				{Value: &TensorShapeProto_Dimension_DimValue{DimValue: 0}},
				{Value: &TensorShapeProto_Dimension_DimParam{DimParam: "batch"}},
				{},
			}},
		}}},
	}
	fields := parseFields(t, vi.appendTo(nil))
	typeFields := parseFields(t, fieldsNumbered(fields, valueInfoType)[0].bytes)
	tensorFields := parseFields(t, fieldsNumbered(typeFields, typeTensorType)[0].bytes)
	assert.Equal(t, uint64(TensorProto_FLOAT), fieldsNumbered(tensorFields, tensorTypeElemType)[0].value)
	shapeFields := parseFields(t, fieldsNumbered(tensorFields, tensorTypeShape)[0].bytes)
	dims := fieldsNumbered(shapeFields, shapeDim)
	require.Len(t, dims, 3)

	zeroDim := parseFields(t, dims[0].bytes)
	require.Len(t, zeroDim, 1, "a zero dim_value must be written")
	assert.Equal(t, dimValue, zeroDim[0].num)
	assert.Equal(t, uint64(0), zeroDim[0].value)

	symbolDim := parseFields(t, dims[1].bytes)
	require.Len(t, symbolDim, 1)
	assert.Equal(t, "batch", string(symbolDim[0].bytes))

	assert.Empty(t, dims[2].bytes, "unknown dimensions have neither value nor param")
}

func TestTensorMarshal(t *testing.T) {
	tensor := &TensorProto{
		Name:      "w",
		Dims:      []int64{2, 1},
		DataType:  int32(TensorProto_FLOAT),
		FloatData: []float32{1.5, -2},
		Int64Data: []int64{-1},
	}
	fields := parseFields(t, tensor.appendTo(nil))

	dims := fieldsNumbered(fields, tensorDims)
	require.Len(t, dims, 2, "dims are not packed")
	assert.Equal(t, uint64(2), dims[0].value)

	floatData := fieldsNumbered(fields, tensorFloatData)
	require.Len(t, floatData, 1, "float_data is packed")
	packed := floatData[0].bytes
	require.Len(t, packed, 8)
	v, _ := protowire.ConsumeFixed32(packed)
	assert.Equal(t, float32(1.5), math.Float32frombits(v))

	int64Data := fieldsNumbered(fields, tensorInt64Data)
	require.Len(t, int64Data, 1)
	u, _ := protowire.ConsumeVarint(int64Data[0].bytes)
	assert.Equal(t, int64(-1), int64(u))
}

func TestDataTypeString(t *testing.T) {
	assert.Equal(t, "FLOAT", TensorProto_FLOAT.String())
	assert.Equal(t, "BFLOAT16", TensorProto_BFLOAT16.String())
	assert.Equal(t, "GRAPH", AttributeProto_GRAPH.String())
}
