// Package protos holds the subset of the ONNX IR messages (see onnx/onnx.proto) that is needed to emit a model,
// along with their protobuf wire encoding.
//
// Field and enum names follow the ones protoc-gen-go generates for onnx.proto, so code reads the same as code
// written against the generated package.
package protos

import "fmt"

// TensorProto_DataType enumerates the ONNX element types.
type TensorProto_DataType int32

const (
	TensorProto_UNDEFINED  TensorProto_DataType = 0
	TensorProto_FLOAT      TensorProto_DataType = 1
	TensorProto_UINT8      TensorProto_DataType = 2
	TensorProto_INT8       TensorProto_DataType = 3
	TensorProto_UINT16     TensorProto_DataType = 4
	TensorProto_INT16      TensorProto_DataType = 5
	TensorProto_INT32      TensorProto_DataType = 6
	TensorProto_INT64      TensorProto_DataType = 7
	TensorProto_STRING     TensorProto_DataType = 8
	TensorProto_BOOL       TensorProto_DataType = 9
	TensorProto_FLOAT16    TensorProto_DataType = 10
	TensorProto_DOUBLE     TensorProto_DataType = 11
	TensorProto_UINT32     TensorProto_DataType = 12
	TensorProto_UINT64     TensorProto_DataType = 13
	TensorProto_COMPLEX64  TensorProto_DataType = 14
	TensorProto_COMPLEX128 TensorProto_DataType = 15
	TensorProto_BFLOAT16   TensorProto_DataType = 16
)

var tensorProtoDataTypeNames = map[TensorProto_DataType]string{
	TensorProto_UNDEFINED:  "UNDEFINED",
	TensorProto_FLOAT:      "FLOAT",
	TensorProto_UINT8:      "UINT8",
	TensorProto_INT8:       "INT8",
	TensorProto_UINT16:     "UINT16",
	TensorProto_INT16:      "INT16",
	TensorProto_INT32:      "INT32",
	TensorProto_INT64:      "INT64",
	TensorProto_STRING:     "STRING",
	TensorProto_BOOL:       "BOOL",
	TensorProto_FLOAT16:    "FLOAT16",
	TensorProto_DOUBLE:     "DOUBLE",
	TensorProto_UINT32:     "UINT32",
	TensorProto_UINT64:     "UINT64",
	TensorProto_COMPLEX64:  "COMPLEX64",
	TensorProto_COMPLEX128: "COMPLEX128",
	TensorProto_BFLOAT16:   "BFLOAT16",
}

func (x TensorProto_DataType) String() string {
	if name, found := tensorProtoDataTypeNames[x]; found {
		return name
	}
	return fmt.Sprintf("TensorProto_DataType(%d)", int32(x))
}

// AttributeProto_AttributeType enumerates the types of node attributes.
type AttributeProto_AttributeType int32

const (
	AttributeProto_UNDEFINED AttributeProto_AttributeType = 0
	AttributeProto_FLOAT     AttributeProto_AttributeType = 1
	AttributeProto_INT       AttributeProto_AttributeType = 2
	AttributeProto_STRING    AttributeProto_AttributeType = 3
	AttributeProto_TENSOR    AttributeProto_AttributeType = 4
	AttributeProto_GRAPH     AttributeProto_AttributeType = 5
	AttributeProto_FLOATS    AttributeProto_AttributeType = 6
	AttributeProto_INTS      AttributeProto_AttributeType = 7
	AttributeProto_STRINGS   AttributeProto_AttributeType = 8
	AttributeProto_TENSORS   AttributeProto_AttributeType = 9
	AttributeProto_GRAPHS    AttributeProto_AttributeType = 10
)

var attributeTypeNames = []string{"UNDEFINED", "FLOAT", "INT", "STRING", "TENSOR", "GRAPH",
	"FLOATS", "INTS", "STRINGS", "TENSORS", "GRAPHS"}

func (x AttributeProto_AttributeType) String() string {
	if x >= 0 && int(x) < len(attributeTypeNames) {
		return attributeTypeNames[x]
	}
	return fmt.Sprintf("AttributeProto_AttributeType(%d)", int32(x))
}

// ModelProto is the top-level ONNX container.
type ModelProto struct {
	IrVersion       int64
	OpsetImport     []*OperatorSetIdProto
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *GraphProto
	MetadataProps   []*StringStringEntryProto
	Functions       []*FunctionProto
}

// OperatorSetIdProto declares the version of an operator domain.
type OperatorSetIdProto struct {
	Domain  string
	Version int64
}

// StringStringEntryProto is a key/value metadata entry.
type StringStringEntryProto struct {
	Key   string
	Value string
}

// GraphProto is a topologically sorted list of nodes plus its typed interface.
type GraphProto struct {
	Node        []*NodeProto
	Name        string
	Initializer []*TensorProto
	DocString   string
	Input       []*ValueInfoProto
	Output      []*ValueInfoProto
	ValueInfo   []*ValueInfoProto
}

// NodeProto is one operator application.
type NodeProto struct {
	Input     []string
	Output    []string
	Name      string
	OpType    string
	Domain    string
	Attribute []*AttributeProto
	DocString string
}

func (x *NodeProto) GetInput() []string {
	if x == nil {
		return nil
	}
	return x.Input
}

func (x *NodeProto) GetOutput() []string {
	if x == nil {
		return nil
	}
	return x.Output
}

func (x *NodeProto) GetOpType() string {
	if x == nil {
		return ""
	}
	return x.OpType
}

func (x *NodeProto) GetName() string {
	if x == nil {
		return ""
	}
	return x.Name
}

// AttributeProto is a named attribute of a node. Only the field matching Type is meaningful.
type AttributeProto struct {
	Name      string
	DocString string
	Type      AttributeProto_AttributeType
	F         float32
	I         int64
	S         []byte
	T         *TensorProto
	G         *GraphProto
	Floats    []float32
	Ints      []int64
	Strings   [][]byte
	Tensors   []*TensorProto
	Graphs    []*GraphProto
}

// ValueInfoProto names a value and gives its type.
type ValueInfoProto struct {
	Name      string
	Type      *TypeProto
	DocString string
}

func (x *ValueInfoProto) GetName() string {
	if x == nil {
		return ""
	}
	return x.Name
}

func (x *ValueInfoProto) GetType() *TypeProto {
	if x == nil {
		return nil
	}
	return x.Type
}

// TypeProto holds one of the ONNX type variants; only tensors are emitted.
type TypeProto struct {
	Value isTypeProto_Value
}

type isTypeProto_Value interface {
	isTypeProto_Value()
}

// TypeProto_TensorType is the tensor variant of TypeProto.Value.
type TypeProto_TensorType struct {
	TensorType *TypeProto_Tensor
}

func (*TypeProto_TensorType) isTypeProto_Value() {}

func (x *TypeProto) GetTensorType() *TypeProto_Tensor {
	if x == nil {
		return nil
	}
	if v, ok := x.Value.(*TypeProto_TensorType); ok {
		return v.TensorType
	}
	return nil
}

// TypeProto_Tensor is the element type and (optional) shape of a tensor.
type TypeProto_Tensor struct {
	ElemType int32
	Shape    *TensorShapeProto
}

func (x *TypeProto_Tensor) GetElemType() int32 {
	if x == nil {
		return 0
	}
	return x.ElemType
}

func (x *TypeProto_Tensor) GetShape() *TensorShapeProto {
	if x == nil {
		return nil
	}
	return x.Shape
}

// TensorShapeProto is a list of dimensions.
type TensorShapeProto struct {
	Dim []*TensorShapeProto_Dimension
}

// TensorShapeProto_Dimension is either a concrete value, a symbolic parameter, or unknown (Value == nil).
type TensorShapeProto_Dimension struct {
	Value      isTensorShapeProto_Dimension_Value
	Denotation string
}

type isTensorShapeProto_Dimension_Value interface {
	isTensorShapeProto_Dimension_Value()
}

type TensorShapeProto_Dimension_DimValue struct {
	DimValue int64
}

type TensorShapeProto_Dimension_DimParam struct {
	DimParam string
}

func (*TensorShapeProto_Dimension_DimValue) isTensorShapeProto_Dimension_Value() {}
func (*TensorShapeProto_Dimension_DimParam) isTensorShapeProto_Dimension_Value() {}

func (x *TensorShapeProto_Dimension) GetDimValue() int64 {
	if x == nil {
		return 0
	}
	if v, ok := x.Value.(*TensorShapeProto_Dimension_DimValue); ok {
		return v.DimValue
	}
	return 0
}

func (x *TensorShapeProto_Dimension) GetDimParam() string {
	if x == nil {
		return ""
	}
	if v, ok := x.Value.(*TensorShapeProto_Dimension_DimParam); ok {
		return v.DimParam
	}
	return ""
}

// TensorProto holds a constant tensor: initializers and Constant node values.
type TensorProto struct {
	Dims       []int64
	DataType   int32
	FloatData  []float32
	Int32Data  []int32
	Int64Data  []int64
	Name       string
	RawData    []byte
	DoubleData []float64
	Uint64Data []uint64
	DocString  string
}

// FunctionProto is a model-local function, called by nodes whose OpType is the function name.
type FunctionProto struct {
	Name        string
	Input       []string
	Output      []string
	Attribute   []string
	Node        []*NodeProto
	DocString   string
	OpsetImport []*OperatorSetIdProto
	Domain      string
	ValueInfo   []*ValueInfoProto
}
